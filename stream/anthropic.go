package stream

import (
	"context"

	"github.com/felipepmaragno/llm-meter/meter"
)

// FromMessages drains an Anthropic messages stream. Input tokens and the
// model come from the message_start event; output tokens come from the
// message_delta event. No single event carries both, so the accumulator
// merges across the two.
func FromMessages(ctx context.Context, events <-chan MessageEvent, errs <-chan error) *meter.DetectedResponse {
	var model string
	var usage meter.Usage

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				if streamFailed(errs, "anthropic") {
					return nil
				}
				if model == "" {
					return nil
				}
				return &meter.DetectedResponse{
					Provider: meter.ProviderAnthropic,
					Type:     meter.TypeChatCompletion,
					Model:    model,
					Usage:    usage,
				}
			}
			switch event.Type {
			case messageStartEvent:
				if event.Message != nil {
					model = event.Message.Model
					usage.InputTokens = event.Message.Usage.InputTokens
				}
			case messageDeltaEvent:
				if event.Usage != nil {
					usage.OutputTokens = event.Usage.OutputTokens
				}
			}
		}
	}
}
