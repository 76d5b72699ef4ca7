package stream

import (
	"context"
	"log/slog"

	"github.com/felipepmaragno/llm-meter/internal/metrics"
	"github.com/felipepmaragno/llm-meter/meter"
)

// FromChatCompletion drains an OpenAI chat completion stream and returns the
// usage it carried, or nil if the stream failed or never named a model. The
// final chunk's usage overwrites earlier state; counts are not summed across
// chunks.
func FromChatCompletion(ctx context.Context, chunks <-chan ChatChunk, errs <-chan error) *meter.DetectedResponse {
	var model string
	var usage meter.Usage

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				if streamFailed(errs, "openai") {
					return nil
				}
				if model == "" {
					return nil
				}
				return &meter.DetectedResponse{
					Provider: meter.ProviderOpenAI,
					Type:     meter.TypeChatCompletion,
					Model:    model,
					Usage:    usage,
				}
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Usage != nil {
				usage = meter.Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				}
			}
		}
	}
}

// FromResponseAPI drains an OpenAI response-API event stream. Any event
// carrying a response snapshot contributes its model and usage; the terminal
// event carries both.
func FromResponseAPI(ctx context.Context, events <-chan ResponseEvent, errs <-chan error) *meter.DetectedResponse {
	var model string
	var usage meter.Usage

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				if streamFailed(errs, "openai") {
					return nil
				}
				if model == "" {
					return nil
				}
				return &meter.DetectedResponse{
					Provider: meter.ProviderOpenAI,
					Type:     meter.TypeResponseAPI,
					Model:    model,
					Usage:    usage,
				}
			}
			if event.Response == nil {
				continue
			}
			if event.Response.Model != "" {
				model = event.Response.Model
			}
			if event.Response.Usage != nil {
				usage = meter.Usage{
					InputTokens:  event.Response.Usage.InputTokens,
					OutputTokens: event.Response.Usage.OutputTokens,
				}
			}
		}
	}
}

// streamFailed drains the error channel after the data channel closed. The
// drain must block until the channel closes: on a teed stream the terminal
// error sits behind a forwarder goroutine and is not receivable the instant
// the data branch finishes. Producers and tee branches always close their
// error channel, so the drain terminates. Usage accumulated before a failure
// is discarded by the callers; partial counts must never be billed.
func streamFailed(errs <-chan error, provider string) bool {
	if errs == nil {
		return false
	}
	failed := false
	for err := range errs {
		if err == nil || failed {
			continue
		}
		failed = true
		metrics.StreamFailures.WithLabelValues(provider).Inc()
		slog.Warn("usage stream failed", "provider", provider, "error", err)
	}
	return failed
}
