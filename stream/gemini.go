package stream

import (
	"context"

	"github.com/felipepmaragno/llm-meter/meter"
)

// FromGenerateContent drains a Gemini generate-content stream. Usage metadata
// may appear on several chunks; only the last one seen counts (the values are
// cumulative snapshots, not increments). The model name comes from the
// companion response object, falling back to "gemini" when it never resolves.
func FromGenerateContent(ctx context.Context, gs GenerateStream) *meter.DetectedResponse {
	var last *UsageMetadata

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-gs.Chunks:
			if !ok {
				if streamFailed(gs.Errs, "google") {
					return nil
				}
				if last == nil {
					return nil
				}
				return &meter.DetectedResponse{
					Provider: meter.ProviderGoogle,
					Type:     meter.TypeChatCompletion,
					Model:    resolveModel(ctx, gs.Response),
					Usage: meter.Usage{
						InputTokens:  last.PromptTokenCount,
						OutputTokens: last.CandidatesTokenCount + last.ThoughtsTokenCount,
					},
				}
			}
			if chunk.UsageMetadata != nil {
				last = chunk.UsageMetadata
			}
		}
	}
}

func resolveModel(ctx context.Context, response <-chan GenerateResponse) string {
	if response == nil {
		return "gemini"
	}
	select {
	case <-ctx.Done():
		return "gemini"
	case resp, ok := <-response:
		if !ok || resp.ModelVersion == "" {
			return "gemini"
		}
		return resp.ModelVersion
	}
}
