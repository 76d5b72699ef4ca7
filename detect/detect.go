// Package detect identifies which provider and response family an opaque
// response object belongs to and extracts its token usage. Provider response
// shapes are structurally distinct but carry no shared discriminant field, so
// identification runs an ordered list of structural guards.
package detect

import (
	"github.com/felipepmaragno/llm-meter/meter"
)

// Detect inspects a completed provider response and returns its normalized
// usage, or nil when the shape is not recognized. Callers treat nil as "do
// not bill this call". Detect never panics on malformed input.
func Detect(v any) *meter.DetectedResponse {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	for _, guard := range guards {
		if d := guard(m); d != nil {
			return d
		}
	}
	return nil
}

// Guard order matters: several shapes carry both a model and a usage object,
// and the first match wins.
var guards = []func(map[string]any) *meter.DetectedResponse{
	openAIChatCompletion,
	openAIResponse,
	openAIEmbedding,
	anthropicMessage,
	geminiResult,
}

// openAIChatCompletion matches objects with a choices[0].message and a model.
// Usage is optional and defaults to zero counts.
func openAIChatCompletion(m map[string]any) *meter.DetectedResponse {
	choices, ok := sliceField(m, "choices")
	if !ok || len(choices) == 0 {
		return nil
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return nil
	}
	if _, ok := first["message"]; !ok {
		return nil
	}
	model, ok := stringField(m, "model")
	if !ok {
		return nil
	}

	usage, _ := mapField(m, "usage")
	return &meter.DetectedResponse{
		Provider: meter.ProviderOpenAI,
		Type:     meter.TypeChatCompletion,
		Model:    model,
		Usage: meter.Usage{
			InputTokens:  intField(usage, "prompt_tokens"),
			OutputTokens: intField(usage, "completion_tokens"),
		},
	}
}

// openAIResponse matches response-API objects: output, model, and a usage
// object whose input_tokens is defined. The defined-field check is the
// discriminant; an empty usage object must fall through to undetected.
func openAIResponse(m map[string]any) *meter.DetectedResponse {
	if _, ok := m["output"]; !ok {
		return nil
	}
	model, ok := stringField(m, "model")
	if !ok {
		return nil
	}
	usage, ok := mapField(m, "usage")
	if !ok {
		return nil
	}
	input, ok := numField(usage, "input_tokens")
	if !ok {
		return nil
	}

	return &meter.DetectedResponse{
		Provider: meter.ProviderOpenAI,
		Type:     meter.TypeResponseAPI,
		Model:    model,
		Usage: meter.Usage{
			InputTokens:  input,
			OutputTokens: intField(usage, "output_tokens"),
		},
	}
}

// openAIEmbedding matches objects with data[0].embedding and a model.
// Embeddings have no output-token concept.
func openAIEmbedding(m map[string]any) *meter.DetectedResponse {
	data, ok := sliceField(m, "data")
	if !ok || len(data) == 0 {
		return nil
	}
	first, ok := data[0].(map[string]any)
	if !ok {
		return nil
	}
	if _, ok := first["embedding"]; !ok {
		return nil
	}
	model, ok := stringField(m, "model")
	if !ok {
		return nil
	}

	usage, _ := mapField(m, "usage")
	return &meter.DetectedResponse{
		Provider: meter.ProviderOpenAI,
		Type:     meter.TypeEmbedding,
		Model:    model,
		Usage: meter.Usage{
			InputTokens: intField(usage, "prompt_tokens"),
		},
	}
}

// anthropicMessage matches objects tagged type:"message" with content, model,
// and a usage object with both token fields defined. As with the response
// API, an empty usage object fails the guard.
func anthropicMessage(m map[string]any) *meter.DetectedResponse {
	if _, ok := m["content"]; !ok {
		return nil
	}
	model, ok := stringField(m, "model")
	if !ok {
		return nil
	}
	if typ, ok := stringField(m, "type"); !ok || typ != "message" {
		return nil
	}
	usage, ok := mapField(m, "usage")
	if !ok {
		return nil
	}
	input, inOK := numField(usage, "input_tokens")
	output, outOK := numField(usage, "output_tokens")
	if !inOK || !outOK {
		return nil
	}

	return &meter.DetectedResponse{
		Provider: meter.ProviderAnthropic,
		Type:     meter.TypeChatCompletion,
		Model:    model,
		Usage: meter.Usage{
			InputTokens:  input,
			OutputTokens: output,
		},
	}
}

// geminiResult matches generate-content results: a nested response whose
// usageMetadata.promptTokenCount is defined. Thinking tokens are billed as
// output, so candidates and thoughts are summed.
func geminiResult(m map[string]any) *meter.DetectedResponse {
	resp, ok := mapField(m, "response")
	if !ok {
		return nil
	}
	usage, ok := mapField(resp, "usageMetadata")
	if !ok {
		return nil
	}
	prompt, ok := numField(usage, "promptTokenCount")
	if !ok {
		return nil
	}

	model, ok := stringField(resp, "modelVersion")
	if !ok || model == "" {
		model = "gemini"
	}

	return &meter.DetectedResponse{
		Provider: meter.ProviderGoogle,
		Type:     meter.TypeChatCompletion,
		Model:    model,
		Usage: meter.Usage{
			InputTokens:  prompt,
			OutputTokens: intField(usage, "candidatesTokenCount") + intField(usage, "thoughtsTokenCount"),
		},
	}
}
