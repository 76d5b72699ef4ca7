// Package stream extracts token usage from provider event streams and
// provides the tee used to meter a stream without consuming the caller's
// copy. Streams follow the channel convention used across this module: a
// data channel closed by the producer, paired with a buffered error channel
// that carries at most one terminal error and is closed after the data
// channel.
package stream

// ChatChunk is one OpenAI chat completion stream chunk, trimmed to the
// fields metering and relay need.
type ChatChunk struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`

	// Usage arrives only on the final chunk, and only when the request was
	// issued with stream_options.include_usage. The wrapper issuing the
	// request must inject that option.
	Usage *ChatUsage `json:"usage,omitempty"`
}

type ChatChoice struct {
	Index        int        `json:"index"`
	Delta        *ChatDelta `json:"delta,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ResponseEvent is one OpenAI response-API stream event. The terminal event
// carries a response snapshot with both model and usage populated.
type ResponseEvent struct {
	Type     string            `json:"type"`
	Delta    string            `json:"delta,omitempty"`
	Response *ResponseSnapshot `json:"response,omitempty"`
}

type ResponseSnapshot struct {
	ID    string         `json:"id,omitempty"`
	Model string         `json:"model"`
	Usage *ResponseUsage `json:"usage,omitempty"`
}

type ResponseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Anthropic stream event discriminants.
const (
	messageStartEvent = "message_start"
	messageDeltaEvent = "message_delta"
)

// MessageEvent is one Anthropic messages stream event. Input tokens and the
// model arrive on message_start; output tokens arrive on message_delta. The
// two are never carried by the same event.
type MessageEvent struct {
	Type    string             `json:"type"`
	Message *MessageSnapshot   `json:"message,omitempty"`
	Delta   *MessageDelta      `json:"delta,omitempty"`
	Usage   *MessageDeltaUsage `json:"usage,omitempty"`
}

type MessageSnapshot struct {
	ID    string       `json:"id,omitempty"`
	Model string       `json:"model"`
	Usage MessageUsage `json:"usage"`
}

type MessageUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type MessageDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type MessageDeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// GenerateChunk is one Gemini generate-content stream chunk.
type GenerateChunk struct {
	ModelVersion  string         `json:"modelVersion,omitempty"`
	Text          string         `json:"text,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
}

// GenerateResponse is the aggregate companion object a Gemini streaming call
// resolves alongside its chunk stream. The model name lives here, not on the
// chunks.
type GenerateResponse struct {
	ModelVersion  string         `json:"modelVersion"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// GenerateStream pairs a Gemini chunk stream with its companion response.
// Response is buffered and carries at most one value before closing.
type GenerateStream struct {
	Chunks   <-chan GenerateChunk
	Errs     <-chan error
	Response <-chan GenerateResponse
}
