// Package meter defines the normalized usage model and the fire-and-forget
// reporter that turns detected usage into billing meter events.
package meter

// Provider identifies which vendor produced a response.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderUnknown   Provider = "unknown"
)

// ResponseType identifies the response family a detection matched.
type ResponseType string

const (
	TypeChatCompletion ResponseType = "chat_completion"
	TypeResponseAPI    ResponseType = "response_api"
	TypeEmbedding      ResponseType = "embedding"
	TypeUnknown        ResponseType = "unknown"
)

// Usage holds normalized token counts for one provider call. Fields missing
// from a raw response default to zero. Reasoning/"thoughts" tokens are folded
// into OutputTokens and never reported separately.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// DetectedResponse is the result of identifying a provider response and
// extracting its usage. It is constructed once per detection and not shared
// across calls.
type DetectedResponse struct {
	Provider Provider
	Type     ResponseType
	Model    string
	Usage    Usage
}

// Event is one customer-attributed usage record ready for dispatch. Events
// without a CustomerID are dropped: billing attribution is mandatory.
type Event struct {
	Model    string
	Provider string
	Usage    Usage

	// CustomerID is the billing customer the tokens are attributed to.
	CustomerID string

	// Account optionally routes the meter event to a connected account.
	Account string

	// IdempotencyKey, when set, derives the meter event identifiers so a
	// deduplicator can suppress repeat dispatch of the same application call.
	// When empty each dispatch gets a fresh random identifier.
	IdempotencyKey string
}
