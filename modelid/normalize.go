// Package modelid normalizes raw provider model identifiers to the canonical
// provider/model form keyed by the billing backend's rate tables.
package modelid

import (
	"regexp"
	"strings"
)

var (
	// Anthropic dated snapshots end in -YYYYMMDD (no internal dashes).
	anthropicDateSuffix = regexp.MustCompile(`-\d{8}$`)

	// Two dash-separated digit groups form a version pair (claude-3-5-sonnet).
	versionPair = regexp.MustCompile(`-(\d+)-(\d+)`)

	// OpenAI dated snapshots end in -YYYY-MM-DD. Short forms like -0613 are
	// part of the model name and stay.
	openaiDateSuffix = regexp.MustCompile(`-\d{4}-\d{2}-\d{2}$`)
)

// This dated snapshot is itself the billing-approved identifier.
const openaiDatedException = "gpt-4o-2024-05-13"

// Canonical returns the canonical provider/model identifier for a raw model
// name. Provider names are compared case-insensitively for rule selection but
// reproduced as given in the output. Providers without normalization rules
// pass their model through unchanged.
func Canonical(provider, model string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		model = normalizeAnthropic(model)
	case "openai":
		model = normalizeOpenAI(model)
	}
	return provider + "/" + model
}

// CanonicalID normalizes a combined provider/model identifier. Strings that
// are not a simple two-part identifier (no slash, or more than one) are
// returned unchanged, as is the empty string.
func CanonicalID(id string) string {
	parts := strings.Split(id, "/")
	if len(parts) != 2 {
		return id
	}
	return Canonical(parts[0], parts[1])
}

func normalizeAnthropic(model string) string {
	// Suffixes come off before the version rewrite so a date suffix is never
	// mistaken for a version pair.
	model = anthropicDateSuffix.ReplaceAllString(model, "")
	model = strings.TrimSuffix(model, "-latest")

	// Only the first pair is rewritten; later digit groups stay as-is.
	if m := versionPair.FindStringSubmatchIndex(model); m != nil {
		major := model[m[2]:m[3]]
		minor := model[m[4]:m[5]]
		model = model[:m[0]] + "-" + major + "." + minor + model[m[1]:]
	}
	return model
}

func normalizeOpenAI(model string) string {
	if model == openaiDatedException {
		return model
	}
	return openaiDateSuffix.ReplaceAllString(model, "")
}
