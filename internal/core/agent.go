package core

import "fmt"

// Provider identifies the LLM API family backing an agent.
// The set is closed: adding a provider requires an explicit case in every
// switch over this type, which the invocation layer relies on.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGrok      Provider = "grok"
)

// Providers returns all supported providers in seed order.
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGrok}
}

// ParseProvider validates a provider string.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderOpenAI, ProviderAnthropic, ProviderGrok:
		return Provider(s), nil
	default:
		return "", ErrValidation("INVALID_PROVIDER", fmt.Sprintf("unknown provider: %s", s))
	}
}

// Agent is one of the three fixed deliberation participants.
// Agents are seeded once at migration time and never mutated.
type Agent struct {
	ID       string   `json:"id"`
	Slug     string   `json:"slug"`
	Name     string   `json:"name"`
	Provider Provider `json:"provider"`
	Model    string   `json:"model"`
	Color    string   `json:"color"`
}

// Canonical agent slugs.
const (
	SlugCasper    = "casper"
	SlugBalthasar = "balthasar"
	SlugMelchior  = "melchior"
)

// CredentialMap carries per-request provider API keys. Credentials are
// threaded explicitly through the call chain and never stored server-side.
type CredentialMap map[string]string

// CredentialFor resolves the API key for a provider. Grok accepts either a
// grok- or legacy xai-keyed credential.
func (c CredentialMap) CredentialFor(p Provider) (string, bool) {
	switch p {
	case ProviderOpenAI:
		key, ok := c["openai"]
		return key, ok && key != ""
	case ProviderAnthropic:
		key, ok := c["anthropic"]
		return key, ok && key != ""
	case ProviderGrok:
		if key, ok := c["grok"]; ok && key != "" {
			return key, true
		}
		key, ok := c["xai"]
		return key, ok && key != ""
	}
	return "", false
}
