// Package providerspec holds the static description of every LLM provider
// mender knows how to talk to: canonical key, aliases, wire protocol,
// default endpoint, credential env var, capability tag, and default models.
// The provider registry is built from this table plus the environment.
package providerspec

import (
	"strings"
	"sync"
)

type APIProtocol string

const (
	ProtocolOpenAIChatCompletions APIProtocol = "openai_chat_completions"
	ProtocolAnthropicMessages     APIProtocol = "anthropic_messages"
	ProtocolGoogleGenerateContent APIProtocol = "google_generate_content"
)

// Capability tags a provider for the model selector: `reasoning` providers
// handle LOGIC/TYPE_ERROR, `fast` providers handle IMPORT/INDENTATION,
// `code` is a general code tier, `local` is a self-hosted endpoint.
type Capability string

const (
	CapabilityFast      Capability = "fast"
	CapabilityReasoning Capability = "reasoning"
	CapabilityCode      Capability = "code"
	CapabilityLocal     Capability = "local"
)

type Spec struct {
	Key        string
	Aliases    []string
	Protocol   APIProtocol
	BaseURL    string
	Path       string
	APIKeyEnv  string
	BaseURLEnv string // set for providers whose endpoint comes from env (local)
	Capability Capability

	// ReasoningModel and FastModel are the default model ids used when the
	// selector picks this provider for the corresponding role.
	ReasoningModel string
	FastModel      string

	// Priority breaks reconciliation ties; lower wins.
	Priority int
}

// DefaultModel returns the reasoning default when reasoning is true and the
// fast default otherwise, falling back to whichever is set.
func (s Spec) DefaultModel(reasoning bool) string {
	if reasoning && s.ReasoningModel != "" {
		return s.ReasoningModel
	}
	if !reasoning && s.FastModel != "" {
		return s.FastModel
	}
	if s.ReasoningModel != "" {
		return s.ReasoningModel
	}
	return s.FastModel
}

var (
	providerAliasOnce  sync.Once
	providerAliasIndex map[string]string
)

func providerAliases() map[string]string {
	providerAliasOnce.Do(func() {
		providerAliasIndex = providerAliasIndexFromBuiltins(Builtins())
	})
	return providerAliasIndex
}

func providerAliasIndexFromBuiltins(specs map[string]Spec) map[string]string {
	out := map[string]string{}
	for rawKey, spec := range specs {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		if key == "" {
			continue
		}
		out[key] = key
		for _, rawAlias := range spec.Aliases {
			alias := strings.ToLower(strings.TrimSpace(rawAlias))
			if alias != "" {
				out[alias] = key
			}
		}
	}
	return out
}

// CanonicalProviderKey maps any alias ("gemini", "google") to the canonical
// provider key. Unknown names pass through lower-cased.
func CanonicalProviderKey(in string) string {
	key := strings.ToLower(strings.TrimSpace(in))
	if key == "" {
		return ""
	}
	if canonical, ok := providerAliases()[key]; ok {
		return canonical
	}
	return key
}

// CanonicalizeProviderList canonicalizes and dedupes, preserving order.
func CanonicalizeProviderList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, raw := range in {
		key := CanonicalProviderKey(raw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
