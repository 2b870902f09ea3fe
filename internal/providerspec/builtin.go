package providerspec

var builtinSpecs = map[string]Spec{
	"openai": {
		Key:            "openai",
		Protocol:       ProtocolOpenAIChatCompletions,
		BaseURL:        "https://api.openai.com",
		Path:           "/v1/chat/completions",
		APIKeyEnv:      "OPENAI_API_KEY",
		Capability:     CapabilityReasoning,
		ReasoningModel: "gpt-4o",
		FastModel:      "gpt-4o-mini",
		Priority:       0,
	},
	"anthropic": {
		Key:            "anthropic",
		Aliases:        []string{"claude"},
		Protocol:       ProtocolAnthropicMessages,
		BaseURL:        "https://api.anthropic.com",
		Path:           "/v1/messages",
		APIKeyEnv:      "ANTHROPIC_API_KEY",
		Capability:     CapabilityReasoning,
		ReasoningModel: "claude-3-5-sonnet-20241022",
		FastModel:      "claude-3-5-haiku-20241022",
		Priority:       1,
	},
	"openrouter": {
		Key:            "openrouter",
		Aliases:        []string{"open-router"},
		Protocol:       ProtocolOpenAIChatCompletions,
		BaseURL:        "https://openrouter.ai/api",
		Path:           "/v1/chat/completions",
		APIKeyEnv:      "OPENROUTER_API_KEY",
		Capability:     CapabilityCode,
		ReasoningModel: "meta-llama/llama-3.3-70b-instruct",
		FastModel:      "meta-llama/llama-3.1-8b-instruct",
		Priority:       2,
	},
	"google": {
		Key:            "google",
		Aliases:        []string{"gemini", "google_ai_studio"},
		Protocol:       ProtocolGoogleGenerateContent,
		BaseURL:        "https://generativelanguage.googleapis.com",
		Path:           "/v1beta/models/{model}:generateContent",
		APIKeyEnv:      "GEMINI_API_KEY",
		Capability:     CapabilityFast,
		ReasoningModel: "gemini-1.5-pro",
		FastModel:      "gemini-1.5-flash",
		Priority:       3,
	},
	"groq": {
		Key:            "groq",
		Protocol:       ProtocolOpenAIChatCompletions,
		BaseURL:        "https://api.groq.com/openai",
		Path:           "/v1/chat/completions",
		APIKeyEnv:      "GROQ_API_KEY",
		Capability:     CapabilityFast,
		ReasoningModel: "llama-3.3-70b-versatile",
		FastModel:      "llama-3.1-8b-instant",
		Priority:       4,
	},
	"local": {
		Key:        "local",
		Aliases:    []string{"ollama", "localhost"},
		Protocol:   ProtocolOpenAIChatCompletions,
		BaseURL:    "http://localhost:11434",
		Path:       "/v1/chat/completions",
		APIKeyEnv:  "LOCAL_LLM_API_KEY",
		BaseURLEnv: "LOCAL_LLM_BASE_URL",
		Capability: CapabilityLocal,
		// The local endpoint serves whatever model it was started with.
		ReasoningModel: "qwen2.5-coder",
		FastModel:      "qwen2.5-coder",
		Priority:       5,
	},
}

func Builtin(key string) (Spec, bool) {
	s, ok := builtinSpecs[CanonicalProviderKey(key)]
	if !ok {
		return Spec{}, false
	}
	return cloneSpec(s), true
}

func Builtins() map[string]Spec {
	out := make(map[string]Spec, len(builtinSpecs))
	for key, spec := range builtinSpecs {
		out[key] = cloneSpec(spec)
	}
	return out
}

// ByPriority returns all builtin keys ordered by reconciliation priority.
func ByPriority() []string {
	keys := make([]string, 0, len(builtinSpecs))
	for key := range builtinSpecs {
		keys = append(keys, key)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && builtinSpecs[keys[j]].Priority < builtinSpecs[keys[j-1]].Priority; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// Priority returns the tie-break rank for a provider key; unknown providers
// sort last.
func Priority(key string) int {
	if s, ok := builtinSpecs[CanonicalProviderKey(key)]; ok {
		return s.Priority
	}
	return len(builtinSpecs)
}

func cloneSpec(in Spec) Spec {
	out := in
	out.Aliases = append([]string{}, in.Aliases...)
	return out
}
