package llm

import (
	"fmt"
	"strings"
)

// Request is a single completion request. The healing agent only ever needs
// whole-text completions: the ensemble sends a file plus instructions and
// expects the full replacement file back, so there is no streaming or tool
// surface here.
type Request struct {
	// Provider is the canonical provider key; empty uses the client default.
	Provider string
	// Model is the provider-specific model id.
	Model string
	// System is the system prompt; optional.
	System string
	// Prompt is the user message.
	Prompt string
	// MaxTokens caps the completion when set.
	MaxTokens *int
	// Temperature, when set, overrides the provider default. Patch
	// synthesis runs cold.
	Temperature *float64
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return &ConfigurationError{Message: "model is required"}
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return &ConfigurationError{Message: "prompt is required"}
	}
	return nil
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is a completed request.
type Response struct {
	Provider string
	Model    string
	Text     string
	Usage    Usage
	// Raw keeps the decoded provider payload for FixRecord debug capture.
	Raw map[string]any
}

func (r Response) String() string {
	return fmt.Sprintf("%s/%s (%d tokens)", r.Provider, r.Model, r.Usage.TotalTokens)
}
