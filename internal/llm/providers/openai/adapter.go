// Package openai adapts the OpenAI API. It is a thin specialization of the
// shared chat.completions transport with OpenAI's endpoint defaults.
package openai

import (
	"context"
	"strings"

	"github.com/dealcetexplains-png/mender/internal/llm"
	"github.com/dealcetexplains-png/mender/internal/llm/providers/openaicompat"
)

type Config struct {
	APIKey  string
	BaseURL string
	Org     string
}

type Adapter struct {
	inner *openaicompat.Adapter
}

func NewAdapter(cfg Config) *Adapter {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = "https://api.openai.com"
	}
	headers := map[string]string{}
	if cfg.Org != "" {
		headers["OpenAI-Organization"] = cfg.Org
	}
	return &Adapter{
		inner: openaicompat.NewAdapter(openaicompat.Config{
			Provider:     "openai",
			APIKey:       cfg.APIKey,
			BaseURL:      base,
			Path:         "/v1/chat/completions",
			ExtraHeaders: headers,
		}),
	}
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return a.inner.Complete(ctx, req)
}
