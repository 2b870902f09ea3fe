package heal

import (
	"context"

	"github.com/dealcetexplains-png/mender/internal/cipoll"
	"github.com/dealcetexplains-png/mender/internal/config"
	"github.com/dealcetexplains-png/mender/internal/ensemble"
	"github.com/dealcetexplains-png/mender/internal/failure"
	"github.com/dealcetexplains-png/mender/internal/gitvcs"
	"github.com/dealcetexplains-png/mender/internal/history"
	"github.com/dealcetexplains-png/mender/internal/llm"
	"github.com/dealcetexplains-png/mender/internal/llm/providers/anthropic"
	"github.com/dealcetexplains-png/mender/internal/llm/providers/google"
	"github.com/dealcetexplains-png/mender/internal/llm/providers/openai"
	"github.com/dealcetexplains-png/mender/internal/llm/providers/openaicompat"
	"github.com/dealcetexplains-png/mender/internal/patchcheck"
	"github.com/dealcetexplains-png/mender/internal/providerspec"
	"github.com/dealcetexplains-png/mender/internal/runner"
	"github.com/dealcetexplains-png/mender/internal/selector"
	"github.com/dealcetexplains-png/mender/internal/toolchain"
)

// New wires the production healer from configuration: git CLI VCS, detected
// test runners, the tool registry, and the provider ensemble.
func New(cfg config.Config, hist *history.Log) *Healer {
	checker := patchcheck.New()
	client := BuildClient(cfg)
	sel := selector.New(cfg)
	engine := ensemble.New(client, checker, cfg.APITimeout)
	registry := toolchain.NewRegistry(cfg.Overrides)
	tools := &toolAdapter{registry: registry, runner: toolchain.NewRunner(checker)}
	proposer := &ensembleAdapter{selector: sel, engine: engine, history: hist}
	ci := cipoll.NewClient(cfg.GitHubToken)

	return NewHealer(cfg, gitCloner, runnerFactory, tools, proposer, ci, &historyAdapter{log: hist})
}

// BuildClient registers an adapter for every configured provider credential.
func BuildClient(cfg config.Config) *llm.Client {
	client := llm.NewClient()
	for _, cred := range cfg.Providers {
		spec, ok := providerspec.Builtin(cred.Key)
		if !ok {
			continue
		}
		switch spec.Protocol {
		case providerspec.ProtocolAnthropicMessages:
			client.Register(anthropic.NewAdapter(cred.APIKey, cred.BaseURL))
		case providerspec.ProtocolGoogleGenerateContent:
			client.Register(google.NewAdapter(cred.APIKey, cred.BaseURL))
		case providerspec.ProtocolOpenAIChatCompletions:
			if cred.Key == "openai" {
				client.Register(openai.NewAdapter(openai.Config{APIKey: cred.APIKey, BaseURL: cred.BaseURL}))
				continue
			}
			client.Register(openaicompat.NewAdapter(openaicompat.Config{
				Provider: cred.Key,
				APIKey:   cred.APIKey,
				BaseURL:  cred.BaseURL,
				Path:     spec.Path,
			}))
		}
	}
	return client
}

func gitCloner(ctx context.Context, repoURL, dest, token string) (VCS, error) {
	return gitvcs.Clone(ctx, repoURL, dest, token)
}

func runnerFactory(root string) (TestRunner, error) {
	project, err := runner.Detect(root)
	if err != nil {
		return nil, err
	}
	return runner.New(project), nil
}

type toolAdapter struct {
	registry *toolchain.Registry
	runner   *toolchain.Runner
}

func (t *toolAdapter) Fix(ctx context.Context, repoRoot string, f failure.Failure, bug failure.BugType) (string, string, bool) {
	fixers := t.registry.Lookup(f.Language, bug)
	if len(fixers) == 0 {
		return "", "", false
	}
	res, diags, ok := t.runner.Apply(ctx, fixers, f.Language, repoRoot, f.File)
	if !ok {
		return "", diags, false
	}
	return res.Tool, res.Diagnostics, true
}

type ensembleAdapter struct {
	selector *selector.Selector
	engine   *ensemble.Engine
	history  *history.Log
}

func (e *ensembleAdapter) Propose(ctx context.Context, f failure.Failure, bug failure.BugType, content []byte, toolDiagnostics string) (ensemble.Proposal, error) {
	plan := e.selector.PlanFor(bug)
	if plan.Width == 0 {
		return ensemble.Proposal{}, ensemble.ErrNoResponse
	}
	fc := ensemble.FixContext{
		Failure:         f,
		Bug:             bug,
		Content:         content,
		ToolDiagnostics: toolDiagnostics,
		History:         e.history.Recent(bug, 5),
	}
	return e.engine.Propose(ctx, plan, fc)
}

type historyAdapter struct {
	log *history.Log
}

func (h *historyAdapter) AppendHealed(f failure.Failure, bug failure.BugType, resolution string) {
	h.log.Append(history.Entry{
		BugType:    bug,
		Language:   f.Language,
		File:       f.File,
		Message:    f.Message,
		Resolution: resolution,
	})
}

var _ CIPoller = (*cipoll.Client)(nil)
