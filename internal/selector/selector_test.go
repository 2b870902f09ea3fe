package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealcetexplains-png/mender/internal/config"
	"github.com/dealcetexplains-png/mender/internal/failure"
)

func cfgWith(keys ...string) config.Config {
	var creds []config.ProviderCred
	for _, k := range keys {
		creds = append(creds, config.ProviderCred{Key: k, APIKey: "x"})
	}
	return config.Config{Providers: creds, RetryLimit: 5}
}

func TestPlanFor_LogicWantsThreeReasoning(t *testing.T) {
	s := New(cfgWith("openai", "anthropic", "openrouter", "google", "groq"))
	plan := s.PlanFor(failure.Logic)
	require.Equal(t, 3, plan.Width)
	// Two reasoning carriers exist; the third slot substitutes the next
	// configured provider.
	assert.Equal(t, "openai", plan.Candidates[0].Provider)
	assert.Equal(t, RolePrimary, plan.Candidates[0].Role)
	assert.Equal(t, "anthropic", plan.Candidates[1].Provider)
	assert.Equal(t, "openrouter", plan.Candidates[2].Provider)
	for _, c := range plan.Candidates {
		assert.NotEmpty(t, c.Model)
	}
}

func TestPlanFor_SyntaxMixesReasoningAndFast(t *testing.T) {
	s := New(cfgWith("openai", "google"))
	plan := s.PlanFor(failure.Syntax)
	require.Equal(t, 2, plan.Width)
	assert.Equal(t, "openai", plan.Candidates[0].Provider)
	assert.Equal(t, "google", plan.Candidates[1].Provider)
}

func TestPlanFor_ImportPrefersFast(t *testing.T) {
	s := New(cfgWith("openai", "groq"))
	plan := s.PlanFor(failure.Import)
	require.Equal(t, 1, plan.Width)
	assert.Equal(t, "groq", plan.Candidates[0].Provider)
}

func TestPlanFor_WidthReducesToAvailable(t *testing.T) {
	s := New(cfgWith("groq"))
	plan := s.PlanFor(failure.Logic)
	require.Equal(t, 1, plan.Width, "one provider configured means width 1, never zero")
	assert.Equal(t, "groq", plan.Candidates[0].Provider)
}

func TestPlanFor_NoDuplicateProvidersInOnePlan(t *testing.T) {
	s := New(cfgWith("openai", "anthropic"))
	plan := s.PlanFor(failure.Logic)
	require.Equal(t, 2, plan.Width)
	assert.NotEqual(t, plan.Candidates[0].Provider, plan.Candidates[1].Provider)
}

func TestPlanFor_LintingNeverReachesModels(t *testing.T) {
	s := New(cfgWith("openai", "anthropic", "groq"))
	plan := s.PlanFor(failure.Linting)
	assert.Equal(t, 0, plan.Width)
	assert.Empty(t, plan.Candidates)
}

func TestPlanFor_Override(t *testing.T) {
	cfg := cfgWith("openai", "openrouter")
	cfg.Overrides.Selector = map[string][]config.SelectorCandidate{
		"LOGIC": {
			{Provider: "openrouter", Model: "meta-llama/llama-3.3-70b-instruct"},
			{Provider: "gemini"}, // unconfigured, dropped
		},
	}
	s := New(cfg)
	plan := s.PlanFor(failure.Logic)
	require.Equal(t, 1, plan.Width)
	assert.Equal(t, "openrouter", plan.Candidates[0].Provider)
	assert.Equal(t, "meta-llama/llama-3.3-70b-instruct", plan.Candidates[0].Model)
	assert.Equal(t, RolePrimary, plan.Candidates[0].Role)
}
