// Package selector maps a bug type to the ensemble plan: which providers,
// which models, and how wide the parallel fan-out is.
package selector

import (
	"github.com/dealcetexplains-png/mender/internal/config"
	"github.com/dealcetexplains-png/mender/internal/failure"
	"github.com/dealcetexplains-png/mender/internal/providerspec"
)

// Role marks a candidate's position in the preference order.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Candidate is one (provider, model) slot in a plan.
type Candidate struct {
	Provider string
	Model    string
	Role     Role
}

// Plan is the ensemble configuration for one fix attempt.
type Plan struct {
	Width      int
	Candidates []Candidate
}

// wants describes a bug type's preferred capability sequence. Width is the
// parallel fan-out; the capability list is the preference order for filling
// the slots.
type wants struct {
	width        int
	capabilities []providerspec.Capability
}

// The required mapping: LOGIC gets three reasoning opinions, TYPE_ERROR
// two, SYNTAX one reasoning plus one fast, IMPORT and INDENTATION one fast
// call, LINTING never reaches a model when a tool exists.
var planTable = map[failure.BugType]wants{
	failure.Logic:       {3, []providerspec.Capability{providerspec.CapabilityReasoning, providerspec.CapabilityReasoning, providerspec.CapabilityReasoning}},
	failure.TypeError:   {2, []providerspec.Capability{providerspec.CapabilityReasoning, providerspec.CapabilityReasoning}},
	failure.Syntax:      {2, []providerspec.Capability{providerspec.CapabilityReasoning, providerspec.CapabilityFast}},
	failure.Import:      {1, []providerspec.Capability{providerspec.CapabilityFast}},
	failure.Indentation: {1, []providerspec.Capability{providerspec.CapabilityFast}},
	failure.Linting:     {0, nil},
}

// Selector yields ensemble plans from the configured provider set.
type Selector struct {
	configured []string // canonical keys, priority order
	overrides  map[string][]config.SelectorCandidate
}

func New(cfg config.Config) *Selector {
	return &Selector{
		configured: cfg.ProviderKeys(),
		overrides:  cfg.Overrides.Selector,
	}
}

// PlanFor builds the plan for a bug type. Slots are filled by capability:
// the preferred tag first, then any other configured provider (substitution
// when a preferred provider is unconfigured). Width reduces to what is
// available, minimum 1 — except LINTING, which is Width 0 by design of the
// tool-first path.
func (s *Selector) PlanFor(bug failure.BugType) Plan {
	if ov, ok := s.overrides[bug.String()]; ok && len(ov) > 0 {
		return s.planFromOverride(ov)
	}

	w, ok := planTable[bug]
	if !ok || w.width == 0 {
		return Plan{}
	}

	used := map[string]int{}
	var candidates []Candidate
	for i, want := range w.capabilities {
		key, ok := s.pickProvider(want, used)
		if !ok {
			continue
		}
		used[key]++
		spec, _ := providerspec.Builtin(key)
		role := RoleSecondary
		if i == 0 {
			role = RolePrimary
		}
		candidates = append(candidates, Candidate{
			Provider: key,
			Model:    spec.DefaultModel(want == providerspec.CapabilityReasoning),
			Role:     role,
		})
	}
	return Plan{Width: len(candidates), Candidates: candidates}
}

// pickProvider returns the highest-priority configured provider carrying
// the capability that has not been used yet, falling back to any unused
// configured provider (capability substitution). When every configured
// provider is already holding a slot the width simply reduces; PlanFor
// guarantees the minimum of one.
func (s *Selector) pickProvider(want providerspec.Capability, used map[string]int) (string, bool) {
	for _, key := range s.configured {
		spec, ok := providerspec.Builtin(key)
		if !ok || spec.Capability != want {
			continue
		}
		if used[key] == 0 {
			return key, true
		}
	}
	for _, key := range s.configured {
		if used[key] == 0 {
			return key, true
		}
	}
	return "", false
}

func (s *Selector) planFromOverride(ov []config.SelectorCandidate) Plan {
	var candidates []Candidate
	for i, c := range ov {
		key := providerspec.CanonicalProviderKey(c.Provider)
		if !s.isConfigured(key) {
			continue
		}
		model := c.Model
		if model == "" {
			spec, _ := providerspec.Builtin(key)
			model = spec.DefaultModel(true)
		}
		role := RoleSecondary
		if i == 0 {
			role = RolePrimary
		}
		candidates = append(candidates, Candidate{Provider: key, Model: model, Role: role})
	}
	return Plan{Width: len(candidates), Candidates: candidates}
}

func (s *Selector) isConfigured(key string) bool {
	for _, k := range s.configured {
		if k == key {
			return true
		}
	}
	return false
}
