// Package toolchain maps (language, bug type) to deterministic external
// fixers and runs them. A fixer that succeeds replaces the ensemble for
// mechanically solvable errors; the registry yields nothing for classes
// that genuinely need a model.
package toolchain

import (
	"fmt"

	"github.com/dealcetexplains-png/mender/internal/config"
	"github.com/dealcetexplains-png/mender/internal/failure"
)

// Fixer is one deterministic fixer invocation. Args are passed before the
// target file path. ReportOnly fixers never modify the file; their output is
// collected as diagnostics for the ensemble prompt.
type Fixer struct {
	Name       string
	Args       []string
	ReportOnly bool
}

// Registry resolves fixer lists per (language, bug type).
type Registry struct {
	entries map[registryKey][]Fixer
}

type registryKey struct {
	language string
	bug      failure.BugType
}

// NewRegistry builds the builtin table, then applies YAML overrides: an
// override for a populated (language, bugtype) cell replaces it.
func NewRegistry(ov config.Overrides) *Registry {
	r := &Registry{entries: map[registryKey][]Fixer{}}

	autopep8 := Fixer{Name: "autopep8", Args: []string{"--in-place", "--aggressive"}}
	black := Fixer{Name: "black", Args: []string{"--quiet"}}
	eslintFix := Fixer{Name: "eslint", Args: []string{"--fix"}}
	prettier := Fixer{Name: "prettier", Args: []string{"--write"}}
	rubocop := Fixer{Name: "rubocop", Args: []string{"-A"}}
	mypy := Fixer{Name: "mypy", Args: []string{"--no-error-summary"}, ReportOnly: true}

	r.entries[registryKey{"python", failure.Linting}] = []Fixer{autopep8, black}
	r.entries[registryKey{"python", failure.Indentation}] = []Fixer{autopep8, black}
	r.entries[registryKey{"python", failure.TypeError}] = []Fixer{mypy}
	r.entries[registryKey{"javascript", failure.Linting}] = []Fixer{eslintFix, prettier}
	r.entries[registryKey{"javascript", failure.Indentation}] = []Fixer{eslintFix, prettier}
	r.entries[registryKey{"typescript", failure.Linting}] = []Fixer{eslintFix, prettier}
	r.entries[registryKey{"typescript", failure.Indentation}] = []Fixer{eslintFix, prettier}
	r.entries[registryKey{"ruby", failure.Linting}] = []Fixer{rubocop}
	r.entries[registryKey{"ruby", failure.Indentation}] = []Fixer{rubocop}

	for lang, byBug := range ov.Tools {
		for bugName, names := range byBug {
			bug, err := failure.ParseBugType(bugName)
			if err != nil {
				continue
			}
			fixers := make([]Fixer, 0, len(names))
			for _, name := range names {
				fixers = append(fixers, builtinFixerByName(name))
			}
			r.entries[registryKey{lang, bug}] = fixers
		}
	}
	return r
}

func builtinFixerByName(name string) Fixer {
	switch name {
	case "autopep8":
		return Fixer{Name: "autopep8", Args: []string{"--in-place", "--aggressive"}}
	case "black":
		return Fixer{Name: "black", Args: []string{"--quiet"}}
	case "eslint":
		return Fixer{Name: "eslint", Args: []string{"--fix"}}
	case "prettier":
		return Fixer{Name: "prettier", Args: []string{"--write"}}
	case "rubocop":
		return Fixer{Name: "rubocop", Args: []string{"-A"}}
	case "mypy":
		return Fixer{Name: "mypy", Args: []string{"--no-error-summary"}, ReportOnly: true}
	default:
		// Unknown names run bare; the exit-status contract still applies.
		return Fixer{Name: name}
	}
}

// Lookup returns the ordered fixer list for a failure, or an empty list when
// the class is model-only (SYNTAX, IMPORT, LOGIC have no deterministic fixer).
func (r *Registry) Lookup(language string, bug failure.BugType) []Fixer {
	fixers := r.entries[registryKey{language, bug}]
	out := make([]Fixer, len(fixers))
	copy(out, fixers)
	return out
}

func (k registryKey) String() string {
	return fmt.Sprintf("%s/%s", k.language, k.bug)
}
