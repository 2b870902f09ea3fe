// Package runner detects a repository's project type, executes its test
// suite and linters, and normalizes the output into failure records.
package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// Suite is one detected test/lint suite within a repository.
type Suite struct {
	Language string
	// Cmd is the argv to spawn, relative to the repo root.
	Cmd []string
	// Lint is an optional second pass whose diagnostics are merged in.
	Lint []string
}

// Project is everything detection learned about a repository.
type Project struct {
	Root   string
	Suites []Suite
}

// detectRule pairs a glob with the suite it implies. Globs are evaluated
// against the repo root with doublestar so nested layouts are found.
type detectRule struct {
	glob  string
	suite Suite
}

var detectRules = []detectRule{
	{"**/*.py", Suite{
		Language: "python",
		Cmd:      []string{"python3", "-m", "pytest", "-x", "-q", "--no-header", "--tb=short"},
		Lint:     []string{"flake8", "--max-line-length", "100", "."},
	}},
	{"**/package.json", Suite{
		Language: "javascript",
		Cmd:      []string{"npm", "test", "--silent"},
		Lint:     []string{"npx", "--no-install", "eslint", "--format", "unix", "."},
	}},
	{"**/*.rb", Suite{
		Language: "ruby",
		Cmd:      []string{"bundle", "exec", "rspec", "--format", "progress"},
	}},
	{"**/go.mod", Suite{
		Language: "go",
		Cmd:      []string{"go", "test", "./..."},
	}},
}

// Detect inspects the repository and returns every suite it can run. Mixed
// repositories yield multiple suites; an empty repository is an error.
func Detect(root string) (Project, error) {
	fsys := os.DirFS(root)
	p := Project{Root: root}
	seen := map[string]bool{}
	for _, rule := range detectRules {
		if seen[rule.suite.Language] {
			continue
		}
		matches, err := doublestar.Glob(fsys, rule.glob,
			doublestar.WithFailOnIOErrors(),
			doublestar.WithFilesOnly(),
		)
		if err != nil {
			return Project{}, fmt.Errorf("detect %s: %w", rule.glob, err)
		}
		if hasNonVendorMatch(matches) {
			seen[rule.suite.Language] = true
			p.Suites = append(p.Suites, rule.suite)
		}
	}
	if len(p.Suites) == 0 {
		return Project{}, fmt.Errorf("no recognizable project in %s", root)
	}
	return p, nil
}

func hasNonVendorMatch(matches []string) bool {
	for _, m := range matches {
		skip := false
		for dir := filepath.Dir(m); dir != "." && dir != "/"; dir = filepath.Dir(dir) {
			base := filepath.Base(dir)
			if base == "node_modules" || base == "vendor" || base == ".git" || base == "venv" || base == ".venv" {
				skip = true
				break
			}
		}
		if !skip {
			return true
		}
	}
	return false
}
