package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dealcetexplains-png/mender/internal/logging"
	"github.com/dealcetexplains-png/mender/internal/patchcheck"
)

const toolTimeout = 30 * time.Second

var logger = logging.New("toolchain")

// Result is one fixer invocation's outcome.
type Result struct {
	Tool string
	// Content is the file's post-fix contents; nil for report-only tools.
	Content []byte
	// Diagnostics is the tool's combined output, kept for the LLM prompt.
	Diagnostics string
}

// Runner executes fixers against files in a repository working tree.
type Runner struct {
	checker patchcheck.Checker
}

func NewRunner(checker patchcheck.Checker) *Runner {
	return &Runner{checker: checker}
}

// Apply tries each fixer in order and returns the first success. A fixer
// succeeds when it exits zero, is installed, and the file still parses
// afterward. Report-only fixers never succeed as a fix; their diagnostics
// accumulate and come back with the final failure so the ensemble can use
// them. Returns (nil, diagnostics, false) when the list is exhausted.
func (r *Runner) Apply(ctx context.Context, fixers []Fixer, language, repoRoot, file string) (*Result, string, bool) {
	path := filepath.Join(repoRoot, file)
	var diags []string

	for _, fixer := range fixers {
		if _, err := exec.LookPath(fixer.Name); err != nil {
			logger.Debug("fixer not installed", "tool", fixer.Name)
			continue
		}

		output, err := r.invoke(ctx, fixer, repoRoot, path)
		if fixer.ReportOnly {
			if output != "" {
				diags = append(diags, fmt.Sprintf("%s: %s", fixer.Name, output))
			}
			continue
		}
		if err != nil {
			logger.Debug("fixer failed", "tool", fixer.Name, "err", err)
			diags = append(diags, fmt.Sprintf("%s: %v", fixer.Name, err))
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			diags = append(diags, fmt.Sprintf("%s: read back: %v", fixer.Name, err))
			continue
		}
		if err := r.checker.Check(ctx, language, file, content); err != nil {
			logger.Warn("fixer output does not parse, rejecting", "tool", fixer.Name, "file", file)
			diags = append(diags, fmt.Sprintf("%s: output rejected: %v", fixer.Name, err))
			continue
		}
		return &Result{Tool: fixer.Name, Content: content, Diagnostics: output}, strings.Join(diags, "\n"), true
	}
	return nil, strings.Join(diags, "\n"), false
}

func (r *Runner) invoke(ctx context.Context, fixer Fixer, repoRoot, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	args := append(append([]string{}, fixer.Args...), path)
	cmd := exec.CommandContext(ctx, fixer.Name, args...)
	cmd.Dir = repoRoot
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	output := strings.TrimSpace(combined.String())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("%s timed out after %s", fixer.Name, toolTimeout)
		}
		return output, fmt.Errorf("%s: %w: %s", fixer.Name, err, output)
	}
	return output, nil
}
