package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/dealcetexplains-png/mender/internal/failure"
	"github.com/dealcetexplains-png/mender/internal/logging"
)

const suiteTimeout = 5 * time.Minute

var logger = logging.New("runner")

// StartError reports that a suite could not be spawned at all (missing
// interpreter, broken install). The healing loop treats it as fatal.
type StartError struct {
	Suite Suite
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("runner failed to start %v: %v", e.Suite.Cmd, e.Err)
}
func (e *StartError) Unwrap() error { return e.Err }

// Runner executes detected suites and parses their output.
type Runner struct {
	project Project
}

func New(project Project) *Runner {
	return &Runner{project: project}
}

// Run executes every suite once and returns the normalized failures.
// A passing run returns an empty slice. A suite that cannot start at all
// returns StartError; a suite that starts and fails is just failures.
func (r *Runner) Run(ctx context.Context) ([]failure.Failure, error) {
	var all []failure.Failure
	for _, suite := range r.project.Suites {
		failures, err := r.runSuite(ctx, suite, suite.Cmd)
		if err != nil {
			return nil, err
		}
		all = append(all, failures...)

		if len(suite.Lint) > 0 {
			lintFailures, err := r.runSuite(ctx, suite, suite.Lint)
			if err != nil {
				// Linters are best-effort; a missing linter is not a
				// runner failure.
				logger.Debug("lint pass unavailable", "suite", suite.Language, "err", err)
			} else {
				all = append(all, lintFailures...)
			}
		}
	}
	return dedupe(all), nil
}

func (r *Runner) runSuite(ctx context.Context, suite Suite, argv []string) ([]failure.Failure, error) {
	if len(argv) == 0 {
		return nil, nil
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, &StartError{Suite: suite, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, suiteTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.project.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String() + "\n" + stderr.String()

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &StartError{Suite: suite, Err: err}
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &StartError{Suite: suite, Err: fmt.Errorf("suite timed out after %s", suiteTimeout)}
		}
		// Non-zero exit with parseable diagnostics is the normal failing
		// case. Non-zero exit with nothing we recognize still yields one
		// synthetic failure so the loop observes a non-passing state.
		failures := Parse(output, suite.Language)
		if len(failures) == 0 {
			failures = []failure.Failure{{
				Kind:     "TestSuiteFailure",
				Message:  lastLines(output, 20),
				Language: suite.Language,
			}}
		}
		logger.Info("suite failed", "language", suite.Language, "failures", len(failures))
		return failures, nil
	}
	return nil, nil
}

// dedupe drops failures that share (file, line, kind); multiple tools often
// report the same site.
func dedupe(in []failure.Failure) []failure.Failure {
	type key struct {
		file string
		line int
		kind string
	}
	seen := map[key]bool{}
	out := make([]failure.Failure, 0, len(in))
	for _, f := range in {
		line := 0
		if f.Line != nil {
			line = *f.Line
		}
		k := key{f.File, line, f.Kind}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}

func lastLines(s string, n int) string {
	lines := splitLines(s)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return joinLines(lines)
}
