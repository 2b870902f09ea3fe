// Package heal contains the healing loop: the state machine that drives
// detect, classify, repair, validate, commit cycles over a cloned
// repository until its tests pass or the budgets run out.
package heal

import (
	"context"
	"time"

	"github.com/dealcetexplains-png/mender/internal/cipoll"
	"github.com/dealcetexplains-png/mender/internal/ensemble"
	"github.com/dealcetexplains-png/mender/internal/failure"
)

// RunRequest is the input to one healing run.
type RunRequest struct {
	RepoURL    string `json:"repo_url"`
	TeamName   string `json:"team_name"`
	TeamLeader string `json:"team_leader"`
	// AuthToken, when set, overrides the configured token for this run.
	AuthToken string `json:"auth_token,omitempty"`
}

// VCS is the version-control port the loop drives. gitvcs.Repo satisfies it.
type VCS interface {
	Snapshot(ctx context.Context) (string, error)
	ResetTo(ctx context.Context, sha string) error
	Commit(ctx context.Context, message string) (string, error)
	Push(ctx context.Context, branch string) error
	CreateBranch(ctx context.Context, branch string) error
	SetRemoteURL(ctx context.Context, remoteURL string) error
}

// Cloner produces a VCS handle for a fresh working copy.
type Cloner func(ctx context.Context, repoURL, dest, token string) (VCS, error)

// TestRunner reruns the project's suites and reports normalized failures.
type TestRunner interface {
	Run(ctx context.Context) ([]failure.Failure, error)
}

// RunnerFactory detects the project in a working copy and builds its runner.
type RunnerFactory func(root string) (TestRunner, error)

// ToolFixer is the tool-first repair path. fixed reports whether a
// deterministic fixer rewrote the file in place; diagnostics carries
// report-only tool output forward to the ensemble either way.
type ToolFixer interface {
	Fix(ctx context.Context, repoRoot string, f failure.Failure, bug failure.BugType) (tool string, diagnostics string, fixed bool)
}

// PatchProposer is the ensemble path: synthesize a validated replacement
// for the failing file.
type PatchProposer interface {
	Propose(ctx context.Context, f failure.Failure, bug failure.BugType, content []byte, toolDiagnostics string) (ensemble.Proposal, error)
}

// CIPoller polls upstream CI for a pushed commit.
type CIPoller interface {
	Enabled() bool
	Poll(ctx context.Context, repoURL, sha string, timeout time.Duration) (cipoll.Status, error)
}

// HistorySink receives healed-failure records for few-shot reuse.
type HistorySink interface {
	AppendHealed(f failure.Failure, bug failure.BugType, resolution string)
}

// FixStatus is a FixRecord's terminal state.
type FixStatus string

const (
	FixApplied FixStatus = "applied"
	FixFailed  FixStatus = "failed"
)

// FixRecord is one fix attempt on one (file, line) site.
type FixRecord struct {
	ID            string            `json:"id"`
	File          string            `json:"file"`
	BugType       failure.BugType   `json:"bug_type"`
	Line          *int              `json:"line"`
	AllLines      []int             `json:"all_lines"`
	ErrorMessage  string            `json:"error_message"`
	CommitMessage string            `json:"commit_message,omitempty"`
	ProvidersUsed []string          `json:"providers_used"`
	Origin        string            `json:"origin"` // tool name or "ensemble"
	Status        FixStatus         `json:"status"`
	Debug         map[string]string `json:"debug"`

	iteration int
}

// Decision is an iteration's outcome.
type Decision string

const (
	DecisionApplied    Decision = "applied"
	DecisionRolledBack Decision = "rolled_back"
	DecisionStuck      Decision = "stuck"
	DecisionPassed     Decision = "passed"
)

// Iteration is one timeline entry.
type Iteration struct {
	Index         int      `json:"iteration"`
	Status        string   `json:"status"` // "PASSED" | "FAILED"
	FailuresCount int      `json:"failures_count"`
	Timestamp     string   `json:"timestamp"`
	Decision      Decision `json:"decision,omitempty"`
	FailuresAfter *int     `json:"failures_after,omitempty"`
	Snapshot      string   `json:"snapshot,omitempty"`
	Committed     bool     `json:"-"`
}

// Score is the report's score breakdown.
type Score struct {
	Base              int `json:"base"`
	SpeedBonus        int `json:"speed_bonus"`
	EfficiencyPenalty int `json:"efficiency_penalty"`
	Total             int `json:"total"`
}

// GitHubCI is the optional upstream CI sub-document.
type GitHubCI struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RunReport is the single output document of a run.
type RunReport struct {
	RepoURL               string      `json:"repo_url"`
	TeamName              string      `json:"team_name"`
	TeamLeader            string      `json:"team_leader"`
	BranchName            string      `json:"branch_name"`
	TotalFailuresDetected int         `json:"total_failures_detected"`
	TotalFixesApplied     int         `json:"total_fixes_applied"`
	RegressionsPrevented  int         `json:"regressions_prevented"`
	TotalTimeSeconds      float64     `json:"total_time_seconds"`
	CIStatus              string      `json:"ci_status"` // "PASSED" | "FAILED"
	RetryLimit            int         `json:"retry_limit"`
	Score                 Score       `json:"score"`
	Fixes                 []FixRecord `json:"fixes"`
	Timeline              []Iteration `json:"timeline"`
	GitHubCI              *GitHubCI   `json:"github_ci,omitempty"`
	// Reason explains a FAILED status ("convergence_stuck", "retry_limit",
	// "clone_error", ...).
	Reason string `json:"reason,omitempty"`
}
