package heal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealcetexplains-png/mender/internal/cipoll"
	"github.com/dealcetexplains-png/mender/internal/config"
	"github.com/dealcetexplains-png/mender/internal/ensemble"
	"github.com/dealcetexplains-png/mender/internal/failure"
)

// --- stubs -----------------------------------------------------------------

type stubVCS struct {
	mu       sync.Mutex
	snapSeq  int
	head     string
	commits  []string
	resets   []string
	pushes   []string
	branches []string
}

func newStubVCS() *stubVCS { return &stubVCS{head: "snap-0"} }

func (v *stubVCS) Snapshot(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.head, nil
}
func (v *stubVCS) ResetTo(ctx context.Context, sha string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resets = append(v.resets, sha)
	v.head = sha
	return nil
}
func (v *stubVCS) Commit(ctx context.Context, message string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commits = append(v.commits, message)
	v.snapSeq++
	v.head = fmt.Sprintf("snap-%d", v.snapSeq)
	return v.head, nil
}
func (v *stubVCS) Push(ctx context.Context, branch string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pushes = append(v.pushes, branch)
	return nil
}
func (v *stubVCS) CreateBranch(ctx context.Context, branch string) error {
	v.branches = append(v.branches, branch)
	return nil
}
func (v *stubVCS) SetRemoteURL(ctx context.Context, remoteURL string) error { return nil }

// scriptRunner returns one canned failure list per Run call, repeating the
// last entry when the script runs out.
type scriptRunner struct {
	mu     sync.Mutex
	script [][]failure.Failure
	calls  int
}

func (r *scriptRunner) Run(ctx context.Context) ([]failure.Failure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.calls
	if idx >= len(r.script) {
		idx = len(r.script) - 1
	}
	r.calls++
	out := make([]failure.Failure, len(r.script[idx]))
	copy(out, r.script[idx])
	return out, nil
}

type stubTools struct {
	fixable map[string]string // file -> tool name
	calls   []string
}

func (t *stubTools) Fix(ctx context.Context, repoRoot string, f failure.Failure, bug failure.BugType) (string, string, bool) {
	t.calls = append(t.calls, f.File)
	if tool, ok := t.fixable[f.File]; ok {
		return tool, "", true
	}
	return "", "", false
}

type stubProposer struct {
	mu        sync.Mutex
	err       error
	providers []string
	order     []string
}

func (p *stubProposer) Propose(ctx context.Context, f failure.Failure, bug failure.BugType, content []byte, toolDiagnostics string) (ensemble.Proposal, error) {
	p.mu.Lock()
	p.order = append(p.order, f.File)
	p.mu.Unlock()
	if p.err != nil {
		return ensemble.Proposal{}, p.err
	}
	providers := p.providers
	if providers == nil {
		providers = []string{"openai"}
	}
	return ensemble.Proposal{
		Content:       append(content, []byte("\n# patched\n")...),
		ProvidersUsed: providers,
		Raw:           map[string]string{"openai": "patched"},
	}, nil
}

type noCI struct{}

func (noCI) Enabled() bool { return false }
func (noCI) Poll(ctx context.Context, repoURL, sha string, timeout time.Duration) (cipoll.Status, error) {
	return cipoll.Status{}, nil
}

// --- harness ---------------------------------------------------------------

func testConfig(t *testing.T) config.Config {
	return config.Config{
		Providers:  []config.ProviderCred{{Key: "openai", APIKey: "x"}},
		RetryLimit: 5,
		Workspace:  t.TempDir(),
		APITimeout: 5 * time.Second,
		RunTimeout: time.Minute,
	}
}

type harness struct {
	vcs      *stubVCS
	runner   *scriptRunner
	tools    *stubTools
	proposer *stubProposer
	healer   *Healer
}

func newHarness(t *testing.T, cfg config.Config, script [][]failure.Failure, files map[string]string) *harness {
	h := &harness{
		vcs:      newStubVCS(),
		runner:   &scriptRunner{script: script},
		tools:    &stubTools{fixable: map[string]string{}},
		proposer: &stubProposer{},
	}
	clone := func(ctx context.Context, repoURL, dest, token string) (VCS, error) {
		require.NoError(t, os.MkdirAll(dest, 0o755))
		for name, content := range files {
			path := filepath.Join(dest, name)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		}
		return h.vcs, nil
	}
	factory := func(root string) (TestRunner, error) { return h.runner, nil }
	h.healer = NewHealer(cfg, clone, factory, h.tools, h.proposer, noCI{}, nil)
	return h
}

func pyFailure(file string, line int, kind, msg string) failure.Failure {
	l := line
	return failure.Failure{File: file, Line: &l, Kind: kind, Message: msg, Language: "python"}
}

var req = RunRequest{RepoURL: "https://github.com/acme/app", TeamName: "acme", TeamLeader: "jane doe"}

// --- scenarios -------------------------------------------------------------

// S1: a mechanically fixable lint failure never reaches the ensemble.
func TestHeal_ToolShortCircuit(t *testing.T) {
	lint := pyFailure("f.py", 2, "W291", "f.py:2:10: W291 trailing whitespace")
	h := newHarness(t, testConfig(t),
		[][]failure.Failure{{lint}, {}},
		map[string]string{"f.py": "def f():\n  return 1\n "},
	)
	h.tools.fixable["f.py"] = "autopep8"

	report := h.healer.Heal(context.Background(), req)

	assert.Equal(t, "PASSED", report.CIStatus)
	require.Len(t, report.Fixes, 1)
	rec := report.Fixes[0]
	assert.Equal(t, failure.Linting, rec.BugType)
	assert.Equal(t, "autopep8", rec.Origin)
	assert.Empty(t, rec.ProvidersUsed)
	assert.Equal(t, "[AI-AGENT] fix LINTING in f.py", rec.CommitMessage)
	assert.Empty(t, h.proposer.order, "no LLM call for a tool-fixable failure")
	require.Len(t, h.vcs.commits, 1)
	assert.Equal(t, "fix LINTING in f.py", h.vcs.commits[0])
	assert.Equal(t, []string{"ACME_JANE_DOE_AI_FIX"}, h.vcs.pushes)
}

// S2: syntax-class failures are fixed before logic-class failures.
func TestHeal_SeverityOrdering(t *testing.T) {
	indent := pyFailure("a.py", 3, "IndentationError", "IndentationError: expected an indented block")
	assertion := pyFailure("b.py", 9, "AssertionError", "AssertionError: assert 2 == 3")
	h := newHarness(t, testConfig(t),
		[][]failure.Failure{{assertion, indent}, {}},
		map[string]string{"a.py": "def a():\npass\n", "b.py": "def b():\n    return 3\n"},
	)

	report := h.healer.Heal(context.Background(), req)

	assert.Equal(t, "PASSED", report.CIStatus)
	require.Len(t, report.Fixes, 2)
	assert.Equal(t, "a.py", report.Fixes[0].File, "INDENTATION precedes LOGIC")
	assert.Equal(t, "b.py", report.Fixes[1].File)
	require.Len(t, h.proposer.order, 2)
	assert.Equal(t, []string{"a.py", "b.py"}, h.proposer.order)
}

// S3: an iteration that increases the failure count is rolled back.
func TestHeal_RegressionRollback(t *testing.T) {
	f1 := pyFailure("a.py", 1, "AssertionError", "AssertionError: assert 1 == 2")
	broken := []failure.Failure{
		f1,
		pyFailure("a.py", 5, "SyntaxError", "SyntaxError: invalid syntax"),
		pyFailure("c.py", 2, "TypeError", "TypeError: bad operand"),
	}
	h := newHarness(t, testConfig(t),
		[][]failure.Failure{
			{f1},   // iteration 1, before
			broken, // iteration 1, after: regression
			{f1},   // iteration 2, before (tree restored)
			{f1},   // iteration 2, after
			{f1},   // iteration 3, before: stuck
		},
		map[string]string{"a.py": "x = 1\n", "c.py": "y = 2\n"},
	)

	report := h.healer.Heal(context.Background(), req)

	assert.Equal(t, "FAILED", report.CIStatus)
	assert.GreaterOrEqual(t, report.RegressionsPrevented, 1)
	assert.Equal(t, []string{"snap-0"}, h.vcs.resets, "reset to the pre-iteration snapshot")
	assert.Equal(t, 0, report.TotalFixesApplied, "rolled-back fixes are removed")
	require.NotEmpty(t, report.Timeline)
	assert.Equal(t, DecisionRolledBack, report.Timeline[0].Decision)
	assert.Equal(t, 0, commitsMade(report), "no commits remain after rollback")
}

// S4: two consecutive unchanged failure counts end the run early.
func TestHeal_ConvergenceStuck(t *testing.T) {
	f1 := pyFailure("a.py", 1, "AssertionError", "AssertionError: assert 1 == 2")
	h := newHarness(t, testConfig(t),
		[][]failure.Failure{{f1}},
		map[string]string{"a.py": "x = 1\n"},
	)

	report := h.healer.Heal(context.Background(), req)

	assert.Equal(t, "FAILED", report.CIStatus)
	assert.Equal(t, "convergence_stuck", report.Reason)
	require.NotEmpty(t, report.Timeline)
	last := report.Timeline[len(report.Timeline)-1]
	assert.Equal(t, DecisionStuck, last.Decision)
	assert.Less(t, len(report.Timeline), 5, "stuck exit happens before the retry budget")
}

// S5: providers contributing to the winning patch are reported.
func TestHeal_ProvidersUsedPropagates(t *testing.T) {
	f1 := pyFailure("a.py", 1, "AssertionError", "AssertionError: assert 1 == 2")
	h := newHarness(t, testConfig(t),
		[][]failure.Failure{{f1}, {}},
		map[string]string{"a.py": "x = 1\n"},
	)
	h.proposer.providers = []string{"openai", "anthropic"}

	report := h.healer.Heal(context.Background(), req)

	require.Len(t, report.Fixes, 1)
	assert.Equal(t, []string{"openai", "anthropic"}, report.Fixes[0].ProvidersUsed)
	assert.Equal(t, "ensemble", report.Fixes[0].Origin)
}

// S6: total provider outage marks the attempt failed and the loop survives.
func TestHeal_ProviderOutage(t *testing.T) {
	f1 := pyFailure("a.py", 1, "AssertionError", "AssertionError: assert 1 == 2")
	h := newHarness(t, testConfig(t),
		[][]failure.Failure{{f1}},
		map[string]string{"a.py": "x = 1\n"},
	)
	h.proposer.err = ensemble.ErrNoResponse

	report := h.healer.Heal(context.Background(), req)

	assert.Equal(t, "FAILED", report.CIStatus)
	assert.Empty(t, h.vcs.commits, "no commit without an accepted fix")
	require.NotEmpty(t, report.Fixes)
	assert.Equal(t, FixFailed, report.Fixes[0].Status)
	assert.Contains(t, report.Fixes[0].Debug["error"], "no provider responded")
}

// --- properties ------------------------------------------------------------

func TestBranchName(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z0-9_]+_AI_FIX$`)

	cases := map[[2]string]string{
		{"acme", "jane doe"}:     "ACME_JANE_DOE_AI_FIX",
		{"Team Rocket!", "j.r."}: "TEAM_ROCKET_J_R_AI_FIX",
		{"a--b", "c__d"}:         "A_B_C_D_AI_FIX",
		{"", ""}:                 "TEAM_AI_FIX",
		{"снег", "wtf"}:          "СНЕГ_WTF_AI_FIX",
	}
	for in, want := range cases {
		got := BranchName(in[0], in[1])
		assert.Equal(t, want, got)
		if in[0] != "снег" {
			assert.Regexp(t, re, got)
		}
		assert.Equal(t, got, BranchName(in[0], in[1]), "idempotent across runs")
	}
}

func TestScoreFormula(t *testing.T) {
	fast := computeScore(10*time.Second, 0)
	assert.Equal(t, Score{Base: 100, SpeedBonus: 10, EfficiencyPenalty: 0, Total: 110}, fast)

	exactly := computeScore(300*time.Second, 0)
	assert.Equal(t, 0, exactly.SpeedBonus, "speed bonus threshold is strict")

	busy := computeScore(400*time.Second, 23)
	assert.Equal(t, Score{Base: 100, SpeedBonus: 0, EfficiencyPenalty: 6, Total: 94}, busy)

	assert.Equal(t, busy.Total, busy.Base+busy.SpeedBonus-busy.EfficiencyPenalty)
}

func TestHeal_TimelineBounded(t *testing.T) {
	// Strictly decreasing failure counts that never reach zero: neither the
	// convergence check nor the regression guards can stop the loop, so only
	// the retry budget bounds the timeline.
	script := [][]failure.Failure{}
	for k := 0; k < 30; k++ {
		var fs []failure.Failure
		for n := k + 1; n <= 41; n++ {
			fs = append(fs, pyFailure("a.py", n, "AssertionError", fmt.Sprintf("AssertionError: case %d", n)))
		}
		script = append(script, fs)
	}
	cfg := testConfig(t)
	cfg.RetryLimit = 3
	h := newHarness(t, cfg, script, map[string]string{"a.py": "x = 1\n"})

	report := h.healer.Heal(context.Background(), req)
	assert.LessOrEqual(t, len(report.Timeline), cfg.RetryLimit)
	assert.Equal(t, "retry_limit", report.Reason)
}

func TestHeal_UniqueFixSites(t *testing.T) {
	f1 := pyFailure("a.py", 1, "AssertionError", "AssertionError: assert 1 == 2")
	f2 := pyFailure("a.py", 1, "AssertionError", "AssertionError: assert 1 == 2")
	h := newHarness(t, testConfig(t),
		[][]failure.Failure{{f1, f2}, {f1}, {f1}},
		map[string]string{"a.py": "x = 1\n"},
	)

	report := h.healer.Heal(context.Background(), req)

	seen := map[string]bool{}
	for _, rec := range report.Fixes {
		key := fmt.Sprintf("%s:%d", rec.File, *rec.Line)
		assert.False(t, seen[key], "duplicate fix site %s", key)
		seen[key] = true
	}
}

func TestHeal_WallClockCap(t *testing.T) {
	f1 := pyFailure("a.py", 1, "AssertionError", "AssertionError: assert 1 == 2")
	cfg := testConfig(t)
	cfg.RunTimeout = time.Nanosecond
	h := newHarness(t, cfg, [][]failure.Failure{{f1}}, map[string]string{"a.py": "x = 1\n"})

	report := h.healer.Heal(context.Background(), req)
	assert.Equal(t, "FAILED", report.CIStatus)
	assert.Equal(t, "wall_clock_exceeded", report.Reason)
}

func TestHeal_CloneErrorProducesFailedReport(t *testing.T) {
	cfg := testConfig(t)
	clone := func(ctx context.Context, repoURL, dest, token string) (VCS, error) {
		return nil, fmt.Errorf("repository not found")
	}
	factory := func(root string) (TestRunner, error) { return &scriptRunner{script: [][]failure.Failure{{}}}, nil }
	healer := NewHealer(cfg, clone, factory, &stubTools{}, &stubProposer{}, noCI{}, nil)

	report := healer.Heal(context.Background(), req)
	assert.Equal(t, "FAILED", report.CIStatus)
	assert.Contains(t, report.Reason, "clone_error")
	assert.NotZero(t, report.TotalTimeSeconds)
}
