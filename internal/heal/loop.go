package heal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dealcetexplains-png/mender/internal/config"
	"github.com/dealcetexplains-png/mender/internal/failure"
	"github.com/dealcetexplains-png/mender/internal/gitvcs"
	"github.com/dealcetexplains-png/mender/internal/logging"
)

var logger = logging.New("heal")

// regressionJumpFactor triggers the latent-regression pre-check: a failure
// count this much above the previous iteration's means the last patch set
// broke more than it fixed even though the count never exceeded its own
// baseline.
const regressionJumpFactor = 1.5

// Healer owns one run at a time: the loop is strictly sequential because
// the working tree is shared mutable state; the only parallelism lives
// inside the ensemble.
type Healer struct {
	cfg     config.Config
	clone   Cloner
	runners RunnerFactory
	tools   ToolFixer
	propose PatchProposer
	ci      CIPoller
	history HistorySink

	// KeepWorkspace disables per-run teardown, for debugging.
	KeepWorkspace bool
}

func NewHealer(cfg config.Config, clone Cloner, runners RunnerFactory, tools ToolFixer, propose PatchProposer, ci CIPoller, history HistorySink) *Healer {
	return &Healer{
		cfg:     cfg,
		clone:   clone,
		runners: runners,
		tools:   tools,
		propose: propose,
		ci:      ci,
		history: history,
	}
}

// Heal executes one complete run and always returns a report; errors are
// folded into it as ci_status FAILED with a reason.
func (h *Healer) Heal(ctx context.Context, req RunRequest) *RunReport {
	start := time.Now()
	report := &RunReport{
		RepoURL:    req.RepoURL,
		TeamName:   req.TeamName,
		TeamLeader: req.TeamLeader,
		BranchName: BranchName(req.TeamName, req.TeamLeader),
		CIStatus:   "FAILED",
		RetryLimit: h.cfg.RetryLimit,
		Fixes:      []FixRecord{},
		Timeline:   []Iteration{},
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.RunTimeout)
	defer cancel()

	// CLONING
	runDir := filepath.Join(h.cfg.Workspace, "runs", uuid.NewString())
	repoDir := filepath.Join(runDir, "repo")
	if !h.KeepWorkspace {
		defer os.RemoveAll(runDir)
	}
	token := req.AuthToken
	if token == "" {
		token = h.cfg.GitHubToken
	}
	vcs, err := h.clone(ctx, req.RepoURL, repoDir, token)
	if err != nil {
		report.Reason = "clone_error: " + err.Error()
		finalize(report, start)
		return report
	}
	if err := vcs.CreateBranch(ctx, report.BranchName); err != nil {
		report.Reason = "branch_error: " + err.Error()
		finalize(report, start)
		return report
	}

	runner, err := h.runners(repoDir)
	if err != nil {
		report.Reason = "runner_error: " + err.Error()
		finalize(report, start)
		return report
	}

	h.iterate(ctx, req, vcs, runner, repoDir, report)
	finalize(report, start)
	return report
}

// iterate is the ITERATING state. It mutates the report in place.
func (h *Healer) iterate(ctx context.Context, req RunRequest, vcs VCS, runner TestRunner, repoDir string, report *RunReport) {
	fixSites := map[failure.Site]bool{}
	var counts []int // errors_before per recorded iteration
	var snapshots []string
	lastDecision := Decision("")

	for i := 1; ; i++ {
		if ctx.Err() != nil {
			report.Reason = "wall_clock_exceeded"
			return
		}

		failures, err := runner.Run(ctx)
		if err != nil {
			report.Reason = "runner_error: " + err.Error()
			return
		}
		nBefore := len(failures)
		report.TotalFailuresDetected += nBefore

		if nBefore == 0 {
			report.CIStatus = "PASSED"
			// The terminal check past the retry budget is not an
			// iteration; the timeline stays bounded by the retry limit.
			if i <= h.cfg.RetryLimit {
				report.Timeline = append(report.Timeline, Iteration{
					Index:         i,
					Status:        "PASSED",
					FailuresCount: 0,
					Timestamp:     time.Now().UTC().Format(time.RFC3339),
					Decision:      DecisionPassed,
				})
			}
			return
		}
		if i > h.cfg.RetryLimit {
			report.Reason = "retry_limit"
			return
		}
		if len(counts) >= 2 && nBefore == counts[len(counts)-1] && nBefore == counts[len(counts)-2] {
			report.Reason = "convergence_stuck"
			report.Timeline = append(report.Timeline, Iteration{
				Index:         i,
				Status:        "FAILED",
				FailuresCount: nBefore,
				Timestamp:     time.Now().UTC().Format(time.RFC3339),
				Decision:      DecisionStuck,
			})
			return
		}
		// Latent regression: the previous iteration was recorded as
		// applied and committed fixes, but the failure count has since
		// jumped past 1.5x its baseline. Roll it back and restart this
		// iteration with fresh failures.
		if lastDecision == DecisionApplied && len(counts) >= 1 &&
			report.Timeline[len(report.Timeline)-1].Committed &&
			float64(nBefore) > regressionJumpFactor*float64(counts[len(counts)-1]) {
			snap := snapshots[len(snapshots)-1]
			logger.Warn("latent regression detected", "iteration", i, "failures", nBefore, "baseline", counts[len(counts)-1])
			if err := vcs.ResetTo(ctx, snap); err != nil {
				report.Reason = "rollback_error: " + err.Error()
				return
			}
			report.RegressionsPrevented++
			rollBackIteration(report, len(report.Timeline)-1)
			lastDecision = DecisionRolledBack
			i--
			continue
		}

		snap, err := vcs.Snapshot(ctx)
		if err != nil {
			report.Reason = "snapshot_error: " + err.Error()
			return
		}
		counts = append(counts, nBefore)
		snapshots = append(snapshots, snap)

		applied := h.fixCandidates(ctx, repoDir, failures, fixSites, i, report)

		pushedSHA := ""
		if applied > 0 {
			msg := commitMessage(report.Fixes, i)
			sha, err := vcs.Commit(ctx, msg)
			if err != nil {
				report.Reason = "commit_error: " + err.Error()
				return
			}
			stampCommit(report, i, msg)
			if err := h.push(ctx, req, vcs, report.BranchName); err != nil {
				report.Reason = "push_error: " + err.Error()
				return
			}
			pushedSHA = sha
		}

		after, err := runner.Run(ctx)
		if err != nil {
			report.Reason = "runner_error: " + err.Error()
			return
		}
		nAfter := len(after)

		entry := Iteration{
			Index:         i,
			Status:        "FAILED",
			FailuresCount: nBefore,
			FailuresAfter: &nAfter,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			Snapshot:      snap,
			Committed:     pushedSHA != "",
		}
		if nAfter > nBefore && applied > 0 {
			// Regression: this iteration made things worse. Restore the
			// snapshot and drop its fix records; the sites stay locked so
			// the same bad patch is not retried forever.
			if err := vcs.ResetTo(ctx, snap); err != nil {
				report.Reason = "rollback_error: " + err.Error()
				return
			}
			report.RegressionsPrevented++
			dropIterationFixes(report, i)
			entry.Decision = DecisionRolledBack
			logger.Warn("regression rolled back", "iteration", i, "before", nBefore, "after", nAfter)
		} else {
			entry.Decision = DecisionApplied
		}
		report.Timeline = append(report.Timeline, entry)
		lastDecision = entry.Decision

		// Upstream CI short-circuit: a PASSED verdict from the real CI
		// system ends the loop early.
		if entry.Decision == DecisionApplied && pushedSHA != "" && h.ci != nil && h.ci.Enabled() {
			st, err := h.ci.Poll(ctx, req.RepoURL, pushedSHA, h.cfg.GitHubCITimeout)
			if err == nil {
				report.GitHubCI = &GitHubCI{Status: st.State, Message: st.Message}
				if st.State == "success" {
					report.CIStatus = "PASSED"
					return
				}
			} else {
				logger.Debug("ci poll failed", "err", err)
			}
		}
	}
}

// fixCandidates walks the iteration's failures in severity order and
// attempts one fix per unlocked site. Returns the number of accepted fixes.
func (h *Healer) fixCandidates(ctx context.Context, repoDir string, failures []failure.Failure, fixSites map[failure.Site]bool, iteration int, report *RunReport) int {
	sortBySeverity(failures)
	linesByFile := linesPerFileKind(failures)

	applied := 0
	for _, f := range failures {
		site := f.Site()
		if fixSites[site] {
			continue
		}
		if ctx.Err() != nil {
			return applied
		}
		bug := failure.Classify(f.Message, f.Language)

		rec := FixRecord{
			ID:            uuid.NewString(),
			File:          f.File,
			BugType:       bug,
			Line:          f.Line,
			AllLines:      linesByFile[fileKind{f.File, bug}],
			ErrorMessage:  f.Message,
			ProvidersUsed: []string{},
			Debug:         map[string]string{},
			iteration:     iteration,
		}

		// Tool-first: deterministic fixers bypass the ensemble entirely.
		tool, toolDiags, fixed := h.tools.Fix(ctx, repoDir, f, bug)
		if fixed {
			rec.Origin = tool
			rec.Status = FixApplied
			if toolDiags != "" {
				rec.Debug["tool_output"] = truncate(toolDiags, 2000)
			}
			logger.Info("tool fix applied", "tool", tool, "file", f.File, "bug", bug.String())
			fixSites[site] = true
			report.Fixes = append(report.Fixes, rec)
			if h.history != nil {
				h.history.AppendHealed(f, bug, tool)
			}
			applied++
			continue
		}
		if toolDiags != "" {
			rec.Debug["tool_diagnostics"] = truncate(toolDiags, 2000)
		}

		content, err := os.ReadFile(filepath.Join(repoDir, f.File))
		if err != nil {
			rec.Status = FixFailed
			rec.Debug["error"] = "read source: " + err.Error()
			fixSites[site] = true
			report.Fixes = append(report.Fixes, rec)
			continue
		}

		proposal, err := h.propose.Propose(ctx, f, bug, content, toolDiags)
		if err != nil {
			rec.Status = FixFailed
			rec.Origin = "ensemble"
			rec.Debug["error"] = err.Error()
			logger.Info("fix attempt failed", "file", f.File, "bug", bug.String(), "err", err)
			// Lock the failed site too: re-fixing the same line with the
			// same inputs cannot converge, and the progress guarantee
			// forbids repeated attempts on one site within a run.
			fixSites[site] = true
			report.Fixes = append(report.Fixes, rec)
			continue
		}

		if err := os.WriteFile(filepath.Join(repoDir, f.File), proposal.Content, 0o644); err != nil {
			rec.Status = FixFailed
			rec.Origin = "ensemble"
			rec.Debug["error"] = "write patch: " + err.Error()
			fixSites[site] = true
			report.Fixes = append(report.Fixes, rec)
			continue
		}

		rec.Origin = "ensemble"
		rec.Status = FixApplied
		rec.ProvidersUsed = proposal.ProvidersUsed
		for provider, raw := range proposal.Raw {
			rec.Debug["response_"+provider] = truncate(raw, 2000)
		}
		if proposal.RepairRounds > 0 {
			rec.Debug["repair_rounds"] = fmt.Sprintf("%d", proposal.RepairRounds)
		}
		logger.Info("ensemble fix applied", "file", f.File, "bug", bug.String(), "providers", proposal.ProvidersUsed)
		fixSites[site] = true
		report.Fixes = append(report.Fixes, rec)
		if h.history != nil {
			h.history.AppendHealed(f, bug, "ensemble")
		}
		applied++
	}
	return applied
}

// push pushes the run branch; when the upstream rejects a non-owner push
// and a hosting token is configured, it forks and re-targets origin.
func (h *Healer) push(ctx context.Context, req RunRequest, vcs VCS, branch string) error {
	err := vcs.Push(ctx, branch)
	if err == nil {
		return nil
	}
	var pushErr *gitvcs.PushError
	if !errors.As(err, &pushErr) || h.ci == nil || !h.ci.Enabled() {
		return err
	}
	forker, ok := h.ci.(interface {
		Fork(ctx context.Context, repoURL string) (string, error)
	})
	if !ok {
		return err
	}
	forkURL, ferr := forker.Fork(ctx, req.RepoURL)
	if ferr != nil {
		return fmt.Errorf("%w (fork fallback: %v)", err, ferr)
	}
	if serr := vcs.SetRemoteURL(ctx, forkURL); serr != nil {
		return serr
	}
	logger.Info("push re-targeted to fork", "fork", forkURL)
	return vcs.Push(ctx, branch)
}

type fileKind struct {
	file string
	bug  failure.BugType
}

// linesPerFileKind collects all lines sharing a (file, bug type) so a
// FixRecord can report every sibling line its error class touched.
func linesPerFileKind(failures []failure.Failure) map[fileKind][]int {
	out := map[fileKind][]int{}
	for _, f := range failures {
		if f.Line == nil {
			continue
		}
		k := fileKind{f.File, failure.Classify(f.Message, f.Language)}
		out[k] = append(out[k], *f.Line)
	}
	for _, lines := range out {
		sort.Ints(lines)
	}
	return out
}

// sortBySeverity orders failures by bug-type severity, then (file, line)
// for a stable, deterministic fix order.
func sortBySeverity(failures []failure.Failure) {
	sort.SliceStable(failures, func(i, j int) bool {
		bi := failure.Classify(failures[i].Message, failures[i].Language)
		bj := failure.Classify(failures[j].Message, failures[j].Language)
		if bi != bj {
			return bi.Severity() < bj.Severity()
		}
		if failures[i].File != failures[j].File {
			return failures[i].File < failures[j].File
		}
		return lineOf(failures[i]) < lineOf(failures[j])
	})
}

func lineOf(f failure.Failure) int {
	if f.Line == nil {
		return 0
	}
	return *f.Line
}

// commitMessage summarizes this iteration's accepted fixes. The prefix is
// added by the VCS adapter.
func commitMessage(fixes []FixRecord, iteration int) string {
	var parts []string
	for _, rec := range fixes {
		if rec.iteration == iteration && rec.Status == FixApplied {
			parts = append(parts, fmt.Sprintf("%s in %s", rec.BugType, filepath.Base(rec.File)))
		}
	}
	if len(parts) == 1 {
		return "fix " + parts[0]
	}
	return fmt.Sprintf("fix %d failures (%s)", len(parts), joinLimited(parts, 4))
}

func joinLimited(parts []string, max int) string {
	if len(parts) > max {
		rest := len(parts) - max
		parts = append(parts[:max:max], fmt.Sprintf("+%d more", rest))
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// stampCommit writes the iteration's commit message into its applied
// records.
func stampCommit(report *RunReport, iteration int, msg string) {
	full := gitvcs.CommitPrefix + msg
	for idx := range report.Fixes {
		if report.Fixes[idx].iteration == iteration && report.Fixes[idx].Status == FixApplied {
			report.Fixes[idx].CommitMessage = full
		}
	}
}

// dropIterationFixes removes a rolled-back iteration's applied records.
func dropIterationFixes(report *RunReport, iteration int) {
	kept := report.Fixes[:0]
	for _, rec := range report.Fixes {
		if rec.iteration == iteration && rec.Status == FixApplied {
			continue
		}
		kept = append(kept, rec)
	}
	report.Fixes = kept
}

// rollBackIteration flips an already-recorded timeline entry to
// rolled_back and drops its fixes (latent-regression path).
func rollBackIteration(report *RunReport, timelineIdx int) {
	if timelineIdx < 0 || timelineIdx >= len(report.Timeline) {
		return
	}
	entry := &report.Timeline[timelineIdx]
	entry.Decision = DecisionRolledBack
	dropIterationFixes(report, entry.Index)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
