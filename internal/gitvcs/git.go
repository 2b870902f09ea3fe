// Package gitvcs wraps the git CLI with the operations the healing loop
// needs: clone, snapshot, hard reset, commit, push. Every operation runs
// under a per-op timeout so a wedged remote cannot stall the run.
package gitvcs

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/dealcetexplains-png/mender/internal/logging"
)

const opTimeout = 30 * time.Second

// CommitPrefix is prepended to every commit the agent authors.
const CommitPrefix = "[AI-AGENT] "

var logger = logging.New("gitvcs")

type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

// CloneError marks a failed clone; terminal for the run.
type CloneError struct{ Err error }

func (e *CloneError) Error() string { return "clone failed: " + e.Err.Error() }
func (e *CloneError) Unwrap() error { return e.Err }

// PushError marks a failed push; terminal for the run.
type PushError struct{ Err error }

func (e *PushError) Error() string { return "push failed: " + e.Err.Error() }
func (e *PushError) Unwrap() error { return e.Err }

// Repo is a handle on one cloned working tree.
type Repo struct {
	Dir string
}

func runGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Disable git's background auto-maintenance to keep runs deterministic
	// and avoid stray helper processes during frequent commits.
	base := []string{
		"-C", dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	cmd := exec.CommandContext(ctx, "git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

// Clone shallow-clones url into dest. A non-empty token is injected as the
// bearer credential for private repositories; it never reaches logs.
func Clone(ctx context.Context, repoURL, dest, token string) (*Repo, error) {
	cloneURL := repoURL
	if token != "" {
		if injected, err := injectToken(repoURL, token); err == nil {
			cloneURL = injected
		}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*opTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "50", cloneURL, dest)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CloneError{Err: fmt.Errorf("%w: %s", err, sanitize(stderr.String(), token))}
	}
	logger.Info("cloned", "url", repoURL, "dest", dest)
	return &Repo{Dir: dest}, nil
}

func injectToken(repoURL, token string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", err
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String(), nil
}

func sanitize(s, token string) string {
	if token == "" {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(strings.ReplaceAll(s, token, "***"))
}

// Snapshot returns the current HEAD commit id.
func (r *Repo) Snapshot(ctx context.Context) (string, error) {
	out, _, err := runGit(ctx, r.Dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ResetTo hard-resets the working tree to the given commit and discards
// untracked files so a rolled-back iteration leaves no residue.
func (r *Repo) ResetTo(ctx context.Context, sha string) error {
	if _, _, err := runGit(ctx, r.Dir, "reset", "--hard", sha); err != nil {
		return err
	}
	_, _, err := runGit(ctx, r.Dir, "clean", "-fd")
	return err
}

// Commit stages everything and commits. The message is prefixed with
// CommitPrefix if the caller has not already done so. Returns the new HEAD.
func (r *Repo) Commit(ctx context.Context, message string) (string, error) {
	if !strings.HasPrefix(message, CommitPrefix) {
		message = CommitPrefix + message
	}
	if _, _, err := runGit(ctx, r.Dir, "add", "-A"); err != nil {
		return "", err
	}
	_, _, err := runGit(ctx, r.Dir, "commit", "-m", message)
	if err != nil {
		// If identity is missing, retry once with an explicit fallback
		// committer identity (without mutating repo config).
		if strings.Contains(err.Error(), "Author identity unknown") ||
			strings.Contains(err.Error(), "Please tell me who you are") ||
			strings.Contains(err.Error(), "unable to auto-detect email address") {
			_, _, err = runGit(
				ctx, r.Dir,
				"-c", "user.name=mender-agent",
				"-c", "user.email=mender-agent@local",
				"commit", "-m", message,
			)
		}
		if err != nil {
			return "", err
		}
	}
	return r.Snapshot(ctx)
}

// Push pushes branch to origin, creating it upstream if needed. The branch
// is agent-owned, so a rolled-back iteration may legitimately rewind it;
// force-with-lease keeps that safe against anything else writing there.
func (r *Repo) Push(ctx context.Context, branch string) error {
	if _, _, err := runGit(ctx, r.Dir, "push", "-u", "--force-with-lease", "origin", branch); err != nil {
		return &PushError{Err: err}
	}
	return nil
}

// SetRemoteURL re-targets origin, used after forking a repository the
// agent cannot push to.
func (r *Repo) SetRemoteURL(ctx context.Context, remoteURL string) error {
	_, _, err := runGit(ctx, r.Dir, "remote", "set-url", "origin", remoteURL)
	return err
}

func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, _, err := runGit(ctx, r.Dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CreateBranch creates (or force-resets) branch at HEAD and switches to it.
func (r *Repo) CreateBranch(ctx context.Context, branch string) error {
	_, _, err := runGit(ctx, r.Dir, "checkout", "-B", branch)
	return err
}

func (r *Repo) StatusPorcelain(ctx context.Context) (string, error) {
	out, _, err := runGit(ctx, r.Dir, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	return out, nil
}

func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.StatusPorcelain(ctx)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// TreeDigest hashes the index and working-tree state. Two byte-identical
// trees produce equal digests, which is what rollback fidelity asserts.
func (r *Repo) TreeDigest(ctx context.Context) (string, error) {
	lsFiles, _, err := runGit(ctx, r.Dir, "ls-files", "-s")
	if err != nil {
		return "", err
	}
	status, err := r.StatusPorcelain(ctx)
	if err != nil {
		return "", err
	}
	h := blake3.New()
	_, _ = h.Write([]byte(lsFiles))
	_, _ = h.Write([]byte(status))
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
