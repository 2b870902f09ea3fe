// Package ensemble issues one fix attempt to W providers in parallel and
// reconciles their answers into a single validated patch.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dealcetexplains-png/mender/internal/llm"
	"github.com/dealcetexplains-png/mender/internal/logging"
	"github.com/dealcetexplains-png/mender/internal/patchcheck"
	"github.com/dealcetexplains-png/mender/internal/selector"
)

const (
	defaultDeadline  = 25 * time.Second
	maxRepairRounds  = 3
	temperaturePatch = 0.0
)

var logger = logging.New("ensemble")

// ErrNoResponse reports that no provider produced any completion; the fix
// attempt is marked failed and the loop continues.
var ErrNoResponse = errors.New("ensemble: no provider responded")

// ErrNoValidPatch reports that completions arrived but none survived
// validation, even after self-repair.
var ErrNoValidPatch = errors.New("ensemble: no valid patch after self-repair")

// Proposal is the reconciled winning patch.
type Proposal struct {
	Content []byte
	// ProvidersUsed lists the providers whose responses contributed to the
	// winning patch (the whole majority group, or the single winner).
	ProvidersUsed []string
	// Raw keeps every provider's response text for FixRecord debugging.
	Raw map[string]string
	// RepairRounds counts self-repair round-trips that were needed.
	RepairRounds int
}

// Engine reconciles parallel completions into one validated patch.
type Engine struct {
	client   *llm.Client
	checker  patchcheck.Checker
	deadline time.Duration
}

func New(client *llm.Client, checker patchcheck.Checker, deadline time.Duration) *Engine {
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	return &Engine{client: client, checker: checker, deadline: deadline}
}

type attempt struct {
	candidate selector.Candidate
	text      string
	valid     bool
	checkErr  error
}

// Propose runs the plan against the fix context. All W calls share one
// deadline; collection stops early once a byte-identical majority exists.
func (e *Engine) Propose(ctx context.Context, plan selector.Plan, fc FixContext) (Proposal, error) {
	if plan.Width == 0 || len(plan.Candidates) == 0 {
		return Proposal{}, fmt.Errorf("ensemble: empty plan")
	}

	prompt := buildPrompt(fc)
	attempts := e.fanOut(ctx, plan.Candidates, prompt, fc)

	raw := map[string]string{}
	for _, a := range attempts {
		if a.text != "" {
			raw[a.candidate.Provider] = a.text
		}
	}
	if len(raw) == 0 {
		return Proposal{}, ErrNoResponse
	}

	if win, ok := reconcile(attempts); ok {
		return Proposal{
			Content:       []byte(win.text),
			ProvidersUsed: win.providers,
			Raw:           raw,
		}, nil
	}

	// Self-repair: every response failed validation. Re-prompt the
	// highest-priority provider that answered, appending its invalid
	// output and the checker's message, up to three rounds.
	repairFrom := bestInvalid(attempts)
	if repairFrom == nil {
		return Proposal{}, ErrNoResponse
	}
	invalid, checkErr := repairFrom.text, repairFrom.checkErr
	for round := 1; round <= maxRepairRounds; round++ {
		text, err := e.completeOnce(ctx, repairFrom.candidate, repairPrompt(fc, invalid, checkErr))
		if err != nil {
			logger.Debug("self-repair call failed", "round", round, "err", err)
			continue
		}
		cleaned := stripFences(text)
		raw[repairFrom.candidate.Provider] = cleaned
		if err := e.checker.Check(ctx, fc.Failure.Language, fc.Failure.File, []byte(cleaned)); err != nil {
			invalid, checkErr = cleaned, err
			continue
		}
		return Proposal{
			Content:       []byte(cleaned),
			ProvidersUsed: []string{repairFrom.candidate.Provider},
			Raw:           raw,
			RepairRounds:  round,
		}, nil
	}
	return Proposal{}, ErrNoValidPatch
}

// fanOut issues every candidate call in parallel under the shared deadline
// and validates responses as they arrive. Once two responses normalize to
// the same bytes the remaining calls are canceled.
func (e *Engine) fanOut(ctx context.Context, candidates []selector.Candidate, prompt string, fc FixContext) []attempt {
	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	var mu sync.Mutex
	fingerprints := map[string]int{}
	attempts := make([]attempt, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	for i, cand := range candidates {
		g.Go(func() error {
			text, err := e.completeOnce(gctx, cand, prompt)
			if err != nil {
				logger.Debug("provider call failed", "provider", cand.Provider, "err", err)
				return nil
			}
			cleaned := stripFences(text)
			a := attempt{candidate: cand, text: cleaned}
			if cerr := e.checker.Check(gctx, fc.Failure.Language, fc.Failure.File, []byte(cleaned)); cerr != nil {
				a.checkErr = cerr
			} else {
				a.valid = true
			}

			mu.Lock()
			attempts[i] = a
			majority := false
			if a.valid {
				fp := normalizedFingerprint(cleaned)
				fingerprints[fp]++
				majority = fingerprints[fp] >= 2
			}
			mu.Unlock()

			if majority {
				// A byte-identical majority has already decided the
				// winner; stop paying for the stragglers.
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()
	return attempts
}

// completeOnce issues one call with a single retry on retryable transport
// errors. Semantic rejections are never retried.
func (e *Engine) completeOnce(ctx context.Context, cand selector.Candidate, prompt string) (string, error) {
	req := llm.Request{
		Provider:    cand.Provider,
		Model:       cand.Model,
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: ptr(temperaturePatch),
	}
	resp, err := e.client.Complete(ctx, req)
	if err != nil && llm.IsRetryable(err) && ctx.Err() == nil {
		logger.Debug("retrying after transport error", "provider", cand.Provider, "err", err)
		resp, err = e.client.Complete(ctx, req)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("%s returned an empty completion", cand.Provider)
	}
	return resp.Text, nil
}

// bestInvalid picks the self-repair partner: the highest-priority candidate
// that produced any text.
func bestInvalid(attempts []attempt) *attempt {
	for i := range attempts {
		if attempts[i].text != "" {
			return &attempts[i]
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
