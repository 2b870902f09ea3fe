package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dealcetexplains-png/mender/internal/heal"
)

// RunState tracks a single running or completed healing run. The worker
// goroutine writes the result exactly once; pollers read it under the lock.
type RunState struct {
	TaskID    string
	Cancel    context.CancelFunc
	StartedAt time.Time

	mu     sync.Mutex
	report *heal.RunReport
	err    error
	done   bool
}

// SetResult records the terminal outcome of the run.
func (rs *RunState) SetResult(report *heal.RunReport, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.report = report
	rs.err = err
	rs.done = true
}

// Result returns (report, err, done) for the polling handler.
func (rs *RunState) Result() (*heal.RunReport, error, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.report, rs.err, rs.done
}

// RunRegistry tracks all runs managed by this server instance.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*RunState
}

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]*RunState)}
}

// Register adds a run. Returns an error if the ID already exists.
func (r *RunRegistry) Register(taskID string, rs *RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[taskID]; exists {
		return fmt.Errorf("task %s already exists", taskID)
	}
	r.runs[taskID] = rs
	return nil
}

// Get returns a run by ID.
func (r *RunRegistry) Get(taskID string) (*RunState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.runs[taskID]
	return rs, ok
}

// List returns all task IDs.
func (r *RunRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}

// CancelAll cancels every run still in flight.
func (r *RunRegistry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rs := range r.runs {
		if rs.Cancel != nil {
			rs.Cancel()
		}
	}
}
