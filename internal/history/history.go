// Package history keeps the append-only error-history log shared across
// runs. Entries are the few-shot examples the ensemble folds into its
// prompts. Writes are single JSONL lines through an O_APPEND descriptor so
// concurrent runs interleave whole records and never corrupt each other;
// there is no read-modify-write cycle anywhere.
package history

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dealcetexplains-png/mender/internal/failure"
	"github.com/dealcetexplains-png/mender/internal/logging"
)

const fileName = "error_history.jsonl"

var logger = logging.New("history")

// Entry is one healed failure, recorded after a fix was accepted.
type Entry struct {
	Timestamp string          `json:"ts"`
	BugType   failure.BugType `json:"bug_type"`
	Language  string          `json:"language"`
	File      string          `json:"file"`
	Message   string          `json:"message"`
	// Resolution summarizes how the fix was produced (tool name or
	// "ensemble") for prompt context.
	Resolution string `json:"resolution"`
}

// Log is a handle on the shared history file.
type Log struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// Open creates the workspace directory if needed and opens the log for
// appending.
func Open(workspace string) (*Log, error) {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(workspace, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log{path: path, f: f}, nil
}

// Append writes one entry. Errors are logged, not returned: history is
// advisory context and must never fail a run.
func (l *Log) Append(e Entry) {
	if l == nil {
		return
	}
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(e)
	if err != nil {
		logger.Warn("marshal history entry", "err", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		logger.Warn("append history entry", "err", err)
	}
}

// Recent returns the most recent k entries whose bug type matches, newest
// last (the order they read best as few-shot examples). Unparseable lines
// are skipped — a concurrent writer mid-line at read time is expected.
func (l *Log) Recent(bug failure.BugType, k int) []Entry {
	if l == nil || k <= 0 {
		return nil
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var matched []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.BugType == bug {
			matched = append(matched, e)
		}
	}
	if len(matched) > k {
		matched = matched[len(matched)-k:]
	}
	return matched
}

// Close releases the file handle.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
