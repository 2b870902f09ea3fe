// Package failure defines the normalized failure record produced by the test
// runner and the closed bug-type taxonomy the healing loop schedules by.
package failure

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// BugType is the closed classification of a test failure. The numeric order
// is the severity order: syntax and indentation errors mask everything else,
// so lower values are fixed first.
type BugType int

const (
	Syntax BugType = iota
	Indentation
	Import
	TypeError
	Logic
	Linting
)

var bugTypeNames = [...]string{
	Syntax:      "SYNTAX",
	Indentation: "INDENTATION",
	Import:      "IMPORT",
	TypeError:   "TYPE_ERROR",
	Logic:       "LOGIC",
	Linting:     "LINTING",
}

func (b BugType) String() string {
	if b < Syntax || int(b) >= len(bugTypeNames) {
		return fmt.Sprintf("BugType(%d)", int(b))
	}
	return bugTypeNames[b]
}

// Severity returns the scheduling rank; lower is fixed first.
func (b BugType) Severity() int { return int(b) }

func (b BugType) Valid() bool {
	return b >= Syntax && int(b) < len(bugTypeNames)
}

// ParseBugType accepts the canonical upper-case name, case-insensitively.
func ParseBugType(s string) (BugType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range bugTypeNames {
		if n == name {
			return BugType(i), nil
		}
	}
	return 0, fmt.Errorf("invalid bug type: %q", s)
}

func (b BugType) MarshalJSON() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("invalid bug type: %d", int(b))
	}
	return json.Marshal(b.String())
}

func (b *BugType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	bt, err := ParseBugType(s)
	if err != nil {
		return err
	}
	*b = bt
	return nil
}

// Failure is one normalized test-runner diagnostic. Immutable once produced.
type Failure struct {
	// File is the repo-relative path of the offending file.
	File string `json:"file"`
	// Line is 1-based; nil when the tool reported no line.
	Line *int `json:"line"`
	// Kind is the error-kind string as produced by the tool
	// (e.g. "SyntaxError", "TS2322", "E501").
	Kind string `json:"kind"`
	// Message is the raw diagnostic text.
	Message string `json:"message"`
	// Language is the detected language of File.
	Language string `json:"language"`
}

// Site returns the (file, line) fix-site key for the same-line lock.
// A nil line maps to 0 so whole-file diagnostics still lock.
func (f Failure) Site() Site {
	line := 0
	if f.Line != nil {
		line = *f.Line
	}
	return Site{File: f.File, Line: line}
}

// Site identifies a fix target. Once a site is accepted within a run it is
// never re-fixed in that run.
type Site struct {
	File string
	Line int
}

func (s Site) String() string { return fmt.Sprintf("%s:%d", s.File, s.Line) }

// DetectLanguage maps a file path to the language key used by the
// classifier, the tool registry, and the patch validator.
func DetectLanguage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".rb":
		return "ruby"
	case ".go":
		return "go"
	default:
		return ""
	}
}
