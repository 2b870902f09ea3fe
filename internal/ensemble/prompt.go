package ensemble

import (
	"fmt"
	"strings"

	"github.com/dealcetexplains-png/mender/internal/failure"
	"github.com/dealcetexplains-png/mender/internal/history"
)

const systemPrompt = "You are an automated code repair agent. " +
	"You receive a failing source file and one diagnostic, and you emit the complete corrected file. " +
	"Preserve the file's structure, names, and behavior except for the minimal change that fixes the diagnostic."

const maxFewShot = 5

// buildPrompt assembles the repair prompt: the full current file (never a
// snippet), the diagnostic, the bug class, and up to five matching history
// entries as few-shot context, ending with the no-prose output contract.
func buildPrompt(fc FixContext) string {
	var b strings.Builder

	if len(fc.History) > 0 {
		entries := fc.History
		if len(entries) > maxFewShot {
			entries = entries[len(entries)-maxFewShot:]
		}
		b.WriteString("Previously healed failures of the same class:\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "- [%s %s] %s -> fixed via %s\n", e.Language, e.File, e.Message, e.Resolution)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Language: %s\n", fc.Failure.Language)
	fmt.Fprintf(&b, "Bug class: %s\n", fc.Bug)
	fmt.Fprintf(&b, "File: %s\n", fc.Failure.File)
	if fc.Failure.Line != nil {
		fmt.Fprintf(&b, "Line: %d\n", *fc.Failure.Line)
	}
	fmt.Fprintf(&b, "Diagnostic: %s\n", fc.Failure.Message)
	if fc.ToolDiagnostics != "" {
		fmt.Fprintf(&b, "Static analyzer output:\n%s\n", fc.ToolDiagnostics)
	}

	b.WriteString("\nCurrent file contents:\n")
	b.WriteString(string(fc.Content))
	if !strings.HasSuffix(string(fc.Content), "\n") {
		b.WriteString("\n")
	}

	b.WriteString("\nReply with the complete corrected file contents only. " +
		"No explanations, no markdown, no code fences.")
	return b.String()
}

// repairPrompt re-prompts after every candidate failed validation.
func repairPrompt(fc FixContext, invalid string, checkErr error) string {
	var b strings.Builder
	b.WriteString(buildPrompt(fc))
	b.WriteString("\n\nYour previous fix introduced a syntax error; fix it without removing existing structure.\n")
	fmt.Fprintf(&b, "Validator output: %v\n", checkErr)
	b.WriteString("Previous invalid attempt:\n")
	b.WriteString(invalid)
	if !strings.HasSuffix(invalid, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\nReply with the complete corrected file contents only.")
	return b.String()
}

// FixContext is everything the ensemble needs for one fix attempt.
type FixContext struct {
	Failure         failure.Failure
	Bug             failure.BugType
	Content         []byte
	ToolDiagnostics string
	History         []history.Entry
}
