package runner

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dealcetexplains-png/mender/internal/failure"
)

// The parsers below normalize each ecosystem's dominant diagnostic shapes.
// Anything they do not recognize falls through; runSuite synthesizes a
// whole-suite failure when a failing run produced nothing parseable.

var (
	// File "tests/test_app.py", line 7, in test_add
	pyTracebackRe = regexp.MustCompile(`File "([^"]+)", line (\d+)`)
	// app.py:3:10: E999 SyntaxError: invalid syntax   (flake8/pycodestyle)
	colonDiagRe = regexp.MustCompile(`^([^\s:][^:]*):(\d+):(?:\d+:)?\s*([A-Z]\w*\d*)?\s*(.*)$`)
	// ModuleNotFoundError: No module named 'x'  /  AssertionError: ...
	pyExceptionRe = regexp.MustCompile(`^([A-Z][A-Za-z]*Error)\b:?\s*(.*)$`)
	// app.ts(12,5): error TS2322: Type 'string' is not assignable...
	tscDiagRe = regexp.MustCompile(`^(.+?)\((\d+),\d+\):\s*error\s+(TS\d+):\s*(.*)$`)
	// at Object.<anonymous> (/repo/src/app.js:4:11)
	nodeStackRe = regexp.MustCompile(`\(?((?:/|\./)?[\w./-]+\.(?:js|jsx|mjs|cjs|ts|tsx)):(\d+):\d+\)?`)
	// rspec failure location: # ./spec/calc_spec.rb:9
	rspecLocRe = regexp.MustCompile(`#\s+(\S+_spec\.rb|\S+\.rb):(\d+)`)
	// ruby syntax: app.rb:4: syntax error, unexpected ...
	rubyDiagRe = regexp.MustCompile(`^(\S+\.rb):(\d+):\s*(.*)$`)
	// pytest location line: tests/test_app.py:7: in test_add
	pytestLocRe = regexp.MustCompile(`^\S+:\d+: in \S+`)
)

// Parse extracts failures from raw suite output for one language.
func Parse(output, language string) []failure.Failure {
	switch language {
	case "python":
		return parsePython(output)
	case "javascript", "typescript":
		return parseJS(output, language)
	case "ruby":
		return parseRuby(output)
	case "go":
		return parseGo(output)
	default:
		return nil
	}
}

func parsePython(output string) []failure.Failure {
	var out []failure.Failure
	lines := splitLines(output)

	// Pair the deepest traceback frame with the exception line that follows.
	var lastFile string
	var lastLine int
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if m := pyTracebackRe.FindStringSubmatch(trimmed); m != nil {
			if !strings.Contains(m[1], "site-packages") && !strings.HasPrefix(m[1], "<") {
				lastFile = relPath(m[1])
				lastLine, _ = strconv.Atoi(m[2])
			}
			continue
		}

		// pytest short tracebacks: "E   AssertionError: assert 2 == 3"
		exc := trimmed
		if strings.HasPrefix(exc, "E ") {
			exc = strings.TrimSpace(exc[1:])
		}
		if m := pyExceptionRe.FindStringSubmatch(exc); m != nil && lastFile != "" {
			ln := lastLine
			out = append(out, failure.Failure{
				File:     lastFile,
				Line:     &ln,
				Kind:     m[1],
				Message:  strings.TrimSpace(m[0]),
				Language: "python",
			})
			lastFile = ""
			continue
		}

		// pytest location lines ("tests/x.py:7: in test_add") are handled
		// via the traceback pairing above, not as diagnostics.
		if pytestLocRe.MatchString(trimmed) {
			if m := colonDiagRe.FindStringSubmatch(trimmed); m != nil {
				lastFile = relPath(m[1])
				lastLine, _ = strconv.Atoi(m[2])
			}
			continue
		}

		// flake8 / pycodestyle / mypy single-line diagnostics.
		if f, ok := parseColonDiag(trimmed, "python"); ok {
			out = append(out, f)
		}
	}
	return out
}

func parseColonDiag(line, language string) (failure.Failure, bool) {
	m := colonDiagRe.FindStringSubmatch(line)
	if m == nil {
		return failure.Failure{}, false
	}
	file := relPath(m[1])
	if !strings.Contains(file, ".") || strings.HasPrefix(file, "http") {
		return failure.Failure{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return failure.Failure{}, false
	}
	kind := m[3]
	msg := strings.TrimSpace(m[4])
	if kind == "" && msg == "" {
		return failure.Failure{}, false
	}
	if kind == "" {
		kind = firstWord(msg)
	}
	return failure.Failure{
		File:     file,
		Line:     &n,
		Kind:     kind,
		Message:  strings.TrimSpace(kind + " " + msg),
		Language: language,
	}, true
}

func parseJS(output, language string) []failure.Failure {
	var out []failure.Failure
	lines := splitLines(output)

	var pendingMsg string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if m := tscDiagRe.FindStringSubmatch(trimmed); m != nil {
			n, _ := strconv.Atoi(m[2])
			out = append(out, failure.Failure{
				File:     relPath(m[1]),
				Line:     &n,
				Kind:     m[3],
				Message:  "error " + m[3] + ": " + m[4],
				Language: "typescript",
			})
			continue
		}

		// eslint unix format is the colon-diagnostic shape.
		if strings.Contains(trimmed, "[Error/") || strings.Contains(trimmed, "[Warning/") {
			if f, ok := parseColonDiag(trimmed, language); ok {
				out = append(out, f)
				continue
			}
		}

		// Node runtime errors: remember the message, attach the first
		// in-repo stack frame that follows.
		if strings.HasPrefix(trimmed, "SyntaxError") || strings.HasPrefix(trimmed, "TypeError") ||
			strings.HasPrefix(trimmed, "ReferenceError") || strings.HasPrefix(trimmed, "Error: Cannot find module") {
			pendingMsg = trimmed
			continue
		}
		if pendingMsg != "" {
			if m := nodeStackRe.FindStringSubmatch(trimmed); m != nil {
				if !strings.Contains(m[1], "node_modules") && !strings.Contains(m[1], "node:internal") {
					n, _ := strconv.Atoi(m[2])
					out = append(out, failure.Failure{
						File:     relPath(m[1]),
						Line:     &n,
						Kind:     firstWord(pendingMsg),
						Message:  pendingMsg,
						Language: language,
					})
					pendingMsg = ""
				}
			}
		}
	}
	return out
}

func parseRuby(output string) []failure.Failure {
	var out []failure.Failure
	lines := splitLines(output)

	var pendingMsg string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if m := rubyDiagRe.FindStringSubmatch(trimmed); m != nil {
			n, _ := strconv.Atoi(m[2])
			out = append(out, failure.Failure{
				File:     relPath(m[1]),
				Line:     &n,
				Kind:     firstWord(m[3]),
				Message:  m[3],
				Language: "ruby",
			})
			continue
		}

		if strings.HasPrefix(trimmed, "Failure/Error:") || strings.Contains(trimmed, "LoadError") {
			pendingMsg = trimmed
			continue
		}
		if pendingMsg != "" {
			if m := rspecLocRe.FindStringSubmatch(trimmed); m != nil {
				n, _ := strconv.Atoi(m[2])
				out = append(out, failure.Failure{
					File:     relPath(m[1]),
					Line:     &n,
					Kind:     firstWord(pendingMsg),
					Message:  pendingMsg,
					Language: "ruby",
				})
				pendingMsg = ""
			}
		}
	}
	return out
}

func parseGo(output string) []failure.Failure {
	var out []failure.Failure
	for _, line := range splitLines(output) {
		trimmed := strings.TrimSpace(line)
		if !strings.Contains(trimmed, ".go:") {
			continue
		}
		if f, ok := parseColonDiag(trimmed, "go"); ok {
			out = append(out, f)
		}
	}
	return out
}

func relPath(p string) string {
	p = strings.TrimPrefix(p, "./")
	if filepath.IsAbs(p) {
		// Strip everything up to the last path segment that looks like a
		// repository-internal path; callers re-anchor at the repo root.
		if idx := strings.LastIndex(p, "/src/"); idx >= 0 {
			return p[idx+1:]
		}
		return filepath.Base(p)
	}
	return p
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if r == ' ' || r == ':' || r == ',' {
			return s[:i]
		}
	}
	return s
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

func joinLines(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
