package failure

import (
	"regexp"
	"strings"
)

// classifyRule is one ordered classifier rule. A rule matches when the
// message contains any of its substrings (case-insensitive) or matches any
// of its patterns, and the rule is either language-agnostic or lists the
// failure's language.
type classifyRule struct {
	bug       BugType
	languages []string
	contains  []string
	patterns  []*regexp.Regexp
}

// Rules are applied in order; first match wins. Order is load-bearing:
// indentation indicators are checked before the generic syntax family
// because Python reports IndentationError as a SyntaxError subclass, and
// lint codes are checked after type codes because flake8's E-codes overlap
// textually with TypeScript's TS-codes only in the generic fallthrough.
var classifyRules = []classifyRule{
	{
		bug:      Indentation,
		contains: []string{"indentationerror", "taberror", "expected an indented block", "unexpected indent", "unindent does not match"},
	},
	{
		bug:       Indentation,
		languages: []string{"javascript", "typescript"},
		contains:  []string{"indent"},
		patterns:  []*regexp.Regexp{regexp.MustCompile(`(?i)\bexpected indentation\b`)},
	},
	{
		bug:      Syntax,
		contains: []string{"syntaxerror", "syntax error", "unexpected token", "unexpected eof", "invalid syntax", "unterminated string", "parse error", "parsing error", "unexpected end of input"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)missing ;`),
			regexp.MustCompile(`(?i)expected ['"]?[;)}\]]`),
			regexp.MustCompile(`\bTS1\d{3}\b`),
		},
	},
	{
		bug:      Import,
		contains: []string{"modulenotfounderror", "importerror", "cannot find module", "could not resolve", "no module named", "cannot find name", "loaderror", "cannot load such file"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`\bTS2307\b`)},
	},
	{
		bug:      TypeError,
		contains: []string{"typeerror", "type mismatch", "incompatible type", "argument of type", "is not assignable to"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bTS2\d{3}\b`),
			regexp.MustCompile(`(?i)\[(?:arg-type|assignment|return-value|union-attr|attr-defined|call-arg)\]`),
		},
	},
	{
		bug:      Linting,
		contains: []string{"eslint", "rubocop", "prefer-const", "no-unused-vars", "trailing whitespace", "line too long"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b[EWF]\d{3}\b`),          // flake8 / pycodestyle
			regexp.MustCompile(`\b(?:Style|Layout|Lint)/`), // rubocop cop families
			regexp.MustCompile(`(?i)\bsemi\b|\bquotes\b`),
		},
	},
}

// Classify assigns a BugType to a raw diagnostic. Deterministic and pure:
// the same (message, language) always yields the same class. Anything the
// rule table does not recognize — including plain assertion failures — is
// LOGIC.
func Classify(message, language string) BugType {
	lower := strings.ToLower(message)
	for _, rule := range classifyRules {
		if len(rule.languages) > 0 && !containsString(rule.languages, language) {
			continue
		}
		for _, sub := range rule.contains {
			if strings.Contains(lower, sub) {
				return rule.bug
			}
		}
		for _, re := range rule.patterns {
			if re.MatchString(message) {
				return rule.bug
			}
		}
	}
	return Logic
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
