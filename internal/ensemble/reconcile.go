package ensemble

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/dealcetexplains-png/mender/internal/providerspec"
)

type winner struct {
	text      string
	providers []string
}

// reconcile applies the deterministic tie-break over validated attempts:
// single valid response wins outright; otherwise the largest group of
// byte-identical (after whitespace normalization) responses wins, group
// ties broken by best provider priority; otherwise the longest valid
// response, again tied on priority. Returns false when nothing validated.
func reconcile(attempts []attempt) (winner, bool) {
	var valid []attempt
	for _, a := range attempts {
		if a.valid {
			valid = append(valid, a)
		}
	}
	switch len(valid) {
	case 0:
		return winner{}, false
	case 1:
		return winner{text: valid[0].text, providers: []string{valid[0].candidate.Provider}}, true
	}

	// Group by normalized fingerprint, preserving arrival order within a
	// group so the representative text is deterministic.
	groups := map[string][]attempt{}
	var order []string
	for _, a := range valid {
		fp := normalizedFingerprint(a.text)
		if _, seen := groups[fp]; !seen {
			order = append(order, fp)
		}
		groups[fp] = append(groups[fp], a)
	}

	best := order[0]
	for _, fp := range order[1:] {
		if betterGroup(groups[fp], groups[best]) {
			best = fp
		}
	}

	group := groups[best]
	if len(group) >= 2 {
		return winner{text: textOfBestPriority(group), providers: providersOf(group)}, true
	}

	// No majority: longest valid response is the completeness proxy.
	bestAttempt := valid[0]
	for _, a := range valid[1:] {
		if longer(a, bestAttempt) {
			bestAttempt = a
		}
	}
	return winner{text: bestAttempt.text, providers: []string{bestAttempt.candidate.Provider}}, true
}

// betterGroup prefers the larger group; equal sizes prefer the group whose
// best member has higher provider priority (lower rank).
func betterGroup(a, b []attempt) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return groupPriority(a) < groupPriority(b)
}

func groupPriority(group []attempt) int {
	best := int(^uint(0) >> 1)
	for _, a := range group {
		if p := providerspec.Priority(a.candidate.Provider); p < best {
			best = p
		}
	}
	return best
}

func textOfBestPriority(group []attempt) string {
	best := group[0]
	for _, a := range group[1:] {
		if providerspec.Priority(a.candidate.Provider) < providerspec.Priority(best.candidate.Provider) {
			best = a
		}
	}
	return best.text
}

func providersOf(group []attempt) []string {
	out := make([]string, 0, len(group))
	for _, a := range group {
		out = append(out, a.candidate.Provider)
	}
	return out
}

func longer(a, b attempt) bool {
	if len(a.text) != len(b.text) {
		return len(a.text) > len(b.text)
	}
	return providerspec.Priority(a.candidate.Provider) < providerspec.Priority(b.candidate.Provider)
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	fenceOpenRe  = regexp.MustCompile("(?m)^```[a-zA-Z0-9_+-]*[ \t]*\r?\n?")
)

// normalizedFingerprint hashes the response with all whitespace runs
// collapsed, so formatting-only divergence still counts as agreement.
func normalizedFingerprint(text string) string {
	normalized := whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	sum := blake3.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", sum[:])
}

// stripFences removes markdown code fences models emit despite the prompt's
// output contract, and a leading "Here is the corrected file:" style line
// when a fence followed it.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}
	// Drop prose before the first fence.
	if idx := strings.Index(trimmed, "```"); idx > 0 {
		trimmed = trimmed[idx:]
	}
	trimmed = fenceOpenRe.ReplaceAllString(trimmed, "")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
