package heal

import (
	"strings"
	"unicode"
)

// BranchName derives the run branch: uppercase(team_name + "_" +
// team_leader + "_AI_Fix") with every run of non-alphanumerics collapsed to
// a single underscore. Deterministic, so repeat runs for the same team land
// on the same branch.
func BranchName(teamName, teamLeader string) string {
	base := teamName + "_" + teamLeader
	var b strings.Builder
	pendingSep := false
	for _, r := range base {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToUpper(r))
		} else {
			pendingSep = true
		}
	}
	name := b.String()
	if name == "" {
		name = "TEAM"
	}
	return name + "_AI_FIX"
}
