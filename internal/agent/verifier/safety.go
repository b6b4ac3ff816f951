package verifier

import (
	"regexp"
	"strings"
)

// forbiddenCommandPatterns block git/PR/push operations during verification:
// a verifier inspects and tests a change, it never ships one.
var forbiddenCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|\s)git\s`),
	regexp.MustCompile(`gh\s`),
	regexp.MustCompile(`gitkraken`),
	regexp.MustCompile(`commit`),
	regexp.MustCompile(`push`),
	regexp.MustCompile(`create\s+pr`),
}

const forbiddenCommandMessage = "Verifier safety policy: git/PR/push commands are not allowed during verification."

// isForbiddenCommand reports whether command matches the verifier's safety
// denylist. Matching rejects the command with a synthetic exit code before
// any subprocess is spawned.
func isForbiddenCommand(command string) bool {
	normalized := strings.ToLower(strings.TrimSpace(command))
	for _, pattern := range forbiddenCommandPatterns {
		if pattern.MatchString(normalized) {
			return true
		}
	}
	return false
}
