// AngelaMos | 2026
// redact.go

package core

import (
	"regexp"
	"strings"
)

const redactedValue = "'[REDACTED]'"

var (
	credentialAssignment = regexp.MustCompile(
		`(?i)\b(password|password_hash|passwd|secret|token|token_hash|refresh_token|api_key)\b(\s*(?:=|:=)\s*)'(?:[^']|'')*'`,
	)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

// RedactStatement collapses whitespace and elides literals assigned to
// credential-like columns so statements are safe to log.
func RedactStatement(query string) string {
	out := credentialAssignment.ReplaceAllString(query, "${1}${2}"+redactedValue)
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(out, " "))
}
