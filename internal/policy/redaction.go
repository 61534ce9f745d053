package policy

import "regexp"

var (
	secretAssignPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|token|password|secret)\b\s*[=:]\s*\S+`)
	bearerPattern       = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]+`)
	emailPattern        = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// RedactSecrets masks credential-looking content before command output is
// written to the audit log.
func RedactSecrets(input string) (redacted string, changed bool) {
	out := input

	next := secretAssignPattern.ReplaceAllString(out, "[REDACTED_SECRET]")
	changed = changed || next != out
	out = next

	next = bearerPattern.ReplaceAllString(out, "[REDACTED_BEARER]")
	changed = changed || next != out
	out = next

	next = emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	return out, changed
}
