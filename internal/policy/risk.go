package policy

import (
	"regexp"
	"strings"
)

type RiskClass string

const (
	RiskLow     RiskClass = "low"
	RiskMedium  RiskClass = "medium"
	RiskHigh    RiskClass = "high"
	RiskBlocked RiskClass = "blocked"
)

// ParseRiskClass normalizes externally-sourced risk labels. Unknown labels
// map to high so a misbehaving candidate source can never relax a gate.
func ParseRiskClass(in string) RiskClass {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "low", "l":
		return RiskLow
	case "medium", "med", "m":
		return RiskMedium
	case "high", "h":
		return RiskHigh
	case "blocked":
		return RiskBlocked
	default:
		return RiskHigh
	}
}

type CommandDecision struct {
	Risk    RiskClass
	Blocked bool
	Reason  string
}

var (
	blockedCommandPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+-rf\s+/(?:\s|$)`),
		regexp.MustCompile(`(?i)\b(sudo\s+)?cat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json)`),
		regexp.MustCompile(`(?i)\bmkfs\b|\bdd\s+if=.*of=/dev/`),
		regexp.MustCompile(`(?i)\b(print|show|reveal|echo)\b.*\b(api[_ -]?key|token|password|secret)\b`),
	}
	highRiskKeywords = []string{
		"delete", "remove", "drop", "truncate", "format", "wipe", "destroy",
		"shutdown", "reboot", "kill", "terminate",
		"chmod", "chown", "sudo", "install", "uninstall",
		"deploy", "push", "merge", "migrate",
	}
	mediumRiskKeywords = []string{
		"build", "create", "fix", "refactor", "update",
		"edit", "write", "add", "run", "test", "generate",
		"restart", "scale", "rollout",
	}
)

// ClassifyCommand decides whether an ops command payload may run at all and
// how risky it looks. The command handler refuses blocked commands outright.
func ClassifyCommand(command string) CommandDecision {
	in := strings.ToLower(strings.TrimSpace(command))
	if in == "" {
		return CommandDecision{Risk: RiskLow}
	}

	for _, re := range blockedCommandPatterns {
		if re.MatchString(in) {
			return CommandDecision{
				Risk:    RiskBlocked,
				Blocked: true,
				Reason:  "command matches a destructive or secret-exfiltration pattern",
			}
		}
	}

	for _, kw := range highRiskKeywords {
		if strings.Contains(in, kw) {
			return CommandDecision{Risk: RiskHigh}
		}
	}

	for _, kw := range mediumRiskKeywords {
		if strings.Contains(in, kw) {
			return CommandDecision{Risk: RiskMedium}
		}
	}

	return CommandDecision{Risk: RiskLow}
}
