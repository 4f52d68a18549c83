package redact

import (
	"regexp"
	"strings"
)

type Applied struct {
	Names []string
}

type rule struct {
	name string
	re   *regexp.Regexp
	repl string
}

// Order matters: the bearer rule runs before the generic token shapes so the
// header keyword survives.
var rules = []rule{
	{name: "private_key", re: regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), repl: "[REDACTED:PRIVATE_KEY]"},
	{name: "bearer_token", re: regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)[A-Za-z0-9._~+/=-]{16,}`), repl: "${1}[REDACTED:BEARER_TOKEN]"},
	{name: "jwt", re: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`), repl: "[REDACTED:JWT]"},
	{name: "github_token", re: regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{10,}|github_pat_[A-Za-z0-9_]{20,})\b`), repl: "[REDACTED:GITHUB_TOKEN]"},
	{name: "anthropic_key", re: regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{10,}`), repl: "[REDACTED:ANTHROPIC_KEY]"},
	{name: "openai_key", re: regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9]{10,}\b`), repl: "[REDACTED:OPENAI_KEY]"},
	{name: "slack_token", re: regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9-]{10,}`), repl: "[REDACTED:SLACK_TOKEN]"},
	{name: "aws_access_key_id", re: regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`), repl: "[REDACTED:AWS_ACCESS_KEY_ID]"},
}

// Text scrubs well-known credential shapes from captured agent output before
// it is persisted into result artifacts.
func Text(s string) (string, Applied) {
	applied := Applied{}
	out := s
	for _, r := range rules {
		if r.re.MatchString(out) {
			out = r.re.ReplaceAllString(out, r.repl)
			applied.Names = append(applied.Names, r.name)
		}
	}
	return out, applied
}

var nameHints = []string{"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH"}

// Env returns a copy of env safe for logging: values of variables whose
// names look secret-bearing are replaced.
func Env(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if secretName(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

// Value scrubs every string inside a decoded JSON value (maps, slices and
// scalars) and returns a copy; v itself is not modified.
func Value(v any) any {
	switch x := v.(type) {
	case string:
		out, _ := Text(x)
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Value(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Value(e)
		}
		return out
	default:
		return v
	}
}

func secretName(key string) bool {
	norm := strings.ToUpper(strings.TrimSpace(key))
	for _, h := range nameHints {
		if strings.Contains(norm, h) {
			return true
		}
	}
	return false
}
