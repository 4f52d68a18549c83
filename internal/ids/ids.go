package ids

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	reInvalid    = regexp.MustCompile(`[^a-z0-9._-]+`)
	reDashes     = regexp.MustCompile(`-+`)
	reInvocation = regexp.MustCompile(`^[0-9]{8}-[0-9]{6}Z-[0-9a-f]{6}$`)
)

// NewInvocationID returns YYYYMMDD-HHMMSSZ-<hex6>.
func NewInvocationID(now time.Time) (string, error) {
	prefix := now.UTC().Format("20060102-150405Z")
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return prefix + "-" + hex.EncodeToString(b[:]), nil
}

func IsValidInvocationID(s string) bool {
	return reInvocation.MatchString(strings.TrimSpace(s))
}

// SanitizeComponent lowercases s and keeps it safe for use as a single path
// element: [a-z0-9._-], dashes collapsed, no leading dots.
func SanitizeComponent(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "_", "-")
	v = reInvalid.ReplaceAllString(v, "-")
	v = reDashes.ReplaceAllString(v, "-")
	v = strings.Trim(v, "-.")
	return v
}

// NewRunTitle builds the unique session title passed to the agent so each
// case execution can be told apart in the agent's own history.
func NewRunTitle(runName, caseID string) string {
	r := SanitizeComponent(runName)
	if r == "" {
		r = "run"
	}
	c := SanitizeComponent(caseID)
	if c == "" {
		c = "case"
	}
	return "skilleval-" + r + "-" + c + "-" + uuid.NewString()[:8]
}
