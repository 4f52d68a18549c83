package grade

import (
	"fmt"
	"strings"

	"github.com/marcohefti/skilleval/internal/dataset"
)

// DefaultReadOnlyAgents are agent modes that cannot write files.
var DefaultReadOnlyAgents = []string{"plan"}

// SkipReason reports whether tc is structurally incompatible with agent. It is
// evaluated before execution; a skip is never a failure.
func SkipReason(tc dataset.TestCase, agent string, readOnlyAgents []string) (string, bool) {
	if len(tc.Checks.RequiredFiles) == 0 {
		return "", false
	}
	for _, ro := range readOnlyAgents {
		if strings.EqualFold(strings.TrimSpace(ro), strings.TrimSpace(agent)) {
			return fmt.Sprintf("case requires output files but agent mode %q is read-only", agent), true
		}
	}
	return "", false
}
