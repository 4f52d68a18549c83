package trace

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"github.com/marcohefti/skilleval/internal/redact"
	"github.com/marcohefti/skilleval/internal/store"
)

const maxTimelineText = 4096

// WriteTimeline persists the decoded events of t as JSONL. Text, errors and
// tool inputs are scrubbed of credentials; long text fragments are clipped
// and the full output lives in the results document.
func WriteTimeline(path string, t Trace) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, ev := range t.Events {
		ev.Text, _ = redact.Text(ev.Text)
		ev.Error, _ = redact.Text(ev.Error)
		if ev.Input != nil {
			ev.Input, _ = redact.Value(ev.Input).(map[string]any)
		}
		ev.Text = clip(ev.Text, maxTimelineText)
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return store.WriteFileAtomic(path, buf.Bytes())
}

// clip cuts s to at most n bytes on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
