package report

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/marcohefti/skilleval/internal/store"
)

// ProgressEvent is one line of a progress stream.
type ProgressEvent struct {
	V          int            `json:"v"`
	TS         string         `json:"ts"`
	Kind       string         `json:"kind"`
	Invocation string         `json:"invocationId,omitempty"`
	Run        string         `json:"run,omitempty"`
	CaseID     string         `json:"caseId,omitempty"`
	Index      *int           `json:"index,omitempty"`
	Status     Status         `json:"status,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

const (
	ProgressRunStart    = "run_start"
	ProgressRunEnd      = "run_end"
	ProgressCaseStart   = "case_start"
	ProgressCaseEnd     = "case_end"
	ProgressServerStart = "server_start"
	ProgressServerReset = "server_reset"
)

// ProgressEmitter appends events to a JSONL file, or to stderr when path is
// "-". A nil emitter drops everything.
type ProgressEmitter struct {
	mu     sync.Mutex
	file   *store.JSONLWriter
	stderr io.Writer
	now    func() time.Time
}

func NewProgressEmitter(path string, stderr io.Writer) *ProgressEmitter {
	switch path {
	case "":
		return nil
	case "-":
		return &ProgressEmitter{stderr: stderr, now: time.Now}
	default:
		return &ProgressEmitter{file: store.NewJSONLWriter(path), now: time.Now}
	}
}

func (e *ProgressEmitter) Emit(ev ProgressEvent) error {
	if e == nil {
		return nil
	}
	ev.V = 1
	if ev.TS == "" {
		ev.TS = e.now().UTC().Format(time.RFC3339Nano)
	}
	if e.file != nil {
		return e.file.Append(ev)
	}
	if e.stderr == nil {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.stderr.Write(append(b, '\n'))
	return err
}

func IntPtr(v int) *int { return &v }
