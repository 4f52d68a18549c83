package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

func AppendJSONL(path string, v any) error {
	b, err := encodeLine(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(b)
	return err
}

// JSONLWriter serializes appends from concurrent workers to one file.
type JSONLWriter struct {
	mu   sync.Mutex
	path string
}

func NewJSONLWriter(path string) *JSONLWriter {
	return &JSONLWriter{path: path}
}

func (w *JSONLWriter) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

func (w *JSONLWriter) Append(v any) error {
	if w == nil || w.path == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return AppendJSONL(w.path, v)
}

func encodeLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
