package driver

import (
	"bytes"
	"sync"
)

// boundedCapture keeps the first max bytes written to it and counts the rest.
// It always reports success so the child's pipe keeps draining.
type boundedCapture struct {
	max int
	mu  sync.Mutex
	buf bytes.Buffer

	total     int64
	truncated bool
}

func (c *boundedCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total += int64(len(p))

	remaining := c.max - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		_, _ = c.buf.Write(p[:remaining])
		c.truncated = true
		return len(p), nil
	}
	_, _ = c.buf.Write(p)
	return len(p), nil
}

func (c *boundedCapture) snapshot() (b []byte, total int64, truncated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	return out, c.total, c.truncated
}

// tailBuffer keeps the last maxBytes written to it.
type tailBuffer struct {
	mu sync.Mutex

	maxBytes  int
	buf       []byte
	truncated bool
}

func newTailBuffer(maxBytes int) *tailBuffer {
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &tailBuffer{maxBytes: maxBytes}
}

func (tb *tailBuffer) Write(p []byte) (int, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.maxBytes == 0 {
		tb.truncated = tb.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) >= tb.maxBytes {
		tb.buf = append(tb.buf[:0], p[len(p)-tb.maxBytes:]...)
		tb.truncated = true
		return len(p), nil
	}
	tb.buf = append(tb.buf, p...)
	if len(tb.buf) > tb.maxBytes {
		over := len(tb.buf) - tb.maxBytes
		tb.buf = append(tb.buf[:0], tb.buf[over:]...)
		tb.truncated = true
	}
	return len(p), nil
}

func (tb *tailBuffer) String() string {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return string(tb.buf)
}

func (tb *tailBuffer) Truncated() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.truncated
}
