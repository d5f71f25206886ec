// Package logbuf provides a small bounded ring buffer of recent log lines.
// internal/procmanager keeps one per worker stream on its Handle; the
// control plane's `logs{name,lines}` command does not read it and tails
// the log file on disk instead.
package logbuf

import (
	"bytes"
	"sync"
)

// Ring accumulates written bytes as lines and keeps only the most recent n.
// It implements io.Writer so it can sit in an io.MultiWriter alongside a
// file-backed log sink.
type Ring struct {
	mu    sync.Mutex
	lines []string
	cap   int
	carry []byte
}

// NewRing returns a Ring retaining up to capacity lines.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{cap: capacity}
}

// Write splits p on newlines, appending complete lines to the ring and
// carrying a trailing partial line forward to the next Write.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.carry = append(r.carry, p...)
	for {
		i := bytes.IndexByte(r.carry, '\n')
		if i < 0 {
			break
		}
		line := string(r.carry[:i])
		r.carry = r.carry[i+1:]
		r.push(line)
	}
	return len(p), nil
}

func (r *Ring) push(line string) {
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

// Lines returns up to n of the most recent complete lines, oldest first. n
// <= 0 returns everything retained.
func (r *Ring) Lines(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}
