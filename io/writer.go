package capio

import (
	"bytes"
	"sync"
)

// Accumulator is a bounded body capture buffer: it accepts every byte
// written to it, stores at most limit of them, and keeps counting past
// the limit so the total size is always known.
//
// It implements io.Writer so it can sit on the write side of a tee from
// an outbound request body, and it backs the capture side of [Reader]
// for inbound response bodies.
type Accumulator struct {
	mu    sync.Mutex
	limit int64
	buf   bytes.Buffer
	size  int64
}

// NewAccumulator creates an accumulator keeping at most limit bytes.
// A zero or negative limit keeps nothing but still counts the total.
func NewAccumulator(limit int64) *Accumulator {
	return &Accumulator{limit: limit}
}

// Write never fails: capture must not interfere with the transfer it
// observes.
func (a *Accumulator) Write(p []byte) (int, error) {
	n := len(p)
	a.mu.Lock()
	a.size += int64(n)
	if room := a.limit - int64(a.buf.Len()); room > 0 {
		if int64(n) > room {
			p = p[:room]
		}
		a.buf.Write(p)
	}
	a.mu.Unlock()
	return n, nil
}

// Bytes returns the captured prefix of the body.
func (a *Accumulator) Bytes() []byte {
	a.mu.Lock()
	out := make([]byte, a.buf.Len())
	copy(out, a.buf.Bytes())
	a.mu.Unlock()
	return out
}

// Size returns the total number of bytes seen, captured or not.
func (a *Accumulator) Size() int64 {
	a.mu.Lock()
	n := a.size
	a.mu.Unlock()
	return n
}

// Truncated tells whether the body exceeded the capture limit.
func (a *Accumulator) Truncated() bool {
	a.mu.Lock()
	t := a.size > int64(a.buf.Len())
	a.mu.Unlock()
	return t
}
