package control

import (
	"context"
	"sync"
)

// Verdict pairs a terminal signal with the origin and reason that produced
// it, so the iteration result can explain itself in the logs.
type Verdict struct {
	Signal Signal
	Origin string
	Reason string
}

// Latch is the single-reader, multi-writer channel that ends an iteration.
// Parser, watchdog and budget paths all offer verdicts; the first terminal
// offer wins. Later offers return false and are discarded without blocking,
// so writers stay safe after the reader has moved on.
type Latch struct {
	mu     sync.Mutex
	ch     chan Verdict
	closed bool
	won    bool
	winner Verdict
}

func NewLatch() *Latch {
	return &Latch{ch: make(chan Verdict, 1)}
}

// Offer submits a terminal verdict. It reports whether this offer won the
// latch. Non-terminal signals are rejected.
func (l *Latch) Offer(v Verdict) bool {
	if l == nil || !v.Signal.Terminal() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.won || l.closed {
		return false
	}
	l.won = true
	l.winner = v
	l.ch <- v
	return true
}

// Wait blocks until a verdict arrives or ctx is done. The zero Verdict and
// false mean the context ended first.
func (l *Latch) Wait(ctx context.Context) (Verdict, bool) {
	select {
	case v := <-l.ch:
		return v, true
	case <-ctx.Done():
		return Verdict{}, false
	}
}

// Done exposes the channel for callers that select across several sources.
func (l *Latch) Done() <-chan Verdict {
	return l.ch
}

// Winner returns the verdict that won, if any. Useful after the iteration
// has been torn down.
func (l *Latch) Winner() (Verdict, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.winner, l.won
}

// Close marks the latch as no longer accepting offers. The channel is left
// open so a buffered winner can still be read.
func (l *Latch) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
