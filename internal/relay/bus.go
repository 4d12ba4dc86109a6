// Package relay mirrors supervision events onto a message bus so detached
// monitors can follow a run without tailing files in the workdir. Redis
// pub/sub and NATS are supported as brokers; the in-memory bus backs tests
// and single-process wiring.
package relay

import (
	"context"
	"fmt"
	"sync"
)

// Bus is the transport the publisher and monitors share. Subscribe returns
// a receive channel plus an unsubscribe func; both the channel close and
// the unsubscribe are safe to race with delivery.
type Bus interface {
	Publish(ctx context.Context, subject string, env Envelope) error
	Subscribe(ctx context.Context, subject string) (<-chan Envelope, func(), error)
	Close() error
}

// MemoryBus fans envelopes out to in-process subscribers. Delivery is
// non-blocking: a subscriber that stops draining loses frames rather than
// stalling the run.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Envelope
	closed      bool
	closeOnce   sync.Once
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[string][]chan Envelope),
	}
}

func (b *MemoryBus) Publish(_ context.Context, subject string, env Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus closed")
	}
	targets := append([]chan Envelope{}, b.subscribers[subject]...)
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, subject string) (<-chan Envelope, func(), error) {
	if b == nil {
		return nil, nil, fmt.Errorf("bus is nil")
	}
	ch := make(chan Envelope, 32)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return nil, nil, fmt.Errorf("bus closed")
	}
	b.subscribers[subject] = append(b.subscribers[subject], ch)
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		remaining := b.subscribers[subject]
		for i, candidate := range remaining {
			if candidate == ch {
				b.subscribers[subject] = append(remaining[:i], remaining[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsub, nil
}

func (b *MemoryBus) Close() error {
	if b == nil {
		return nil
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		for subject, subscribers := range b.subscribers {
			for _, ch := range subscribers {
				close(ch)
			}
			delete(b.subscribers, subject)
		}
		b.mu.Unlock()
	})
	return nil
}
