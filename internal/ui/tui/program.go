package tui

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
)

const eventBuffer = 256

// Controller owns the Bubble Tea program and feeds it supervision events.
// It implements contracts.EventSink so the display can sit on the run's
// fanout next to the activity log.
type Controller struct {
	events  chan contracts.Event
	program *tea.Program
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	stopped int32
	runErr  error
}

// Start launches the display on the given terminal streams. The program
// runs until Close is called or the operator quits.
func Start(input io.Reader, output io.Writer, opts Options) *Controller {
	c := &Controller{
		events: make(chan contracts.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	model := NewModel(c.events, opts)
	c.program = tea.NewProgram(model, tea.WithInput(input), tea.WithOutput(output))
	go func() {
		defer close(c.done)
		if _, err := c.program.Run(); err != nil {
			c.runErr = err
		}
	}()
	return c
}

// Emit implements contracts.EventSink. Events are dropped rather than
// blocking the supervisor when the display falls behind or has shut down.
func (c *Controller) Emit(_ context.Context, event contracts.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if atomic.LoadInt32(&c.stopped) == 1 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	// Re-check under the lock: Close may have closed the channel since the
	// first check, and a send would panic then.
	if atomic.LoadInt32(&c.stopped) == 1 {
		return nil
	}
	select {
	case c.events <- event:
	default:
	}
	return nil
}

// Close stops feeding the display. The drained channel makes the program
// quit on its own; Wait blocks until it has restored the terminal.
func (c *Controller) Close() {
	c.once.Do(func() {
		atomic.StoreInt32(&c.stopped, 1)
		c.mu.Lock()
		close(c.events)
		c.mu.Unlock()
	})
}

// Wait blocks until the program has exited and returns its error, if any.
func (c *Controller) Wait() error {
	<-c.done
	return c.runErr
}
