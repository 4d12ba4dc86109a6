package claude

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ScriptedSession plays back a fixed stream of agent output lines. With
// Hangs set it keeps stdout open after the lines, standing in for an agent
// stuck on an interactive child until KillTree arrives.
type ScriptedSession struct {
	pid     int
	lines   []string
	exitErr error
	hangs   bool

	reader *io.PipeReader
	writer *io.PipeWriter

	startOnce sync.Once
	killOnce  sync.Once
	killed    chan struct{}
	finished  chan struct{}
}

func NewScriptedSession(pid int, lines ...string) *ScriptedSession {
	reader, writer := io.Pipe()
	return &ScriptedSession{
		pid:      pid,
		lines:    lines,
		reader:   reader,
		writer:   writer,
		killed:   make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// WithExitErr makes Wait return err, standing in for a non-zero exit.
func (s *ScriptedSession) WithExitErr(err error) *ScriptedSession {
	s.exitErr = err
	return s
}

// WithHang keeps the session alive after its lines until it is killed.
func (s *ScriptedSession) WithHang() *ScriptedSession {
	s.hangs = true
	return s
}

func (s *ScriptedSession) start() {
	s.startOnce.Do(func() {
		go func() {
			for _, line := range s.lines {
				if _, err := io.WriteString(s.writer, line+"\n"); err != nil {
					break
				}
			}
			if s.hangs {
				<-s.killed
			}
			_ = s.writer.Close()
			close(s.finished)
		}()
	})
}

func (s *ScriptedSession) Stdout() io.ReadCloser {
	return s.reader
}

func (s *ScriptedSession) PID() int {
	return s.pid
}

func (s *ScriptedSession) Wait() error {
	<-s.finished
	select {
	case <-s.killed:
		if s.exitErr == nil {
			return errors.New("signal: terminated")
		}
	default:
	}
	return s.exitErr
}

func (s *ScriptedSession) KillTree(time.Duration) error {
	s.killOnce.Do(func() { close(s.killed) })
	return nil
}

// Killed reports whether KillTree was called.
func (s *ScriptedSession) Killed() bool {
	select {
	case <-s.killed:
		return true
	default:
		return false
	}
}

// ScriptedLauncher hands out scripted sessions in order and records every
// invocation for assertions.
type ScriptedLauncher struct {
	mu          sync.Mutex
	sessions    []*ScriptedSession
	invocations []Invocation

	StartErr error
}

func NewScriptedLauncher(sessions ...*ScriptedSession) *ScriptedLauncher {
	return &ScriptedLauncher{sessions: sessions}
}

func (l *ScriptedLauncher) Start(_ context.Context, inv Invocation) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invocations = append(l.invocations, inv)
	if l.StartErr != nil {
		return nil, l.StartErr
	}
	if len(l.sessions) == 0 {
		return nil, errors.New("no scripted session left")
	}
	session := l.sessions[0]
	l.sessions = l.sessions[1:]
	session.start()
	return session, nil
}

func (l *ScriptedLauncher) Invocations() []Invocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Invocation(nil), l.invocations...)
}
