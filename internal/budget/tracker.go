// Package budget tracks the agent's context consumption for one iteration
// and decides when to warn or rotate to a fresh context.
package budget

import (
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/control"
)

const (
	DefaultWarnThreshold   = 80_000
	DefaultRotateThreshold = 100_000

	charsPerToken = 4
)

// Usage is one usage sample from an assistant record.
type Usage struct {
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
}

// Tracker derives the context size for the current iteration. Two estimation
// paths exist and never mix: once any sample reports cache-read tokens the
// tracker trusts the API numbers and ignores the byte-based estimate for the
// rest of the iteration.
type Tracker struct {
	warnThreshold   int
	rotateThreshold int

	promptBytes    int
	bytesRead      int
	bytesWritten   int
	assistantChars int

	outputTokens        int
	cacheCreationTokens int
	latestCacheRead     int
	sawCacheRead        bool

	warned  bool
	rotated bool
}

func NewTracker(warnThreshold, rotateThreshold, promptBytes int) *Tracker {
	if warnThreshold <= 0 {
		warnThreshold = DefaultWarnThreshold
	}
	if rotateThreshold <= 0 {
		rotateThreshold = DefaultRotateThreshold
	}
	return &Tracker{
		warnThreshold:   warnThreshold,
		rotateThreshold: rotateThreshold,
		promptBytes:     promptBytes,
	}
}

// RecordUsage folds in an assistant usage sample and returns the signal the
// new context size calls for: ROTATE once, WARN at most once per iteration,
// otherwise none.
func (t *Tracker) RecordUsage(u Usage) control.Signal {
	if t == nil || t.rotated {
		return control.SignalNone
	}
	t.outputTokens += u.OutputTokens
	t.cacheCreationTokens += u.CacheCreationTokens
	if u.CacheReadTokens > 0 {
		t.latestCacheRead = u.CacheReadTokens
		t.sawCacheRead = true
	}
	return t.check()
}

// RecordRead adds bytes the agent received from read-like tool results.
func (t *Tracker) RecordRead(n int) control.Signal {
	if t == nil || t.rotated || n <= 0 {
		return control.SignalNone
	}
	t.bytesRead += n
	return t.check()
}

// RecordWrite adds bytes the agent pushed through write-like tool inputs.
func (t *Tracker) RecordWrite(n int) control.Signal {
	if t == nil || t.rotated || n <= 0 {
		return control.SignalNone
	}
	t.bytesWritten += n
	return t.check()
}

// RecordAssistantText adds assistant prose to the byte-based estimate.
func (t *Tracker) RecordAssistantText(text string) control.Signal {
	if t == nil || t.rotated || text == "" {
		return control.SignalNone
	}
	t.assistantChars += len(text)
	return t.check()
}

// ContextTokens returns the current context estimate.
func (t *Tracker) ContextTokens() int {
	if t == nil {
		return 0
	}
	if t.sawCacheRead {
		return t.latestCacheRead + t.outputTokens
	}
	estimated := (t.promptBytes + t.bytesRead + t.bytesWritten + t.assistantChars) / charsPerToken
	return estimated + t.outputTokens
}

func (t *Tracker) check() control.Signal {
	tokens := t.ContextTokens()
	if tokens >= t.rotateThreshold {
		t.rotated = true
		return control.SignalRotate
	}
	if tokens >= t.warnThreshold && !t.warned {
		t.warned = true
		return control.SignalWarn
	}
	return control.SignalNone
}

// Rotated reports whether the tracker has already demanded a rotation.
func (t *Tracker) Rotated() bool {
	return t != nil && t.rotated
}

// Snapshot exports the tracker state for display and logging.
func (t *Tracker) Snapshot() contracts.TokenSnapshot {
	if t == nil {
		return contracts.TokenSnapshot{}
	}
	return contracts.TokenSnapshot{
		ContextTokens:       t.ContextTokens(),
		OutputTokens:        t.outputTokens,
		CacheReadTokens:     t.latestCacheRead,
		CacheCreationTokens: t.cacheCreationTokens,
		Estimated:           !t.sawCacheRead,
		WarnThreshold:       t.warnThreshold,
		RotateThreshold:     t.rotateThreshold,
	}
}
