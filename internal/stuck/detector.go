// Package stuck watches one iteration for repetition that signals a gutter:
// the same command failing again and again, or the same file rewritten in a
// tight window.
package stuck

import (
	"fmt"
	"strings"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/control"
)

const (
	DefaultFailureLimit = 3
	DefaultWriteLimit   = 5
	DefaultWriteWindow  = 10 * time.Minute

	signatureMaxRunes = 200
)

// Detection describes why the detector fired, with the aggregate counts the
// error log and lessons file want.
type Detection struct {
	Signal  control.Signal
	Kind    string // "repeated-failure" or "write-thrash"
	Subject string // command signature or file path
	Count   int
	Window  time.Duration
	Summary string
}

// Detector keeps iteration-scoped ledgers. Discard it with the iteration;
// counts never carry over.
type Detector struct {
	now          func() time.Time
	failureLimit int
	writeLimit   int
	writeWindow  time.Duration

	failures map[string]int
	writes   map[string][]time.Time
}

type Option func(*Detector)

func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

func WithLimits(failureLimit, writeLimit int, writeWindow time.Duration) Option {
	return func(d *Detector) {
		if failureLimit > 0 {
			d.failureLimit = failureLimit
		}
		if writeLimit > 0 {
			d.writeLimit = writeLimit
		}
		if writeWindow > 0 {
			d.writeWindow = writeWindow
		}
	}
}

func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		now:          time.Now,
		failureLimit: DefaultFailureLimit,
		writeLimit:   DefaultWriteLimit,
		writeWindow:  DefaultWriteWindow,
		failures:     map[string]int{},
		writes:       map[string][]time.Time{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RecordFailure counts one failed command. The detection fires exactly when
// the count reaches the limit for that signature.
func (d *Detector) RecordFailure(command string) (Detection, bool) {
	if d == nil {
		return Detection{}, false
	}
	signature := CommandSignature(command)
	if signature == "" {
		return Detection{}, false
	}
	d.failures[signature]++
	count := d.failures[signature]
	if count < d.failureLimit {
		return Detection{}, false
	}
	return Detection{
		Signal:  control.SignalGutter,
		Kind:    "repeated-failure",
		Subject: signature,
		Count:   count,
		Summary: fmt.Sprintf("command failed %d times this iteration: %s", count, signature),
	}, true
}

// RecordWrite counts one write to path. The detection fires when writeLimit
// writes to the same path land inside the sliding window.
func (d *Detector) RecordWrite(path string) (Detection, bool) {
	if d == nil {
		return Detection{}, false
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Detection{}, false
	}
	now := d.now()
	cutoff := now.Add(-d.writeWindow)

	recent := d.writes[path][:0]
	for _, ts := range d.writes[path] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	d.writes[path] = recent

	if len(recent) < d.writeLimit {
		return Detection{}, false
	}
	return Detection{
		Signal:  control.SignalGutter,
		Kind:    "write-thrash",
		Subject: path,
		Count:   len(recent),
		Window:  d.writeWindow,
		Summary: fmt.Sprintf("%s rewritten %d times within %s", path, len(recent), d.writeWindow),
	}, true
}

// FailureCount exposes the ledger for prompts and error reporting.
func (d *Detector) FailureCount(command string) int {
	if d == nil {
		return 0
	}
	return d.failures[CommandSignature(command)]
}

// CommandSignature normalizes a shell command into the ledger key: collapsed
// whitespace, bounded length.
func CommandSignature(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	signature := strings.Join(fields, " ")
	runes := []rune(signature)
	if len(runes) > signatureMaxRunes {
		signature = string(runes[:signatureMaxRunes])
	}
	return signature
}
