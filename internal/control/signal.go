package control

import "strings"

// Signal is a supervision verdict derived from the agent's event stream, the
// budget tracker, the stuck detector or the watchdog.
type Signal string

const (
	SignalNone     Signal = ""
	SignalWarn     Signal = "WARN"
	SignalRotate   Signal = "ROTATE"
	SignalGutter   Signal = "GUTTER"
	SignalComplete Signal = "COMPLETE"
)

// Terminal reports whether the signal ends the current iteration. WARN is
// advisory and never terminal.
func (s Signal) Terminal() bool {
	switch s {
	case SignalRotate, SignalGutter, SignalComplete:
		return true
	default:
		return false
	}
}

func ParseSignal(raw string) (Signal, bool) {
	switch Signal(strings.ToUpper(strings.TrimSpace(raw))) {
	case SignalWarn:
		return SignalWarn, true
	case SignalRotate:
		return SignalRotate, true
	case SignalGutter:
		return SignalGutter, true
	case SignalComplete:
		return SignalComplete, true
	default:
		return SignalNone, false
	}
}
