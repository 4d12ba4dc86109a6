package relay

// Subjects names the bus channels a run publishes on. All three derive from
// one prefix so several supervisors can share a broker without colliding.
type Subjects struct {
	Hello   string
	Events  string
	Signals string
}

// DefaultSubjects expands a prefix into the standard subject set. Signals
// carries only control-signal events, for monitors that just want to know
// about rotation, gutter and completion.
func DefaultSubjects(prefix string) Subjects {
	if prefix == "" {
		prefix = "ralph"
	}
	return Subjects{
		Hello:   prefix + ".run.hello",
		Events:  prefix + ".run.events",
		Signals: prefix + ".run.signals",
	}
}
