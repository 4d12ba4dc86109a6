package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
)

func TestNewEnvelopeStampsVersionSourceAndTimestamp(t *testing.T) {
	env, err := NewEnvelope(EnvelopeSupervision, "  ralph ", "run-7", SupervisionPayload{
		Event: contracts.Event{Type: contracts.EventIterationStarted, Iteration: 3},
	})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if env.SchemaVersion != EnvelopeSchemaV1 {
		t.Fatalf("expected schema %q, got %q", EnvelopeSchemaV1, env.SchemaVersion)
	}
	if env.Source != "ralph" {
		t.Fatalf("expected trimmed source, got %q", env.Source)
	}
	if env.RunID != "run-7" {
		t.Fatalf("expected run id carried, got %q", env.RunID)
	}
	if env.Timestamp.IsZero() || env.Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", env.Timestamp)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	parsed, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if parsed.Type != EnvelopeSupervision || parsed.RunID != "run-7" {
		t.Fatalf("expected round-tripped envelope, got %+v", parsed)
	}
}

func TestParseEnvelopeDefaultsMissingSchemaToV0(t *testing.T) {
	raw := []byte(`{"type":"supervision_event","source":"ralph","payload":{"event":{"type":"assistant_text"}}}`)
	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if env.SchemaVersion != EnvelopeSchemaV0 {
		t.Fatalf("expected unversioned frame to parse as %q, got %q", EnvelopeSchemaV0, env.SchemaVersion)
	}
}

func TestParseEnvelopeRejectsFramesWithoutType(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"source":"ralph"}`)); err == nil {
		t.Fatal("expected typeless frame to be rejected")
	}
	if _, err := ParseEnvelope([]byte(`not json`)); err == nil {
		t.Fatal("expected malformed frame to be rejected")
	}
}

func TestDecodeSupervisionRoundTripsEvent(t *testing.T) {
	event := contracts.Event{
		Type:      contracts.EventControlSignal,
		Timestamp: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Iteration: 4,
		Task:      "tasks/01-parser.md",
		Signal:    "ROTATE",
		Message:   "context budget exceeded",
		Tokens:    &contracts.TokenSnapshot{ContextTokens: 120_000, RotateThreshold: 100_000},
	}
	env, err := NewEnvelope(EnvelopeSupervision, "ralph", "run-1", SupervisionPayload{Event: event})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}

	decoded, err := DecodeSupervision(env)
	if err != nil {
		t.Fatalf("decode supervision: %v", err)
	}
	if decoded.Type != event.Type || decoded.Signal != "ROTATE" || decoded.Iteration != 4 {
		t.Fatalf("expected event preserved, got %+v", decoded)
	}
	if decoded.Tokens == nil || decoded.Tokens.ContextTokens != 120_000 {
		t.Fatalf("expected token snapshot preserved, got %+v", decoded.Tokens)
	}
}

func TestDecodeSupervisionRejectsOtherEnvelopeTypes(t *testing.T) {
	env, err := NewEnvelope(EnvelopeHello, "ralph", "run-1", HelloPayload{RunID: "run-1"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if _, err := DecodeSupervision(env); err == nil {
		t.Fatal("expected hello envelope to be rejected as supervision event")
	}
}

func TestDecodeHelloRoundTripsRunMetadata(t *testing.T) {
	hello := HelloPayload{
		RunID:     "run-9",
		WorkDir:   "/srv/project",
		Task:      "tasks/02-commands.md",
		Model:     "sonnet",
		StartedAt: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
	}
	env, err := NewEnvelope(EnvelopeHello, "ralph", hello.RunID, hello)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	decoded, err := DecodeHello(env)
	if err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if decoded != hello {
		t.Fatalf("expected hello preserved, got %+v", decoded)
	}
	if _, err := DecodeHello(Envelope{Type: EnvelopeSupervision}); err == nil {
		t.Fatal("expected supervision envelope to be rejected as hello")
	}
}
