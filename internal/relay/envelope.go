package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
)

type SchemaVersion string

const (
	EnvelopeSchemaV1 SchemaVersion = "1"
	EnvelopeSchemaV0 SchemaVersion = "0"
)

type EnvelopeType string

const (
	// EnvelopeHello announces a run when the supervisor attaches to the bus.
	EnvelopeHello EnvelopeType = "supervisor_hello"
	// EnvelopeSupervision wraps one supervision event from a running loop.
	EnvelopeSupervision EnvelopeType = "supervision_event"
)

// Envelope is the wire frame shared by every relay subject. The payload
// shape depends on Type; RunID lets monitors separate interleaved runs on
// a shared broker.
type Envelope struct {
	SchemaVersion SchemaVersion   `json:"schema_version"`
	Type          EnvelopeType    `json:"type"`
	RunID         string          `json:"run_id,omitempty"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload identifies a run to monitors that attach mid-flight.
type HelloPayload struct {
	RunID     string    `json:"run_id"`
	WorkDir   string    `json:"workdir"`
	Task      string    `json:"task,omitempty"`
	Model     string    `json:"model,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type SupervisionPayload struct {
	Event contracts.Event `json:"event"`
}

func NewEnvelope(typ EnvelopeType, source, runID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Envelope{
		SchemaVersion: EnvelopeSchemaV1,
		Type:          typ,
		RunID:         runID,
		Source:        strings.TrimSpace(source),
		Timestamp:     time.Now().UTC(),
		Payload:       raw,
	}, nil
}

// ParseEnvelope decodes a frame received from the bus. Frames published
// before schema_version existed parse as V0.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("missing envelope type")
	}
	if strings.TrimSpace(string(env.SchemaVersion)) == "" {
		env.SchemaVersion = EnvelopeSchemaV0
	}
	return env, nil
}

// DecodeSupervision unwraps the event carried by a supervision envelope.
func DecodeSupervision(env Envelope) (contracts.Event, error) {
	if env.Type != EnvelopeSupervision {
		return contracts.Event{}, fmt.Errorf("envelope type %q is not a supervision event", env.Type)
	}
	var payload SupervisionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return contracts.Event{}, fmt.Errorf("decode supervision payload: %w", err)
	}
	if err := payload.Event.Validate(); err != nil {
		return contracts.Event{}, err
	}
	return payload.Event, nil
}

func DecodeHello(env Envelope) (HelloPayload, error) {
	if env.Type != EnvelopeHello {
		return HelloPayload{}, fmt.Errorf("envelope type %q is not a hello", env.Type)
	}
	var payload HelloPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return HelloPayload{}, fmt.Errorf("decode hello payload: %w", err)
	}
	return payload, nil
}
