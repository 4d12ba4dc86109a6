package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/relay"
)

func TestRunMainSupportsVersionFlag(t *testing.T) {
	code := RunMain([]string{"--version"}, nil)
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
}

func TestRunMainRequiresRelayURL(t *testing.T) {
	t.Setenv("RALPH_REDIS_URL", "")
	t.Setenv("RALPH_NATS_URL", "")
	run := func(_ context.Context, _ runConfig) error {
		t.Fatalf("run function should not be called when validation fails")
		return nil
	}
	code := RunMain(nil, run)
	if code != 1 {
		t.Fatalf("expected code 1, got %d", code)
	}
}

func TestRunMainParsesFlags(t *testing.T) {
	called := false
	var got runConfig
	run := func(_ context.Context, cfg runConfig) error {
		called = true
		got = cfg
		return nil
	}

	code := RunMain([]string{
		"--redis-url", "redis://127.0.0.1:6379",
		"--relay-channel", "unit",
		"--listen", ":9010",
		"--auth-token", "secret",
	}, run)
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !called {
		t.Fatalf("expected run function to be called")
	}
	if got.busBackend != relayBackendRedis || got.busAddress != "redis://127.0.0.1:6379" {
		t.Fatalf("unexpected bus config %+v", got)
	}
	if got.relayChannel != "unit" || got.listenAddr != ":9010" || got.authToken != "secret" {
		t.Fatalf("unexpected run config %+v", got)
	}
}

func TestRunMainPrefersRedisWhenBothConfigured(t *testing.T) {
	var got runConfig
	run := func(_ context.Context, cfg runConfig) error {
		got = cfg
		return nil
	}
	code := RunMain([]string{
		"--redis-url", "redis://127.0.0.1:6379",
		"--nats-url", "nats://127.0.0.1:4222",
	}, run)
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if got.busBackend != relayBackendRedis {
		t.Fatalf("expected redis to win when both are set, got %q", got.busBackend)
	}
}

func TestRunMainFallsBackToEnvRelayURL(t *testing.T) {
	t.Setenv("RALPH_REDIS_URL", "")
	t.Setenv("RALPH_NATS_URL", "nats://127.0.0.1:4222")
	var got runConfig
	run := func(_ context.Context, cfg runConfig) error {
		got = cfg
		return nil
	}
	code := RunMain(nil, run)
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if got.busBackend != relayBackendNATS || got.busAddress != "nats://127.0.0.1:4222" {
		t.Fatalf("expected the environment nats URL, got %+v", got)
	}
}

func TestMonitorAuthProtectsStateAPI(t *testing.T) {
	state := newMonitorState("token", relay.NewMemoryBus(), relay.DefaultSubjects("ralph"))

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	state.handleAPIState(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without a token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec = httptest.NewRecorder()
	state.handleAPIState(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected success with the bearer header, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/state?token=token", nil)
	rec = httptest.NewRecorder()
	state.handleAPIState(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected success with the query token, got %d", rec.Code)
	}
}

func TestMonitorStateAPIRejectsPost(t *testing.T) {
	state := newMonitorState("", relay.NewMemoryBus(), relay.DefaultSubjects("ralph"))
	req := httptest.NewRequest(http.MethodPost, "/api/state", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	state.handleAPIState(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected method not allowed, got %d", rec.Code)
	}
}

func TestMonitorServesEmbeddedPage(t *testing.T) {
	state := newMonitorState("", relay.NewMemoryBus(), relay.DefaultSubjects("ralph"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	state.handleIndex(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `id="runs"`) {
		t.Fatalf("expected the runs mount element, got %q", body)
	}
	if !strings.Contains(body, `src="/app.js"`) {
		t.Fatalf("expected the /app.js script reference, got %q", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/app.js", nil)
	rec = httptest.NewRecorder()
	state.handleAppJS(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "WebSocket") {
		t.Fatalf("expected the websocket client in the bundle")
	}
}

func TestMonitorStateAPIReturnsSnapshot(t *testing.T) {
	state := newMonitorState("", relay.NewMemoryBus(), relay.DefaultSubjects("ralph"))
	state.board.ApplyHello("run-1", "/work/repo", "TASK.md", "sonnet")

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	state.handleAPIState(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var snapshot Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Runs) != 1 || snapshot.Runs[0].RunID != "run-1" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestMonitorConsumesRelayFrames(t *testing.T) {
	bus := relay.NewMemoryBus()
	subjects := relay.DefaultSubjects("unit")
	state := newMonitorState("", bus, subjects)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go state.consumeRelay(ctx)
	time.Sleep(20 * time.Millisecond)

	hello, err := relay.NewEnvelope(relay.EnvelopeHello, "ralph", "run-1", relay.HelloPayload{
		RunID:     "run-1",
		WorkDir:   "/work/repo",
		Task:      "TASK.md",
		Model:     "sonnet",
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("build hello envelope: %v", err)
	}
	if err := bus.Publish(ctx, subjects.Hello, hello); err != nil {
		t.Fatalf("publish hello: %v", err)
	}

	event, err := relay.NewEnvelope(relay.EnvelopeSupervision, "ralph", "run-1", relay.SupervisionPayload{
		Event: contracts.Event{Type: contracts.EventIterationStarted, Iteration: 2, Task: "TASK.md"},
	})
	if err != nil {
		t.Fatalf("build event envelope: %v", err)
	}
	if err := bus.Publish(ctx, subjects.Events, event); err != nil {
		t.Fatalf("publish event: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		view := state.board.View()
		if len(view.Runs) == 1 && view.Runs[0].WorkDir == "/work/repo" && view.Runs[0].Iteration == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the board to fold relay frames, got %+v", view)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStateBroadcasterFansOutAndSurvivesShutdown(t *testing.T) {
	hub := newStateBroadcaster()
	first := hub.register()
	second := hub.register()

	hub.broadcast(Snapshot{UpdatedAt: time.Now()})
	for _, ch := range []chan Snapshot{first, second} {
		select {
		case <-ch:
		default:
			t.Fatal("expected every subscriber to receive the snapshot")
		}
	}

	hub.shutdown()
	// Unregistering after shutdown must not close a channel twice.
	hub.unregister(first)
	hub.unregister(second)
	if _, ok := <-first; ok {
		t.Fatal("expected the channel closed after shutdown")
	}
}

func TestStateBroadcasterDropsSlowSubscribers(t *testing.T) {
	hub := newStateBroadcaster()
	ch := hub.register()
	for i := 0; i < cap(ch)+10; i++ {
		hub.broadcast(Snapshot{})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected the buffer full and extra frames dropped, got %d", len(ch))
	}
	hub.unregister(ch)
}
