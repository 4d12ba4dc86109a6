package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/websocket"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/relay"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/version"
)

//go:embed webapp/index.html
var monitorIndexHTML string

//go:embed webapp/app.js
var monitorAppJS string

const (
	relayBackendRedis = "redis"
	relayBackendNATS  = "nats"
)

var newRelayBus = func(backend string, address string) (relay.Bus, error) {
	switch backend {
	case relayBackendRedis:
		return relay.NewRedisBus(address)
	case relayBackendNATS:
		return relay.NewNATSBus(address)
	default:
		return nil, fmt.Errorf("unsupported relay backend %q", backend)
	}
}

type runConfig struct {
	listenAddr      string
	authToken       string
	busBackend      string
	busAddress      string
	relayChannel    string
	shutdownTimeout time.Duration
}

func main() {
	os.Exit(RunMain(os.Args[1:], nil))
}

func RunMain(args []string, run func(context.Context, runConfig) error) int {
	if version.IsVersionRequest(args) {
		version.Print(os.Stdout, "ralph-monitor")
		return 0
	}

	fs := flag.NewFlagSet("ralph-monitor", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	listen := fs.String("listen", ":8484", "HTTP listen address")
	authToken := fs.String("auth-token", "", "Bearer token required for /api and /ws requests (empty disables auth)")
	redisURL := fs.String("redis-url", "", "redis URL of the relay to watch")
	natsURL := fs.String("nats-url", "", "nats URL of the relay to watch")
	relayChannel := fs.String("relay-channel", "", "relay subject prefix")
	shutdownTimeout := fs.Duration("shutdown-timeout", 5*time.Second, "graceful shutdown timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	redis := strings.TrimSpace(*redisURL)
	if redis == "" {
		redis = strings.TrimSpace(os.Getenv("RALPH_REDIS_URL"))
	}
	nats := strings.TrimSpace(*natsURL)
	if nats == "" {
		nats = strings.TrimSpace(os.Getenv("RALPH_NATS_URL"))
	}
	if redis == "" && nats == "" {
		fmt.Fprintln(os.Stderr, "one of --redis-url or --nats-url is required")
		return 1
	}
	backend, address := relayBackendRedis, redis
	if redis == "" {
		backend, address = relayBackendNATS, nats
	}

	channel := strings.TrimSpace(*relayChannel)
	if channel == "" {
		channel = strings.TrimSpace(os.Getenv("RALPH_RELAY_CHANNEL"))
	}
	if channel == "" {
		channel = "ralph"
	}

	listenAddr := strings.TrimSpace(*listen)
	if listenAddr == "" {
		fmt.Fprintln(os.Stderr, "--listen is required")
		return 1
	}
	if *shutdownTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "--shutdown-timeout must be greater than 0")
		return 1
	}

	if run == nil {
		run = defaultRun
	}

	cfg := runConfig{
		listenAddr:      listenAddr,
		authToken:       strings.TrimSpace(*authToken),
		busBackend:      backend,
		busAddress:      address,
		relayChannel:    channel,
		shutdownTimeout: *shutdownTimeout,
	}
	if err := run(context.Background(), cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func defaultRun(ctx context.Context, cfg runConfig) error {
	bus, err := newRelayBus(cfg.busBackend, cfg.busAddress)
	if err != nil {
		return err
	}
	defer func() {
		_ = bus.Close()
	}()

	runtime := newMonitorState(cfg.authToken, bus, relay.DefaultSubjects(cfg.relayChannel))
	defer runtime.hub.shutdown()

	consumeCtx, stopConsuming := context.WithCancel(ctx)
	defer stopConsuming()
	go runtime.consumeRelay(consumeCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", runtime.handleIndex)
	mux.HandleFunc("/app.js", runtime.handleAppJS)
	mux.HandleFunc("/api/state", runtime.handleAPIState)
	mux.HandleFunc("/ws", runtime.handleWS)

	server := &http.Server{Addr: cfg.listenAddr, Handler: mux}
	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		serverCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(serverCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type monitorState struct {
	board     *runBoard
	hub       *stateBroadcaster
	authToken string
	bus       relay.Bus
	subjects  relay.Subjects
}

func newMonitorState(authToken string, bus relay.Bus, subjects relay.Subjects) *monitorState {
	return &monitorState{
		board:     newRunBoard(),
		hub:       newStateBroadcaster(),
		authToken: authToken,
		bus:       bus,
		subjects:  subjects,
	}
}

// consumeRelay folds hello and supervision frames into the run board and
// pushes a fresh snapshot to every websocket after each frame.
func (state *monitorState) consumeRelay(ctx context.Context) {
	hellos, cancelHellos, err := state.bus.Subscribe(ctx, state.subjects.Hello)
	if err != nil {
		return
	}
	defer cancelHellos()
	events, cancelEvents, err := state.bus.Subscribe(ctx, state.subjects.Events)
	if err != nil {
		return
	}
	defer cancelEvents()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-hellos:
			if !ok {
				return
			}
			payload, err := relay.DecodeHello(env)
			if err != nil {
				continue
			}
			state.board.ApplyHello(env.RunID, payload.WorkDir, payload.Task, payload.Model)
			state.hub.broadcast(state.board.View())
		case env, ok := <-events:
			if !ok {
				return
			}
			event, err := relay.DecodeSupervision(env)
			if err != nil {
				continue
			}
			state.board.ApplyEvent(env.RunID, event)
			state.hub.broadcast(state.board.View())
		}
	}
}

func (state *monitorState) hasAuth(r *http.Request) bool {
	if state.authToken == "" {
		return true
	}
	if strings.TrimSpace(r.URL.Query().Get("token")) == state.authToken {
		return true
	}
	expected := "Bearer " + state.authToken
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Authorization")), expected)
}

func (state *monitorState) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if state.hasAuth(r) {
		return true
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = io.WriteString(w, "unauthorized")
	return false
}

func (state *monitorState) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !state.requireAuth(w, r) {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(monitorIndexHTML))
}

func (state *monitorState) handleAppJS(w http.ResponseWriter, r *http.Request) {
	_ = r
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = w.Write([]byte(monitorAppJS))
}

func (state *monitorState) handleAPIState(w http.ResponseWriter, r *http.Request) {
	if !state.requireAuth(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, state.board.View())
}

func (state *monitorState) handleWS(w http.ResponseWriter, r *http.Request) {
	if !state.requireAuth(w, r) {
		return
	}
	websocket.Handler(func(rawConn *websocket.Conn) {
		state.serveWS(rawConn)
	}).ServeHTTP(w, r)
}

func (state *monitorState) serveWS(rawConn *websocket.Conn) {
	updates := state.hub.register()
	defer state.hub.unregister(updates)
	_ = websocket.JSON.Send(rawConn, state.board.View())
	for msg := range updates {
		if err := websocket.JSON.Send(rawConn, msg); err != nil {
			return
		}
	}
}

// stateBroadcaster fans snapshots out to websocket subscribers. A slow
// subscriber loses frames rather than stalling the relay consumer.
type stateBroadcaster struct {
	mu          sync.Mutex
	subscribers map[chan Snapshot]struct{}
}

func newStateBroadcaster() *stateBroadcaster {
	return &stateBroadcaster{
		subscribers: map[chan Snapshot]struct{}{},
	}
}

func (b *stateBroadcaster) register() chan Snapshot {
	ch := make(chan Snapshot, 32)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *stateBroadcaster) unregister(ch chan Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

func (b *stateBroadcaster) shutdown() {
	b.mu.Lock()
	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = map[chan Snapshot]struct{}{}
	b.mu.Unlock()
}

func (b *stateBroadcaster) broadcast(msg Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
