package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meshlink/internal/infrastructure/config"
	"github.com/nerrad567/meshlink/internal/infrastructure/database"
	"github.com/nerrad567/meshlink/internal/infrastructure/logging"
	"github.com/nerrad567/meshlink/internal/message"
	"github.com/nerrad567/meshlink/internal/relay"
	"github.com/nerrad567/meshlink/migrations"
)

// MockRelay is a configurable relay.
type MockRelay struct {
	mu      sync.Mutex
	status  relay.Status
	nodeID  string
	sendErr error
	nodeErr error
	sent    []string
}

func (r *MockRelay) SendMessage(content string, receiver *string) (relay.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return relay.Envelope{}, r.sendErr
	}
	r.sent = append(r.sent, content)
	return relay.Envelope{
		Content:   content,
		Sender:    r.nodeID,
		Receiver:  receiver,
		Path:      []string{},
		Timestamp: time.Now().UTC(),
	}, nil
}

func (r *MockRelay) GetNodeID() (string, error) {
	if r.nodeErr != nil {
		return "", r.nodeErr
	}
	return r.nodeID, nil
}

func (r *MockRelay) GetStatus() relay.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *MockRelay) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type testEnv struct {
	srv   *Server
	relay *MockRelay
	store *message.SQLiteStore
	rec   *message.Recorder
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

// testServer creates a Server backed by in-memory SQLite and a MockRelay.
func testServer(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	store := message.NewSQLiteStore(db.DB)
	rec := message.NewRecorder(store, nil)
	mr := &MockRelay{
		nodeID: "a1b2c3d4e5f6",
		status: relay.Status{Running: true, Connected: true, Port: "/dev/ttyUSB0", Phase: relay.PhaseRunning},
	}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:             testWSConfig(),
		Logger:         testLogger(),
		Relay:          mr,
		Messages:       store.Messages,
		Contacts:       store.Contacts,
		Recorder:       rec,
		StreamInterval: 10 * time.Millisecond,
		Version:        "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return &testEnv{srv: srv, relay: mr, store: store, rec: rec}
}

// do sends a request through the router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(w, req)
	return w
}

// seed records n inbound messages one minute apart.
func (e *testEnv) seed(t *testing.T, n int) []message.Message {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]message.Message, 0, n)
	for i := range n {
		m, err := e.rec.Record(context.Background(), relay.Envelope{
			Content:   "msg",
			Sender:    "ab12cd34ef56",
			Path:      []string{},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}, message.DirectionInbound)
		if err != nil {
			t.Fatalf("seed Record() error: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}
