package message

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meshlink/internal/infrastructure/database"
	"github.com/nerrad567/meshlink/internal/relay"
	"github.com/nerrad567/meshlink/migrations"
)

// setupStore opens an in-memory database with the real schema.
func setupStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteStore(db.DB)
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func testEnvelope(content, sender string, receiver *string, offset time.Duration) relay.Envelope {
	return relay.Envelope{
		Content:   content,
		Sender:    sender,
		Receiver:  receiver,
		Path:      []string{},
		Timestamp: baseTime.Add(offset),
	}
}

// MockSource is a relay inbox backed by a slice.
type MockSource struct {
	mu    sync.Mutex
	queue []relay.Envelope
}

func (s *MockSource) Push(envs ...relay.Envelope) {
	s.mu.Lock()
	s.queue = append(s.queue, envs...)
	s.mu.Unlock()
}

func (s *MockSource) GetMessage() (relay.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return relay.Envelope{}, false
	}
	env := s.queue[0]
	s.queue = s.queue[1:]
	return env, true
}

func (s *MockSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// MockSaver fails every Save.
type MockSaver struct {
	err error
}

func (s *MockSaver) Save(context.Context, *Message, time.Time) error { return s.err }

// MockSender returns a canned result from SendMessage.
type MockSender struct {
	mu       sync.Mutex
	err      error
	sent     []string
	receiver []*string
	self     string
}

func (s *MockSender) SendMessage(content string, receiver *string) (relay.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return relay.Envelope{}, s.err
	}
	s.sent = append(s.sent, content)
	s.receiver = append(s.receiver, receiver)
	return relay.Envelope{
		Content:   content,
		Sender:    s.self,
		Receiver:  receiver,
		Path:      []string{},
		Timestamp: baseTime,
	}, nil
}

type published struct {
	topic    string
	payload  any
	retained bool
}

// MockPublisher records PublishJSON calls.
type MockPublisher struct {
	mu           sync.Mutex
	disconnected bool
	err          error
	messages     []published
}

func (p *MockPublisher) PublishJSON(topic string, v any, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{topic: topic, payload: v, retained: retained})
	return nil
}

func (p *MockPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.disconnected
}

func (p *MockPublisher) Published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.messages...)
}

// mockLogger records log messages by level.
type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Debug(string, ...any) {}
func (l *mockLogger) Info(string, ...any)  {}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func (l *mockLogger) WarnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

var errBoom = errors.New("boom")
