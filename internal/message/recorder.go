package message

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshlink/internal/relay"
)

// Sink receives every message after it has been stored.
type Sink interface {
	Deliver(ctx context.Context, m Message) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, m Message) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, m Message) error {
	return f(ctx, m)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type namedSink struct {
	name string
	sink Sink
}

// Recorder stores messages and fans them out to sinks.
//
// Thread Safety:
//   - Record may be called concurrently; sinks must tolerate that.
type Recorder struct {
	saver Saver
	clock clock.Clock

	mu    sync.RWMutex
	sinks []namedSink

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRecorder creates a Recorder writing to saver. A nil clk uses the
// wall clock.
func NewRecorder(saver Saver, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{saver: saver, clock: clk}
}

// AddSink registers a sink. Sinks run in registration order.
func (r *Recorder) AddSink(name string, sink Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, namedSink{name: name, sink: sink})
	r.mu.Unlock()
}

// SetLogger sets the logger for sink failures.
func (r *Recorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// Record stores env in the given direction and delivers the stored
// message to every sink.
//
// Returns:
//   - Message: The stored message with its ID
//   - error: Only storage errors; sink errors are logged
func (r *Recorder) Record(ctx context.Context, env relay.Envelope, dir Direction) (Message, error) {
	m := FromEnvelope(env, dir)
	if err := r.saver.Save(ctx, &m, r.clock.Now()); err != nil {
		return Message{}, fmt.Errorf("recording %s message: %w", dir, err)
	}

	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()

	for _, s := range sinks {
		r.deliver(ctx, s, m)
	}
	return m, nil
}

func (r *Recorder) deliver(ctx context.Context, s namedSink, m Message) {
	defer func() {
		if p := recover(); p != nil {
			r.logError("sink panicked", "sink", s.name, "message_id", m.ID, "panic", p)
		}
	}()
	if err := s.sink.Deliver(ctx, m); err != nil {
		r.logError("sink delivery failed", "sink", s.name, "message_id", m.ID, "error", err)
	}
}

func (r *Recorder) logError(msg string, keysAndValues ...any) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
