package message

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/meshlink/internal/relay"
)

// DefaultPollInterval is how often the Consumer checks the relay inbox.
const DefaultPollInterval = 100 * time.Millisecond

// Source yields queued inbound envelopes. Implemented by *relay.Service.
type Source interface {
	GetMessage() (relay.Envelope, bool)
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Source   Source
	Recorder *Recorder
	Interval time.Duration
	Clock    clock.Clock
}

// Consumer moves messages from the relay inbox into the Recorder.
type Consumer struct {
	source   Source
	recorder *Recorder
	interval time.Duration
	clock    clock.Clock

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu       sync.Mutex
	recorded uint64
	failed   uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewConsumer creates a Consumer. Zero Interval uses DefaultPollInterval.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Consumer{
		source:   cfg.Source,
		recorder: cfg.Recorder,
		interval: cfg.Interval,
		clock:    cfg.Clock,
	}
}

// SetLogger sets the logger.
func (c *Consumer) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Start begins polling until ctx is cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop ends polling, drains whatever is still queued and waits for the
// loop to exit.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		c.Drain(context.Background())
	})
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Drain(ctx)
		}
	}
}

// Drain records every queued envelope and returns how many were stored.
// A message that fails to store is logged and dropped.
func (c *Consumer) Drain(ctx context.Context) int {
	stored := 0
	for {
		env, ok := c.source.GetMessage()
		if !ok {
			return stored
		}

		if _, err := c.recorder.Record(ctx, env, DirectionInbound); err != nil {
			c.mu.Lock()
			c.failed++
			c.mu.Unlock()
			c.logError("dropping inbound message", "sender", env.Sender, "error", err)
			continue
		}

		c.mu.Lock()
		c.recorded++
		c.mu.Unlock()
		stored++
	}
}

// Stats returns the number of messages recorded and failed.
func (c *Consumer) Stats() (recorded, failed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorded, c.failed
}

func (c *Consumer) logError(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
