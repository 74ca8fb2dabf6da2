package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var mockSubIDs atomic.Uint64

// MockDriver implements Driver for testing.
type MockDriver struct {
	mu           sync.Mutex
	openFailures int
	opens        int
	devices      []*MockDevice
	configure    func(*MockDevice)
}

func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

func (d *MockDriver) Open(_ context.Context, _ string, _ int) (Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.openFailures > 0 {
		d.openFailures--
		return nil, errors.New("mock: port busy")
	}
	dev := NewMockDevice()
	if d.configure != nil {
		d.configure(dev)
	}
	d.devices = append(d.devices, dev)
	return dev, nil
}

func (d *MockDriver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *MockDriver) Device(i int) *MockDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.devices) {
		return nil
	}
	return d.devices[i]
}

func (d *MockDriver) DeviceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.devices)
}

type sentMessage struct {
	To   *Contact
	Text string
}

// MockDevice implements Device for testing.
type MockDevice struct {
	mu         sync.Mutex
	events     chan Event
	closed     bool
	subs       map[uint64]EventKind
	subscribed []Subscription
	released   []Subscription
	contacts   []Contact
	sent       []sentMessage
	calls      int
	fetching   bool
	fetchStops int
	closeCount int
	sendErr    error
	silent     bool
	initErrors []int
	selfInfo   map[string]any
}

func NewMockDevice() *MockDevice {
	return &MockDevice{
		events: make(chan Event, 64),
		subs:   make(map[uint64]EventKind),
		selfInfo: map[string]any{
			"node_id": "a1b2c3d4e5f6",
			"name":    "base",
		},
	}
}

func (m *MockDevice) Events() <-chan Event {
	return m.events
}

func (m *MockDevice) Subscribe(kind EventKind) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	sub := Subscription{ID: mockSubIDs.Add(1), Kind: kind}
	m.subs[sub.ID] = kind
	m.subscribed = append(m.subscribed, sub)

	if kind == EventError {
		for _, code := range m.initErrors {
			m.events <- Event{Kind: EventError, Code: code}
		}
		m.initErrors = nil
	}
	return sub, nil
}

func (m *MockDevice) Unsubscribe(sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, sub.ID)
	m.released = append(m.released, sub)
	return nil
}

func (m *MockDevice) RequestSelfInfo(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.silent || m.closed {
		return nil
	}
	m.events <- Event{Kind: EventSelfInfo, Attributes: m.selfInfo}
	return nil
}

func (m *MockDevice) ContactByName(_ context.Context, name string) (Contact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, c := range m.contacts {
		if c.Name == name {
			return c, true, nil
		}
	}
	return Contact{}, false, nil
}

func (m *MockDevice) ContactByKeyPrefix(_ context.Context, prefix string) (Contact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, c := range m.contacts {
		if strings.HasPrefix(c.PublicKey, strings.ToLower(prefix)) {
			return c, true, nil
		}
	}
	return Contact{}, false, nil
}

func (m *MockDevice) SendDirect(_ context.Context, to Contact, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMessage{To: &to, Text: text})
	return nil
}

func (m *MockDevice) SendBroadcast(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMessage{Text: text})
	return nil
}

func (m *MockDevice) StartAutoFetch(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetching = true
	return nil
}

func (m *MockDevice) StopAutoFetch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetching = false
	m.fetchStops++
	return nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}

// Inject delivers an event if a subscription for its kind exists.
func (m *MockDevice) Inject(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if ev.Kind != EventSelfInfo && !m.subscribedTo(ev.Kind) {
		return false
	}
	m.events <- ev
	return true
}

// DropLink closes the event channel as a failing transport would.
func (m *MockDevice) DropLink() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
}

func (m *MockDevice) subscribedTo(kind EventKind) bool {
	for _, k := range m.subs {
		if k == kind {
			return true
		}
	}
	return false
}

func (m *MockDevice) Subscribed() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Subscription(nil), m.subscribed...)
}

func (m *MockDevice) Released() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Subscription(nil), m.released...)
}

func (m *MockDevice) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func (m *MockDevice) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockDevice) IsFetching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetching
}

// testConfig returns millisecond timings for fast tests.
func testConfig() Config {
	cfg := DefaultConfig("/dev/ttyTEST0", 115200)
	cfg.CreateDelay = 10 * time.Millisecond
	cfg.StabilizeDelay = 5 * time.Millisecond
	cfg.InitDelay = 5 * time.Millisecond
	cfg.NotReadyDelay = 40 * time.Millisecond
	cfg.ErrorPollTimeout = 5 * time.Millisecond
	cfg.SelfInfoTimeout = 50 * time.Millisecond
	cfg.StartTimeout = 2 * time.Second
	cfg.SendTimeout = 500 * time.Millisecond
	cfg.IdentityTimeout = 500 * time.Millisecond
	cfg.CleanupTimeout = 500 * time.Millisecond
	cfg.JoinTimeout = 500 * time.Millisecond
	return cfg
}

func newTestService(t *testing.T, cfg Config, driver Driver) *Service {
	t.Helper()
	svc, err := NewService(ServiceOptions{Config: cfg, Driver: driver})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() {
		//nolint:errcheck // test cleanup
		svc.Stop()
	})
	return svc
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func strPtr(s string) *string {
	return &s
}
