package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Config holds the port and timings. Use DefaultConfig as a base.
	Config Config

	// Driver opens device handles. Required.
	Driver Driver

	// Logger is optional.
	Logger Logger

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Service relays messages to and from one companion device.
// Construct with NewService; the zero value is not usable.
type Service struct {
	cfg    Config
	driver Driver
	clock  clock.Clock
	inbox  Inbox

	phase     atomic.Int32
	connected atomic.Bool
	running   atomic.Bool

	// current session, nil when stopped
	sess atomic.Pointer[session]

	// lifecycleMu serialises Start and Stop.
	lifecycleMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewService creates a stopped service.
//
// Parameters:
//   - opts: Driver is required; Config fields left at zero are not defaulted
//
// Returns:
//   - *Service: Ready to Start
//   - error: ErrNoDriver if no driver was given
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Driver == nil {
		return nil, ErrNoDriver
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	s := &Service{
		cfg:    opts.Config,
		driver: opts.Driver,
		clock:  clk,
		logger: opts.Logger,
	}
	s.phase.Store(int32(PhaseStopped))
	return s, nil
}

// SetLogger sets the logger for this service.
func (s *Service) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Start connects to the device and blocks until it is Running or the
// connection sequence has failed. Calling Start on a running service does
// nothing.
//
// Returns:
//   - error: wraps ErrConnectionFailed, ErrInitFailed or ErrTimeout
func (s *Service) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		return nil
	}

	sess := newSession(s)
	s.sess.Store(sess)
	s.running.Store(true)
	go sess.run()

	s.logInfo("starting relay", "port", s.cfg.Port, "baudrate", s.cfg.Baudrate)

	_, err := call(sess.sched, s.cfg.StartTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, sess.connect(ctx, PhaseStopped)
	})
	if err != nil {
		s.logError("relay start failed", err)
		if stopErr := s.stopLocked(); stopErr != nil {
			s.logError("cleanup after failed start", stopErr)
		}
		return err
	}

	s.logInfo("relay running", "port", s.cfg.Port, "node_id", sess.selfID())
	return nil
}

// Stop disconnects from the device and stops the worker.
// Safe to call when already stopped.
func (s *Service) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.stopLocked()
}

func (s *Service) stopLocked() error {
	sess := s.sess.Load()
	if sess == nil {
		return nil
	}

	var errs error
	_, err := call(sess.sched, s.cfg.CleanupTimeout, func(context.Context) (struct{}, error) {
		sess.cancelReconnect()
		return struct{}{}, sess.teardown()
	})
	errs = multierr.Append(errs, err)

	sess.sched.cancel()
	if !sess.sched.join(s.cfg.JoinTimeout) {
		errs = multierr.Append(errs, fmt.Errorf("relay: worker did not exit within %s", s.cfg.JoinTimeout))
	}
	sess.sched.close()

	s.sess.Store(nil)
	s.connected.Store(false)
	s.running.Store(false)
	s.phase.Store(int32(PhaseStopped))

	if errs != nil {
		s.logError("relay stopped with errors", errs)
	} else {
		s.logInfo("relay stopped")
	}
	return errs
}

// SendMessage sends content to receiver, or broadcasts it when receiver is
// nil or empty. The returned envelope describes the sent message; its path
// is always empty.
//
// Returns:
//   - Envelope: sender is this node's id
//   - error: ErrNotConnected, ErrContactNotFound, ErrOperationFailed or ErrTimeout
func (s *Service) SendMessage(content string, receiver *string) (Envelope, error) {
	if !s.connected.Load() {
		return Envelope{}, ErrNotConnected
	}
	sess := s.sess.Load()
	if sess == nil {
		return Envelope{}, ErrNotConnected
	}
	if receiver != nil && *receiver == "" {
		receiver = nil
	}

	return call(sess.sched, s.cfg.SendTimeout, func(ctx context.Context) (Envelope, error) {
		return sess.send(ctx, content, receiver)
	})
}

// GetNodeID asks the device for its identity and returns its node id.
func (s *Service) GetNodeID() (string, error) {
	if !s.connected.Load() {
		return "", ErrNotConnected
	}
	sess := s.sess.Load()
	if sess == nil {
		return "", ErrNotConnected
	}

	info, err := call(sess.sched, s.cfg.IdentityTimeout, func(ctx context.Context) (SelfInfo, error) {
		return sess.requestSelfInfo(ctx)
	})
	if err != nil {
		return "", err
	}
	return info.NodeID, nil
}

// GetMessage pops the oldest received envelope without blocking.
func (s *Service) GetMessage() (Envelope, bool) {
	return s.inbox.Pop()
}

// GetStatus returns a snapshot without waiting on the worker.
func (s *Service) GetStatus() Status {
	return Status{
		Running:     s.running.Load(),
		Connected:   s.connected.Load(),
		Port:        s.cfg.Port,
		QueuedCount: s.inbox.Len(),
		Phase:       s.Phase(),
	}
}

// Phase returns the current lifecycle phase.
func (s *Service) Phase() Phase {
	return Phase(s.phase.Load())
}

// IsConnected returns true while the device identity is known and no
// error has been reported since.
func (s *Service) IsConnected() bool {
	return s.connected.Load()
}

func (s *Service) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (s *Service) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *Service) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (s *Service) logError(msg string, err error, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
