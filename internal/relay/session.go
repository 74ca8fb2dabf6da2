package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// session is one Start..Stop cycle. Everything except sched is owned by
// the worker goroutine.
type session struct {
	svc   *Service
	sched *scheduler

	device   Device
	events   <-chan Event
	subs     []Subscription
	fetching bool
	self     SelfInfo

	reconnectAttempt int
	reconnectTimer   *clock.Timer
	reconnectC       <-chan time.Time
}

func newSession(svc *Service) *session {
	return &session{
		svc:   svc,
		sched: newScheduler(svc.clock),
	}
}

// run is the worker loop.
func (ss *session) run() {
	defer close(ss.sched.exited)
	defer func() {
		ss.cancelReconnect()
		if ss.device != nil {
			if err := ss.teardown(); err != nil {
				ss.svc.logError("releasing device on worker exit", err)
			}
		}
	}()

	for {
		select {
		case <-ss.sched.ctx.Done():
			return
		case t := <-ss.sched.tasks:
			t(ss.sched.ctx)
		case ev, ok := <-ss.events:
			if !ok {
				ss.events = nil
				ss.handleError(Event{Kind: EventError, Err: ErrLinkLost})
				continue
			}
			ss.dispatch(ev)
		case <-ss.reconnectC:
			ss.reconnectC = nil
			ss.reconnect(ss.sched.ctx)
		}
	}
}

// current reports whether this session is still the service's session.
func (ss *session) current() bool {
	return ss.svc.sess.Load() == ss
}

func (ss *session) setPhase(p Phase) {
	if ss.current() {
		ss.svc.phase.Store(int32(p))
	}
}

func (ss *session) setConnected(v bool) {
	if ss.current() {
		ss.svc.connected.Store(v)
	}
}

// selfID returns the node id learned during initialization.
func (ss *session) selfID() string {
	return ss.self.NodeID
}

// connect runs Starting through Running. On failure the handle is
// released and the phase is set to failPhase.
func (ss *session) connect(ctx context.Context, failPhase Phase) error {
	cfg := ss.svc.cfg

	ss.setPhase(PhaseStarting)
	err := Retry(ctx, ss.svc.clock, Policy{Attempts: cfg.CreateAttempts, Delay: cfg.CreateDelay},
		func(ctx context.Context, attempt int) error {
			dev, err := ss.svc.driver.Open(ctx, cfg.Port, cfg.Baudrate)
			if err != nil {
				ss.svc.logWarn("device open failed", "port", cfg.Port, "attempt", attempt, "error", err)
				return err
			}
			ss.device = dev
			ss.events = dev.Events()
			return nil
		})
	if err != nil {
		ss.setPhase(failPhase)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	fail := func(sentinel error, err error) error {
		if tdErr := ss.teardown(); tdErr != nil {
			ss.svc.logWarn("teardown after failed connect", "error", tdErr)
		}
		ss.setPhase(failPhase)
		return fmt.Errorf("%w: %w", sentinel, err)
	}

	if err := ss.subscribe(EventError); err != nil {
		return fail(ErrConnectionFailed, err)
	}

	ss.setPhase(PhaseStabilizing)
	if err := sleep(ctx, ss.svc.clock, cfg.StabilizeDelay); err != nil {
		return fail(ErrConnectionFailed, err)
	}

	ss.setPhase(PhaseInitializing)
	info, err := ss.initialize(ctx)
	if err != nil {
		return fail(ErrInitFailed, err)
	}
	ss.self = info
	ss.setConnected(true)
	ss.setPhase(PhaseReady)
	ss.svc.logInfo("device ready", "node_id", info.NodeID, "name", info.Name)

	if err := ss.subscribe(EventDirectMessage); err != nil {
		return fail(ErrInitFailed, err)
	}
	if err := ss.subscribe(EventChannelMessage); err != nil {
		return fail(ErrInitFailed, err)
	}
	if err := ss.device.StartAutoFetch(ctx); err != nil {
		return fail(ErrInitFailed, err)
	}
	ss.fetching = true

	ss.setPhase(PhaseRunning)
	return nil
}

// initialize waits for the device to report its identity. Each attempt
// first checks for a pending error, then requests self info.
func (ss *session) initialize(ctx context.Context) (SelfInfo, error) {
	cfg := ss.svc.cfg
	var info SelfInfo

	policy := Policy{
		Attempts: cfg.InitAttempts,
		Delay:    cfg.InitDelay,
		Classify: func(_ int, err error) (time.Duration, bool) {
			if errors.Is(err, ErrLinkLost) {
				return 0, false
			}
			if IsNotReady(err) {
				return cfg.NotReadyDelay, true
			}
			return cfg.InitDelay, true
		},
	}

	isError := func(ev Event) bool { return ev.Kind == EventError }
	isReply := func(ev Event) bool { return ev.Kind == EventSelfInfo || ev.Kind == EventError }

	err := Retry(ctx, ss.svc.clock, policy, func(ctx context.Context, attempt int) error {
		ev, err := ss.awaitEvent(ctx, cfg.ErrorPollTimeout, isError)
		switch {
		case err == nil:
			return ss.initError(ev, attempt)
		case !errors.Is(err, errNoEvent):
			return err
		}

		if err := ss.device.RequestSelfInfo(ctx); err != nil {
			ss.svc.logWarn("self info request failed", "attempt", attempt, "error", err)
			return err
		}
		ev, err = ss.awaitEvent(ctx, cfg.SelfInfoTimeout, isReply)
		if err != nil {
			ss.svc.logWarn("no self info from device", "attempt", attempt, "error", err)
			return fmt.Errorf("self info: %w", err)
		}
		if ev.Kind == EventError {
			return ss.initError(ev, attempt)
		}
		info = selfInfoFrom(ev)
		return nil
	})
	return info, err
}

func (ss *session) initError(ev Event, attempt int) error {
	if ev.Err != nil {
		return ev.Err
	}
	de := &DeviceError{Code: ev.Code}
	if ev.Code == CodeNotReady {
		ss.svc.logInfo("device not ready, waiting", "attempt", attempt)
	} else {
		ss.svc.logWarn("device error during initialization",
			"attempt", attempt, "code", ev.Code, "description", DescribeCode(ev.Code))
	}
	return de
}

// awaitEvent reads events until one satisfies match or timeout passes.
// A timeout of zero polls once. Other events are dispatched normally.
func (ss *session) awaitEvent(ctx context.Context, timeout time.Duration, match func(Event) bool) (Event, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := ss.svc.clock.Timer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		if ss.events == nil {
			return Event{}, ErrLinkLost
		}

		var (
			ev Event
			ok bool
		)
		if expired == nil {
			select {
			case ev, ok = <-ss.events:
			default:
				return Event{}, errNoEvent
			}
		} else {
			select {
			case <-ctx.Done():
				return Event{}, ctx.Err()
			case <-expired:
				return Event{}, errNoEvent
			case ev, ok = <-ss.events:
			}
		}

		if !ok {
			ss.events = nil
			ss.handleError(Event{Kind: EventError, Err: ErrLinkLost})
			return Event{}, ErrLinkLost
		}
		if match(ev) {
			return ev, nil
		}
		ss.dispatch(ev)
		if ss.svc.Phase() == PhaseDisconnected {
			return Event{}, ErrNotConnected
		}
	}
}

// dispatch handles one unsolicited device event.
func (ss *session) dispatch(ev Event) {
	switch ev.Kind {
	case EventDirectMessage, EventChannelMessage:
		env, err := Normalize(ev, ss.svc.clock.Now())
		if err != nil {
			ss.svc.logError("dropping malformed message event", err, "kind", ev.Kind.String())
			return
		}
		ss.svc.inbox.Push(env)
		ss.svc.logDebug("message queued",
			"kind", ev.Kind.String(), "sender", env.Sender, "public", env.IsPublic())
	case EventError:
		ss.handleError(ev)
	case EventSelfInfo:
		ss.self = selfInfoFrom(ev)
	default:
		ss.svc.logDebug("ignoring device event", "kind", ev.Kind.String())
	}
}

// handleError moves a running session to Disconnected.
func (ss *session) handleError(ev Event) {
	desc := DescribeCode(ev.Code)
	if ev.Err != nil {
		desc = ev.Err.Error()
	}

	if ss.svc.Phase() != PhaseRunning {
		ss.svc.logWarn("device error", "phase", ss.svc.Phase().String(), "code", ev.Code, "description", desc)
		return
	}

	ss.svc.logWarn("device error, disconnected", "code", ev.Code, "description", desc)
	ss.setConnected(false)
	ss.setPhase(PhaseDisconnected)

	if ss.svc.cfg.Reconnect.Enabled {
		ss.scheduleReconnect()
	}
}

func (ss *session) scheduleReconnect() {
	rc := ss.svc.cfg.Reconnect
	ss.reconnectAttempt++
	if ss.reconnectAttempt > rc.MaxAttempts {
		ss.svc.logWarn("giving up reconnecting", "attempts", rc.MaxAttempts)
		return
	}

	delay, _ := backoff(rc.InitialDelay, rc.MaxDelay)(ss.reconnectAttempt, nil)
	ss.reconnectTimer = ss.svc.clock.Timer(delay)
	ss.reconnectC = ss.reconnectTimer.C
	ss.svc.logInfo("scheduling reconnect", "attempt", ss.reconnectAttempt, "delay", delay.String())
}

func (ss *session) cancelReconnect() {
	if ss.reconnectTimer != nil {
		ss.reconnectTimer.Stop()
		ss.reconnectTimer = nil
	}
	ss.reconnectC = nil
}

func (ss *session) reconnect(ctx context.Context) {
	ss.setPhase(PhaseReconnecting)
	if err := ss.teardown(); err != nil {
		ss.svc.logWarn("teardown before reconnect", "error", err)
	}

	if err := ss.connect(ctx, PhaseDisconnected); err != nil {
		if ctx.Err() != nil {
			return
		}
		ss.svc.logError("reconnect failed", err, "attempt", ss.reconnectAttempt)
		ss.scheduleReconnect()
		return
	}

	ss.svc.logInfo("reconnected", "attempt", ss.reconnectAttempt, "node_id", ss.self.NodeID)
	ss.reconnectAttempt = 0
}

func (ss *session) subscribe(kind EventKind) error {
	sub, err := ss.device.Subscribe(kind)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", kind, err)
	}
	ss.subs = append(ss.subs, sub)
	return nil
}

// teardown releases subscriptions in reverse order, stops auto-fetch and
// closes the handle.
func (ss *session) teardown() error {
	ss.setConnected(false)

	dev := ss.device
	if dev == nil {
		return nil
	}

	var errs error
	for i := len(ss.subs) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, dev.Unsubscribe(ss.subs[i]))
	}
	ss.subs = nil

	if ss.fetching {
		errs = multierr.Append(errs, dev.StopAutoFetch())
		ss.fetching = false
	}

	errs = multierr.Append(errs, dev.Close())
	ss.device = nil
	ss.events = nil
	return errs
}

// requestSelfInfo asks the device for its identity and waits for it.
func (ss *session) requestSelfInfo(ctx context.Context) (SelfInfo, error) {
	if ss.device == nil || !ss.svc.connected.Load() {
		return SelfInfo{}, ErrNotConnected
	}
	if err := ss.device.RequestSelfInfo(ctx); err != nil {
		return SelfInfo{}, fmt.Errorf("%w: %w", ErrOperationFailed, err)
	}

	ev, err := ss.awaitEvent(ctx, ss.svc.cfg.SelfInfoTimeout, func(ev Event) bool {
		return ev.Kind == EventSelfInfo
	})
	switch {
	case errors.Is(err, errNoEvent):
		return SelfInfo{}, fmt.Errorf("%w: self info", ErrTimeout)
	case err != nil:
		return SelfInfo{}, err
	}

	ss.self = selfInfoFrom(ev)
	return ss.self, nil
}

// send resolves the receiver and sends content on the worker.
func (ss *session) send(ctx context.Context, content string, receiver *string) (Envelope, error) {
	self, err := ss.requestSelfInfo(ctx)
	if err != nil {
		return Envelope{}, err
	}
	dev := ss.device

	if receiver != nil {
		contact, err := ss.resolveContact(ctx, *receiver)
		if err != nil {
			return Envelope{}, err
		}
		if err := dev.SendDirect(ctx, contact, content); err != nil {
			return Envelope{}, fmt.Errorf("%w: send direct: %w", ErrOperationFailed, err)
		}
	} else if err := dev.SendBroadcast(ctx, content); err != nil {
		return Envelope{}, fmt.Errorf("%w: send broadcast: %w", ErrOperationFailed, err)
	}

	var to *string
	if receiver != nil {
		r := *receiver
		to = &r
	}
	return Envelope{
		Content:   content,
		Sender:    self.NodeID,
		Receiver:  to,
		Path:      []string{},
		Timestamp: ss.svc.clock.Now().UTC(),
	}, nil
}

// resolveContact matches by exact name, then by public key prefix.
func (ss *session) resolveContact(ctx context.Context, receiver string) (Contact, error) {
	contact, ok, err := ss.device.ContactByName(ctx, receiver)
	if err != nil {
		return Contact{}, fmt.Errorf("%w: contact lookup: %w", ErrOperationFailed, err)
	}
	if ok {
		return contact, nil
	}

	contact, ok, err = ss.device.ContactByKeyPrefix(ctx, receiver)
	if err != nil {
		return Contact{}, fmt.Errorf("%w: contact lookup: %w", ErrOperationFailed, err)
	}
	if !ok {
		return Contact{}, fmt.Errorf("%w: %s", ErrContactNotFound, receiver)
	}
	return contact, nil
}

func selfInfoFrom(ev Event) SelfInfo {
	var info SelfInfo
	if v, ok := ev.Attributes["node_id"].(string); ok {
		info.NodeID = v
	}
	if v, ok := ev.Attributes["name"].(string); ok {
		info.Name = v
	}
	return info
}
