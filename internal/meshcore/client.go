package meshcore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nerrad567/meshlink/internal/relay"
)

// subscriptionSeq numbers subscriptions across every client in the process.
var subscriptionSeq atomic.Uint64

// Client option defaults.
const (
	DefaultAppName          = "meshlink"
	DefaultResponseTimeout  = 5 * time.Second
	DefaultFetchInterval    = 30 * time.Second
	DefaultContactsTTL      = 60 * time.Second
	DefaultContactCacheSize = 512
	eventBufferSize         = 256
	maxDrainPerCycle        = 256
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// AppName is announced to the radio on app start.
	AppName string

	// ResponseTimeout bounds each request/response exchange.
	ResponseTimeout time.Duration

	// FetchInterval is the safety poll between message sync cycles while
	// auto-fetch runs. The "messages waiting" push triggers a sync sooner.
	FetchInterval time.Duration

	// ContactsTTL is how long a fetched contact list is reused for lookups.
	ContactsTTL time.Duration

	// ContactCacheSize bounds the contact cache.
	ContactCacheSize int

	Logger relay.Logger
}

// exchange is an outstanding request waiting for response frames.
type exchange struct {
	codes  []byte
	frames chan []byte
}

func (e *exchange) wants(code byte) bool {
	for _, c := range e.codes {
		if c == code {
			return true
		}
	}
	return false
}

// ClientStats holds frame counters.
type ClientStats struct {
	FramesRx      uint64
	FramesTx      uint64
	EventsDropped uint64
}

// Client is an open companion radio. It implements relay.Device.
type Client struct {
	rwc  io.ReadWriteCloser
	opts ClientOptions

	writeMu sync.Mutex

	// exchangeMu allows one request/response exchange at a time so
	// response codes are never ambiguous.
	exchangeMu sync.Mutex
	pendingMu  sync.Mutex
	pending    *exchange

	events       chan relay.Event
	eventsMu     sync.RWMutex
	eventsClosed bool

	subsMu sync.RWMutex
	subs   map[uint64]relay.EventKind

	contacts   *lru.Cache[string, contact]
	contactsMu sync.Mutex
	contactsAt time.Time

	selfMu sync.RWMutex
	selfID string

	fetchMu     sync.Mutex
	fetchCancel context.CancelFunc
	fetchDone   chan struct{}
	fetchSignal chan struct{}

	done       chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error

	framesRx      atomic.Uint64
	framesTx      atomic.Uint64
	eventsDropped atomic.Uint64
}

// Compile-time check that Client implements relay.Device.
var _ relay.Device = (*Client)(nil)

// NewClient wraps an open transport and starts reading frames.
//
// Parameters:
//   - rwc: Serial port or network connection to the radio
//   - opts: Client options (zero values take defaults)
//
// Returns:
//   - *Client: Reading frames; call Close to release the transport
//   - error: If the contact cache cannot be created
func NewClient(rwc io.ReadWriteCloser, opts ClientOptions) (*Client, error) {
	if opts.AppName == "" {
		opts.AppName = DefaultAppName
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.FetchInterval <= 0 {
		opts.FetchInterval = DefaultFetchInterval
	}
	if opts.ContactsTTL <= 0 {
		opts.ContactsTTL = DefaultContactsTTL
	}
	if opts.ContactCacheSize <= 0 {
		opts.ContactCacheSize = DefaultContactCacheSize
	}

	cache, err := lru.New[string, contact](opts.ContactCacheSize)
	if err != nil {
		return nil, fmt.Errorf("contact cache: %w", err)
	}

	c := &Client{
		rwc:         rwc,
		opts:        opts,
		events:      make(chan relay.Event, eventBufferSize),
		subs:        make(map[uint64]relay.EventKind),
		contacts:    cache,
		fetchSignal: make(chan struct{}, 1),
		done:        make(chan struct{}),
		readerDone:  make(chan struct{}),
	}

	go c.readLoop()
	return c, nil
}

// Events returns the event channel. It is closed when the client closes or
// the link fails.
func (c *Client) Events() <-chan relay.Event {
	return c.events
}

// Subscribe enables delivery of events of kind.
func (c *Client) Subscribe(kind relay.EventKind) (relay.Subscription, error) {
	select {
	case <-c.done:
		return relay.Subscription{}, ErrClosed
	default:
	}

	sub := relay.Subscription{ID: subscriptionSeq.Add(1), Kind: kind}
	c.subsMu.Lock()
	c.subs[sub.ID] = kind
	c.subsMu.Unlock()
	return sub, nil
}

// Unsubscribe removes a subscription. Unknown subscriptions are ignored.
func (c *Client) Unsubscribe(sub relay.Subscription) error {
	c.subsMu.Lock()
	delete(c.subs, sub.ID)
	c.subsMu.Unlock()
	return nil
}

func (c *Client) subscribed(kind relay.EventKind) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for _, k := range c.subs {
		if k == kind {
			return true
		}
	}
	return false
}

// RequestSelfInfo sends app start. The SELF_INFO reply is delivered as an
// EventSelfInfo.
func (c *Client) RequestSelfInfo(ctx context.Context) error {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(appStartCommand(c.opts.AppName))
}

// ContactByName finds a contact whose advertised name equals name.
func (c *Client) ContactByName(ctx context.Context, name string) (relay.Contact, bool, error) {
	return c.findContact(ctx, func(ct contact) bool { return ct.Name == name })
}

// ContactByKeyPrefix finds a contact whose public key starts with the hex
// prefix, ignoring case.
func (c *Client) ContactByKeyPrefix(ctx context.Context, prefix string) (relay.Contact, bool, error) {
	prefix = strings.ToLower(prefix)
	if prefix == "" {
		return relay.Contact{}, false, nil
	}
	return c.findContact(ctx, func(ct contact) bool { return strings.HasPrefix(ct.PublicKey, prefix) })
}

// findContact searches the cached list, refreshing it when stale or when
// the cached list has no match.
func (c *Client) findContact(ctx context.Context, match func(contact) bool) (relay.Contact, bool, error) {
	refreshed := false
	if c.contactsStale() {
		if err := c.refreshContacts(ctx); err != nil {
			return relay.Contact{}, false, err
		}
		refreshed = true
	}

	if ct, ok := c.searchContacts(match); ok {
		return ct, true, nil
	}
	if refreshed {
		return relay.Contact{}, false, nil
	}

	if err := c.refreshContacts(ctx); err != nil {
		return relay.Contact{}, false, err
	}
	ct, ok := c.searchContacts(match)
	return ct, ok, nil
}

func (c *Client) searchContacts(match func(contact) bool) (relay.Contact, bool) {
	for _, ct := range c.contacts.Values() {
		if match(ct) {
			return relay.Contact{Name: ct.Name, PublicKey: ct.PublicKey}, true
		}
	}
	return relay.Contact{}, false
}

func (c *Client) contactsStale() bool {
	c.contactsMu.Lock()
	defer c.contactsMu.Unlock()
	return c.contactsAt.IsZero() || time.Since(c.contactsAt) > c.opts.ContactsTTL
}

// refreshContacts fetches the full contact list from the radio.
func (c *Client) refreshContacts(ctx context.Context) error {
	frames, err := c.exchange(ctx, []byte{CmdGetContacts},
		[]byte{RespContactsStart, RespContact, RespEndOfContacts},
		func(frame []byte) bool { return frame[0] == RespEndOfContacts })
	if err != nil {
		return fmt.Errorf("get contacts: %w", err)
	}

	for _, frame := range frames {
		if frame[0] != RespContact {
			continue
		}
		ct, err := parseContact(frame)
		if err != nil {
			c.logWarn("skipping malformed contact", "error", err)
			continue
		}
		c.contacts.Add(ct.PublicKey, ct)
	}

	c.contactsMu.Lock()
	c.contactsAt = time.Now()
	c.contactsMu.Unlock()
	c.logDebug("contacts refreshed", "count", c.contacts.Len())
	return nil
}

// senderName returns the cached name for a contact whose key starts with
// the hex prefix.
func (c *Client) senderName(prefix string) string {
	for _, ct := range c.contacts.Values() {
		if strings.HasPrefix(ct.PublicKey, prefix) {
			return ct.Name
		}
	}
	return ""
}

// SendDirect sends text to one contact and waits for the radio to accept it.
func (c *Client) SendDirect(ctx context.Context, to relay.Contact, text string) error {
	key, err := hex.DecodeString(to.PublicKey)
	if err != nil || len(key) < 6 {
		return fmt.Errorf("%w: %q", ErrBadPublicKey, to.PublicKey)
	}
	_, err = c.request(ctx, sendTextCommand(time.Now(), key, text), RespSent)
	return err
}

// SendBroadcast sends text on the public channel.
func (c *Client) SendBroadcast(ctx context.Context, text string) error {
	_, err := c.request(ctx, sendChannelTextCommand(time.Now(), publicChannel, text), RespOk)
	return err
}

// StartAutoFetch starts the background message sync loop and runs one
// sync immediately. Calling it while running does nothing.
func (c *Client) StartAutoFetch(_ context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if c.fetchCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.fetchCancel = cancel
	c.fetchDone = make(chan struct{})
	go c.fetchLoop(ctx, c.fetchDone)

	c.signalFetch()
	return nil
}

// StopAutoFetch stops the sync loop and waits for it to exit.
func (c *Client) StopAutoFetch() error {
	c.fetchMu.Lock()
	cancel, done := c.fetchCancel, c.fetchDone
	c.fetchCancel, c.fetchDone = nil, nil
	c.fetchMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (c *Client) signalFetch() {
	select {
	case c.fetchSignal <- struct{}{}:
	default:
	}
}

func (c *Client) fetchLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.opts.FetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-c.fetchSignal:
		case <-ticker.C:
		}
		c.drain(ctx)
	}
}

// drain syncs queued messages until the radio reports none remain.
func (c *Client) drain(ctx context.Context) {
	for i := 0; i < maxDrainPerCycle; i++ {
		frame, err := c.request(ctx, []byte{CmdSyncNextMessage},
			RespContactMsgRecv, RespChannelMsgRecv, RespNoMoreMessages)
		if err != nil {
			if ctx.Err() == nil {
				c.logWarn("message sync failed", "error", err)
			}
			return
		}
		if frame[0] == RespNoMoreMessages {
			return
		}
		c.emitMessage(frame)
	}
	// more may be waiting; the next cycle picks them up
	c.signalFetch()
}

// Close stops auto-fetch, closes the transport and waits for the reader.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		//nolint:errcheck // StopAutoFetch never fails
		c.StopAutoFetch()
		c.closeErr = c.rwc.Close()
		<-c.readerDone
		c.closeEvents()
	})
	return c.closeErr
}

// Stats returns frame counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		FramesRx:      c.framesRx.Load(),
		FramesTx:      c.framesTx.Load(),
		EventsDropped: c.eventsDropped.Load(),
	}
}

func (c *Client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := WriteFrame(c.rwc, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	c.framesTx.Add(1)
	return nil
}

// request sends payload and returns the first response with one of codes.
// An ERR response is returned as *relay.DeviceError.
func (c *Client) request(ctx context.Context, payload []byte, codes ...byte) ([]byte, error) {
	frames, err := c.exchange(ctx, payload, codes, func([]byte) bool { return true })
	if err != nil {
		return nil, err
	}
	return frames[0], nil
}

// exchange sends payload and collects response frames with one of codes
// until last reports the final frame.
func (c *Client) exchange(ctx context.Context, payload []byte, codes []byte, last func([]byte) bool) ([][]byte, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	ex := &exchange{
		codes:  append(append([]byte(nil), codes...), RespErr),
		frames: make(chan []byte, 64),
	}
	c.pendingMu.Lock()
	c.pending = ex
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		c.pending = nil
		c.pendingMu.Unlock()
	}()

	if err := c.write(payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.ResponseTimeout)
	defer timer.Stop()

	var frames [][]byte
	for {
		select {
		case frame := <-ex.frames:
			if frame[0] == RespErr {
				code := 0
				if len(frame) > 1 {
					code = int(frame[1])
				}
				return nil, &relay.DeviceError{Code: code}
			}
			frames = append(frames, frame)
			if last(frame) {
				return frames, nil
			}
		case <-timer.C:
			return nil, fmt.Errorf("%w: command 0x%02x", ErrResponseTimeout, payload[0])
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.readerDone:
			return nil, ErrLinkLost
		}
	}
}

// readLoop reads frames until the transport fails or closes.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	defer c.closeEvents()

	for {
		frame, err := ReadFrame(c.rwc)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logError("companion link lost", err)
			}
			return
		}
		c.framesRx.Add(1)
		if len(frame) == 0 {
			continue
		}
		c.deliver(frame)
	}
}

// deliver routes a frame to the pending exchange or handles it as
// unsolicited.
func (c *Client) deliver(frame []byte) {
	c.pendingMu.Lock()
	ex := c.pending
	c.pendingMu.Unlock()

	if ex != nil && ex.wants(frame[0]) {
		select {
		case ex.frames <- frame:
		default:
			c.logWarn("response buffer full, dropping frame", "code", fmt.Sprintf("0x%02x", frame[0]))
		}
		return
	}
	c.handleUnsolicited(frame)
}

func (c *Client) handleUnsolicited(frame []byte) {
	switch code := frame[0]; code {
	case RespSelfInfo:
		info, err := parseSelfInfo(frame)
		if err != nil {
			c.logWarn("malformed self info", "error", err)
			return
		}
		c.selfMu.Lock()
		c.selfID = info.PublicKey
		c.selfMu.Unlock()
		c.emit(relay.Event{Kind: relay.EventSelfInfo, Attributes: map[string]any{
			"node_id": info.PublicKey,
			"name":    info.Name,
		}})
	case RespErr:
		ev := relay.Event{Kind: relay.EventError}
		if len(frame) > 1 {
			ev.Code = int(frame[1])
		}
		c.emit(ev)
	case RespContactMsgRecv, RespChannelMsgRecv:
		c.emitMessage(frame)
	case PushMsgWaiting:
		c.signalFetch()
	case PushAdvert, PushPathUpdated, PushSendConfirmed:
		c.logDebug("push ignored", "code", fmt.Sprintf("0x%02x", code))
	default:
		c.logDebug("unsolicited frame ignored", "code", fmt.Sprintf("0x%02x", code), "len", len(frame))
	}
}

// emitMessage converts a received text frame into a message event.
func (c *Client) emitMessage(frame []byte) {
	msg, err := parseInboundText(frame)
	if err != nil {
		c.logWarn("malformed message frame", "error", err)
		return
	}
	c.emit(c.messageEvent(msg))
}

// messageEvent builds the relay attributes for msg. Channel text carries
// the sender as a "name: " prefix which is split off.
func (c *Client) messageEvent(msg inboundText) relay.Event {
	attrs := map[string]any{
		"content":  msg.Text,
		"path_len": int(msg.PathLen),
		"sent_at":  msg.SentAt,
	}

	if msg.Channel {
		attrs["channel_idx"] = int(msg.ChannelID)
		if name, body, ok := strings.Cut(msg.Text, ": "); ok && name != "" {
			attrs["from_id"] = name
			attrs["content"] = body
		}
		return relay.Event{Kind: relay.EventChannelMessage, Attributes: attrs}
	}

	attrs["from_id"] = msg.KeyPrefix
	if name := c.senderName(msg.KeyPrefix); name != "" {
		attrs["from_name"] = name
	}
	c.selfMu.RLock()
	if c.selfID != "" {
		attrs["to_id"] = c.selfID
	}
	c.selfMu.RUnlock()
	return relay.Event{Kind: relay.EventDirectMessage, Attributes: attrs}
}

// emit delivers ev if its kind is subscribed. Self info is always
// delivered. Events are dropped when the buffer is full.
func (c *Client) emit(ev relay.Event) {
	if ev.Kind != relay.EventSelfInfo && !c.subscribed(ev.Kind) {
		return
	}

	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.eventsDropped.Add(1)
		c.logWarn("event buffer full, dropping event", "kind", ev.Kind.String())
	}
}

func (c *Client) closeEvents() {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	if !c.eventsClosed {
		c.eventsClosed = true
		close(c.events)
	}
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	if c.opts.Logger != nil {
		c.opts.Logger.Error(msg, "error", err)
	}
}
