package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshlink/internal/infrastructure/config"
	"github.com/nerrad567/meshlink/internal/infrastructure/logging"
	"github.com/nerrad567/meshlink/internal/message"
)

// Broadcast channels.
const (
	// ChannelMessageReceived carries inbound messages after they are stored.
	ChannelMessageReceived = "message.received"

	// ChannelMessageSent carries outbound messages after they are stored.
	ChannelMessageSent = "message.sent"
)

// knownChannel reports whether clients may subscribe to ch.
func knownChannel(ch string) bool {
	return ch == ChannelMessageReceived || ch == ChannelMessageSent
}

// channelFor picks the broadcast channel for a stored message.
func channelFor(m message.Message) string {
	if m.Direction == message.DirectionOutbound {
		return ChannelMessageSent
	}
	return ChannelMessageReceived
}

// Hub fans stored messages out to WebSocket clients by channel.
//
// Clients are only written to while the hub lock is held, and a client's
// send channel is only closed under the write lock, so a broadcast can
// never race a disconnect.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	members map[string]map[*wsClient]struct{}

	dropped atomic.Uint64
}

// NewHub creates a hub with no clients.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
		members: make(map[string]map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// register adds a client and subscribes it to channels.
func (h *Hub) register(c *wsClient, channels ...string) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.join(c, channels)
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "clients", n)
}

// unregister removes a client. Only the call that finds the client closes
// its send channel.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		h.drop(c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// drop removes c from every index and closes its send channel. h.mu must
// be held for writing.
func (h *Hub) drop(c *wsClient) {
	delete(h.clients, c)
	for ch, set := range h.members {
		delete(set, c)
		if len(set) == 0 {
			delete(h.members, ch)
		}
	}
	close(c.send)
}

// subscribe adds c to channels. Unknown channels are returned and ignored.
func (h *Hub) subscribe(c *wsClient, channels []string) (rejected []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return nil
	}
	return h.join(c, channels)
}

func (h *Hub) join(c *wsClient, channels []string) (rejected []string) {
	for _, ch := range channels {
		if !knownChannel(ch) {
			rejected = append(rejected, ch)
			continue
		}
		set := h.members[ch]
		if set == nil {
			set = make(map[*wsClient]struct{})
			h.members[ch] = set
		}
		set[c] = struct{}{}
	}
	return rejected
}

// unsubscribe removes c from channels.
func (h *Hub) unsubscribe(c *wsClient, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range channels {
		if set := h.members[ch]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.members, ch)
			}
		}
	}
}

// Broadcast sends data to every client subscribed to channel. Clients
// whose buffers are full miss the frame.
func (h *Hub) Broadcast(channel string, data any) {
	frame, err := json.Marshal(WSFrame{
		Type:      WSTypeEvent,
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
	if err != nil {
		h.logger.Error("failed to encode broadcast", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	sent := 0
	for c := range h.members[channel] {
		if c.offer(frame) {
			sent++
		} else {
			h.dropped.Add(1)
		}
	}
	h.mu.RUnlock()

	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sent)
	}
}

// Deliver broadcasts a stored message on its direction's channel. It
// implements message.Sink.
func (h *Hub) Deliver(_ context.Context, m message.Message) error {
	h.Broadcast(channelFor(m), m)
	return nil
}

// reply queues a frame for one client if it is still connected.
func (h *Hub) reply(c *wsClient, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; ok && !c.offer(frame) {
		h.dropped.Add(1)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of clients subscribed to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members[channel])
}

// Dropped returns how many frames were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if c.conn != nil {
			c.conn.Close()
		}
		h.drop(c)
	}
}

var _ message.Sink = (*Hub)(nil)
