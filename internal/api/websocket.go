package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/meshlink/internal/infrastructure/config"
)

// Frame types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 256
)

// WSRequest is a frame sent by a client.
type WSRequest struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// WSFrame is a frame sent to a client. Channel is set on events; ID
// echoes the request being answered.
type WSFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// wsClient is one connected socket.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	pingInterval time.Duration
	pongWait     time.Duration
}

// offer queues frame without blocking. The caller holds the hub lock.
func (c *wsClient) offer(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are policed by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the request. Channels named in the comma
// separated "channels" query parameter are subscribed immediately.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	ping, pong := wsTimings(s.wsCfg)
	c := &wsClient{
		hub:          s.hub,
		conn:         conn,
		send:         make(chan []byte, wsSendBufferSize),
		pingInterval: ping,
		pongWait:     pong,
	}

	var channels []string
	for _, ch := range strings.Split(r.URL.Query().Get("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	s.hub.register(c, channels...)

	if limit := s.wsCfg.MaxMessageSize; limit > 0 {
		conn.SetReadLimit(int64(limit))
	}

	go c.writeLoop()
	go c.readLoop()
}

// wsTimings returns the ping interval and pong wait, defaulting unset values.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping, pong = 30*time.Second, 10*time.Second
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		pong = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, pong
}

func (c *wsClient) extendDeadline() {
	//nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pongWait))
}

func (c *wsClient) readLoop() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.extendDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; application frames count
		// as liveness too.
		c.extendDeadline()
		c.dispatch(data)
	}
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			//nolint:errcheck // write errors below end the loop
			c.conn.SetWriteDeadline(time.Now().Add(c.pongWait))
			if !ok {
				//nolint:errcheck // peer may already be gone
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // write errors below end the loop
			c.conn.SetWriteDeadline(time.Now().Add(c.pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) dispatch(data []byte) {
	var req WSRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.respond(WSTypeError, "", map[string]string{"message": "invalid JSON frame"})
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		if len(req.Channels) == 0 {
			c.respond(WSTypeError, req.ID, map[string]string{"message": "channels required"})
			return
		}
		rejected := c.hub.subscribe(c, req.Channels)
		body := map[string]any{"subscribed": req.Channels}
		if len(rejected) > 0 {
			body["rejected"] = rejected
		}
		c.respond(WSTypeResponse, req.ID, body)
	case WSTypeUnsubscribe:
		c.hub.unsubscribe(c, req.Channels)
		c.respond(WSTypeResponse, req.ID, map[string]any{"unsubscribed": req.Channels})
	case WSTypePing:
		c.respond(WSTypePong, req.ID, nil)
	default:
		c.respond(WSTypeError, req.ID, map[string]string{"message": "unknown frame type: " + req.Type})
	}
}

func (c *wsClient) respond(typ, id string, data any) {
	frame, err := json.Marshal(WSFrame{
		Type:      typ,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
	if err != nil {
		return
	}
	c.hub.reply(c, frame)
}
