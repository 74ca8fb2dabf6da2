package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementMessages = "mesh_messages"
	MeasurementRelay    = "relay_status"
)

// MessagePoint describes one accepted message for metrics.
type MessagePoint struct {
	// Direction is "inbound" or "outbound".
	Direction     string
	Sender        string
	Public        bool
	ContentLength int
	PathLength    int
	Timestamp     time.Time
}

// WriteMessage records a message. A zero Timestamp means now.
func (c *Client) WriteMessage(m MessagePoint) {
	if !c.IsConnected() {
		return
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementMessages,
		map[string]string{
			"direction": m.Direction,
			"sender":    m.Sender,
			"public":    strconv.FormatBool(m.Public),
		},
		map[string]interface{}{
			"content_length": m.ContentLength,
			"path_length":    m.PathLength,
		},
		ts,
	))
}

// WriteRelayStatus records a snapshot of the relay lifecycle.
func (c *Client) WriteRelayStatus(port, phase string, connected bool, queued int) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementRelay,
		map[string]string{
			"port":  port,
			"phase": phase,
		},
		map[string]interface{}{
			"connected": connected,
			"queued":    queued,
		},
		c.now(),
	))
}
