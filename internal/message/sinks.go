package message

import (
	"context"

	"github.com/nerrad567/meshlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/meshlink/internal/infrastructure/mqtt"
)

// Publisher publishes JSON payloads. Implemented by *mqtt.Client.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	IsConnected() bool
}

// MQTTSink publishes stored messages to meshlink/message/{direction}.
type MQTTSink struct {
	publisher Publisher
}

// NewMQTTSink creates an MQTTSink.
func NewMQTTSink(publisher Publisher) *MQTTSink {
	return &MQTTSink{publisher: publisher}
}

// Deliver publishes m. Nothing is sent while the broker is unreachable.
func (s *MQTTSink) Deliver(_ context.Context, m Message) error {
	if !s.publisher.IsConnected() {
		return nil
	}
	topic := mqtt.Topics{}.MessageInbound()
	if m.Direction == DirectionOutbound {
		topic = mqtt.Topics{}.MessageOutbound()
	}
	return s.publisher.PublishJSON(topic, m, false)
}

// MetricsWriter writes message metrics. Implemented by *influxdb.Client.
type MetricsWriter interface {
	WriteMessage(p influxdb.MessagePoint)
}

// InfluxSink records one metric point per stored message.
type InfluxSink struct {
	writer MetricsWriter
}

// NewInfluxSink creates an InfluxSink.
func NewInfluxSink(writer MetricsWriter) *InfluxSink {
	return &InfluxSink{writer: writer}
}

// Deliver writes the point. Content length is recorded, never content.
func (s *InfluxSink) Deliver(_ context.Context, m Message) error {
	s.writer.WriteMessage(influxdb.MessagePoint{
		Direction:     string(m.Direction),
		Sender:        m.Sender,
		Public:        m.IsPublic,
		ContentLength: len(m.Content),
		PathLength:    len(m.Path),
		Timestamp:     m.Timestamp,
	})
	return nil
}

var (
	_ Sink = (*MQTTSink)(nil)
	_ Sink = (*InfluxSink)(nil)
)
