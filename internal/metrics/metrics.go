package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/meshlink/internal/message"
	"github.com/nerrad567/meshlink/internal/relay"
)

const namespace = "meshlink"

// Collector owns a private registry with relay and message metrics.
type Collector struct {
	registry *prometheus.Registry

	messages     *prometheus.CounterVec
	contentBytes *prometheus.CounterVec
}

// New creates a Collector reading relay state from source.
//
// Parameters:
//   - source: Relay status provider, queried on every scrape
//   - version: Reported through meshlink_build_info
//
// Returns:
//   - *Collector: Ready to serve and receive messages
func New(source relay.StatusSource, version string) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages stored, by direction.",
		}, []string{"direction"}),
		contentBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_content_bytes_total",
			Help:      "Bytes of message content stored, by direction.",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.messages,
		c.contentBytes,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "build_info",
			Help:        "Always 1; labelled with the running version.",
			ConstLabels: prometheus.Labels{"version": version},
		}, func() float64 { return 1 }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connected",
			Help:      "1 when the radio link is up.",
		}, func() float64 { return boolValue(source.GetStatus().Connected) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "running",
			Help:      "1 while the relay worker is running.",
		}, func() float64 { return boolValue(source.GetStatus().Running) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "queued_messages",
			Help:      "Inbound messages waiting to be stored.",
		}, func() float64 { return float64(source.GetStatus().QueuedCount) }),
	)

	// One series per phase, 1 for the current one.
	for p := relay.PhaseStopped; p <= relay.PhaseReconnecting; p++ {
		phase := p
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "relay",
			Name:        "phase",
			Help:        "Current connection phase.",
			ConstLabels: prometheus.Labels{"phase": phase.String()},
		}, func() float64 { return boolValue(source.GetStatus().Phase == phase) }))
	}

	return c
}

// Deliver counts a stored message. It implements message.Sink.
func (c *Collector) Deliver(_ context.Context, m message.Message) error {
	dir := string(m.Direction)
	c.messages.WithLabelValues(dir).Inc()
	c.contentBytes.WithLabelValues(dir).Add(float64(len(m.Content)))
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ message.Sink = (*Collector)(nil)
