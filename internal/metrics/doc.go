// Package metrics exposes meshlink's Prometheus metrics.
//
// Relay gauges are read from a relay.StatusSource at scrape time, so they are
// never stale. Message counters are fed by registering the Collector as a
// message.Sink on the Recorder.
//
// Usage:
//
//	m := metrics.New(svc, version)
//	recorder.AddSink("metrics", m)
//	router.Handle("/metrics", m.Handler())
package metrics
