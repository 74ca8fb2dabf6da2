// Package influxdb records meshlink message metrics in InfluxDB v2.
//
// Two measurements are written:
//
//	mesh_messages  tags: direction, sender, public   fields: content_length, path_length
//	relay_status   tags: port, phase                 fields: connected, queued
//
// Writes are non-blocking and batched by the client library. Failures
// are delivered to the SetOnError callback. Message text is never written.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics off
//	}
//	defer client.Close()
package influxdb
