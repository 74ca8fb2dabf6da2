// Package message persists relayed messages and fans them out.
//
// # Architecture
//
//	relay.Service ──GetMessage()──▶ Consumer ──▶ Recorder ──▶ Store (SQLite)
//	                                                │
//	HTTP / MQTT send ──SendMessage()──────────────▶─┤
//	                                                ▼
//	                                      Sinks: WebSocket hub, MQTT,
//	                                      InfluxDB, Prometheus
//
// The Consumer polls the relay inbox every 100ms and drains everything
// queued. The Recorder stores each message. For inbound messages it also
// upserts the sender as a contact in the same transaction. Then it hands
// the stored message to every sink. Sink failures are logged and never
// undo the store.
//
// CommandBridge lets MQTT clients send messages: a JSON command on
// meshlink/command/send is sent through the relay and acknowledged on
// meshlink/ack/send/{id}.
package message
