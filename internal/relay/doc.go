// Package relay owns the connection to a MeshCore companion radio and relays
// messages between the radio and the rest of meshlink.
//
// A Service drives the device through a fixed sequence of phases:
//
//	Stopped → Starting → Stabilizing → Initializing → Ready → Running
//
// and, once Running, moves to Disconnected when the device reports an error.
// When reconnection is enabled the service tears the handle down and runs the
// sequence again, bounded by the configured number of cycles.
//
// All device I/O happens on a single worker goroutine. Callers never touch the
// device directly: SendMessage and GetNodeID submit a task to the worker and
// wait on a result channel with a timeout. A timed-out task keeps running on
// the worker; its result is discarded.
//
// Inbound device events arrive on one channel as a tagged Event value. The
// worker converts message events to Envelope values and appends them to an
// unbounded FIFO inbox, drained by the persistence consumer through
// GetMessage.
//
// Usage:
//
//	svc, err := relay.NewService(relay.ServiceOptions{
//	    Config: relay.DefaultConfig("/dev/ttyUSB0", 115200),
//	    Driver: meshcore.NewDriver(meshcore.DriverOptions{}),
//	})
//	if err != nil { ... }
//	if err := svc.Start(); err != nil { ... }
//	defer svc.Stop()
package relay
