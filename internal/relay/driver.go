package relay

import "context"

// EventKind identifies the variant carried by an Event.
type EventKind int

const (
	// EventError is a device error report or a lost link.
	EventError EventKind = iota + 1

	// EventDirectMessage is a received direct (contact) message.
	EventDirectMessage

	// EventChannelMessage is a received channel (public) message.
	EventChannelMessage

	// EventSelfInfo is the device's response to an identity request.
	EventSelfInfo
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventDirectMessage:
		return "direct_message"
	case EventChannelMessage:
		return "channel_message"
	case EventSelfInfo:
		return "self_info"
	default:
		return "unknown"
	}
}

// Event is a single device event.
//
// Attributes hold the variant payload. Message events use the keys
// "content", "from_id", "to_id" and "path". Self info events carry
// "node_id" and "name". Error events set Code when the device reported a
// code and Err when the link itself failed.
type Event struct {
	Kind       EventKind
	Code       int
	Err        error
	Attributes map[string]any
}

// Subscription is a handle returned by Device.Subscribe.
// IDs are unique for the life of the process.
type Subscription struct {
	ID   uint64
	Kind EventKind
}

// Contact is a device contact resolved for a direct send.
type Contact struct {
	Name      string
	PublicKey string
}

// SelfInfo is the identity the device reports about itself.
type SelfInfo struct {
	NodeID string
	Name   string
}

// Driver opens device handles.
type Driver interface {
	// Open connects to the device on port at the given baud rate.
	Open(ctx context.Context, port string, baudrate int) (Device, error)
}

// Device is an open companion device handle.
//
// Error and message events are delivered on Events only while a
// subscription for their kind exists. Self info events are always delivered.
// The channel is closed when the device is closed or the link fails.
type Device interface {
	Events() <-chan Event
	Subscribe(kind EventKind) (Subscription, error)
	Unsubscribe(sub Subscription) error

	// RequestSelfInfo asks the device for its identity. The answer arrives
	// as an EventSelfInfo.
	RequestSelfInfo(ctx context.Context) error

	ContactByName(ctx context.Context, name string) (Contact, bool, error)
	ContactByKeyPrefix(ctx context.Context, prefix string) (Contact, bool, error)

	SendDirect(ctx context.Context, to Contact, text string) error
	SendBroadcast(ctx context.Context, text string) error

	StartAutoFetch(ctx context.Context) error
	StopAutoFetch() error

	Close() error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
