package relay

import "fmt"

// Phase is a connection lifecycle phase.
type Phase int32

const (
	// PhaseStopped means no worker is running and no device is held.
	PhaseStopped Phase = iota

	// PhaseStarting means the device handle is being opened.
	PhaseStarting

	// PhaseStabilizing means the handle is open and the device is settling
	// before it can be queried.
	PhaseStabilizing

	// PhaseInitializing means the service is waiting for the device to report
	// its identity.
	PhaseInitializing

	// PhaseReady means the device identity is known.
	PhaseReady

	// PhaseRunning means message subscriptions and auto-fetch are active.
	PhaseRunning

	// PhaseDisconnected means the device reported an error while running.
	PhaseDisconnected

	// PhaseReconnecting means the handle is being torn down and reopened.
	PhaseReconnecting
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseStarting:
		return "starting"
	case PhaseStabilizing:
		return "stabilizing"
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhaseRunning:
		return "running"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so phases serialise by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name produced by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	for candidate := PhaseStopped; candidate <= PhaseReconnecting; candidate++ {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("relay: unknown phase %q", text)
}
