package relay

import "time"

// Config holds the device address and lifecycle timings for a Service.
type Config struct {
	// Port is the serial device path or a tcp://host:port companion address.
	Port string

	// Baudrate is the serial line speed. Ignored for TCP.
	Baudrate int

	// CreateAttempts and CreateDelay bound opening the device handle.
	CreateAttempts int
	CreateDelay    time.Duration

	// StabilizeDelay is the pause after opening before the device is queried.
	StabilizeDelay time.Duration

	// InitAttempts bounds the identity handshake. InitDelay separates
	// attempts; NotReadyDelay replaces it after a "not ready" report.
	InitAttempts  int
	InitDelay     time.Duration
	NotReadyDelay time.Duration

	// ErrorPollTimeout is how long each handshake attempt waits for a
	// pending error before asking for the device identity.
	ErrorPollTimeout time.Duration

	// SelfInfoTimeout bounds waiting for an identity response.
	SelfInfoTimeout time.Duration

	// Caller-side timeouts for work marshaled onto the worker.
	StartTimeout    time.Duration
	SendTimeout     time.Duration
	IdentityTimeout time.Duration
	CleanupTimeout  time.Duration

	// JoinTimeout bounds waiting for the worker to exit on Stop.
	JoinTimeout time.Duration

	Reconnect ReconnectConfig
}

// ReconnectConfig controls recovery from Disconnected.
type ReconnectConfig struct {
	// Enabled turns automatic reconnection on. Off by default.
	Enabled bool

	// MaxAttempts bounds consecutive reconnect cycles.
	MaxAttempts int

	// InitialDelay is the wait before the first cycle. Each later cycle
	// waits 1.5x longer, up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig returns the standard timings for the given port.
func DefaultConfig(port string, baudrate int) Config {
	return Config{
		Port:             port,
		Baudrate:         baudrate,
		CreateAttempts:   3,
		CreateDelay:      2 * time.Second,
		StabilizeDelay:   2 * time.Second,
		InitAttempts:     3,
		InitDelay:        2 * time.Second,
		NotReadyDelay:    5 * time.Second,
		ErrorPollTimeout: 1 * time.Second,
		SelfInfoTimeout:  5 * time.Second,
		StartTimeout:     30 * time.Second,
		SendTimeout:      10 * time.Second,
		IdentityTimeout:  5 * time.Second,
		CleanupTimeout:   5 * time.Second,
		JoinTimeout:      2 * time.Second,
		Reconnect: ReconnectConfig{
			Enabled:      false,
			MaxAttempts:  5,
			InitialDelay: 5 * time.Second,
			MaxDelay:     2 * time.Minute,
		},
	}
}
