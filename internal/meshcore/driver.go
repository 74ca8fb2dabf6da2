package meshcore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/meshlink/internal/relay"
)

// DriverOptions configures the devices a Driver opens.
type DriverOptions struct {
	AppName          string
	ResponseTimeout  time.Duration
	FetchInterval    time.Duration
	ContactsTTL      time.Duration
	ContactCacheSize int

	// DialTimeout bounds opening the transport. Default: 5 seconds.
	DialTimeout time.Duration

	Logger relay.Logger
}

// Driver opens companion radios. It implements relay.Driver.
type Driver struct {
	opts DriverOptions
	dial func(ctx context.Context, port string, baudrate int) (io.ReadWriteCloser, error)
}

// Compile-time check that Driver implements relay.Driver.
var _ relay.Driver = (*Driver)(nil)

// NewDriver creates a driver that dials serial or TCP ports.
func NewDriver(opts DriverOptions) *Driver {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return &Driver{opts: opts, dial: Dial}
}

// Open connects to the radio on port.
//
// Parameters:
//   - ctx: Bounds the dial together with DialTimeout
//   - port: Serial device path, or tcp://host:port
//   - baudrate: Serial line speed (ignored for TCP)
//
// Returns:
//   - relay.Device: An open *Client
//   - error: If the transport cannot be opened
func (d *Driver) Open(ctx context.Context, port string, baudrate int) (relay.Device, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.opts.DialTimeout)
	defer cancel()

	rwc, err := d.dial(dialCtx, port, baudrate)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(rwc, ClientOptions{
		AppName:          d.opts.AppName,
		ResponseTimeout:  d.opts.ResponseTimeout,
		FetchInterval:    d.opts.FetchInterval,
		ContactsTTL:      d.opts.ContactsTTL,
		ContactCacheSize: d.opts.ContactCacheSize,
		Logger:           d.opts.Logger,
	})
	if err != nil {
		_ = rwc.Close()
		return nil, fmt.Errorf("meshcore client: %w", err)
	}

	if d.opts.Logger != nil {
		d.opts.Logger.Info("companion transport open", "port", port, "tcp", IsTCP(port))
	}
	return client, nil
}
