package relay

import (
	"errors"
	"fmt"
)

// Domain errors for the relay service.
var (
	// ErrConnectionFailed indicates the device handle could not be opened
	// within the configured attempts.
	ErrConnectionFailed = errors.New("relay: device connection failed")

	// ErrInitFailed indicates the device never reported its identity.
	ErrInitFailed = errors.New("relay: device initialization failed")

	// ErrNotConnected indicates a facade call while the device is not connected.
	ErrNotConnected = errors.New("relay: not connected")

	// ErrContactNotFound indicates a receiver matched neither a contact name
	// nor a public key prefix.
	ErrContactNotFound = errors.New("relay: contact not found")

	// ErrOperationFailed indicates the device rejected or failed an operation.
	ErrOperationFailed = errors.New("relay: device operation failed")

	// ErrTimeout indicates a caller gave up waiting for the worker.
	ErrTimeout = errors.New("relay: operation timed out")

	// ErrNotRunning indicates a task was submitted with no worker running.
	ErrNotRunning = errors.New("relay: service not running")

	// ErrLinkLost indicates the device event stream ended unexpectedly.
	ErrLinkLost = errors.New("relay: device link lost")

	// ErrNoDriver indicates NewService was called without a driver.
	ErrNoDriver = errors.New("relay: driver is required")
)

// errNoEvent is returned when an awaited event did not arrive in time.
var errNoEvent = errors.New("relay: no event within timeout")

// Device error codes reported by the companion firmware.
const (
	CodeInvalidCommand   = 1
	CodeInvalidParameter = 2
	CodeNotReady         = 3
	CodeTimeout          = 4
	CodeNoRoute          = 5
	CodeBufferFull       = 6
	CodeInvalidState     = 7
	CodeInternalError    = 8
)

var deviceErrorText = map[int]string{
	CodeInvalidCommand:   "invalid command",
	CodeInvalidParameter: "invalid parameter",
	CodeNotReady:         "not ready",
	CodeTimeout:          "timeout",
	CodeNoRoute:          "no route to destination",
	CodeBufferFull:       "buffer full",
	CodeInvalidState:     "invalid state",
	CodeInternalError:    "internal error",
}

// DeviceError is an error code reported by the device.
type DeviceError struct {
	Code int
}

// Error returns the human-readable description of the code.
func (e *DeviceError) Error() string {
	return "device error: " + DescribeCode(e.Code)
}

// DescribeCode maps a device error code to its description.
func DescribeCode(code int) string {
	if text, ok := deviceErrorText[code]; ok {
		return text
	}
	return fmt.Sprintf("unknown error %d", code)
}

// IsNotReady reports whether err carries the device "not ready" code.
func IsNotReady(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Code == CodeNotReady
}
