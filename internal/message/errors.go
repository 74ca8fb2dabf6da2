package message

import "errors"

// Domain errors for the message package.
var (
	// ErrMessageNotFound is returned when no message matches a lookup.
	ErrMessageNotFound = errors.New("message: not found")

	// ErrInvalidMessage is returned when a message fails validation before storage.
	ErrInvalidMessage = errors.New("message: invalid")

	// ErrInvalidCommand is returned for malformed MQTT send commands.
	ErrInvalidCommand = errors.New("message: invalid command")
)
