package meshcore

import "errors"

// Domain errors for the companion driver.
var (
	// ErrClosed indicates an operation on a closed client.
	ErrClosed = errors.New("meshcore: client closed")

	// ErrLinkLost indicates the transport failed while waiting for a response.
	ErrLinkLost = errors.New("meshcore: link lost")

	// ErrResponseTimeout indicates the radio did not answer in time.
	ErrResponseTimeout = errors.New("meshcore: response timeout")

	// ErrFrameTooLarge indicates a frame length above MaxFrameSize.
	ErrFrameTooLarge = errors.New("meshcore: frame too large")

	// ErrBadFrame indicates a frame with the wrong marker or a short payload.
	ErrBadFrame = errors.New("meshcore: malformed frame")

	// ErrBadPublicKey indicates a contact key that is not usable for sending.
	ErrBadPublicKey = errors.New("meshcore: invalid public key")
)
