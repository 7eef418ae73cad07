package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidPayload) {
//	    // drop the message
//	}
var (
	// ErrInvalidDevice is returned when a device definition is incomplete.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrCodeLengthMismatch is returned when a device's on and off codes
	// differ in length.
	ErrCodeLengthMismatch = errors.New("device: on and off codes differ in length")

	// ErrInvalidPayload is returned when a command payload is not an integer.
	ErrInvalidPayload = errors.New("device: invalid payload")

	// ErrTopicMismatch is returned when Handle is given a topic other than
	// the device's command topic.
	ErrTopicMismatch = errors.New("device: topic does not match command topic")
)
