package radio

import "errors"

// Domain errors for the radio package.
var (
	// ErrInvalidCode is returned when a code is empty or contains symbols
	// other than '0' and '1'.
	ErrInvalidCode = errors.New("radio: invalid code")

	// ErrTransmitFailed is returned when the output pin rejects a write
	// part-way through a transmission. The transmission is abandoned.
	ErrTransmitFailed = errors.New("radio: transmit failed")

	// ErrInvalidRepeatCount is returned when a transmitter is configured
	// with fewer than one repeat.
	ErrInvalidRepeatCount = errors.New("radio: repeat count must be at least 1")

	// ErrNoPin is returned when a transmitter is created without an output pin.
	ErrNoPin = errors.New("radio: output pin is required")
)
