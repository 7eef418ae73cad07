package gpio

import "errors"

// Domain errors for the gpio package.
var (
	// ErrChipOpen is returned when the GPIO chip device cannot be opened.
	ErrChipOpen = errors.New("gpio: open chip failed")

	// ErrLineRequest is returned when the output line cannot be requested,
	// typically because another consumer already holds it.
	ErrLineRequest = errors.New("gpio: line request failed")

	// ErrClosed is returned when writing to a released line.
	ErrClosed = errors.New("gpio: line closed")

	// ErrInvalidConfig is returned for an empty chip name or negative offset.
	ErrInvalidConfig = errors.New("gpio: invalid configuration")
)
