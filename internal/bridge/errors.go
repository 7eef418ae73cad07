package bridge

import "errors"

// Sentinel errors for the bridge service.
var (
	// ErrNoClient is returned when the service is built without an MQTT client.
	ErrNoClient = errors.New("bridge: MQTT client is required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("bridge: already started")

	// ErrQueueFull is returned when an event could not be queued within the
	// enqueue timeout.
	ErrQueueFull = errors.New("bridge: event queue full")

	// ErrStopped is returned when an event arrives after Stop.
	ErrStopped = errors.New("bridge: stopped")
)
