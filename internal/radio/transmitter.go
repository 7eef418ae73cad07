package radio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRepeatCount is how many times a pulse-train is sent per command.
const DefaultRepeatCount = 6

// Pin is a single digital output.
type Pin interface {
	Write(level Level) error
}

// Logger defines the logging interface used by the transmitter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Result describes a completed transmission.
type Result struct {
	// ID identifies the transmission in logs, history and metrics.
	ID uuid.UUID

	// Repeats is the number of pulse-trains fully sent.
	Repeats int

	// Pulses is the number of pulses in one train.
	Pulses int

	// Elapsed is the measured duration from the first edge to the end of
	// the last pulse.
	Elapsed time.Duration
}

// Transmitter plays pulse-trains on an output pin.
//
// A Transmitter is safe for concurrent use. Transmissions are serialised
// because two interleaved pulse-trains on one pin decode as neither.
type Transmitter struct {
	pin     Pin
	clock   Clock
	repeats int
	logger  Logger

	mu sync.Mutex
}

// Option configures a Transmitter.
type Option func(*Transmitter)

// WithRepeatCount sets how many times each command is sent.
func WithRepeatCount(n int) Option {
	return func(t *Transmitter) {
		t.repeats = n
	}
}

// WithClock replaces the system clock. Tests use this to run transmissions
// without waiting in real time.
func WithClock(c Clock) Option {
	return func(t *Transmitter) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(t *Transmitter) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransmitter creates a transmitter on pin. The pin must already be
// configured as an output and driven LOW.
func NewTransmitter(pin Pin, opts ...Option) (*Transmitter, error) {
	if pin == nil {
		return nil, ErrNoPin
	}

	t := &Transmitter{
		pin:     pin,
		clock:   NewSystemClock(),
		repeats: DefaultRepeatCount,
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.repeats < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRepeatCount, t.repeats)
	}
	return t, nil
}

// RepeatCount returns the number of pulse-trains sent per command.
func (t *Transmitter) RepeatCount() int {
	return t.repeats
}

// Transmit sends code RepeatCount times and returns when the last pulse has
// ended, leaving the pin LOW.
//
// The context is only consulted before the first edge. Once started, a
// transmission runs to completion because a truncated pulse-train is
// meaningless to the receiver.
//
// Returns ErrInvalidCode for an empty code and ErrTransmitFailed if the pin
// rejects a write.
func (t *Transmitter) Transmit(ctx context.Context, code Code) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(code) == 0 {
		return Result{}, fmt.Errorf("%w: empty", ErrInvalidCode)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	result := Result{ID: uuid.New()}
	t.logger.Debug("sending radio command",
		"transmission_id", result.ID.String(),
		"code", code.String(),
		"repeats", t.repeats,
	)

	start := t.clock.Now()
	for i := 0; i < t.repeats; i++ {
		pulses := EncodeCommand(code)
		result.Pulses = len(pulses)
		if err := t.play(pulses); err != nil {
			result.Elapsed = t.clock.Now().Sub(start)
			// Best effort: never leave the carrier keyed.
			_ = t.pin.Write(Low) //nolint:errcheck // already failing
			return result, fmt.Errorf("%w: repeat %d: %w", ErrTransmitFailed, i+1, err)
		}
		result.Repeats++
	}
	result.Elapsed = t.clock.Now().Sub(start)

	t.logger.Debug("radio command sent",
		"transmission_id", result.ID.String(),
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// play drives each pulse's level and holds it until the pulse's absolute
// deadline. Deadlines accumulate from the start of the train so a late wake
// shortens the next pulse instead of shifting every edge after it.
func (t *Transmitter) play(pulses []Pulse) error {
	deadline := t.clock.Now()
	for i, p := range pulses {
		if err := t.pin.Write(p.Level); err != nil {
			return fmt.Errorf("pulse %d (%s): %w", i, p.Level, err)
		}
		deadline = deadline.Add(p.Duration)
		t.clock.WaitUntil(deadline)
	}
	return nil
}
