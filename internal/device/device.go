package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/radioswitch-bridge/internal/radio"
)

// StatusQoS is the QoS level used for status publications.
const StatusQoS byte = 2

// Status payloads.
const (
	PayloadOff = "0"
	PayloadOn  = "1"
)

// Logger defines the logging interface used by devices and the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageBridge is the slice of the MQTT connection a device needs.
type MessageBridge interface {
	Subscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Transmitter sends a radio code. Implemented by *radio.Transmitter.
type Transmitter interface {
	Transmit(ctx context.Context, code radio.Code) (radio.Result, error)
}

// Source records what caused a transition.
type Source string

// Transition sources.
const (
	SourceCommand  Source = "command"
	SourceAnnounce Source = "announce"
	SourceDirect   Source = "direct"
)

// Event describes one transition after its transmission finished.
type Event struct {
	Device string
	On     bool
	Source Source
	Code   radio.Code
	Result radio.Result
	Err    error
	At     time.Time
}

// Observer is notified after every transition. Implementations must not
// block for long; they run on the event loop.
type Observer interface {
	ObserveTransition(ctx context.Context, ev Event)
}

// MultiObserver fans an event out to several observers in order.
type MultiObserver []Observer

// ObserveTransition implements Observer.
func (m MultiObserver) ObserveTransition(ctx context.Context, ev Event) {
	for _, o := range m {
		if o != nil {
			o.ObserveTransition(ctx, ev)
		}
	}
}

// Config is the static definition of a device.
type Config struct {
	Name         string
	StatusTopic  string
	CommandTopic string
	OnCode       radio.Code
	OffCode      radio.Code
}

// Options carries a device's collaborators.
type Options struct {
	Bridge      MessageBridge
	Transmitter Transmitter
	Logger      Logger

	// Observer is optional.
	Observer Observer
}

// Device is one radio-controlled switch.
type Device struct {
	name         string
	statusTopic  string
	commandTopic string
	onCode       radio.Code
	offCode      radio.Code

	bridge   MessageBridge
	tx       Transmitter
	logger   Logger
	observer Observer

	// isOn is read without the lock; transitionMu orders writers with
	// their transmissions.
	isOn         atomic.Bool
	transitionMu sync.Mutex
}

// New validates cfg and returns a device in the OFF state.
//
// Returns ErrInvalidDevice when a field or collaborator is missing and
// ErrCodeLengthMismatch when the two codes differ in length.
func New(cfg Config, opts Options) (*Device, error) {
	var missing []string
	if strings.TrimSpace(cfg.Name) == "" {
		missing = append(missing, "name")
	}
	if cfg.StatusTopic == "" {
		missing = append(missing, "status topic")
	}
	if cfg.CommandTopic == "" {
		missing = append(missing, "command topic")
	}
	if len(cfg.OnCode) == 0 {
		missing = append(missing, "on code")
	}
	if len(cfg.OffCode) == 0 {
		missing = append(missing, "off code")
	}
	if opts.Bridge == nil {
		missing = append(missing, "bridge")
	}
	if opts.Transmitter == nil {
		missing = append(missing, "transmitter")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %q missing %s", ErrInvalidDevice, cfg.Name, strings.Join(missing, ", "))
	}
	if len(cfg.OnCode) != len(cfg.OffCode) {
		return nil, fmt.Errorf("%w: %q has %d on bits and %d off bits",
			ErrCodeLengthMismatch, cfg.Name, len(cfg.OnCode), len(cfg.OffCode))
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Device{
		name:         cfg.Name,
		statusTopic:  cfg.StatusTopic,
		commandTopic: cfg.CommandTopic,
		onCode:       append(radio.Code(nil), cfg.OnCode...),
		offCode:      append(radio.Code(nil), cfg.OffCode...),
		bridge:       opts.Bridge,
		tx:           opts.Transmitter,
		logger:       logger,
		observer:     opts.Observer,
	}, nil
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// StatusTopic returns the topic the device publishes its state to.
func (d *Device) StatusTopic() string { return d.statusTopic }

// CommandTopic returns the topic the device listens on.
func (d *Device) CommandTopic() string { return d.commandTopic }

// IsOn reports the last commanded state.
func (d *Device) IsOn() bool { return d.isOn.Load() }

// Matches reports whether topic is the device's command topic.
func (d *Device) Matches(topic string) bool {
	return topic == d.commandTopic
}

// Transition sets the state and transmits the matching code.
//
// The state is updated before transmitting and is not rolled back if the
// transmission fails. Transitioning to the current state transmits again.
func (d *Device) Transition(ctx context.Context, on bool) error {
	return d.transition(ctx, on, SourceDirect)
}

func (d *Device) transition(ctx context.Context, on bool, source Source) error {
	d.transitionMu.Lock()
	defer d.transitionMu.Unlock()

	d.isOn.Store(on)

	code := d.offCode
	if on {
		code = d.onCode
	}
	d.logger.Info("switching device", "device", d.name, "state", stateName(on), "source", string(source))

	result, err := d.tx.Transmit(ctx, code)
	if err != nil {
		err = fmt.Errorf("device %s: %w", d.name, err)
	}

	if d.observer != nil {
		d.observer.ObserveTransition(ctx, Event{
			Device: d.name,
			On:     on,
			Source: source,
			Code:   code,
			Result: result,
			Err:    err,
			At:     time.Now(),
		})
	}
	return err
}

// ReportStatus publishes the current state, retained, to the status topic.
func (d *Device) ReportStatus() error {
	payload := PayloadOff
	if d.IsOn() {
		payload = PayloadOn
	}
	if err := d.bridge.Publish(d.statusTopic, []byte(payload), StatusQoS, true); err != nil {
		return fmt.Errorf("device %s: reporting status: %w", d.name, err)
	}
	return nil
}

// Handle applies a command received on the device's command topic.
//
// The payload is an integer, surrounding whitespace allowed; zero means off,
// anything else on. A malformed payload returns ErrInvalidPayload without
// touching the state. The status is reported even when the transmission
// fails, and the transmission error is returned.
func (d *Device) Handle(ctx context.Context, topic string, payload []byte) error {
	if !d.Matches(topic) {
		return fmt.Errorf("%w: %s is not %s", ErrTopicMismatch, topic, d.commandTopic)
	}

	on, err := ParsePayload(payload)
	if err != nil {
		return fmt.Errorf("device %s: %w", d.name, err)
	}

	txErr := d.transition(ctx, on, SourceCommand)
	return errors.Join(txErr, d.ReportStatus())
}

// Announce subscribes to the command topic, re-sends the current state and
// reports it. Called after every (re)connect.
func (d *Device) Announce(ctx context.Context) error {
	if err := d.bridge.Subscribe(d.commandTopic); err != nil {
		return fmt.Errorf("device %s: subscribing: %w", d.name, err)
	}

	txErr := d.transition(ctx, d.IsOn(), SourceAnnounce)
	return errors.Join(txErr, d.ReportStatus())
}

// ParsePayload interprets a command payload. Returns ErrInvalidPayload if
// the trimmed payload is not a base-10 integer. Integers too large for
// int64 are nonzero and so mean on.
func ParsePayload(payload []byte) (bool, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(payload)), 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return true, nil
		}
		return false, fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}
	return n != 0, nil
}

func stateName(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
