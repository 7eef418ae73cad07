package device

import (
	"context"
	"errors"
)

// Registry routes broker events to a fixed, ordered set of devices.
//
// The device list is copied at construction and never changes, so a Registry
// is safe to share without locking.
type Registry struct {
	devices []*Device
	logger  Logger
}

// NewRegistry creates a registry over devices, preserving their order.
//
// Several devices may share a command topic; they all handle its messages.
// Each shared topic is logged as a warning since it is usually a typo.
func NewRegistry(devices []*Device, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Registry{
		devices: make([]*Device, 0, len(devices)),
		logger:  logger,
	}

	seen := make(map[string]string, len(devices))
	for _, d := range devices {
		if d == nil {
			continue
		}
		if first, dup := seen[d.commandTopic]; dup {
			logger.Warn("devices share a command topic",
				"topic", d.commandTopic,
				"device", d.name,
				"other_device", first,
			)
		} else {
			seen[d.commandTopic] = d.name
		}
		r.devices = append(r.devices, d)
	}
	return r
}

// Devices returns the devices in registry order. The slice is a copy.
func (r *Registry) Devices() []*Device {
	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	return len(r.devices)
}

// Device returns the device with the given name.
func (r *Registry) Device(name string) (*Device, bool) {
	for _, d := range r.devices {
		if d.name == name {
			return d, true
		}
	}
	return nil, false
}

// OnConnected announces every device in order. A failing device is logged
// and does not stop the rest; all failures are returned joined.
func (r *Registry) OnConnected(ctx context.Context) error {
	r.logger.Info("announcing devices", "count", len(r.devices))

	var errs []error
	for _, d := range r.devices {
		if err := d.Announce(ctx); err != nil {
			r.logger.Error("failed to announce device", "device", d.name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnMessage hands a message to every device whose command topic matches.
// Unroutable messages are logged with their payload and dropped.
func (r *Registry) OnMessage(ctx context.Context, topic string, payload []byte) error {
	var (
		errs    []error
		matched bool
	)
	for _, d := range r.devices {
		if !d.Matches(topic) {
			continue
		}
		matched = true

		err := d.Handle(ctx, topic, payload)
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidPayload):
			r.logger.Warn("dropping malformed command",
				"device", d.name,
				"topic", topic,
				"payload", string(payload),
			)
			errs = append(errs, err)
		default:
			r.logger.Error("failed to send command", "device", d.name, "error", err)
			errs = append(errs, err)
		}
	}

	if !matched {
		r.logger.Warn("no device for topic", "topic", topic, "payload", string(payload))
	}
	return errors.Join(errs...)
}
