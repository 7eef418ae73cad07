package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/radioswitch-bridge/internal/device"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/mqtt"
)

// DefaultPrefix is Home Assistant's default discovery prefix.
const DefaultPrefix = "homeassistant"

const (
	manufacturer = "radioswitch"
	model        = "433 MHz switch bridge"
	configQoS    = 1
)

// Logger defines the logging interface used by the publisher.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// MessagePublisher sends retained config messages.
type MessagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DeviceInfo is the Home Assistant device block shared by every entity the
// bridge exposes, so they group under one device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// SwitchConfig is the JSON payload of an MQTT switch discovery message.
type SwitchConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	ObjectID            string     `json:"object_id"`
	CommandTopic        string     `json:"command_topic"`
	StateTopic          string     `json:"state_topic"`
	PayloadOn           string     `json:"payload_on"`
	PayloadOff          string     `json:"payload_off"`
	StateOn             string     `json:"state_on"`
	StateOff            string     `json:"state_off"`
	AvailabilityTopic   string     `json:"availability_topic"`
	PayloadAvailable    string     `json:"payload_available"`
	PayloadNotAvailable string     `json:"payload_not_available"`
	Optimistic          bool       `json:"optimistic"`
	Device              DeviceInfo `json:"device"`
}

// Config holds publisher settings.
type Config struct {
	// Prefix is the discovery prefix. Default: "homeassistant".
	Prefix string

	// BridgeID scopes object ids and names the availability topic.
	BridgeID string

	// Version is reported as the device's software version.
	Version string
}

// Publisher publishes discovery configs for a fixed device list.
type Publisher struct {
	cfg     Config
	pub     MessagePublisher
	devices []*device.Device
	logger  Logger
}

// NewPublisher creates a publisher for devices.
func NewPublisher(cfg Config, pub MessagePublisher, devices []*device.Device, logger Logger) *Publisher {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Publisher{
		cfg:     cfg,
		pub:     pub,
		devices: devices,
		logger:  logger,
	}
}

// PublishAll publishes every device's config. Failures are logged and
// returned joined; the remaining devices are still published.
func (p *Publisher) PublishAll() error {
	var errs []error
	for _, d := range p.devices {
		if err := p.Publish(d); err != nil {
			p.logger.Warn("failed to publish discovery config", "device", d.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	p.logger.Info("published discovery configs",
		"count", len(p.devices)-len(errs),
		"prefix", p.cfg.Prefix,
	)
	return errors.Join(errs...)
}

// Publish publishes one device's config, retained.
func (p *Publisher) Publish(d *device.Device) error {
	sc := BuildSwitchConfig(p.cfg, d)
	payload, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal discovery payload for %s: %w", d.Name(), err)
	}
	return p.pub.Publish(ConfigTopic(p.cfg.Prefix, sc.ObjectID), payload, configQoS, true)
}

// BuildSwitchConfig describes d as a Home Assistant switch.
func BuildSwitchConfig(cfg Config, d *device.Device) SwitchConfig {
	objectID := ObjectID(cfg.BridgeID, d.Name())
	return SwitchConfig{
		Name:                d.Name(),
		UniqueID:            objectID,
		ObjectID:            objectID,
		CommandTopic:        d.CommandTopic(),
		StateTopic:          d.StatusTopic(),
		PayloadOn:           device.PayloadOn,
		PayloadOff:          device.PayloadOff,
		StateOn:             device.PayloadOn,
		StateOff:            device.PayloadOff,
		AvailabilityTopic:   mqtt.Topics{}.Availability(cfg.BridgeID),
		PayloadAvailable:    mqtt.PayloadOnline,
		PayloadNotAvailable: mqtt.PayloadOffline,
		Optimistic:          false,
		Device: DeviceInfo{
			Identifiers:  []string{"radioswitch_" + Sanitize(cfg.BridgeID)},
			Name:         "Radio switch bridge " + cfg.BridgeID,
			Manufacturer: manufacturer,
			Model:        model,
			SWVersion:    cfg.Version,
		},
	}
}

// ConfigTopic returns the discovery topic for a switch.
func ConfigTopic(prefix, objectID string) string {
	return fmt.Sprintf("%s/switch/%s/config", prefix, objectID)
}

// ObjectID derives a stable object id from the bridge id and device name.
func ObjectID(bridgeID, name string) string {
	return Sanitize(bridgeID + "_" + name)
}

// Sanitize lower-cases s and replaces every rune outside [a-z0-9_-] with an
// underscore, collapsing runs. Leading and trailing underscores are trimmed.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
