package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/radioswitch-bridge/internal/device"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/mqtt"
)

// HealthStatus represents the bridge's operational status.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the broker is unreachable or the last
	// transmission failed.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

const defaultHealthInterval = 30 * time.Second

// HealthMessage is the retained document published on the health topic.
type HealthMessage struct {
	Bridge         string           `json:"bridge"`
	Timestamp      time.Time        `json:"timestamp"`
	Status         HealthStatus     `json:"status"`
	Version        string           `json:"version"`
	UptimeSeconds  int64            `json:"uptime_seconds"`
	DevicesManaged int              `json:"devices_managed"`
	Statistics     HealthStatistics `json:"statistics"`
	LastError      string           `json:"last_error,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

// HealthStatistics counts transmissions since start.
type HealthStatistics struct {
	Transmissions uint64 `json:"transmissions"`
	Failures      uint64 `json:"failures"`
	DroppedEvents uint64 `json:"dropped_events"`
}

// HealthPublisher is the interface for publishing health messages.
// Implemented by *Service and *mqtt.Client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DropCounter reports dropped events. Implemented by *Service.
type DropCounter interface {
	Dropped() uint64
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID names the health topic.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	// DeviceCount is the number of configured devices.
	DeviceCount int

	// Publisher sends the health messages.
	Publisher HealthPublisher

	// Drops is optional.
	Drops DropCounter
}

// HealthReporter publishes periodic health and observes transitions.
type HealthReporter struct {
	bridgeID    string
	version     string
	startTime   time.Time
	interval    time.Duration
	deviceCount int
	publisher   HealthPublisher
	drops       DropCounter

	mu            sync.Mutex
	transmissions uint64
	failures      uint64
	lastErr       string
	lastFailed    bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		bridgeID:    cfg.BridgeID,
		version:     cfg.Version,
		startTime:   time.Now(),
		interval:    interval,
		deviceCount: cfg.DeviceCount,
		publisher:   cfg.Publisher,
		drops:       cfg.Drops,
		done:        make(chan struct{}),
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger. Must be called before Start.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Topic returns the health topic.
func (h *HealthReporter) Topic() string {
	return mqtt.Topics{}.Health(h.bridgeID)
}

// ObserveTransition implements device.Observer.
func (h *HealthReporter) ObserveTransition(_ context.Context, ev device.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.transmissions++
	h.lastFailed = ev.Err != nil
	if ev.Err != nil {
		h.failures++
		h.lastErr = ev.Err.Error()
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop is
// called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthStopping, "")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

// Snapshot builds the message PublishNow would send.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.determineStatus()
	return h.message(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Error("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	h.mu.Lock()
	lastFailed := h.lastFailed
	h.mu.Unlock()
	if lastFailed {
		return HealthDegraded, "last transmission failed"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	h.mu.Lock()
	stats := HealthStatistics{
		Transmissions: h.transmissions,
		Failures:      h.failures,
	}
	lastErr := h.lastErr
	h.mu.Unlock()

	if h.drops != nil {
		stats.DroppedEvents = h.drops.Dropped()
	}

	return HealthMessage{
		Bridge:         h.bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        h.version,
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
		DevicesManaged: h.deviceCount,
		Statistics:     stats,
		LastError:      lastErr,
		Reason:         reason,
	}
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.Topic(), payload, 1, true)
}
