package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/radioswitch-bridge/internal/device"
)

// mockPublisher records health publications.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []publishedHealth
}

type publishedHealth struct {
	Topic    string
	Msg      HealthMessage
	QoS      byte
	Retained bool
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedHealth{topic, msg, qos, retained})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) Messages() []publishedHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedHealth(nil), m.messages...)
}

type fixedDrops uint64

func (f fixedDrops) Dropped() uint64 { return uint64(f) }

func newTestReporter(pub *mockPublisher) *HealthReporter {
	return NewHealthReporter(HealthReporterConfig{
		BridgeID:    "lounge",
		Version:     "test",
		Interval:    10 * time.Millisecond,
		DeviceCount: 2,
		Publisher:   pub,
		Drops:       fixedDrops(3),
	})
}

func TestHealthReporter_PublishNow(t *testing.T) {
	pub := &mockPublisher{connected: true}
	h := newTestReporter(pub)

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := pub.Messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	got := msgs[0]
	if got.Topic != "radioswitch/lounge/health" || got.QoS != 1 || !got.Retained {
		t.Errorf("published to %s qos=%d retained=%v", got.Topic, got.QoS, got.Retained)
	}
	if got.Msg.Status != HealthHealthy {
		t.Errorf("Status = %s, want healthy", got.Msg.Status)
	}
	if got.Msg.Bridge != "lounge" || got.Msg.Version != "test" || got.Msg.DevicesManaged != 2 {
		t.Errorf("message = %+v", got.Msg)
	}
	if got.Msg.Statistics.DroppedEvents != 3 {
		t.Errorf("DroppedEvents = %d, want 3", got.Msg.Statistics.DroppedEvents)
	}
}

func TestHealthReporter_Status(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		events     []error
		wantStatus HealthStatus
		wantReason string
	}{
		{"healthy", true, nil, HealthHealthy, ""},
		{"disconnected", false, nil, HealthDegraded, "MQTT disconnected"},
		{"last failed", true, []error{nil, errors.New("pin gone")}, HealthDegraded, "last transmission failed"},
		{"recovered", true, []error{errors.New("pin gone"), nil}, HealthHealthy, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestReporter(&mockPublisher{connected: tt.connected})
			for _, err := range tt.events {
				h.ObserveTransition(context.Background(), device.Event{Device: "lamp", Err: err})
			}

			msg := h.Snapshot()
			if msg.Status != tt.wantStatus || msg.Reason != tt.wantReason {
				t.Errorf("status = %s (%q), want %s (%q)", msg.Status, msg.Reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_CountsTransitions(t *testing.T) {
	h := newTestReporter(&mockPublisher{connected: true})
	ctx := context.Background()

	h.ObserveTransition(ctx, device.Event{Device: "lamp", On: true})
	h.ObserveTransition(ctx, device.Event{Device: "lamp", Err: errors.New("radio: transmit failed")})
	h.ObserveTransition(ctx, device.Event{Device: "fan", On: true})

	stats := h.Snapshot().Statistics
	if stats.Transmissions != 3 || stats.Failures != 1 {
		t.Errorf("Statistics = %+v, want 3 transmissions, 1 failure", stats)
	}
	if got := h.Snapshot().LastError; got != "radio: transmit failed" {
		t.Errorf("LastError = %q", got)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	pub := &mockPublisher{connected: true}
	h := newTestReporter(pub)

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	h.Start(context.Background())
	waitUntil(t, func() bool { return len(pub.Messages()) >= 3 })
	h.Stop()
	h.Stop()

	msgs := pub.Messages()
	if msgs[0].Msg.Status != HealthStarting {
		t.Errorf("first status = %s, want starting", msgs[0].Msg.Status)
	}
	if last := msgs[len(msgs)-1].Msg.Status; last != HealthStopping {
		t.Errorf("last status = %s, want stopping", last)
	}

	// No further periodic publications after Stop.
	n := len(pub.Messages())
	time.Sleep(30 * time.Millisecond)
	if len(pub.Messages()) != n {
		t.Error("reporter kept publishing after Stop")
	}
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "lounge"})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() error = %v", err)
	}
	if h.Topic() != "radioswitch/lounge/health" {
		t.Errorf("Topic() = %s", h.Topic())
	}
}
