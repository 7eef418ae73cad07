package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/radioswitch-bridge/internal/device"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/mqtt/mqtttest"
	"github.com/nerrad567/radioswitch-bridge/internal/radio"
)

// countingTransmitter records codes without touching a pin.
type countingTransmitter struct {
	mu   sync.Mutex
	sent []string
}

func (c *countingTransmitter) Transmit(_ context.Context, code radio.Code) (radio.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, code.String())
	return radio.Result{Repeats: radio.DefaultRepeatCount}, nil
}

func (c *countingTransmitter) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// TestBridge_LampOverBroker runs the lamp scenario through a real broker:
// the bridge connects, announces OFF, and follows commands from another
// client.
func TestBridge_LampOverBroker(t *testing.T) {
	broker := mqtttest.Start(t)
	client := mqtt.New(broker.Config("lounge"))
	t.Cleanup(func() { client.Close() })

	svc, err := NewService(Options{
		Client:    client,
		QoS:       1,
		Reconnect: fastReconnect(),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(svc.Stop)

	on, _ := radio.ParseCode("000001000101010100110011")
	off, _ := radio.ParseCode("000001000101010100111100")
	tx := &countingTransmitter{}
	health := NewHealthReporter(HealthReporterConfig{BridgeID: "lounge", DeviceCount: 1, Publisher: svc, Drops: svc})

	lamp, err := device.New(device.Config{
		Name:         "LivingRoom:CornerLamp",
		StatusTopic:  "livingroom/lamp/status",
		CommandTopic: "livingroom/lamp/set",
		OnCode:       on,
		OffCode:      off,
	}, device.Options{Bridge: svc, Transmitter: tx, Observer: health})
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	registry := device.NewRegistry([]*device.Device{lamp}, nil)

	if err := svc.Start(context.Background(), registry); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	broker.WaitFor(t, "radioswitch/lounge/status", mqtt.PayloadOnline, waitTimeout)
	broker.WaitFor(t, "livingroom/lamp/status", "0", waitTimeout)
	broker.WaitForSubscriber(t, "livingroom/lamp/set", waitTimeout)

	if err := broker.Publish("livingroom/lamp/set", "1", false); err != nil {
		t.Fatalf("broker Publish() error = %v", err)
	}
	broker.WaitFor(t, "livingroom/lamp/status", "1", waitTimeout)

	if err := broker.Publish("livingroom/lamp/set", "0", false); err != nil {
		t.Fatalf("broker Publish() error = %v", err)
	}
	waitUntil(t, func() bool { return len(tx.Sent()) == 3 })

	want := []string{off.String(), on.String(), off.String()}
	for i, code := range tx.Sent() {
		if code != want[i] {
			t.Errorf("transmission %d = %s, want %s", i, code, want[i])
		}
	}
	if lamp.IsOn() {
		t.Error("lamp should end OFF")
	}

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if v, ok := broker.Retained("livingroom/lamp/status"); ok && v == "0" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if v, _ := broker.Retained("livingroom/lamp/status"); v != "0" {
		t.Errorf("retained status = %q, want 0", v)
	}

	if err := health.PublishNow(); err != nil {
		t.Fatalf("health PublishNow() error = %v", err)
	}
	if got := health.Snapshot().Statistics.Transmissions; got != 3 {
		t.Errorf("health transmissions = %d, want 3", got)
	}
	waitUntil(t, func() bool { return len(broker.MessagesOn("radioswitch/lounge/health")) > 0 })
}
