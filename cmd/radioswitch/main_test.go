package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/radioswitch-bridge/internal/device"
	"github.com/nerrad567/radioswitch-bridge/internal/history"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/config"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/database"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/mqtt/mqtttest"
	"github.com/nerrad567/radioswitch-bridge/internal/radio"
	"github.com/nerrad567/radioswitch-bridge/migrations"
)

// fakePin records every level written to it.
type fakePin struct {
	mu     sync.Mutex
	levels []radio.Level
	closed bool
}

func (p *fakePin) Write(level radio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, level)
	return nil
}

func (p *fakePin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePin) snapshot() ([]radio.Level, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]radio.Level(nil), p.levels...), p.closed
}

// useFakePin swaps openPin for the duration of the test.
func useFakePin(t *testing.T, pin *fakePin, err error) {
	t.Helper()
	original := openPin
	openPin = func(config.GPIOConfig) (outputPin, error) {
		if err != nil {
			return nil, err
		}
		return pin, nil
	}
	t.Cleanup(func() { openPin = original })
}

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("RADIOSWITCH_CONFIG", path)
}

const lampDevice = `
devices:
  - name: "Lamp"
    status_topic: "lamp/status"
    command_topic: "lamp/set"
    on_code: "000001000101010100110011"
    off_code: "000001000101010100111100"
`

// TestRun_InvalidConfigPath verifies run fails with a missing config file.
func TestRun_InvalidConfigPath(t *testing.T) {
	t.Setenv("RADIOSWITCH_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidDeviceCode verifies validation rejects a bad code before
// any hardware is touched.
func TestRun_InvalidDeviceCode(t *testing.T) {
	pin := &fakePin{}
	useFakePin(t, pin, nil)
	writeConfig(t, `
devices:
  - name: "Lamp"
    status_topic: "lamp/status"
    command_topic: "lamp/set"
    on_code: "0102"
    off_code: "0101"
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "on_code") {
		t.Fatalf("run() error = %v, want on_code validation error", err)
	}
	if levels, _ := pin.snapshot(); len(levels) != 0 {
		t.Errorf("pin written %d times before validation failed", len(levels))
	}
}

// TestRun_GPIOError verifies a GPIO failure aborts startup.
func TestRun_GPIOError(t *testing.T) {
	useFakePin(t, nil, errors.New("permission denied"))
	writeConfig(t, lampDevice+`
database:
  enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "setting up GPIO") {
		t.Fatalf("run() error = %v, want GPIO error", err)
	}
}

// TestRun_StartupAndShutdown runs the whole bridge against an in-process
// broker and a fake GPIO line.
func TestRun_StartupAndShutdown(t *testing.T) {
	broker := mqtttest.Start(t)
	pin := &fakePin{}
	useFakePin(t, pin, nil)

	dbPath := filepath.Join(t.TempDir(), "radioswitch.db")
	seedExpiredHistory(t, dbPath)
	writeConfig(t, `
mqtt:
  broker:
    host: "`+broker.Host+`"
    port: `+strconv.Itoa(broker.Port)+`
    client_id: "test-bridge"
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 2
    max_elapsed: 10

bridge:
  health_interval: 1

discovery:
  enabled: true

database:
  enabled: true
  path: "`+dbPath+`"
  retention: 30

logging:
  level: debug
  format: text
  output: stderr
`+lampDevice)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	broker.WaitForSubscriber(t, "lamp/set", 5*time.Second)
	broker.WaitFor(t, "lamp/status", device.PayloadOff, 5*time.Second)

	if err := broker.Publish("lamp/set", "1", false); err != nil {
		t.Fatalf("broker.Publish() error = %v", err)
	}
	broker.WaitFor(t, "lamp/status", device.PayloadOn, 5*time.Second)

	if got, ok := broker.Retained("homeassistant/switch/test-bridge_lamp/config"); !ok || !strings.Contains(got, `"command_topic":"lamp/set"`) {
		t.Errorf("discovery config = %q (retained %v)", got, ok)
	}
	if got, _ := broker.Retained(mqtt.Topics{}.Availability("test-bridge")); got != mqtt.PayloadOnline {
		t.Errorf("availability = %q, want online", got)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	levels, closed := pin.snapshot()
	if !closed {
		t.Error("GPIO line was not released")
	}
	if len(levels) == 0 {
		t.Error("pin was never written")
	} else if last := levels[len(levels)-1]; last != radio.Low {
		t.Errorf("pin ends %v after %d writes, want LOW", last, len(levels))
	}

	if got, _ := broker.Retained(mqtt.Topics{}.Availability("test-bridge")); got != mqtt.PayloadOffline {
		t.Errorf("availability after shutdown = %q, want offline", got)
	}
	health := broker.MessagesOn(mqtt.Topics{}.Health("test-bridge"))
	if len(health) == 0 || !strings.Contains(health[len(health)-1], `"status":"stopping"`) {
		t.Errorf("last health message = %v, want stopping", health)
	}

	db, err := database.Open(context.Background(), database.Config{Path: dbPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()

	entries, err := history.NewSQLiteRepository(db.DB).Recent(context.Background(), "Lamp", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history has %d entries, want 2 (announce, command; expired row pruned)", len(entries))
	}
	if entries[0].Source != "command" || !entries[0].On || entries[1].Source != "announce" || entries[1].On {
		t.Errorf("history = %+v", entries)
	}
}

// seedExpiredHistory creates the database with one row older than the
// configured retention.
func seedExpiredHistory(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: path, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	err = history.NewSQLiteRepository(db.DB).Record(ctx, history.Entry{
		Device:    "Lamp",
		Source:    "command",
		On:        true,
		CreatedAt: time.Now().Add(-60 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
}

// =============================================================================
// buildDevices
// =============================================================================

type nopBridge struct{}

func (nopBridge) Subscribe(string) error                   { return nil }
func (nopBridge) Publish(string, []byte, byte, bool) error { return nil }

type nopTransmitter struct{}

func (nopTransmitter) Transmit(context.Context, radio.Code) (radio.Result, error) {
	return radio.Result{}, nil
}

func TestBuildDevices(t *testing.T) {
	opts := device.Options{Bridge: nopBridge{}, Transmitter: nopTransmitter{}}
	entries := []config.DeviceConfig{
		{Name: "Lamp", StatusTopic: "lamp/status", CommandTopic: "lamp/set", OnCode: "1100", OffCode: "0011"},
		{Name: "Fan", StatusTopic: "fan/status", CommandTopic: "fan/set", OnCode: "10", OffCode: "01"},
	}

	devices, err := buildDevices(entries, opts)
	if err != nil {
		t.Fatalf("buildDevices() error = %v", err)
	}
	if len(devices) != 2 || devices[0].Name() != "Lamp" || devices[1].Name() != "Fan" {
		t.Fatalf("devices = %v, want Lamp then Fan", devices)
	}
	if devices[1].CommandTopic() != "fan/set" || devices[0].IsOn() {
		t.Errorf("unexpected device state: %s on=%v", devices[1].CommandTopic(), devices[0].IsOn())
	}
}

func TestBuildDevices_Errors(t *testing.T) {
	opts := device.Options{Bridge: nopBridge{}, Transmitter: nopTransmitter{}}

	tests := []struct {
		name  string
		entry config.DeviceConfig
		want  error
	}{
		{
			name:  "bad on code",
			entry: config.DeviceConfig{Name: "Lamp", StatusTopic: "s", CommandTopic: "c", OnCode: "12", OffCode: "01"},
			want:  radio.ErrInvalidCode,
		},
		{
			name:  "bad off code",
			entry: config.DeviceConfig{Name: "Lamp", StatusTopic: "s", CommandTopic: "c", OnCode: "10", OffCode: ""},
			want:  radio.ErrInvalidCode,
		},
		{
			name:  "length mismatch",
			entry: config.DeviceConfig{Name: "Lamp", StatusTopic: "s", CommandTopic: "c", OnCode: "101", OffCode: "01"},
			want:  device.ErrCodeLengthMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildDevices([]config.DeviceConfig{tt.entry}, opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("buildDevices() error = %v, want %v", err, tt.want)
			}
		})
	}
}
