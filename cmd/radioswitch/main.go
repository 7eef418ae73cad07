// Radio switch bridge.
//
// Bridges MQTT commands to 433 MHz radio-controlled mains switches keyed
// by a single GPIO output. Each configured device listens on a command
// topic, transmits its on or off code and reports its state on a retained
// status topic.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/radioswitch-bridge/internal/bridge"
	"github.com/nerrad567/radioswitch-bridge/internal/device"
	"github.com/nerrad567/radioswitch-bridge/internal/discovery"
	"github.com/nerrad567/radioswitch-bridge/internal/gpio"
	"github.com/nerrad567/radioswitch-bridge/internal/history"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/config"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/database"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/radioswitch-bridge/internal/radio"
	"github.com/nerrad567/radioswitch-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// outputPin is a radio.Pin that must be released on shutdown.
type outputPin interface {
	radio.Pin
	io.Closer
}

// openPin requests the transmitter's GPIO line. Replaced in tests.
var openPin = func(cfg config.GPIOConfig) (outputPin, error) {
	return gpio.Open(gpio.Config{
		Chip:   cfg.Chip,
		Offset: cfg.Pin,
	})
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting radio switch bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// GPIO
	log.Info("Setting up GPIO", "chip", cfg.GPIO.Chip, "pin", cfg.GPIO.Pin)
	pin, err := openPin(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("setting up GPIO: %w", err)
	}
	defer func() {
		log.Info("Cleaning up GPIO")
		if closeErr := pin.Close(); closeErr != nil {
			log.Error("error releasing GPIO line", "error", closeErr)
		}
	}()

	transmitter, err := radio.NewTransmitter(pin,
		radio.WithRepeatCount(cfg.Radio.RepeatCount),
		radio.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("creating transmitter: %w", err)
	}

	var observers device.MultiObserver

	// Transmission history (optional)
	var db *database.DB
	var pruner *history.Pruner
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		repo := history.NewSQLiteRepository(db.DB)
		observers = append(observers, history.NewRecorder(repo, log))

		if retention := cfg.HistoryRetention(); retention > 0 {
			pruner, err = history.NewPruner(repo, history.PrunerConfig{Retention: retention}, log)
			if err != nil {
				return fmt.Errorf("creating history pruner: %w", err)
			}
		}
	} else {
		log.Info("transmission history disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		observers = append(observers, influxObserver{client: influxClient})
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT
	log.Info("Connecting to MQTT",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	svc, err := bridge.NewService(bridge.Options{
		Client:         mqttClient,
		QoS:            byte(cfg.MQTT.QoS),
		QueueSize:      cfg.Bridge.QueueSize,
		EnqueueTimeout: cfg.EnqueueTimeout(),
		Reconnect: bridge.ReconnectPolicy{
			InitialDelay: time.Duration(cfg.MQTT.Reconnect.InitialDelay) * time.Second,
			MaxDelay:     time.Duration(cfg.MQTT.Reconnect.MaxDelay) * time.Second,
			MaxElapsed:   time.Duration(cfg.MQTT.Reconnect.MaxElapsed) * time.Second,
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	health := bridge.NewHealthReporter(bridge.HealthReporterConfig{
		BridgeID:    mqttClient.BridgeID(),
		Version:     version,
		Interval:    cfg.HealthInterval(),
		DeviceCount: len(cfg.Devices),
		Publisher:   svc,
		Drops:       svc,
	})
	health.SetLogger(log)
	observers = append(observers, health)

	devices, err := buildDevices(cfg.Devices, device.Options{
		Bridge:      svc,
		Transmitter: transmitter,
		Logger:      log,
		Observer:    observers,
	})
	if err != nil {
		return err
	}
	registry := device.NewRegistry(devices, log)
	log.Info("devices configured", "devices", registry.Len())

	handler := connectHandler{registry: registry}
	if cfg.Discovery.Enabled {
		handler.discovery = discovery.NewPublisher(discovery.Config{
			Prefix:   cfg.Discovery.Prefix,
			BridgeID: mqttClient.BridgeID(),
			Version:  version,
		}, svc, registry.Devices(), log)
	}

	defer svc.Stop()
	if err := svc.Start(ctx, handler); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("MQTT connected")

	if pruner != nil {
		pruner.Start(ctx)
		defer pruner.Stop()
		log.Info("history pruning enabled", "retention_days", cfg.Database.Retention)
	}

	if err := health.PublishStarting(); err != nil {
		log.Warn("failed to publish starting health", "error", err)
	}
	health.Start(ctx)
	defer health.Stop()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Health reporter (publishes "stopping")
	// 2. History pruner (if enabled)
	// 3. Bridge event loop
	// 4. MQTT
	// 5. InfluxDB (if enabled)
	// 6. Database (if enabled)
	// 7. GPIO

	log.Info("radio switch bridge stopped")
	return nil
}

// buildDevices creates one device per configured entry, in order.
func buildDevices(entries []config.DeviceConfig, opts device.Options) ([]*device.Device, error) {
	devices := make([]*device.Device, 0, len(entries))
	for _, e := range entries {
		onCode, err := radio.ParseCode(e.OnCode)
		if err != nil {
			return nil, fmt.Errorf("device %q on code: %w", e.Name, err)
		}
		offCode, err := radio.ParseCode(e.OffCode)
		if err != nil {
			return nil, fmt.Errorf("device %q off code: %w", e.Name, err)
		}

		d, err := device.New(device.Config{
			Name:         e.Name,
			StatusTopic:  e.StatusTopic,
			CommandTopic: e.CommandTopic,
			OnCode:       onCode,
			OffCode:      offCode,
		}, opts)
		if err != nil {
			return nil, fmt.Errorf("creating device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// connectHandler routes bridge events to the registry. On every
// (re)connect the discovery configs are published before the devices
// announce themselves.
type connectHandler struct {
	registry  *device.Registry
	discovery *discovery.Publisher
}

// OnConnected implements bridge.Handler.
func (h connectHandler) OnConnected(ctx context.Context) error {
	var discoveryErr error
	if h.discovery != nil {
		discoveryErr = h.discovery.PublishAll()
	}
	return errors.Join(discoveryErr, h.registry.OnConnected(ctx))
}

// OnMessage implements bridge.Handler.
func (h connectHandler) OnMessage(ctx context.Context, topic string, payload []byte) error {
	return h.registry.OnMessage(ctx, topic, payload)
}

// influxObserver writes transitions to InfluxDB.
type influxObserver struct {
	client *influxdb.Client
}

// ObserveTransition implements device.Observer.
func (o influxObserver) ObserveTransition(_ context.Context, ev device.Event) {
	o.client.WriteTransmission(influxdb.Transmission{
		Device:  ev.Device,
		On:      ev.On,
		Source:  string(ev.Source),
		Repeats: ev.Result.Repeats,
		Elapsed: ev.Result.Elapsed,
		OK:      ev.Err == nil,
		At:      ev.At,
	})
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
