package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang with the bridge's connection conventions.
//
// It provides connection management, message publishing, subscription
// handling, availability reporting and automatic reconnection.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's delivery goroutine and must not block on another
// MQTT round trip. The bridge's handler only enqueues the message.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// New creates a client without connecting. Callbacks and the logger should
// be set before Connect so the first connection is observed too.
func New(cfg config.MQTTConfig) *Client {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{
		cfg:           cfg,
		options:       opts,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Info("reconnecting to MQTT broker")
		}
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect makes one connection attempt. It may be called again after a
// failure; retry policy belongs to the caller.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously and may not have executed
	// yet, so IsConnected must already report true when Connect returns.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return nil
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Info("connected to MQTT broker",
			"host", c.cfg.Broker.Host,
			"port", c.cfg.Broker.Port,
		)
	}

	c.restoreSubscriptions()
	c.publishAvailability(PayloadOnline)

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Not waited on: this runs on paho's callback goroutine.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

func (c *Client) publishAvailability(payload string) pahomqtt.Token {
	return c.client.Publish(Topics{}.Availability(c.cfg.Broker.ClientID), byte(c.cfg.QoS), true, payload)
}

// BridgeID returns the client id, which also names the bridge's own topics.
func (c *Client) BridgeID() string {
	return c.cfg.Broker.ClientID
}

// Close publishes "offline" to the availability topic and disconnects.
//
// Returns:
//   - error: If disconnect fails (connection already closed is not an error)
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishAvailability(PayloadOffline).WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect, after tracked
// subscriptions have been restored.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection events and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
