package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for one connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options from the bridge config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (only when both username and password are set)
//   - Auto-reconnect after an established connection drops
//   - TLS configuration (if enabled)
//   - Clean session mode
//
// Initial connect retry is left to the caller so each failed attempt is
// reported instead of being retried silently inside paho.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.HasCredentials() {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Devices re-subscribe on every connect, so no broker-side session is needed.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT makes the broker publish "offline" to the availability topic
// if the bridge disappears without a clean disconnect.
//
// QoS: 1, Retained: true (new subscribers see the last availability)
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	opts.SetWill(Topics{}.Availability(clientID), PayloadOffline, 1, true)
}
