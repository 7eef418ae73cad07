// Package mqtttest runs an in-process MQTT broker for tests.
//
// It replaces the external Mosquitto instance the client tests would
// otherwise need, so every package that talks MQTT can be tested hermetically.
package mqtttest

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/config"
)

// Message is a publish observed by the broker.
type Message struct {
	Topic   string
	Payload string
	QoS     byte
}

// Broker is a running in-process broker bound to a loopback port.
type Broker struct {
	Server *mochi.Server
	Host   string
	Port   int

	mu       sync.Mutex
	messages []Message
	subID    int
}

// Start launches a broker that accepts any client and records every message
// published on any topic. It is closed automatically when the test ends.
func Start(t testing.TB) *Broker {
	t.Helper()

	port := freePort(t)
	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("mqtttest: add auth hook: %v", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(port))})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("mqtttest: add listener: %v", err)
	}

	go func() {
		_ = server.Serve() //nolint:errcheck // listener errors surface as client connect failures
	}()

	b := &Broker{Server: server, Host: "127.0.0.1", Port: port}
	if err := b.subscribe("#", func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		b.mu.Lock()
		b.messages = append(b.messages, Message{
			Topic:   pk.TopicName,
			Payload: string(pk.Payload),
			QoS:     pk.FixedHeader.Qos,
		})
		b.mu.Unlock()
	}); err != nil {
		t.Fatalf("mqtttest: record subscription: %v", err)
	}

	t.Cleanup(func() {
		server.Close()
	})
	return b
}

func (b *Broker) subscribe(filter string, fn mochi.InlineSubFn) error {
	b.mu.Lock()
	b.subID++
	id := b.subID
	b.mu.Unlock()
	return b.Server.Subscribe(filter, id, fn)
}

// Config returns a client configuration pointing at the broker.
func (b *Broker) Config(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     b.Host,
			Port:     b.Port,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// Publish injects a message as if an external client had sent it.
func (b *Broker) Publish(topic, payload string, retain bool) error {
	return b.Server.Publish(topic, []byte(payload), retain, 0)
}

// Messages returns every message recorded so far.
func (b *Broker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

// MessagesOn returns the recorded payloads for one topic, in order.
func (b *Broker) MessagesOn(topic string) []string {
	var out []string
	for _, m := range b.Messages() {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// Retained returns the retained payload for topic.
func (b *Broker) Retained(topic string) (string, bool) {
	msgs := b.Server.Topics.Messages(topic)
	if len(msgs) == 0 {
		return "", false
	}
	return string(msgs[len(msgs)-1].Payload), true
}

// WaitFor polls until a message with payload has been seen on topic.
func (b *Broker) WaitFor(t testing.TB, topic, payload string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, p := range b.MessagesOn(topic) {
			if p == payload {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("mqtttest: no %q on %s within %v (seen %s)", payload, topic, timeout, strings.Join(b.MessagesOn(topic), ","))
}

// WaitForSubscriber polls until a network client holds a subscription
// matching topic.
func (b *Broker) WaitForSubscriber(t testing.TB, topic string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(b.Server.Topics.Subscribers(topic).Subscriptions) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("mqtttest: no subscriber for %s within %v", topic, timeout)
}

func freePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("mqtttest: find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
