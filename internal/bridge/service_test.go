package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/mqtt"
)

const waitTimeout = 2 * time.Second

// MockMQTTClient is a test implementation of MQTTClient.
type MockMQTTClient struct {
	mu           sync.Mutex
	connectCalls int
	failConnects int
	connected    bool
	onConnect    func()
	handlers     map[string]mqtt.MessageHandler
	published    []string
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockMQTTClient) Connect() error {
	m.mu.Lock()
	m.connectCalls++
	if m.connectCalls <= m.failConnects {
		m.mu.Unlock()
		return mqtt.ErrConnectionFailed
	}
	m.connected = true
	callback := m.onConnect
	m.mu.Unlock()

	// paho invokes the handler on its own goroutine.
	if callback != nil {
		go callback()
	}
	return nil
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, topic+"="+string(payload))
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetOnConnect(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = callback
}

// Deliver simulates an inbound message and returns the handler's error.
func (m *MockMQTTClient) Deliver(topic, payload string) error {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no subscription for %s", topic)
	}
	return handler(topic, []byte(payload))
}

func (m *MockMQTTClient) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// recordingHandler records events; block, when set, holds each call until
// it is closed.
type recordingHandler struct {
	mu     sync.Mutex
	events []string
	seen   chan string
	block  chan struct{}
	active int
	maxAct int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(chan string, 100)}
}

func (h *recordingHandler) record(ev string) {
	h.mu.Lock()
	h.active++
	if h.active > h.maxAct {
		h.maxAct = h.active
	}
	block := h.block
	h.mu.Unlock()

	if block != nil {
		<-block
	}

	h.mu.Lock()
	h.events = append(h.events, ev)
	h.active--
	h.mu.Unlock()
	h.seen <- ev
}

func (h *recordingHandler) OnConnected(context.Context) error {
	h.record("connected")
	return nil
}

func (h *recordingHandler) OnMessage(_ context.Context, topic string, payload []byte) error {
	h.record(topic + "=" + string(payload))
	return nil
}

func (h *recordingHandler) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *recordingHandler) waitN(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.seen:
		case <-time.After(waitTimeout):
			t.Fatalf("handled %d events, want %d: %v", i, n, h.Events())
		}
	}
}

func fastReconnect() ReconnectPolicy {
	return ReconnectPolicy{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func startService(t *testing.T, client *MockMQTTClient, handler Handler, opts Options) *Service {
	t.Helper()
	opts.Client = client
	if opts.Reconnect == (ReconnectPolicy{}) {
		opts.Reconnect = fastReconnect()
	}
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if err := svc.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

// =============================================================================
// Construction / startup
// =============================================================================

func TestNewService_RequiresClient(t *testing.T) {
	if _, err := NewService(Options{}); !errors.Is(err, ErrNoClient) {
		t.Errorf("NewService() error = %v, want ErrNoClient", err)
	}
}

func TestStart_RetriesInitialConnect(t *testing.T) {
	client := NewMockMQTTClient()
	client.failConnects = 2
	handler := newRecordingHandler()

	startService(t, client, handler, Options{})

	if got := client.ConnectCalls(); got != 3 {
		t.Errorf("Connect() called %d times, want 3", got)
	}
	handler.waitN(t, 1)
	if got := handler.Events(); len(got) != 1 || got[0] != "connected" {
		t.Errorf("events = %v, want [connected]", got)
	}
}

func TestStart_GivesUpWhenContextCancelled(t *testing.T) {
	client := NewMockMQTTClient()
	client.failConnects = 1 << 30

	svc, err := NewService(Options{
		Client:    client,
		Reconnect: ReconnectPolicy{InitialDelay: 5 * time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	defer svc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = svc.Start(ctx, newRecordingHandler())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Start() error = %v, want context.DeadlineExceeded", err)
	}
	if client.ConnectCalls() < 2 {
		t.Errorf("Connect() called %d times, want retries", client.ConnectCalls())
	}
	assertDispatcherStopped(t, svc)
}

func TestStart_GivesUpAfterMaxElapsed(t *testing.T) {
	client := NewMockMQTTClient()
	client.failConnects = 1 << 30

	svc, err := NewService(Options{
		Client: client,
		Reconnect: ReconnectPolicy{
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			MaxElapsed:   20 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	defer svc.Stop()

	err = svc.Start(context.Background(), newRecordingHandler())
	if !errors.Is(err, mqtt.ErrConnectionFailed) {
		t.Errorf("Start() error = %v, want ErrConnectionFailed", err)
	}
	assertDispatcherStopped(t, svc)
}

// assertDispatcherStopped fails unless the dispatcher goroutine has exited
// and new events are refused.
func assertDispatcherStopped(t *testing.T, svc *Service) {
	t.Helper()

	exited := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("dispatcher still running after failed Start")
	}

	if err := svc.enqueue(event{kind: eventConnected}); !errors.Is(err, ErrStopped) {
		t.Errorf("enqueue() after failed Start error = %v, want ErrStopped", err)
	}
}

func TestStart_Twice(t *testing.T) {
	client := NewMockMQTTClient()
	svc := startService(t, client, newRecordingHandler(), Options{})

	if err := svc.Start(context.Background(), newRecordingHandler()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

// =============================================================================
// Dispatch
// =============================================================================

func TestDispatch_PreservesOrder(t *testing.T) {
	client := NewMockMQTTClient()
	handler := newRecordingHandler()
	svc := startService(t, client, handler, Options{})
	handler.waitN(t, 1)

	if err := svc.Subscribe("lamp/set"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	for _, p := range []string{"1", "0", "1", "1"} {
		if err := client.Deliver("lamp/set", p); err != nil {
			t.Fatalf("Deliver() error = %v", err)
		}
	}
	handler.waitN(t, 4)

	want := "[connected lamp/set=1 lamp/set=0 lamp/set=1 lamp/set=1]"
	if got := fmt.Sprint(handler.Events()); got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
	waitUntil(t, func() bool { return svc.Stats().Processed == 5 })
	if stats := svc.Stats(); stats.Received != 5 || stats.Dropped != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestDispatch_OneEventAtATime(t *testing.T) {
	client := NewMockMQTTClient()
	handler := newRecordingHandler()
	svc := startService(t, client, handler, Options{})
	handler.waitN(t, 1)
	_ = svc.Subscribe("a/set")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = client.Deliver("a/set", fmt.Sprint(i%2))
		}(i)
	}
	wg.Wait()
	handler.waitN(t, 20)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.maxAct != 1 {
		t.Errorf("handler ran %d events concurrently, want 1", handler.maxAct)
	}
}

func TestDispatch_QueuesDuringSlowHandlerThenDrops(t *testing.T) {
	client := NewMockMQTTClient()
	handler := newRecordingHandler()
	svc := startService(t, client, handler, Options{
		QueueSize:      1,
		EnqueueTimeout: 20 * time.Millisecond,
	})
	handler.waitN(t, 1)
	_ = svc.Subscribe("lamp/set")

	release := make(chan struct{})
	handler.mu.Lock()
	handler.block = release
	handler.mu.Unlock()

	// First message is picked up by the dispatcher and blocks.
	if err := client.Deliver("lamp/set", "1"); err != nil {
		t.Fatalf("Deliver(1) error = %v", err)
	}
	waitUntil(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.active == 1
	})

	// Second waits in the queue.
	if err := client.Deliver("lamp/set", "0"); err != nil {
		t.Fatalf("Deliver(0) error = %v", err)
	}
	// Third finds the queue full.
	if err := client.Deliver("lamp/set", "1"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Deliver() on full queue error = %v, want ErrQueueFull", err)
	}

	close(release)
	handler.waitN(t, 2)

	if got := fmt.Sprint(handler.Events()); got != "[connected lamp/set=1 lamp/set=0]" {
		t.Errorf("events = %s", got)
	}
	if svc.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", svc.Dropped())
	}
}

func TestReconnect_AnnouncesAgain(t *testing.T) {
	client := NewMockMQTTClient()
	handler := newRecordingHandler()
	svc := startService(t, client, handler, Options{})
	handler.waitN(t, 1)

	// paho calls the on-connect handler again after an automatic reconnect.
	svc.HandleConnect()
	handler.waitN(t, 1)

	if got := fmt.Sprint(handler.Events()); got != "[connected connected]" {
		t.Errorf("events = %s", got)
	}
}

func TestStop(t *testing.T) {
	client := NewMockMQTTClient()
	handler := newRecordingHandler()
	svc := startService(t, client, handler, Options{})
	handler.waitN(t, 1)
	_ = svc.Subscribe("lamp/set")

	svc.Stop()
	svc.Stop()

	if err := client.Deliver("lamp/set", "1"); !errors.Is(err, ErrStopped) {
		t.Errorf("Deliver() after Stop error = %v, want ErrStopped", err)
	}
	if len(handler.Events()) != 1 {
		t.Errorf("events after Stop = %v", handler.Events())
	}
}

func TestPublishPassesThrough(t *testing.T) {
	client := NewMockMQTTClient()
	svc := startService(t, client, newRecordingHandler(), Options{})

	if err := svc.Publish("lamp/status", []byte("1"), 2, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !svc.IsConnected() {
		t.Error("IsConnected() = false")
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if fmt.Sprint(client.published) != "[lamp/status=1]" {
		t.Errorf("published = %v", client.published)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met")
}
