package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/mqtt"
)

// Service defaults.
const (
	DefaultQueueSize      = 64
	DefaultEnqueueTimeout = 5 * time.Second

	defaultInitialDelay = time.Second
	defaultMaxDelay     = 60 * time.Second
)

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the subset of *mqtt.Client the service drives.
type MQTTClient interface {
	Connect() error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	SetOnConnect(callback func())
}

// Handler receives events from the dispatcher. Implemented by
// *device.Registry.
type Handler interface {
	OnConnected(ctx context.Context) error
	OnMessage(ctx context.Context, topic string, payload []byte) error
}

// ReconnectPolicy bounds the initial connection retry. Reconnects after the
// first successful connection are left to the MQTT client.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MaxElapsed of 0 retries until the context is cancelled.
	MaxElapsed time.Duration
}

// Options holds configuration for creating a Service.
type Options struct {
	// Client is the MQTT connection. Required.
	Client MQTTClient

	// QoS is used for command subscriptions.
	QoS byte

	// QueueSize bounds the event queue. Default: 64.
	QueueSize int

	// EnqueueTimeout is how long a callback waits for queue space before
	// the event is dropped. Default: 5s.
	EnqueueTimeout time.Duration

	// Reconnect controls the initial connect retry.
	Reconnect ReconnectPolicy

	// Logger is optional.
	Logger Logger
}

// Stats counts events seen by the service.
type Stats struct {
	Received  uint64
	Processed uint64
	Dropped   uint64
}

type eventKind int

const (
	eventConnected eventKind = iota
	eventMessage
)

type event struct {
	kind    eventKind
	topic   string
	payload []byte
}

// Service serialises broker events onto one goroutine.
//
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	client         MQTTClient
	qos            byte
	enqueueTimeout time.Duration
	reconnect      ReconnectPolicy
	logger         Logger

	events chan event

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64

	started   atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewService creates a service. Call Start to connect and begin dispatching.
func NewService(opts Options) (*Service, error) {
	if opts.Client == nil {
		return nil, ErrNoClient
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	timeout := opts.EnqueueTimeout
	if timeout <= 0 {
		timeout = DefaultEnqueueTimeout
	}
	reconnect := opts.Reconnect
	if reconnect.InitialDelay <= 0 {
		reconnect.InitialDelay = defaultInitialDelay
	}
	if reconnect.MaxDelay <= 0 {
		reconnect.MaxDelay = defaultMaxDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		client:         opts.Client,
		qos:            opts.QoS,
		enqueueTimeout: timeout,
		reconnect:      reconnect,
		logger:         logger,
		events:         make(chan event, queueSize),
		done:           make(chan struct{}),
		ctx:            ctx,
		ctxCancel:      cancel,
	}, nil
}

// Start launches the dispatcher and connects, retrying with exponential
// backoff until the broker accepts the connection, ctx is cancelled or the
// retry budget runs out.
//
// Every successful connection, including later automatic reconnects,
// queues a connected event that calls handler.OnConnected. If no connection
// is made the dispatcher is stopped before Start returns.
func (s *Service) Start(ctx context.Context, handler Handler) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.wg.Add(1)
	go s.dispatch(handler)

	s.client.SetOnConnect(s.HandleConnect)

	if err := s.connect(ctx); err != nil {
		s.Stop()
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	return nil
}

func (s *Service) connect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.reconnect.InitialDelay
	policy.MaxInterval = s.reconnect.MaxDelay
	policy.MaxElapsedTime = s.reconnect.MaxElapsed

	attempt := 0
	operation := func() error {
		attempt++
		return s.client.Connect()
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("MQTT connect failed, retrying",
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
}

// Stop stops the dispatcher. An event being handled finishes first; queued
// events are discarded. Safe to call multiple times.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.ctxCancel()
		s.wg.Wait()
		s.logger.Info("bridge stopped",
			"processed", s.processed.Load(),
			"dropped", s.dropped.Load(),
		)
	})
}

// HandleConnect queues a connected event. Registered as the MQTT client's
// on-connect callback by Start.
func (s *Service) HandleConnect() {
	if err := s.enqueue(event{kind: eventConnected}); err != nil {
		s.logger.Error("dropping connect event", "error", err)
	}
}

// Subscribe subscribes to topic; messages on it are queued for the handler.
func (s *Service) Subscribe(topic string) error {
	return s.client.Subscribe(topic, s.qos, func(topic string, payload []byte) error {
		return s.enqueue(event{kind: eventMessage, topic: topic, payload: payload})
	})
}

// Publish sends a message through the MQTT client.
func (s *Service) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return s.client.Publish(topic, payload, qos, retained)
}

// IsConnected reports the MQTT connection state.
func (s *Service) IsConnected() bool {
	return s.client.IsConnected()
}

// Stats returns event counters.
func (s *Service) Stats() Stats {
	return Stats{
		Received:  s.received.Load(),
		Processed: s.processed.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Dropped returns the number of events dropped because the queue was full.
func (s *Service) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Service) enqueue(ev event) error {
	s.received.Add(1)

	select {
	case <-s.done:
		s.dropped.Add(1)
		return ErrStopped
	default:
	}

	select {
	case s.events <- ev:
		return nil
	default:
	}

	timer := time.NewTimer(s.enqueueTimeout)
	defer timer.Stop()

	select {
	case s.events <- ev:
		return nil
	case <-timer.C:
		s.dropped.Add(1)
		return fmt.Errorf("%w: %s after %v", ErrQueueFull, describe(ev), s.enqueueTimeout)
	case <-s.done:
		s.dropped.Add(1)
		return ErrStopped
	}
}

// dispatch is the only goroutine that calls the handler.
func (s *Service) dispatch(handler Handler) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.handle(handler, ev)
			s.processed.Add(1)
		}
	}
}

func (s *Service) handle(handler Handler, ev event) {
	var err error
	switch ev.kind {
	case eventConnected:
		s.logger.Info("announcing devices after connect")
		err = handler.OnConnected(s.ctx)
	case eventMessage:
		s.logger.Debug("dispatching message", "topic", ev.topic, "payload", string(ev.payload))
		err = handler.OnMessage(s.ctx, ev.topic, ev.payload)
	}
	if err != nil {
		// Already logged per device by the handler.
		s.logger.Debug("event handled with errors", "event", describe(ev), "error", err)
	}
}

func describe(ev event) string {
	if ev.kind == eventConnected {
		return "connect"
	}
	return "message on " + ev.topic
}
