package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/matthewwall/weewx-emoncms/internal/config"
	"github.com/matthewwall/weewx-emoncms/internal/emoncms"
	"github.com/matthewwall/weewx-emoncms/internal/metrics"
)

// Subscriber receives archive records from the station's MQTT topic. One
// record arrives per completed observation interval; the handler's only
// job is a non-blocking hand-off to the delivery backlog.
type Subscriber struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	// RecordHandler is called for each valid archive record.
	RecordHandler func(rec emoncms.Record)
}

// SetRecordHandler sets the handler for incoming archive records.
func (s *Subscriber) SetRecordHandler(handler func(rec emoncms.Record)) {
	s.RecordHandler = handler
}

func NewSubscriber(cfg config.Config, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Callbacks keep internal state accurate
	opts.SetOnConnectHandler(s.onConnect)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Connect establishes the broker connection. It respects ctx and
// Disconnect(). The archive topic subscription is made by the on-connect
// callback once the connection is up.
func (s *Subscriber) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber stopped")
	default:
	}

	// Fast path.
	if s.IsConnected() {
		return nil
	}

	// Start connect attempt.
	token := s.client.Connect()

	// Wait in a ctx/stop-aware loop.
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// OnConnectHandler sets connected=true.
			break
		}

		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("subscriber stopped")
		default:
		}
	}

	// Subscription happens in the on-connect callback so it is also
	// re-established after an automatic reconnect.
	return nil
}

// onConnect runs on every successful connect, including paho's automatic
// reconnects. The session is clean, so the broker forgets the subscription
// whenever the connection drops and it must be re-established here.
func (s *Subscriber) onConnect(_ mqtt.Client) {
	s.setConnected(true)
	s.logger.Info("mqtt connected", "broker", s.cfg.MQTTBroker, "port", s.cfg.MQTTPort)
	if err := s.subscribe(); err != nil {
		s.logger.Error("mqtt subscribe failed", "topic", s.cfg.MQTTTopic, "error", err)
	}
}

func (s *Subscriber) subscribe() error {
	if !s.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	topic := s.cfg.MQTTTopic
	qos := byte(1) // At least once delivery

	messageHandler := func(client mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	}

	token := s.client.Subscribe(topic, qos, messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}

	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	var rec emoncms.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.logger.Warn("failed to parse archive record",
			"topic", topic,
			"error", err,
		)
		metrics.RecordsDropped.WithLabelValues("invalid").Inc()
		return
	}

	if err := validateRecord(rec); err != nil {
		s.logger.Warn("invalid archive record",
			"topic", topic,
			"error", err,
		)
		metrics.RecordsDropped.WithLabelValues("invalid").Inc()
		return
	}

	metrics.RecordsReceived.Inc()
	if s.RecordHandler != nil {
		s.RecordHandler(rec)
	}
}

func validateRecord(rec emoncms.Record) error {
	if _, ok := rec.Float("dateTime"); !ok {
		return fmt.Errorf("dateTime is required")
	}
	if _, ok := rec.Float("usUnits"); !ok {
		return fmt.Errorf("usUnits is required")
	}
	if len(rec) <= 2 {
		return fmt.Errorf("record carries no observations")
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	// Signal shutdown once (unblocks any Connect loops).
	s.stopOnce.Do(func() { close(s.stopCh) })

	// Unsubscribe before disconnecting
	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.cfg.MQTTTopic)
		token.WaitTimeout(2 * time.Second)
	}

	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
