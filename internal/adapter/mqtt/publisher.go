// Package mqtt publishes per-AC telemetry and accepts write commands
// over an MQTT broker. The whole adapter is optional; the panel runs
// fine without a broker configured.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/hvac-control/internal/domain"
	"github.com/nexus-edge/hvac-control/internal/metrics"
)

// Config holds MQTT session configuration.
type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	PublishTimeout time.Duration

	// BufferSize caps how many readings are held while the broker is
	// unreachable. The oldest reading is dropped first on overflow.
	BufferSize int

	RetainMessages bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "hvac-panel",
		TopicPrefix:    "hvac",
		QoS:            1,
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReconnectDelay: 5 * time.Second,
		PublishTimeout: 5 * time.Second,
		BufferSize:     10000,
	}
}

type bufferedMessage struct {
	topic   string
	payload []byte
}

// PublisherStats is a point-in-time copy of the publisher counters.
type PublisherStats struct {
	Published  uint64
	Failed     uint64
	Buffered   uint64
	Reconnects uint64
}

// Publisher pushes readings to the broker, buffering them while the
// connection is down. Implements service.Publisher and health.Checker.
type Publisher struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.PanelMetrics

	mu        sync.RWMutex
	client    pahomqtt.Client
	connected atomic.Bool

	buffer chan bufferedMessage
	done   chan struct{}
	wg     sync.WaitGroup

	published  atomic.Uint64
	failed     atomic.Uint64
	buffered   atomic.Uint64
	reconnects atomic.Uint64
}

// NewPublisher creates a publisher. Connect must be called before
// readings flow.
func NewPublisher(cfg Config, logger zerolog.Logger, m *metrics.PanelMetrics) (*Publisher, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("%w: broker URL is required", domain.ErrInvalidConfig)
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "hvac"
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	return &Publisher{
		cfg:     cfg,
		logger:  logger.With().Str("component", "mqtt-publisher").Logger(),
		metrics: m,
		buffer:  make(chan bufferedMessage, cfg.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Connect establishes the broker session and starts the buffer drainer.
// The paho client keeps reconnecting on its own afterwards.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.cfg.BrokerURL)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(p.cfg.KeepAlive)
	opts.SetConnectTimeout(p.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(p.cfg.ReconnectDelay)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)
	opts.SetReconnectingHandler(p.onReconnecting)

	client := pahomqtt.NewClient(opts)

	p.logger.Info().Str("broker", p.cfg.BrokerURL).Msg("Connecting to MQTT broker")

	token := client.Connect()
	waitDone := make(chan bool, 1)
	go func() { waitDone <- token.WaitTimeout(p.cfg.ConnectTimeout) }()

	select {
	case ok := <-waitDone:
		if !ok {
			return fmt.Errorf("%w: connect timeout", domain.ErrMQTTConnectionFailed)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, ctx.Err())
	}

	p.mu.Lock()
	p.client = client
	p.done = make(chan struct{})
	p.mu.Unlock()
	p.connected.Store(true)

	p.wg.Add(1)
	go p.processBuffer()

	p.logger.Info().Msg("Connected to MQTT broker")
	return nil
}

// Disconnect drains the buffer and closes the session.
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	client := p.client
	p.mu.Unlock()

	p.wg.Wait()

	if client != nil && client.IsConnected() {
		client.Disconnect(1000)
	}
	p.connected.Store(false)
	p.logger.Info().Msg("Disconnected from MQTT broker")
}

// PublishReadings pushes one poll's readings out. Readings that cannot
// be sent right now are buffered; the returned error covers only
// serialization and immediate publish failures.
func (p *Publisher) PublishReadings(ctx context.Context, readings []domain.Reading) error {
	var lastErr error
	for _, r := range readings {
		payload, err := r.ToJSON()
		if err != nil {
			lastErr = fmt.Errorf("serialize reading: %w", err)
			continue
		}
		topic := r.Topic(p.cfg.TopicPrefix)

		if !p.connected.Load() {
			p.bufferMessage(topic, payload)
			continue
		}
		if err := p.publishRaw(ctx, topic, payload); err != nil {
			lastErr = err
		}
	}

	if p.metrics != nil {
		p.metrics.UpdateMQTTBufferSize(len(p.buffer))
	}
	return lastErr
}

func (p *Publisher) publishRaw(ctx context.Context, topic string, payload []byte) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client == nil {
		return domain.ErrMQTTNotConnected
	}

	token := client.Publish(topic, p.cfg.QoS, p.cfg.RetainMessages, payload)

	waitDone := make(chan bool, 1)
	go func() { waitDone <- token.WaitTimeout(p.cfg.PublishTimeout) }()

	select {
	case ok := <-waitDone:
		if !ok {
			p.recordFailure()
			return fmt.Errorf("%w: publish timeout", domain.ErrMQTTPublishFailed)
		}
		if err := token.Error(); err != nil {
			p.recordFailure()
			return fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, err)
		}
	case <-ctx.Done():
		p.recordFailure()
		return fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, ctx.Err())
	}

	p.published.Add(1)
	if p.metrics != nil {
		p.metrics.RecordMQTTPublish(true)
	}
	return nil
}

func (p *Publisher) recordFailure() {
	p.failed.Add(1)
	if p.metrics != nil {
		p.metrics.RecordMQTTPublish(false)
	}
}

// bufferMessage holds a reading for the drainer, dropping the oldest
// buffered reading when the channel is full.
func (p *Publisher) bufferMessage(topic string, payload []byte) {
	msg := bufferedMessage{topic: topic, payload: payload}

	select {
	case p.buffer <- msg:
		p.buffered.Add(1)
	default:
		select {
		case <-p.buffer:
			p.buffer <- msg
			p.buffered.Add(1)
			p.logger.Warn().Msg("Telemetry buffer full, dropped oldest reading")
		default:
		}
	}
}

// processBuffer flushes buffered readings once the session is back.
func (p *Publisher) processBuffer() {
	defer p.wg.Done()

	p.mu.RLock()
	done := p.done
	p.mu.RUnlock()

	for {
		select {
		case <-done:
			p.drainBuffer()
			return
		case msg := <-p.buffer:
			if !p.connected.Load() {
				// Put it back and wait for the reconnect.
				select {
				case p.buffer <- msg:
				default:
				}
				time.Sleep(100 * time.Millisecond)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
			if err := p.publishRaw(ctx, msg.topic, msg.payload); err != nil {
				p.logger.Warn().Err(err).Str("topic", msg.topic).Msg("Failed to publish buffered reading")
			}
			cancel()
		}
	}
}

// drainBuffer gives pending readings one last chance on shutdown.
func (p *Publisher) drainBuffer() {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-p.buffer:
			if !p.connected.Load() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
			if err := p.publishRaw(ctx, msg.topic, msg.payload); err != nil {
				p.logger.Warn().Err(err).Str("topic", msg.topic).Msg("Failed to drain buffered reading")
			}
			cancel()
		case <-deadline:
			if remaining := len(p.buffer); remaining > 0 {
				p.logger.Warn().Int("count", remaining).Msg("Timeout draining telemetry buffer, readings dropped")
			}
			return
		default:
			return
		}
	}
}

func (p *Publisher) onConnect(pahomqtt.Client) {
	p.connected.Store(true)
	p.logger.Info().Msg("MQTT connection established")
}

func (p *Publisher) onConnectionLost(_ pahomqtt.Client, err error) {
	p.connected.Store(false)
	p.logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (p *Publisher) onReconnecting(pahomqtt.Client, *pahomqtt.ClientOptions) {
	p.reconnects.Add(1)
	if p.metrics != nil {
		p.metrics.RecordMQTTReconnect()
	}
	p.logger.Info().Msg("Attempting to reconnect to MQTT broker")
}

// IsConnected reports whether the broker session is up.
func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

// BufferDepth returns the number of readings waiting for the broker.
func (p *Publisher) BufferDepth() int {
	return len(p.buffer)
}

// Stats returns a point-in-time copy of the publisher counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:  p.published.Load(),
		Failed:     p.failed.Load(),
		Buffered:   p.buffered.Load(),
		Reconnects: p.reconnects.Load(),
	}
}

// HealthCheck reports failure while the broker session is down.
func (p *Publisher) HealthCheck(context.Context) error {
	if !p.connected.Load() {
		return domain.ErrMQTTNotConnected
	}
	return nil
}

// Client exposes the underlying session for the command listener.
func (p *Publisher) Client() pahomqtt.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}
