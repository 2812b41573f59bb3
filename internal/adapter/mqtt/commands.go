package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/hvac-control/internal/domain"
	"github.com/nexus-edge/hvac-control/internal/metrics"
)

// Commander issues validated writes toward the plant. Implemented by
// the orchestrator; the same contract the HTTP API uses.
type Commander interface {
	SetCoil(ctx context.Context, unitID uint8, acIndex int, on bool) error
	SetThresholds(ctx context.Context, unitID uint8, acIndex, high, good int) error
}

// CommandConfig holds command listener configuration.
type CommandConfig struct {
	// TopicPrefix is shared with the publisher; commands arrive on
	// {prefix}/cmd/coil and {prefix}/cmd/thresholds.
	TopicPrefix string
	QoS         byte

	// WriteTimeout bounds each write toward the plant.
	WriteTimeout time.Duration

	// QueueSize bounds the inbound command queue. Commands arriving
	// while the queue is full are dropped and counted, never blocked on.
	QueueSize int
}

// DefaultCommandConfig returns sensible command listener defaults.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		TopicPrefix:  "hvac",
		QoS:          1,
		WriteTimeout: 10 * time.Second,
		QueueSize:    100,
	}
}

type coilCommand struct {
	Unit uint8 `json:"unit"`
	AC   int   `json:"ac"`
	On   bool  `json:"on"`
}

type thresholdsCommand struct {
	Unit uint8 `json:"unit"`
	AC   int   `json:"ac"`
	High int   `json:"high"`
	Good int   `json:"good"`
}

type queuedCommand struct {
	kind string
	run  func(ctx context.Context) error
}

// CommandListener subscribes to the write command topics and feeds the
// orchestrator through a bounded queue, one command at a time. Writes
// toward the plant serialize on a single Modbus session anyway, so one
// worker is enough and keeps ordering obvious.
type CommandListener struct {
	client    pahomqtt.Client
	commander Commander
	cfg       CommandConfig
	logger    zerolog.Logger
	metrics   *metrics.PanelMetrics

	queue   chan queuedCommand
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	received  atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewCommandListener creates a command listener on an established
// broker session.
func NewCommandListener(
	client pahomqtt.Client,
	commander Commander,
	cfg CommandConfig,
	logger zerolog.Logger,
	m *metrics.PanelMetrics,
) *CommandListener {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "hvac"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandListener{
		client:    client,
		commander: commander,
		cfg:       cfg,
		logger:    logger.With().Str("component", "command-listener").Logger(),
		metrics:   m,
		queue:     make(chan queuedCommand, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SubscribedTopics returns the topics this listener consumes.
func (l *CommandListener) SubscribedTopics() []string {
	return []string{
		l.cfg.TopicPrefix + "/cmd/coil",
		l.cfg.TopicPrefix + "/cmd/thresholds",
	}
}

// Start subscribes to the command topics and starts the worker.
func (l *CommandListener) Start() error {
	if !l.running.CompareAndSwap(false, true) {
		return nil
	}

	l.wg.Add(1)
	go l.processQueue()

	coilTopic := l.cfg.TopicPrefix + "/cmd/coil"
	token := l.client.Subscribe(coilTopic, l.cfg.QoS, l.handleCoilMessage)
	if token.Wait() && token.Error() != nil {
		l.cancel()
		l.running.Store(false)
		return fmt.Errorf("%w: %s: %v", domain.ErrMQTTSubscribeFailed, coilTopic, token.Error())
	}

	thresholdsTopic := l.cfg.TopicPrefix + "/cmd/thresholds"
	token = l.client.Subscribe(thresholdsTopic, l.cfg.QoS, l.handleThresholdsMessage)
	if token.Wait() && token.Error() != nil {
		l.client.Unsubscribe(coilTopic)
		l.cancel()
		l.running.Store(false)
		return fmt.Errorf("%w: %s: %v", domain.ErrMQTTSubscribeFailed, thresholdsTopic, token.Error())
	}

	l.logger.Info().
		Strs("topics", l.SubscribedTopics()).
		Int("queue_size", l.cfg.QueueSize).
		Msg("Command listener started")
	return nil
}

// Stop unsubscribes and waits for the worker to finish the command in
// flight. Queued commands are discarded.
func (l *CommandListener) Stop() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}

	for _, topic := range l.SubscribedTopics() {
		l.client.Unsubscribe(topic)
	}
	l.cancel()
	l.wg.Wait()

	l.logger.Info().
		Uint64("received", l.received.Load()).
		Uint64("succeeded", l.succeeded.Load()).
		Uint64("failed", l.failed.Load()).
		Uint64("dropped", l.dropped.Load()).
		Msg("Command listener stopped")
}

func (l *CommandListener) handleCoilMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	l.received.Add(1)

	var cmd coilCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		l.failed.Add(1)
		l.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Failed to decode coil command")
		return
	}

	l.enqueue(queuedCommand{
		kind: "coil",
		run: func(ctx context.Context) error {
			return l.commander.SetCoil(ctx, cmd.Unit, cmd.AC, cmd.On)
		},
	})
}

func (l *CommandListener) handleThresholdsMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	l.received.Add(1)

	var cmd thresholdsCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		l.failed.Add(1)
		l.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Failed to decode thresholds command")
		return
	}

	l.enqueue(queuedCommand{
		kind: "thresholds",
		run: func(ctx context.Context) error {
			return l.commander.SetThresholds(ctx, cmd.Unit, cmd.AC, cmd.High, cmd.Good)
		},
	})
}

func (l *CommandListener) enqueue(cmd queuedCommand) {
	select {
	case l.queue <- cmd:
	default:
		l.dropped.Add(1)
		if l.metrics != nil {
			l.metrics.RecordCommandDropped()
		}
		l.logger.Warn().Str("kind", cmd.kind).Msg("Command dropped: queue full")
	}
}

func (l *CommandListener) processQueue() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case cmd := <-l.queue:
			ctx, cancel := context.WithTimeout(l.ctx, l.cfg.WriteTimeout)
			err := cmd.run(ctx)
			cancel()

			if err != nil {
				l.failed.Add(1)
				l.logger.Warn().Err(err).Str("kind", cmd.kind).Msg("Command failed")
				continue
			}
			l.succeeded.Add(1)
			l.logger.Debug().Str("kind", cmd.kind).Msg("Command applied")
		}
	}
}

// Stats returns a point-in-time copy of the listener counters.
func (l *CommandListener) Stats() (received, succeeded, failed, dropped uint64) {
	return l.received.Load(), l.succeeded.Load(), l.failed.Load(), l.dropped.Load()
}
