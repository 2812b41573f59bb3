// Package modbus implements the panel's Modbus TCP link to the plant.
//
// The plant exposes every unit on a single listener, so one TCP session
// carries all traffic. The underlying handler addresses one slave id at
// a time; the client swaps the id per request under the session lock.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/hvac-control/internal/domain"
)

// Config holds the link settings for the plant connection.
type Config struct {
	// Address is the host:port of the plant's Modbus endpoint.
	Address string

	// Timeout is the per-request response timeout.
	Timeout time.Duration

	// IdleTimeout is how long the TCP session may sit unused before the
	// handler recycles it.
	IdleTimeout time.Duration

	// MaxRetries is the number of retry attempts on transient failures.
	MaxRetries int

	// RetryDelay is the base delay between retries, doubled per attempt.
	RetryDelay time.Duration
}

// ClientStats tracks link counters.
type ClientStats struct {
	Reads      atomic.Uint64
	Writes     atomic.Uint64
	Errors     atomic.Uint64
	Retries    atomic.Uint64
	Reconnects atomic.Uint64
}

// Client is the Modbus TCP client for the plant endpoint. It implements
// domain.PlantLink.
type Client struct {
	config Config
	logger zerolog.Logger

	mu        sync.Mutex
	handler   *modbus.TCPClientHandler
	client    modbus.Client
	connected atomic.Bool

	stats ClientStats
}

// NewClient creates a plant link. The connection is established lazily
// on the first request, or explicitly via Connect.
func NewClient(config Config, logger zerolog.Logger) (*Client, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("%w: plant address is required", domain.ErrInvalidConfig)
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 60 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 100 * time.Millisecond
	}

	return &Client{
		config: config,
		logger: logger.With().Str("component", "plant_link").Str("address", config.Address).Logger(),
	}, nil
}

// Connect establishes the TCP session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	handler := modbus.NewTCPClientHandler(c.config.Address)
	handler.Timeout = c.config.Timeout
	handler.IdleTimeout = c.config.IdleTimeout

	// handler.Connect blocks without honoring a context, so run it on
	// its own goroutine and race it against ctx.
	connectDone := make(chan error, 1)
	go func() {
		connectDone <- handler.Connect()
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, ctx.Err())
	}

	c.handler = handler
	c.client = modbus.NewClient(handler)
	c.connected.Store(true)

	c.logger.Info().Msg("Connected to plant")
	return nil
}

// Close shuts the TCP session down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		return nil
	}

	var err error
	if c.handler != nil {
		err = c.handler.Close()
	}
	c.handler = nil
	c.client = nil
	c.connected.Store(false)

	c.logger.Debug().Msg("Plant link closed")
	return err
}

// IsConnected reports whether the TCP session is up.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// HealthCheck ensures the TCP session is up, dialing if necessary.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// Stats returns the link counters for direct access.
func (c *Client) Stats() *ClientStats {
	return &c.stats
}

// ReadHoldingRegisters reads exactly quantity registers from one unit.
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID uint8, addr, quantity uint16) ([]uint16, error) {
	var regs []uint16
	err := c.execute(ctx, unitID, func(mc modbus.Client) error {
		raw, err := mc.ReadHoldingRegisters(addr, quantity)
		if err != nil {
			return translateError(err)
		}
		regs, err = decodeRegisters(raw, int(quantity))
		return err
	})
	if err != nil {
		return nil, err
	}
	c.stats.Reads.Add(1)
	return regs, nil
}

// ReadDiscreteInputs reads exactly quantity discrete inputs from one
// unit.
func (c *Client) ReadDiscreteInputs(ctx context.Context, unitID uint8, addr, quantity uint16) ([]bool, error) {
	var bits []bool
	err := c.execute(ctx, unitID, func(mc modbus.Client) error {
		raw, err := mc.ReadDiscreteInputs(addr, quantity)
		if err != nil {
			return translateError(err)
		}
		bits, err = decodeBits(raw, int(quantity))
		return err
	})
	if err != nil {
		return nil, err
	}
	c.stats.Reads.Add(1)
	return bits, nil
}

// WriteSingleCoil writes one coil, function code 0x05.
func (c *Client) WriteSingleCoil(ctx context.Context, unitID uint8, addr uint16, on bool) error {
	err := c.execute(ctx, unitID, func(mc modbus.Client) error {
		if _, err := mc.WriteSingleCoil(addr, coilValue(on)); err != nil {
			return translateError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.stats.Writes.Add(1)
	return nil
}

// WriteSingleRegister writes one holding register, function code 0x06.
func (c *Client) WriteSingleRegister(ctx context.Context, unitID uint8, addr, value uint16) error {
	err := c.execute(ctx, unitID, func(mc modbus.Client) error {
		if _, err := mc.WriteSingleRegister(addr, value); err != nil {
			return translateError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.stats.Writes.Add(1)
	return nil
}

// execute runs one Modbus operation against a unit with retry on
// transient failures. Modbus exceptions come back from the server as
// answers, not transport failures, so they are never retried.
func (c *Client) execute(ctx context.Context, unitID uint8, op func(modbus.Client) error) error {
	var err error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.stats.Retries.Add(1)
			delay := c.backoff(attempt)
			c.logger.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Uint8("unit_id", unitID).
				Msg("Retrying plant request")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = c.run(ctx, unitID, op)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			c.stats.Errors.Add(1)
			return err
		}
		c.reconnect(ctx)
	}

	c.stats.Errors.Add(1)
	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, err)
}

// run performs a single attempt while holding the session lock, which
// both guards the shared handler state and makes the slave id swap safe.
func (c *Client) run(ctx context.Context, unitID uint8, op func(modbus.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	c.handler.SlaveId = unitID
	return op(c.client)
}

// reconnect tears the session down so the next attempt redials.
func (c *Client) reconnect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler != nil {
		if err := c.handler.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Error closing plant link before redial")
		}
	}
	c.handler = nil
	c.client = nil
	c.connected.Store(false)
	c.stats.Reconnects.Add(1)
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.config.RetryDelay * time.Duration(1<<uint(attempt-1))
	const maxDelay = 5 * time.Second
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// isRetryable reports whether an error is transport-level and worth
// another attempt.
func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrDeviceTimeout) ||
		errors.Is(err, domain.ErrConnectionFailed) ||
		errors.Is(err, domain.ErrConnectionClosed)
}
