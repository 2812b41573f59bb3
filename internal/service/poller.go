package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/hvac-control/internal/domain"
	"github.com/nexus-edge/hvac-control/internal/metrics"
)

// Publisher pushes poll telemetry to an external broker.
type Publisher interface {
	PublishReadings(ctx context.Context, readings []domain.Reading) error
}

// PollStats tracks poller counters.
type PollStats struct {
	Polls     atomic.Uint64
	Defaulted atomic.Uint64
}

// Poller reads the whole fleet on a fixed period, keeps the latest
// snapshot of every unit for the HTTP API, and hands telemetry to the
// publisher. The HTTP API never touches the wire directly: it serves
// this cache, at most one poll period stale.
type Poller struct {
	orchestrator *Orchestrator
	publisher    Publisher
	interval     time.Duration
	logger       zerolog.Logger
	metrics      *metrics.PanelMetrics

	mu        sync.RWMutex
	snapshots map[uint8]domain.UnitSnapshot

	started  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastPoll atomic.Int64
	stats    PollStats
}

// NewPoller builds the poller. The cache starts with every unit's fixed
// defaults flagged as placeholder data, so consumers see a full fleet
// before the first poll lands. publisher may be nil when telemetry is
// disabled.
func NewPoller(
	orchestrator *Orchestrator,
	publisher Publisher,
	interval time.Duration,
	logger zerolog.Logger,
	m *metrics.PanelMetrics,
) *Poller {
	if interval <= 0 {
		interval = 2500 * time.Millisecond
	}

	p := &Poller{
		orchestrator: orchestrator,
		publisher:    publisher,
		interval:     interval,
		logger:       logger.With().Str("component", "poller").Logger(),
		metrics:      m,
		snapshots:    make(map[uint8]domain.UnitSnapshot, len(orchestrator.Units())),
	}
	for _, unit := range orchestrator.Units() {
		snap := domain.DefaultSnapshot(unit.ID, orchestrator.Layout())
		snap.Name = unit.Name
		p.snapshots[unit.ID] = snap
	}
	return p
}

// Start begins the poll loop.
func (p *Poller) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info().
		Dur("interval", p.interval).
		Int("units", len(p.orchestrator.Units())).
		Msg("Starting poller")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.PollOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.PollOnce(ctx)
			}
		}
	}()
}

// Stop halts the poll loop and waits for the in-flight cycle.
func (p *Poller) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info().
		Uint64("polls", p.stats.Polls.Load()).
		Msg("Poller stopped")
}

// PollOnce runs a single poll cycle: read every unit, refresh the
// cache, publish telemetry.
func (p *Poller) PollOnce(ctx context.Context) {
	start := time.Now()
	snaps := p.orchestrator.ReadAll(ctx)

	p.mu.Lock()
	for _, snap := range snaps {
		p.snapshots[snap.UnitID] = snap
	}
	p.mu.Unlock()

	p.stats.Polls.Add(1)
	p.lastPoll.Store(time.Now().UnixNano())

	elapsed := time.Since(start)
	readings := make([]domain.Reading, 0, len(snaps)*4)
	for _, snap := range snaps {
		if snap.Defaulted {
			p.stats.Defaulted.Add(1)
			if p.metrics != nil {
				p.metrics.RecordPollError(snap.UnitID, "defaulted")
			}
		} else if p.metrics != nil {
			p.metrics.RecordPollSuccess(snap.UnitID, elapsed.Seconds())
		}
		readings = append(readings, domain.SnapshotReadings(snap)...)
	}

	if p.publisher != nil && len(readings) > 0 {
		if err := p.publisher.PublishReadings(ctx, readings); err != nil {
			p.logger.Warn().
				Err(err).
				Int("readings", len(readings)).
				Msg("Failed to publish telemetry")
		}
	}

	p.logger.Debug().
		Int("units", len(snaps)).
		Dur("duration", elapsed).
		Msg("Poll cycle completed")
}

// Snapshots returns the latest snapshot of every unit in fleet order.
func (p *Poller) Snapshots() []domain.UnitSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.UnitSnapshot, 0, len(p.snapshots))
	for _, unit := range p.orchestrator.Units() {
		if snap, ok := p.snapshots[unit.ID]; ok {
			out = append(out, snap)
		}
	}
	return out
}

// Snapshot returns the latest snapshot of one unit.
func (p *Poller) Snapshot(unitID uint8) (domain.UnitSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap, ok := p.snapshots[unitID]
	return snap, ok
}

// LastPoll returns when the last poll cycle completed.
func (p *Poller) LastPoll() time.Time {
	return time.Unix(0, p.lastPoll.Load())
}

// Stats returns a point-in-time copy of the poller counters.
func (p *Poller) Stats() (polls, defaulted uint64) {
	return p.stats.Polls.Load(), p.stats.Defaulted.Load()
}

// HealthCheck reports failure when the poller has missed three periods.
func (p *Poller) HealthCheck(ctx context.Context) error {
	if !p.started.Load() {
		return errors.New("poller not started")
	}
	last := p.LastPoll()
	if age := time.Since(last); age > 3*p.interval {
		return fmt.Errorf("last poll %s ago exceeds three poll periods", age.Round(time.Millisecond))
	}
	return nil
}
