// Package sim runs the plant's autonomous behavior: the hysteresis
// control loop and the discrete-input mirror loop, each a periodic task
// against the shared register store.
package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/hvac-control/internal/domain"
	"github.com/nexus-edge/hvac-control/internal/metrics"
	"github.com/nexus-edge/hvac-control/internal/store"
)

// ControlLoop applies threshold control and the temperature simulation
// step to every unit on a fixed period.
//
// Each unit's tick runs as one atomic store update: the hysteresis
// decision commits before the simulation step reads coil state, so a
// tick's temperature change always reflects that same tick's control
// decision.
type ControlLoop struct {
	store    *store.Store
	units    []uint8
	interval time.Duration
	logger   zerolog.Logger
	metrics  *metrics.PlantMetrics

	started  atomic.Bool
	lastTick atomic.Int64
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	stats LoopStats
}

// LoopStats tracks per-loop tick statistics.
type LoopStats struct {
	Ticks       atomic.Uint64
	UnitUpdates atomic.Uint64
	UnitErrors  atomic.Uint64
}

// NewControlLoop creates the control loop for the given units.
func NewControlLoop(st *store.Store, units []uint8, interval time.Duration, logger zerolog.Logger, m *metrics.PlantMetrics) *ControlLoop {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ControlLoop{
		store:    st,
		units:    units,
		interval: interval,
		logger:   logger.With().Str("component", "control-loop").Logger(),
		metrics:  m,
	}
}

// Start launches the ticker goroutine. It returns immediately.
func (c *ControlLoop) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)

	c.logger.Info().
		Dur("interval", c.interval).
		Int("units", len(c.units)).
		Msg("Starting control loop")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Tick()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Tick()
			}
		}
	}()
}

// Stop halts the ticker goroutine and waits for the in-flight tick.
func (c *ControlLoop) Stop() {
	if !c.started.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.logger.Info().
		Uint64("ticks", c.stats.Ticks.Load()).
		Msg("Control loop stopped")
}

// Tick runs one control pass over every unit. A register fault aborts
// only the offending unit's update; the next tick recovers it.
func (c *ControlLoop) Tick() {
	c.stats.Ticks.Add(1)
	c.lastTick.Store(time.Now().UnixNano())

	for _, unitID := range c.units {
		err := c.tickUnit(unitID)
		if err != nil {
			c.stats.UnitErrors.Add(1)
			c.logger.Error().
				Err(err).
				Uint8("unit_id", unitID).
				Msg("Control tick aborted for unit")
		} else {
			c.stats.UnitUpdates.Add(1)
		}
		if c.metrics != nil {
			c.metrics.RecordControlTick(unitID, err)
		}
	}
}

// tickUnit applies the control rule and the simulation step to one unit
// under a single lock acquisition.
func (c *ControlLoop) tickUnit(unitID uint8) error {
	return c.store.Update(unitID, func(v *store.UnitView) error {
		temps := v.Temperatures()
		high := v.HighThresholds()
		good := v.GoodThresholds()
		coils := v.Coils()

		// Three-way hysteresis: above high turns cooling on, below good
		// turns it off, inside the deadband the previous state (manual
		// or automatic) persists.
		for i := range coils {
			switch {
			case temps[i] > high[i]:
				coils[i] = true
			case temps[i] < good[i]:
				coils[i] = false
			}
		}
		if err := v.SetCoils(coils); err != nil {
			return err
		}

		// Simulation step against the post-control coil state. A
		// running AC pulls one degree per tick down to the floor; an
		// idle room drifts one degree up to the ceiling.
		for i := range temps {
			if coils[i] {
				if temps[i] > domain.TemperatureFloor {
					temps[i]--
				}
			} else {
				if temps[i] < domain.TemperatureCeiling {
					temps[i]++
				}
			}
		}
		if err := v.SetTemperatures(temps); err != nil {
			return err
		}

		if c.metrics != nil {
			for i := range temps {
				c.metrics.ObserveACState(unitID, i, temps[i], coils[i])
			}
		}
		return nil
	})
}

// LastTick returns when the loop last completed a pass.
func (c *ControlLoop) LastTick() time.Time {
	return time.Unix(0, c.lastTick.Load())
}

// HealthCheck reports failure when the loop has missed three periods.
func (c *ControlLoop) HealthCheck(ctx context.Context) error {
	return loopHealth("control loop", c.started.Load(), c.LastTick(), c.interval)
}

// Stats returns a point-in-time copy of the loop counters.
func (c *ControlLoop) Stats() (ticks, updates, errors uint64) {
	return c.stats.Ticks.Load(), c.stats.UnitUpdates.Load(), c.stats.UnitErrors.Load()
}
