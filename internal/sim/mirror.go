package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/hvac-control/internal/metrics"
	"github.com/nexus-edge/hvac-control/internal/store"
)

// MirrorLoop copies commanded coil state into the discrete inputs on
// its own period, modeling sensor feedback: a commanded state becomes
// an observed state one mirror cycle later.
//
// The lag is the point. Folding this into the control loop's tick would
// make commands observable instantly and break the client-visible
// status behavior downstream alerting relies on, so the two loops stay
// separate even though the mirror pass is trivial.
type MirrorLoop struct {
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

// NewMirrorLoop creates the mirror loop for the given units.
func NewMirrorLoop(st *store.Store, units []uint8, interval time.Duration, logger zerolog.Logger, m *metrics.PlantMetrics) *MirrorLoop {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &MirrorLoop{
		store:    st,
		units:    units,
		interval: interval,
		logger:   logger.With().Str("component", "mirror-loop").Logger(),
		metrics:  m,
	}
}

// Start launches the ticker goroutine. It returns immediately.
func (l *MirrorLoop) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}

	ctx, l.cancel = context.WithCancel(ctx)

	l.logger.Info().
		Dur("interval", l.interval).
		Int("units", len(l.units)).
		Msg("Starting mirror loop")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		l.Tick()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Tick()
			}
		}
	}()
}

// Stop halts the ticker goroutine and waits for the in-flight tick.
func (l *MirrorLoop) Stop() {
	if !l.started.CompareAndSwap(true, false) {
		return
	}
	l.cancel()
	l.wg.Wait()
	l.logger.Info().
		Uint64("ticks", l.stats.Ticks.Load()).
		Msg("Mirror loop stopped")
}

// Tick copies coils to discrete inputs for every unit. A fault aborts
// only the offending unit's copy.
func (l *MirrorLoop) Tick() {
	l.stats.Ticks.Add(1)
	l.lastTick.Store(time.Now().UnixNano())

	for _, unitID := range l.units {
		err := l.store.Update(unitID, func(v *store.UnitView) error {
			return v.SetDiscreteInputs(v.Coils())
		})
		if err != nil {
			l.stats.UnitErrors.Add(1)
			l.logger.Error().
				Err(err).
				Uint8("unit_id", unitID).
				Msg("Mirror tick aborted for unit")
		} else {
			l.stats.UnitUpdates.Add(1)
		}
		if l.metrics != nil {
			l.metrics.RecordMirrorTick(unitID, err)
		}
	}
}

// LastTick returns when the loop last completed a pass.
func (l *MirrorLoop) LastTick() time.Time {
	return time.Unix(0, l.lastTick.Load())
}

// HealthCheck reports failure when the loop has missed three periods.
func (l *MirrorLoop) HealthCheck(ctx context.Context) error {
	return loopHealth("mirror loop", l.started.Load(), l.LastTick(), l.interval)
}

// Stats returns a point-in-time copy of the loop counters.
func (l *MirrorLoop) Stats() (ticks, updates, errors uint64) {
	return l.stats.Ticks.Load(), l.stats.UnitUpdates.Load(), l.stats.UnitErrors.Load()
}

// loopHealth is the shared staleness check for both periodic loops.
func loopHealth(name string, started bool, last time.Time, interval time.Duration) error {
	if !started {
		return fmt.Errorf("%s not started", name)
	}
	if age := time.Since(last); age > 3*interval {
		return fmt.Errorf("%s stalled: last tick %s ago", name, age.Round(time.Millisecond))
	}
	return nil
}
