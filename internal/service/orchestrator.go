// Package service implements the panel's read and write orchestration
// against the plant.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/nexus-edge/hvac-control/internal/domain"
	"github.com/nexus-edge/hvac-control/internal/metrics"
)

// Orchestrator validates and executes every plant operation the panel
// offers. Validation failures are rejected locally and never reach the
// wire; network operations run through a per-unit circuit breaker so
// one dead unit cannot drag the rest of the fleet down.
type Orchestrator struct {
	link     domain.PlantLink
	layout   domain.Layout
	units    []domain.Unit
	byID     map[uint8]domain.Unit
	breakers map[uint8]*gobreaker.CircuitBreaker
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *metrics.PanelMetrics
}

// NewOrchestrator builds the orchestrator for a fixed fleet. The unit
// slice keeps its order; ReadAll reports snapshots in the same order.
func NewOrchestrator(
	link domain.PlantLink,
	layout domain.Layout,
	units []domain.Unit,
	timeout time.Duration,
	logger zerolog.Logger,
	m *metrics.PanelMetrics,
) *Orchestrator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	o := &Orchestrator{
		link:     link,
		layout:   layout,
		units:    units,
		byID:     make(map[uint8]domain.Unit, len(units)),
		breakers: make(map[uint8]*gobreaker.CircuitBreaker, len(units)),
		timeout:  timeout,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		metrics:  m,
	}
	for _, unit := range units {
		o.byID[unit.ID] = unit
		o.breakers[unit.ID] = o.newUnitBreaker(unit.ID)
	}
	return o
}

// newUnitBreaker creates the per-unit circuit breaker. Per-unit breakers
// isolate failures: a unit that stops answering trips only its own
// breaker.
func (o *Orchestrator) newUnitBreaker(unitID uint8) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("unit-%d", unitID),
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			o.logger.Info().
				Str("unit", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Unit circuit breaker state changed")
			if o.metrics != nil {
				o.metrics.SetBreakerState(unitID, float64(to))
			}
		},
	})
}

// Units returns the configured fleet in its configured order.
func (o *Orchestrator) Units() []domain.Unit {
	return o.units
}

// Layout returns the register layout shared by every unit.
func (o *Orchestrator) Layout() domain.Layout {
	return o.layout
}

// ReadUnit reads one unit's full state: a single holding register read
// spanning every block, then the discrete inputs. Reading the mirrored
// inputs rather than the coils means the panel sees the actuator state
// the plant observed, lag included.
func (o *Orchestrator) ReadUnit(ctx context.Context, unitID uint8) (domain.UnitSnapshot, error) {
	unit, ok := o.byID[unitID]
	if !ok {
		return domain.UnitSnapshot{}, fmt.Errorf("%w: %d", domain.ErrUnknownUnit, unitID)
	}

	opCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	result, err := o.breakers[unitID].Execute(func() (interface{}, error) {
		regs, err := o.link.ReadHoldingRegisters(opCtx, unitID, 0, uint16(o.layout.HoldingCount()))
		if err != nil {
			return nil, err
		}
		inputs, err := o.link.ReadDiscreteInputs(opCtx, unitID, 0, uint16(o.layout.CoilCount()))
		if err != nil {
			return nil, err
		}
		snap, err := domain.SnapshotFromRegisters(unitID, o.layout, regs, inputs)
		if err != nil {
			return nil, err
		}
		return snap, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			err = domain.ErrCircuitBreakerOpen
		}
		return domain.UnitSnapshot{}, err
	}

	snap := result.(domain.UnitSnapshot)
	snap.Name = unit.Name
	return snap, nil
}

// ReadAll reads every configured unit. A unit that cannot be read is
// reported with the fixed startup defaults and its Defaulted flag set,
// so consumers always receive a full fleet and can tell real data from
// placeholder data.
func (o *Orchestrator) ReadAll(ctx context.Context) []domain.UnitSnapshot {
	snaps := make([]domain.UnitSnapshot, 0, len(o.units))
	for _, unit := range o.units {
		snap, err := o.ReadUnit(ctx, unit.ID)
		if err != nil {
			o.logger.Warn().
				Err(err).
				Uint8("unit_id", unit.ID).
				Msg("Unit unreadable, reporting defaults")
			snap = domain.DefaultSnapshot(unit.ID, o.layout)
			snap.Name = unit.Name
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// SetCoil overrides one AC's cooling command. The plant's control loop
// may overrule the override on its next tick.
func (o *Orchestrator) SetCoil(ctx context.Context, unitID uint8, acIndex int, on bool) error {
	if err := o.checkTarget(unitID, acIndex); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	err := o.execute(unitID, func() error {
		return o.link.WriteSingleCoil(opCtx, unitID, o.layout.CoilAddr(acIndex), on)
	})
	if o.metrics != nil {
		o.metrics.RecordWrite("coil", err)
	}
	if err != nil {
		return err
	}

	o.logger.Info().
		Uint8("unit_id", unitID).
		Int("ac", acIndex).
		Bool("on", on).
		Msg("Coil override written")
	return nil
}

// SetThresholds replaces one AC's threshold pair, high first, then
// good. There is no rollback: when the second write fails the new high
// threshold stays committed next to the old good threshold, and the
// returned error says so.
func (o *Orchestrator) SetThresholds(ctx context.Context, unitID uint8, acIndex, high, good int) error {
	if err := o.checkTarget(unitID, acIndex); err != nil {
		return err
	}
	if err := validateThresholds(high, good); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	err := o.execute(unitID, func() error {
		return o.link.WriteSingleRegister(opCtx, unitID, o.layout.HighThresholdAddr(acIndex), uint16(high))
	})
	if o.metrics != nil {
		o.metrics.RecordWrite("threshold_high", err)
	}
	if err != nil {
		return fmt.Errorf("high threshold write: %w", err)
	}

	err = o.execute(unitID, func() error {
		return o.link.WriteSingleRegister(opCtx, unitID, o.layout.GoodThresholdAddr(acIndex), uint16(good))
	})
	if o.metrics != nil {
		o.metrics.RecordWrite("threshold_good", err)
	}
	if err != nil {
		return fmt.Errorf("good threshold write failed, high threshold %d already committed: %w", high, err)
	}

	o.logger.Info().
		Uint8("unit_id", unitID).
		Int("ac", acIndex).
		Int("high", high).
		Int("good", good).
		Msg("Thresholds written")
	return nil
}

// HealthCheck probes the plant link.
func (o *Orchestrator) HealthCheck(ctx context.Context) error {
	return o.link.HealthCheck(ctx)
}

// Close releases the plant link.
func (o *Orchestrator) Close() error {
	return o.link.Close()
}

// checkTarget rejects writes aimed outside the configured fleet or
// register layout before anything touches the wire.
func (o *Orchestrator) checkTarget(unitID uint8, acIndex int) error {
	if _, ok := o.byID[unitID]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrUnknownUnit, unitID)
	}
	if !o.layout.ValidACIndex(acIndex) {
		return fmt.Errorf("%w: %d (unit has %d)", domain.ErrInvalidACIndex, acIndex, o.layout.ACCount)
	}
	return nil
}

// validateThresholds enforces the write policy: both values inside the
// allowed band and good strictly below high. The plant itself accepts
// any register value; the policy lives here.
func validateThresholds(high, good int) error {
	if high < domain.ThresholdMin || high > domain.ThresholdMax {
		return fmt.Errorf("%w: high %d not in [%d, %d]",
			domain.ErrThresholdBounds, high, domain.ThresholdMin, domain.ThresholdMax)
	}
	if good < domain.ThresholdMin || good > domain.ThresholdMax {
		return fmt.Errorf("%w: good %d not in [%d, %d]",
			domain.ErrThresholdBounds, good, domain.ThresholdMin, domain.ThresholdMax)
	}
	if good >= high {
		return fmt.Errorf("%w: good %d, high %d", domain.ErrThresholdOrder, good, high)
	}
	return nil
}

// execute runs one write through the unit's circuit breaker.
func (o *Orchestrator) execute(unitID uint8, op func() error) error {
	_, err := o.breakers[unitID].Execute(func() (interface{}, error) {
		return nil, op()
	})
	if err == gobreaker.ErrOpenState {
		return domain.ErrCircuitBreakerOpen
	}
	return err
}
