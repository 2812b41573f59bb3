// Package store holds the plant's register banks behind locked accessors.
//
// One process-wide mutex serializes every register operation across all
// units: the control loop, the mirror loop and the Modbus endpoint all
// contend on the same lock. Contention is low (a handful of units, short
// array copies) and the coarse lock keeps the consistency argument
// trivial, which is the point of this simulator.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nexus-edge/hvac-control/internal/domain"
)

// bank is one unit's raw register space. Holding registers are laid out
// as [temperatures | highThresholds | goodThresholds | reserved?], each
// block layout.ACCount wide, addressed from zero. Coils and discrete
// inputs each occupy layout.ACCount addresses from zero.
type bank struct {
	holding  []uint16
	coils    []bool
	discrete []bool
}

// Store owns the register banks for all configured units. Banks are
// created once at construction and live for the process lifetime.
type Store struct {
	mu     sync.Mutex
	layout domain.Layout
	banks  map[uint8]*bank
}

// New creates a store with one bank per unit id, seeded with the fixed
// initial values: every temperature 15, high threshold 27, good
// threshold 20, all coils and discrete inputs off. The reserved
// register, when the layout carries one, starts at 0xFE.
func New(layout domain.Layout, unitIDs []uint8) *Store {
	s := &Store{
		layout: layout,
		banks:  make(map[uint8]*bank, len(unitIDs)),
	}
	m := layout.ACCount
	for _, id := range unitIDs {
		b := &bank{
			holding:  make([]uint16, layout.HoldingCount()),
			coils:    make([]bool, m),
			discrete: make([]bool, m),
		}
		for i := 0; i < m; i++ {
			b.holding[i] = domain.InitialTemperature
			b.holding[m+i] = domain.InitialHighThreshold
			b.holding[2*m+i] = domain.InitialGoodThreshold
		}
		if layout.ReservedRegister {
			b.holding[layout.ReservedAddr()] = domain.ReservedValue
		}
		s.banks[id] = b
	}
	return s
}

// Layout returns the layout descriptor the store was built with.
func (s *Store) Layout() domain.Layout {
	return s.layout
}

// UnitIDs returns the configured unit ids in ascending order.
func (s *Store) UnitIDs() []uint8 {
	ids := make([]uint8, 0, len(s.banks))
	for id := range s.banks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ReadHolding returns exactly count holding registers starting at addr.
func (s *Store) ReadHolding(unitID uint8, addr, count uint16) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bank(unitID)
	if err != nil {
		return nil, err
	}
	if err := checkRange(int(addr), int(count), len(b.holding)); err != nil {
		return nil, fmt.Errorf("holding read unit %d: %w", unitID, err)
	}

	out := make([]uint16, count)
	copy(out, b.holding[addr : int(addr)+int(count)])
	return out, nil
}

// WriteHolding sets one holding register.
func (s *Store) WriteHolding(unitID uint8, addr, value uint16) error {
	return s.WriteHoldingRange(unitID, addr, []uint16{value})
}

// WriteHoldingRange sets len(values) holding registers starting at addr.
// The whole span is range-checked before anything is written, so a
// faulted write leaves the bank untouched.
func (s *Store) WriteHoldingRange(unitID uint8, addr uint16, values []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bank(unitID)
	if err != nil {
		return err
	}
	if err := checkRange(int(addr), len(values), len(b.holding)); err != nil {
		return fmt.Errorf("holding write unit %d: %w", unitID, err)
	}

	copy(b.holding[addr : int(addr)+len(values)], values)
	return nil
}

// ReadCoils returns exactly count coils starting at addr.
func (s *Store) ReadCoils(unitID uint8, addr, count uint16) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bank(unitID)
	if err != nil {
		return nil, err
	}
	if err := checkRange(int(addr), int(count), len(b.coils)); err != nil {
		return nil, fmt.Errorf("coil read unit %d: %w", unitID, err)
	}

	out := make([]bool, count)
	copy(out, b.coils[addr : int(addr)+int(count)])
	return out, nil
}

// WriteCoil sets one coil. Manual overrides land here; the control loop
// may overrule them on its next tick if the temperature is outside the
// deadband.
func (s *Store) WriteCoil(unitID uint8, addr uint16, value bool) error {
	return s.WriteCoilRange(unitID, addr, []bool{value})
}

// WriteCoilRange sets len(values) coils starting at addr. Like
// WriteHoldingRange, it is all-or-nothing.
func (s *Store) WriteCoilRange(unitID uint8, addr uint16, values []bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bank(unitID)
	if err != nil {
		return err
	}
	if err := checkRange(int(addr), len(values), len(b.coils)); err != nil {
		return fmt.Errorf("coil write unit %d: %w", unitID, err)
	}

	copy(b.coils[addr : int(addr)+len(values)], values)
	return nil
}

// ReadDiscreteInputs returns exactly count discrete inputs starting at
// addr.
func (s *Store) ReadDiscreteInputs(unitID uint8, addr, count uint16) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bank(unitID)
	if err != nil {
		return nil, err
	}
	if err := checkRange(int(addr), int(count), len(b.discrete)); err != nil {
		return nil, fmt.Errorf("discrete input read unit %d: %w", unitID, err)
	}

	out := make([]bool, count)
	copy(out, b.discrete[addr : int(addr)+int(count)])
	return out, nil
}

// Update runs fn against one unit's bank while holding the store mutex,
// so a multi-step read-modify-write (a control tick, a mirror tick)
// commits as a single atomic unit with respect to every other register
// operation. The view passed to fn is only valid until fn returns.
func (s *Store) Update(unitID uint8, fn func(*UnitView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bank(unitID)
	if err != nil {
		return err
	}
	return fn(&UnitView{bank: b, layout: s.layout})
}

// bank resolves a unit id under the held lock.
func (s *Store) bank(unitID uint8) (*bank, error) {
	b, ok := s.banks[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownUnit, unitID)
	}
	return b, nil
}

func checkRange(addr, count, size int) error {
	if count < 1 || addr < 0 || addr+count > size {
		return fmt.Errorf("%w: addr %d count %d of %d", domain.ErrOutOfRange, addr, count, size)
	}
	return nil
}

// UnitView exposes one unit's bank as typed blocks while the store
// mutex is held. Getters return copies; setters replace whole blocks and
// fault on width mismatch. No caller ever sees the raw arrays.
type UnitView struct {
	bank   *bank
	layout domain.Layout
}

// Temperatures returns a copy of the temperature block.
func (v *UnitView) Temperatures() []uint16 {
	return copyRegs(v.bank.holding[:v.layout.ACCount])
}

// HighThresholds returns a copy of the high-threshold block.
func (v *UnitView) HighThresholds() []uint16 {
	m := v.layout.ACCount
	return copyRegs(v.bank.holding[m : 2*m])
}

// GoodThresholds returns a copy of the good-threshold block.
func (v *UnitView) GoodThresholds() []uint16 {
	m := v.layout.ACCount
	return copyRegs(v.bank.holding[2*m : 3*m])
}

// Coils returns a copy of the commanded actuator states.
func (v *UnitView) Coils() []bool {
	return copyBits(v.bank.coils)
}

// DiscreteInputs returns a copy of the observed actuator states.
func (v *UnitView) DiscreteInputs() []bool {
	return copyBits(v.bank.discrete)
}

// SetTemperatures replaces the temperature block.
func (v *UnitView) SetTemperatures(values []uint16) error {
	if len(values) != v.layout.ACCount {
		return fmt.Errorf("%w: %d temperatures, want %d", domain.ErrOutOfRange, len(values), v.layout.ACCount)
	}
	copy(v.bank.holding[:v.layout.ACCount], values)
	return nil
}

// SetCoils replaces the commanded actuator states.
func (v *UnitView) SetCoils(values []bool) error {
	if len(values) != v.layout.ACCount {
		return fmt.Errorf("%w: %d coils, want %d", domain.ErrOutOfRange, len(values), v.layout.ACCount)
	}
	copy(v.bank.coils, values)
	return nil
}

// SetDiscreteInputs replaces the observed actuator states.
func (v *UnitView) SetDiscreteInputs(values []bool) error {
	if len(values) != v.layout.ACCount {
		return fmt.Errorf("%w: %d discrete inputs, want %d", domain.ErrOutOfRange, len(values), v.layout.ACCount)
	}
	copy(v.bank.discrete, values)
	return nil
}

func copyRegs(src []uint16) []uint16 {
	out := make([]uint16, len(src))
	copy(out, src)
	return out
}

func copyBits(src []bool) []bool {
	out := make([]bool, len(src))
	copy(out, src)
	return out
}
