// Package domain contains core business entities.
package domain

import (
	"fmt"
	"time"
)

// Unit is one addressable Modbus slave, representing one equipment
// group of ACCount air conditioners.
type Unit struct {
	// ID is the Modbus unit identifier (1-247).
	ID uint8 `json:"id" yaml:"id"`

	// Name is a human-readable name for the equipment group.
	Name string `json:"name" yaml:"name"`
}

// Validate checks the unit definition.
func (u Unit) Validate() error {
	if u.ID < 1 || u.ID > 247 {
		return fmt.Errorf("%w: unit id %d outside [1, 247]", ErrInvalidConfig, u.ID)
	}
	if u.Name == "" {
		return fmt.Errorf("%w: unit %d has no name", ErrInvalidConfig, u.ID)
	}
	return nil
}

// UnitSnapshot is one unit's state as observed by the panel: parallel
// per-AC sequences decoded from a single holding-register read plus a
// discrete-input read.
type UnitSnapshot struct {
	UnitID uint8  `json:"unit_id"`
	Name   string `json:"name,omitempty"`

	Temperatures   []int  `json:"temperatures"`
	HighThresholds []int  `json:"high_thresholds"`
	GoodThresholds []int  `json:"good_thresholds"`
	Status         []bool `json:"status"`

	// Defaulted is set when the plant could not be read and the
	// documented default vector was substituted. Consumers must render
	// the communication loss instead of trusting the values.
	Defaulted bool `json:"defaulted"`

	ReadAt time.Time `json:"read_at"`
}

// DefaultSnapshot builds the documented fallback vector for a unit that
// could not be read: initial temperatures and thresholds, all actuators
// reported off, Defaulted set.
func DefaultSnapshot(unitID uint8, layout Layout) UnitSnapshot {
	m := layout.ACCount
	snap := UnitSnapshot{
		UnitID:         unitID,
		Temperatures:   make([]int, m),
		HighThresholds: make([]int, m),
		GoodThresholds: make([]int, m),
		Status:         make([]bool, m),
		Defaulted:      true,
		ReadAt:         time.Now(),
	}
	for i := 0; i < m; i++ {
		snap.Temperatures[i] = InitialTemperature
		snap.HighThresholds[i] = InitialHighThreshold
		snap.GoodThresholds[i] = InitialGoodThreshold
	}
	return snap
}

// SnapshotFromRegisters decodes a full-span holding-register read and a
// discrete-input read into a snapshot. Both slices must carry exactly
// the widths the layout prescribes; anything else is a short read.
func SnapshotFromRegisters(unitID uint8, layout Layout, regs []uint16, inputs []bool) (UnitSnapshot, error) {
	if len(regs) != layout.HoldingCount() {
		return UnitSnapshot{}, fmt.Errorf("%w: got %d holding registers, want %d",
			ErrShortRead, len(regs), layout.HoldingCount())
	}
	if len(inputs) != layout.CoilCount() {
		return UnitSnapshot{}, fmt.Errorf("%w: got %d discrete inputs, want %d",
			ErrShortRead, len(inputs), layout.CoilCount())
	}

	m := layout.ACCount
	snap := UnitSnapshot{
		UnitID:         unitID,
		Temperatures:   make([]int, m),
		HighThresholds: make([]int, m),
		GoodThresholds: make([]int, m),
		Status:         make([]bool, m),
		ReadAt:         time.Now(),
	}
	for i := 0; i < m; i++ {
		snap.Temperatures[i] = int(regs[i])
		snap.HighThresholds[i] = int(regs[m+i])
		snap.GoodThresholds[i] = int(regs[2*m+i])
		snap.Status[i] = inputs[i]
	}
	return snap, nil
}
