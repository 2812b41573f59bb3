// Package domain contains core business entities.
package domain

import "fmt"

// Fixed plant characteristics. Initial values are loaded into every
// register bank at process start; floor and ceiling bound the simulated
// temperature; the threshold policy bounds what the panel accepts.
const (
	InitialTemperature   = 15
	InitialHighThreshold = 27
	InitialGoodThreshold = 20
	TemperatureFloor     = 7
	TemperatureCeiling   = 30
	ThresholdMin         = 0
	ThresholdMax         = 50
	ReservedValue        = 0xFE
)

// MaxACCount keeps one holding-register read spanning all three blocks
// (plus the optional reserved register) within the Modbus FC3 limit of
// 125 registers per request.
const MaxACCount = 41

// Layout describes how one unit's state maps onto Modbus address space.
// Holding registers hold three contiguous blocks of ACCount registers
// each - temperatures, high thresholds, good thresholds - addressed from
// zero, optionally followed by a single reserved register. Coils and
// discrete inputs each occupy ACCount addresses from zero.
//
// Plant and panel must agree on the layout; both sides consume this one
// descriptor so the address arithmetic exists in exactly one place.
type Layout struct {
	// ACCount is the number of AC sub-units per unit (the block width M).
	ACCount int `json:"ac_count" yaml:"ac_count"`

	// ReservedRegister adds one trailing holding register after the
	// threshold blocks. It is initialized to ReservedValue and preserved
	// verbatim by the control loop; only an explicit register write
	// changes it.
	ReservedRegister bool `json:"reserved_register" yaml:"reserved_register"`
}

// DefaultLayout matches the stock deployment: six ACs per unit, no
// reserved register.
func DefaultLayout() Layout {
	return Layout{ACCount: 6}
}

// Validate checks the layout against protocol limits.
func (l Layout) Validate() error {
	if l.ACCount < 1 || l.ACCount > MaxACCount {
		return fmt.Errorf("%w: ac_count %d outside [1, %d]", ErrInvalidConfig, l.ACCount, MaxACCount)
	}
	return nil
}

// HoldingCount is the total holding-register span of one unit.
func (l Layout) HoldingCount() int {
	if l.ReservedRegister {
		return 3*l.ACCount + 1
	}
	return 3 * l.ACCount
}

// CoilCount is the coil (and discrete input) span of one unit.
func (l Layout) CoilCount() int {
	return l.ACCount
}

// TemperatureAddr returns the holding-register address of AC i's
// temperature reading.
func (l Layout) TemperatureAddr(i int) uint16 {
	return uint16(i)
}

// HighThresholdAddr returns the holding-register address of AC i's high
// (turn-on) threshold.
func (l Layout) HighThresholdAddr(i int) uint16 {
	return uint16(l.ACCount + i)
}

// GoodThresholdAddr returns the holding-register address of AC i's good
// (turn-off) threshold.
func (l Layout) GoodThresholdAddr(i int) uint16 {
	return uint16(2*l.ACCount + i)
}

// ReservedAddr returns the address of the trailing reserved register.
// Only meaningful when ReservedRegister is set.
func (l Layout) ReservedAddr() uint16 {
	return uint16(3 * l.ACCount)
}

// CoilAddr returns the coil address commanding AC i's actuator. The
// same address indexes the discrete input mirroring it.
func (l Layout) CoilAddr(i int) uint16 {
	return uint16(i)
}

// ValidACIndex reports whether i addresses an AC within this layout.
func (l Layout) ValidACIndex(i int) bool {
	return i >= 0 && i < l.ACCount
}
