// Package domain contains core business entities.
package domain

import "context"

// PlantLink is the protocol surface the panel consumes. The Modbus TCP
// adapter implements it against the real plant; tests substitute fakes.
//
// All reads return exactly the requested count or an error; callers
// never receive a silently padded slice.
type PlantLink interface {
	// ReadHoldingRegisters reads quantity registers starting at addr
	// from the given unit.
	ReadHoldingRegisters(ctx context.Context, unitID uint8, addr, quantity uint16) ([]uint16, error)

	// ReadDiscreteInputs reads quantity discrete inputs starting at
	// addr from the given unit.
	ReadDiscreteInputs(ctx context.Context, unitID uint8, addr, quantity uint16) ([]bool, error)

	// WriteSingleCoil sets one coil on the given unit.
	WriteSingleCoil(ctx context.Context, unitID uint8, addr uint16, on bool) error

	// WriteSingleRegister sets one holding register on the given unit.
	WriteSingleRegister(ctx context.Context, unitID uint8, addr, value uint16) error

	// HealthCheck verifies the link is usable.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
