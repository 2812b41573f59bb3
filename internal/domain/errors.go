// Package domain contains core business entities.
package domain

import "errors"

// Register store faults. These indicate a programming or configuration
// mismatch inside the process and abort the offending operation loudly.
var (
	ErrOutOfRange  = errors.New("register address out of range")
	ErrUnknownUnit = errors.New("unknown unit id")
)

// Communication faults. These are expected during normal operation
// (plant unreachable, slow network) and must be recoverable: readers
// substitute flagged defaults, writers report failure to their caller.
var (
	ErrConnectionFailed   = errors.New("connection failed")
	ErrDeviceTimeout      = errors.New("device timeout")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrShortRead          = errors.New("response shorter than requested count")
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

// Validation errors. Raised by the panel before any network call; a
// request that fails validation is never sent to the plant.
var (
	ErrInvalidACIndex    = errors.New("ac index out of range")
	ErrThresholdBounds   = errors.New("threshold outside allowed range")
	ErrThresholdOrder    = errors.New("good threshold must be below high threshold")
	ErrInvalidWriteValue = errors.New("invalid value for write operation")
)

// Modbus exception responses, as reported by the plant.
var (
	ErrModbusIllegalFunction        = errors.New("modbus: illegal function")
	ErrModbusIllegalAddress         = errors.New("modbus: illegal data address")
	ErrModbusIllegalValue           = errors.New("modbus: illegal data value")
	ErrModbusDeviceFailure          = errors.New("modbus: slave device failure")
	ErrModbusAcknowledge            = errors.New("modbus: acknowledge - long operation in progress")
	ErrModbusBusy                   = errors.New("modbus: slave device busy")
	ErrModbusNegativeAck            = errors.New("modbus: negative acknowledge")
	ErrModbusMemoryParityError      = errors.New("modbus: memory parity error")
	ErrModbusGatewayPathUnavailable = errors.New("modbus: gateway path unavailable")
	ErrModbusGatewayTargetFailed    = errors.New("modbus: gateway target device failed to respond")
	ErrReadFailed                   = errors.New("read operation failed")
	ErrWriteFailed                  = errors.New("write operation failed")
)

// MQTT errors.
var (
	ErrMQTTConnectionFailed = errors.New("MQTT connection failed")
	ErrMQTTPublishFailed    = errors.New("MQTT publish failed")
	ErrMQTTNotConnected     = errors.New("MQTT client not connected")
	ErrMQTTSubscribeFailed  = errors.New("MQTT subscribe failed")
)

// Configuration errors.
var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrNoUnitsConfigured = errors.New("at least one unit must be configured")
)

// ModbusExceptionToError converts a Modbus exception code to a domain error.
func ModbusExceptionToError(code byte) error {
	switch code {
	case 0x01:
		return ErrModbusIllegalFunction
	case 0x02:
		return ErrModbusIllegalAddress
	case 0x03:
		return ErrModbusIllegalValue
	case 0x04:
		return ErrModbusDeviceFailure
	case 0x05:
		return ErrModbusAcknowledge
	case 0x06:
		return ErrModbusBusy
	case 0x07:
		return ErrModbusNegativeAck
	case 0x08:
		return ErrModbusMemoryParityError
	case 0x0A:
		return ErrModbusGatewayPathUnavailable
	case 0x0B:
		return ErrModbusGatewayTargetFailed
	default:
		return ErrReadFailed
	}
}

// IsCommFault reports whether err is a recoverable communication fault.
// Exception responses that point at a client/plant layout mismatch
// (illegal function/address/value) are deliberately excluded: those are
// configuration errors and should fail loudly instead of being retried.
func IsCommFault(err error) bool {
	for _, target := range []error{
		ErrConnectionFailed,
		ErrDeviceTimeout,
		ErrConnectionClosed,
		ErrShortRead,
		ErrMaxRetriesExceeded,
		ErrCircuitBreakerOpen,
		ErrModbusDeviceFailure,
		ErrModbusBusy,
		ErrModbusGatewayPathUnavailable,
		ErrModbusGatewayTargetFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a client-side validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidACIndex,
		ErrThresholdBounds,
		ErrThresholdOrder,
		ErrInvalidWriteValue,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
