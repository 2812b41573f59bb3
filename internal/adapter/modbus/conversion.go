package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/goburrow/modbus"

	"github.com/nexus-edge/hvac-control/internal/domain"
)

// decodeRegisters unpacks a register read response into uint16 values.
// The wire carries big-endian byte pairs; anything other than exactly
// want registers is a short read.
func decodeRegisters(raw []byte, want int) ([]uint16, error) {
	if len(raw) != want*2 {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", domain.ErrShortRead, len(raw), want*2)
	}
	out := make([]uint16, want)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return out, nil
}

// decodeBits unpacks a coil or discrete input read response. Each byte
// carries eight inputs, least significant bit first; the final byte is
// zero-padded.
func decodeBits(raw []byte, want int) ([]bool, error) {
	if len(raw) != (want+7)/8 {
		return nil, fmt.Errorf("%w: got %d bytes, want %d bits", domain.ErrShortRead, len(raw), want)
	}
	out := make([]bool, want)
	for i := range out {
		out[i] = raw[i/8]&(1<<(i%8)) != 0
	}
	return out, nil
}

// coilValue encodes a coil state for function code 0x05.
func coilValue(on bool) uint16 {
	if on {
		return 0xFF00
	}
	return 0x0000
}

// translateError folds library and transport errors into the domain
// taxonomy. Modbus exceptions map per their exception code; network
// errors split into timeouts and connection failures so the retry logic
// can tell them apart.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return fmt.Errorf("%w: %v", domain.ModbusExceptionToError(mbErr.ExceptionCode), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", domain.ErrDeviceTimeout, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", domain.ErrConnectionClosed, err)
	}

	return fmt.Errorf("%w: %v", domain.ErrReadFailed, err)
}
