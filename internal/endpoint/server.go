// Package endpoint exposes the plant store as a Modbus TCP server. All
// configured units answer on a single listener; the unit id field of
// each request selects the bank.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/simonvetter/modbus"

	"github.com/nexus-edge/hvac-control/internal/domain"
	"github.com/nexus-edge/hvac-control/internal/metrics"
	"github.com/nexus-edge/hvac-control/internal/store"
)

// Config carries the listener settings for the Modbus endpoint.
type Config struct {
	ListenAddress string
	Timeout       time.Duration
	MaxClients    uint
}

// Server accepts Modbus TCP connections and serves the plant store.
type Server struct {
	cfg     Config
	logger  zerolog.Logger
	srv     *modbus.ModbusServer
	started atomic.Bool
}

// NewServer wires a Modbus TCP server around the plant store. The
// endpoint does no interpretation of its own: every read and write goes
// straight to the store, and store faults surface as Modbus exceptions.
func NewServer(cfg Config, st *store.Store, logger zerolog.Logger, m *metrics.PlantMetrics) (*Server, error) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "0.0.0.0:5020"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 10
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With().Str("component", "modbus_endpoint").Logger(),
	}

	srv, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + cfg.ListenAddress,
		Timeout:    cfg.Timeout,
		MaxClients: cfg.MaxClients,
	}, NewPlantHandler(st, s.logger, m))
	if err != nil {
		return nil, fmt.Errorf("creating modbus server: %w", err)
	}
	s.srv = srv
	return s, nil
}

// Start begins accepting client connections. It returns as soon as the
// listener is up.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.srv.Start(); err != nil {
		s.started.Store(false)
		return fmt.Errorf("starting modbus server: %w", err)
	}
	s.logger.Info().
		Str("listen_address", s.cfg.ListenAddress).
		Uint("max_clients", s.cfg.MaxClients).
		Msg("Modbus endpoint listening")
	return nil
}

// Stop closes the listener and every open client connection.
func (s *Server) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Info().Msg("Stopping Modbus endpoint")
	return s.srv.Stop()
}

// HealthCheck reports whether the listener is up.
func (s *Server) HealthCheck(ctx context.Context) error {
	if !s.started.Load() {
		return errors.New("modbus endpoint not started")
	}
	return nil
}

// PlantHandler adapts the store to the modbus server callbacks. Handler
// methods run on per-client connection goroutines; the store's own lock
// serializes them against the simulation loops.
type PlantHandler struct {
	store   *store.Store
	logger  zerolog.Logger
	metrics *metrics.PlantMetrics
}

// NewPlantHandler builds the request handler the server registers. It
// is exported so tests can drive requests without a TCP listener.
func NewPlantHandler(st *store.Store, logger zerolog.Logger, m *metrics.PlantMetrics) *PlantHandler {
	return &PlantHandler{store: st, logger: logger, metrics: m}
}

// HandleCoils serves coil reads and commits coil writes. Both single
// and multiple writes arrive here; a multi-coil span commits atomically
// or not at all.
func (h *PlantHandler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	if req.IsWrite {
		err := h.store.WriteCoilRange(req.UnitId, req.Addr, req.Args)
		h.observe("write_coils", req.UnitId, req.Addr, uint16(len(req.Args)), err)
		if err != nil {
			return nil, mapFault(err)
		}
		return req.Args, nil
	}

	values, err := h.store.ReadCoils(req.UnitId, req.Addr, req.Quantity)
	h.observe("read_coils", req.UnitId, req.Addr, req.Quantity, err)
	if err != nil {
		return nil, mapFault(err)
	}
	return values, nil
}

// HandleDiscreteInputs serves the mirrored actuator states, read-only.
func (h *PlantHandler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	values, err := h.store.ReadDiscreteInputs(req.UnitId, req.Addr, req.Quantity)
	h.observe("read_discrete_inputs", req.UnitId, req.Addr, req.Quantity, err)
	if err != nil {
		return nil, mapFault(err)
	}
	return values, nil
}

// HandleHoldingRegisters serves register reads and commits register
// writes, including writes to the reserved register, which the store
// stores verbatim.
func (h *PlantHandler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if req.IsWrite {
		err := h.store.WriteHoldingRange(req.UnitId, req.Addr, req.Args)
		h.observe("write_holding_registers", req.UnitId, req.Addr, uint16(len(req.Args)), err)
		if err != nil {
			return nil, mapFault(err)
		}
		return req.Args, nil
	}

	values, err := h.store.ReadHolding(req.UnitId, req.Addr, req.Quantity)
	h.observe("read_holding_registers", req.UnitId, req.Addr, req.Quantity, err)
	if err != nil {
		return nil, mapFault(err)
	}
	return values, nil
}

// HandleInputRegisters rejects every request: the plant maps all of its
// data as holding registers, coils and discrete inputs.
func (h *PlantHandler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	h.observe("read_input_registers", req.UnitId, req.Addr, req.Quantity, modbus.ErrIllegalFunction)
	return nil, modbus.ErrIllegalFunction
}

func (h *PlantHandler) observe(function string, unitID uint8, addr, quantity uint16, err error) {
	if h.metrics != nil {
		h.metrics.RecordEndpointRequest(function, err)
	}
	if err != nil {
		h.logger.Warn().
			Err(err).
			Str("function", function).
			Uint8("unit_id", unitID).
			Uint16("addr", addr).
			Uint16("quantity", quantity).
			Msg("Request faulted")
		return
	}
	h.logger.Debug().
		Str("function", function).
		Uint8("unit_id", unitID).
		Uint16("addr", addr).
		Uint16("quantity", quantity).
		Msg("Request served")
}

// mapFault translates store faults into Modbus exception sentinels. An
// unknown unit id answers "illegal function", matching servers that
// filter on unit id rather than revealing which ids exist; a bad
// address or span answers "illegal data address".
func mapFault(err error) error {
	switch {
	case errors.Is(err, domain.ErrUnknownUnit):
		return modbus.ErrIllegalFunction
	case errors.Is(err, domain.ErrOutOfRange):
		return modbus.ErrIllegalDataAddress
	default:
		return modbus.ErrServerDeviceFailure
	}
}
