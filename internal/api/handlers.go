// Package api exposes the panel's JSON HTTP API: the cached fleet view
// plus the two write operations. No HTML is served and no authentication
// is applied; the panel fronts a simulator on a trusted network.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/hvac-control/internal/domain"
)

// maxRequestBody bounds command payloads. The real bodies are a few
// dozen bytes; anything bigger is garbage.
const maxRequestBody = 1 << 20

// SnapshotProvider serves the most recent poll results. Implemented by
// the poller.
type SnapshotProvider interface {
	Snapshots() []domain.UnitSnapshot
}

// Commander issues validated writes toward the plant. Implemented by
// the orchestrator.
type Commander interface {
	SetCoil(ctx context.Context, unitID uint8, acIndex int, on bool) error
	SetThresholds(ctx context.Context, unitID uint8, acIndex, high, good int) error
}

// APIHandler provides the HTTP handlers for the panel.
type APIHandler struct {
	snapshots SnapshotProvider
	commander Commander
	logger    zerolog.Logger
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(snapshots SnapshotProvider, commander Commander, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		snapshots: snapshots,
		commander: commander,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Register wires the handlers onto the given mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/data", h.DataHandler)
	mux.HandleFunc("/api/coil", h.CoilHandler)
	mux.HandleFunc("/api/thresholds", h.ThresholdsHandler)
}

type dataResponse struct {
	Units []domain.UnitSnapshot `json:"units"`
}

// DataHandler returns the cached snapshots for every configured unit.
// Units the panel could not reach carry their defaults with the
// defaulted flag set.
func (h *APIHandler) DataHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(dataResponse{Units: h.snapshots.Snapshots()}); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode snapshots")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}

type coilRequest struct {
	Unit uint8 `json:"unit"`
	AC   int   `json:"ac"`
	On   bool  `json:"on"`
}

// CoilHandler switches one AC on or off.
func (h *APIHandler) CoilHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req coilRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to decode coil command")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.commander.SetCoil(r.Context(), req.Unit, req.AC, req.On); err != nil {
		h.writeFault(w, r, err)
		return
	}

	writeSuccess(w)
}

type thresholdsRequest struct {
	Unit uint8 `json:"unit"`
	AC   int   `json:"ac"`
	High int   `json:"high"`
	Good int   `json:"good"`
}

// ThresholdsHandler rewrites one AC's threshold pair, high before good.
func (h *APIHandler) ThresholdsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req thresholdsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to decode thresholds command")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.commander.SetThresholds(r.Context(), req.Unit, req.AC, req.High, req.Good); err != nil {
		h.writeFault(w, r, err)
		return
	}

	writeSuccess(w)
}

// writeFault maps a command failure onto an HTTP status: validation
// rejects are the caller's fault, an unknown unit is a missing resource,
// communication faults mean the plant is unreachable behind us.
func (h *APIHandler) writeFault(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnknownUnit):
		status = http.StatusNotFound
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case domain.IsCommFault(err):
		status = http.StatusBadGateway
	}

	h.logger.Warn().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("Command failed")
	http.Error(w, err.Error(), status)
}

func writeSuccess(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}
