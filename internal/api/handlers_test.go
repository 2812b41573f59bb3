package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/hvac-control/internal/api"
	"github.com/nexus-edge/hvac-control/internal/domain"
)

type fakeBackend struct {
	snaps []domain.UnitSnapshot

	coilErr       error
	thresholdsErr error

	coilCalls       []string
	thresholdsCalls []string
}

func (f *fakeBackend) Snapshots() []domain.UnitSnapshot { return f.snaps }

func (f *fakeBackend) SetCoil(_ context.Context, unitID uint8, acIndex int, on bool) error {
	f.coilCalls = append(f.coilCalls, fmt.Sprintf("u%d a%d %v", unitID, acIndex, on))
	return f.coilErr
}

func (f *fakeBackend) SetThresholds(_ context.Context, unitID uint8, acIndex, high, good int) error {
	f.thresholdsCalls = append(f.thresholdsCalls, fmt.Sprintf("u%d a%d h%d g%d", unitID, acIndex, high, good))
	return f.thresholdsErr
}

func newTestMux(backend *fakeBackend) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewAPIHandler(backend, backend, zerolog.Nop()).Register(mux)
	return mux
}

func TestDataHandler(t *testing.T) {
	backend := &fakeBackend{
		snaps: []domain.UnitSnapshot{
			{
				UnitID:         1,
				Name:           "East wing",
				Temperatures:   []int{21, 22},
				HighThresholds: []int{27, 27},
				GoodThresholds: []int{20, 20},
				Status:         []bool{true, false},
			},
			domain.DefaultSnapshot(2, domain.Layout{ACCount: 2}),
		},
	}
	mux := newTestMux(backend)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Units []domain.UnitSnapshot `json:"units"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if len(body.Units) != 2 {
		t.Fatalf("len(units) = %d, want 2", len(body.Units))
	}
	if body.Units[0].Temperatures[0] != 21 {
		t.Errorf("units[0].temperatures[0] = %d, want 21", body.Units[0].Temperatures[0])
	}
	if !body.Units[1].Defaulted {
		t.Error("units[1].defaulted = false, want true for the unreachable unit")
	}
}

func TestDataHandler_MethodNotAllowed(t *testing.T) {
	mux := newTestMux(&fakeBackend{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/data", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestCoilHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		backendErr error
		wantStatus int
	}{
		{
			name:       "success",
			body:       `{"unit":1,"ac":0,"on":true}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed json",
			body:       `{"unit":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "validation reject",
			body:       `{"unit":1,"ac":99,"on":true}`,
			backendErr: domain.ErrInvalidACIndex,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown unit",
			body:       `{"unit":9,"ac":0,"on":true}`,
			backendErr: domain.ErrUnknownUnit,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "plant unreachable",
			body:       `{"unit":1,"ac":0,"on":true}`,
			backendErr: domain.ErrDeviceTimeout,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "breaker open",
			body:       `{"unit":1,"ac":0,"on":true}`,
			backendErr: domain.ErrCircuitBreakerOpen,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unclassified failure",
			body:       `{"unit":1,"ac":0,"on":true}`,
			backendErr: domain.ErrWriteFailed,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{coilErr: tt.backendErr}
			mux := newTestMux(backend)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/coil", strings.NewReader(tt.body))
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				var resp map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("response is not valid JSON: %v", err)
				}
				if resp["status"] != "success" {
					t.Errorf("status field = %q, want success", resp["status"])
				}
				if len(backend.coilCalls) != 1 || backend.coilCalls[0] != "u1 a0 true" {
					t.Errorf("backend calls = %v, want [u1 a0 true]", backend.coilCalls)
				}
			}
		})
	}
}

func TestCoilHandler_MalformedBodySkipsBackend(t *testing.T) {
	backend := &fakeBackend{}
	mux := newTestMux(backend)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/coil", strings.NewReader("not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(backend.coilCalls) != 0 {
		t.Error("backend called despite malformed body")
	}
}

func TestThresholdsHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		backendErr error
		wantStatus int
	}{
		{
			name:       "success",
			body:       `{"unit":1,"ac":2,"high":30,"good":18}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "order reject",
			body:       `{"unit":1,"ac":0,"high":20,"good":25}`,
			backendErr: domain.ErrThresholdOrder,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bounds reject",
			body:       `{"unit":1,"ac":0,"high":51,"good":18}`,
			backendErr: domain.ErrThresholdBounds,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "second write failed",
			body:       `{"unit":1,"ac":0,"high":30,"good":18}`,
			backendErr: domain.ErrConnectionFailed,
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{thresholdsErr: tt.backendErr}
			mux := newTestMux(backend)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/thresholds", strings.NewReader(tt.body))
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				if len(backend.thresholdsCalls) != 1 || backend.thresholdsCalls[0] != "u1 a2 h30 g18" {
					t.Errorf("backend calls = %v, want [u1 a2 h30 g18]", backend.thresholdsCalls)
				}
			}
		})
	}
}

func TestThresholdsHandler_MethodNotAllowed(t *testing.T) {
	mux := newTestMux(&fakeBackend{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/thresholds", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
