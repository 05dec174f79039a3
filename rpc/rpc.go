// Package rpc exposes the device server over HTTP/JSON: one service per
// capability, every method addressed by device address. The package owns the
// process-wide reader-writer lock around the device server; queries take the
// read side, mutations the write side.
package rpc

import (
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"devsup-go/adb"
	"devsup-go/device"
	"devsup-go/events"
)

// Handler serves the RPC surface.
type Handler struct {
	mu     sync.RWMutex
	server *device.Server
	tunnel *adb.Server
	bus    *events.Bus
}

// New builds a handler over the device server. Tunnel and bus may be nil;
// the corresponding services then answer with unavailable/empty state.
func New(server *device.Server, tunnel *adb.Server, bus *events.Bus) *Handler {
	return &Handler{server: server, tunnel: tunnel, bus: bus}
}

// Lock exposes the outer boundary lock for non-RPC callers (the daemon's
// shutdown path stops devices under the same exclusion as mutations).
func (h *Handler) Lock() *sync.RWMutex { return &h.mu }

// Router builds the full route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/ping", h.ping).Methods("GET")
	r.HandleFunc("/v1/status", h.status).Methods("GET")

	h.ledRoutes(r)
	h.gpsRoutes(r)
	h.lightSensorRoutes(r)
	h.envSensorRoutes(r)
	h.deviceRoutes(r)
	h.networkRoutes(r)
	return r
}

// ------------------------
// JSON plumbing
// ------------------------

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		v = struct{}{}
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Debugf("Failed to encode response body: %v", err)
	}
}

// httpStatus maps the device error taxonomy onto HTTP statuses, mirroring
// the gRPC status table the services were originally specified with.
func httpStatus(code device.Code) int {
	switch code {
	case device.CodeNotFound:
		return http.StatusNotFound
	case device.CodeMissingController:
		return http.StatusServiceUnavailable
	case device.CodeDuplicateController, device.CodeDuplicateDevice:
		return http.StatusConflict
	case device.CodeInvalidOperation:
		return http.StatusPreconditionFailed
	case device.CodeInvalidConfig:
		return http.StatusBadRequest
	case device.CodeNotSupported:
		return http.StatusNotImplemented
	case device.CodeHardwareError, device.CodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := device.CodeOf(err)
	writeJSON(w, httpStatus(code), errorBody{Error: err.Error(), Code: string(code)})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: string(device.CodeInvalidConfig)})
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request, into *T) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeBadRequest(w, "failed to decode request body: "+err.Error())
		return false
	}
	return true
}

// ------------------------
// Capability resolution
// ------------------------

// handleCap resolves the addressed device, verifies the capability, and runs
// fn with the typed capability reference under the appropriate lock side.
func handleCap[C any](h *Handler, w http.ResponseWriter, r *http.Request,
	id device.CapabilityID, write bool, fn func(c C) (any, error)) {

	address, err := uuid.Parse(mux.Vars(r)["address"])
	if err != nil {
		writeBadRequest(w, "failed to parse device address: "+err.Error())
		return
	}

	if write {
		h.mu.Lock()
		defer h.mu.Unlock()
	} else {
		h.mu.RLock()
		defer h.mu.RUnlock()
	}

	rec, ok := h.server.GetDevice(address)
	if !ok {
		writeError(w, device.ErrNotFound(address))
		return
	}
	if !rec.HasCapability(id) {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "this device does not support this capability",
			Code:  string(device.CodeNotSupported),
		})
		return
	}
	c, ok := device.As[C](rec)
	if !ok {
		// the cache said yes but the assertion failed: a logic bug
		writeError(w, device.ErrInternal("capability cache disagrees with driver type"))
		return
	}

	body, err := fn(c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// ------------------------
// Heartbeat + status
// ------------------------

func (h *Handler) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nil)
}

type statusBody struct {
	Devices map[string]any `json:"devices"`
	Tunnel  any            `json:"tunnel,omitempty"`
}

// status reads the retained telemetry instead of touching the device
// server: it stays cheap even while a mutation holds the write lock.
func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	body := statusBody{Devices: map[string]any{}}
	if h.bus != nil {
		for _, msg := range h.bus.RetainedMatching(events.T("device", events.WildcardOne, "state")) {
			body.Devices[msg.Topic[1]] = msg.Payload
		}
		if state, ok := h.bus.Retained(events.T("tunnel", "state")); ok {
			body.Tunnel = state
		}
	}
	writeJSON(w, http.StatusOK, body)
}
