package rpc

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"devsup-go/device"
)

type deviceBody struct {
	Address      string                `json:"address"`
	Name         string                `json:"name"`
	Driver       string                `json:"driver"`
	Capabilities []device.CapabilityID `json:"capabilities"`
	Running      bool                  `json:"running"`
}

type deviceListBody struct {
	Devices []deviceBody `json:"devices"`
}

func describeRecord(rec *device.Record) deviceBody {
	caps := rec.Capabilities()
	if caps == nil {
		caps = []device.CapabilityID{}
	}
	return deviceBody{
		Address:      rec.Address().String(),
		Name:         rec.Name(),
		Driver:       rec.Driver().Name(),
		Capabilities: caps,
		Running:      rec.IsRunning(),
	}
}

// deviceRoutes is the administrator surface: enumeration plus the explicit
// lifecycle calls by which the device set changes at runtime.
func (h *Handler) deviceRoutes(r *mux.Router) {
	r.HandleFunc("/v1/devices", h.listDevices).Methods("GET")
	r.HandleFunc("/v1/devices/{address}", h.getDevice).Methods("GET")
	r.HandleFunc("/v1/devices/{address}", h.removeDevice).Methods("DELETE")
	r.HandleFunc("/v1/devices/{address}/start", h.startDevice).Methods("POST")
	r.HandleFunc("/v1/devices/{address}/stop", h.stopDevice).Methods("POST")
}

func (h *Handler) parseAddress(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	address, err := uuid.Parse(mux.Vars(r)["address"])
	if err != nil {
		writeBadRequest(w, "failed to parse device address: "+err.Error())
		return uuid.Nil, false
	}
	return address, true
}

func (h *Handler) listDevices(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	body := deviceListBody{Devices: []deviceBody{}}
	for _, rec := range h.server.Devices() {
		body.Devices = append(body.Devices, describeRecord(rec))
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	address, ok := h.parseAddress(w, r)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	rec, ok := h.server.GetDevice(address)
	if !ok {
		writeError(w, device.ErrNotFound(address))
		return
	}
	writeJSON(w, http.StatusOK, describeRecord(rec))
}

func (h *Handler) startDevice(w http.ResponseWriter, r *http.Request) {
	address, ok := h.parseAddress(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.server.StartDevice(address); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) stopDevice(w http.ResponseWriter, r *http.Request) {
	address, ok := h.parseAddress(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.server.StopDevice(address); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) removeDevice(w http.ResponseWriter, r *http.Request) {
	address, ok := h.parseAddress(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.server.RemoveDevice(address); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
