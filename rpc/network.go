package rpc

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"devsup-go/adb"
	"devsup-go/device"
)

type portBody struct {
	Type       string `json:"type"`
	ServerPort uint16 `json:"server_port"`
	DevicePort uint16 `json:"device_port"`
}

type portListBody struct {
	Connected bool       `json:"connected"`
	Ports     []portBody `json:"ports"`
}

func parsePortType(s string) (adb.PortType, bool) {
	switch s {
	case "forward":
		return adb.PortForward, true
	case "reverse":
		return adb.PortReverse, true
	}
	return 0, false
}

func (h *Handler) networkRoutes(r *mux.Router) {
	r.HandleFunc("/v1/network/ports", h.listPorts).Methods("GET")
	r.HandleFunc("/v1/network/ports", h.addPort).Methods("POST")
	r.HandleFunc("/v1/network/ports/{type}/{device_port}", h.removePort).Methods("DELETE")
}

func (h *Handler) requireTunnel(w http.ResponseWriter) bool {
	if h.tunnel == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error: "tunnel manager is not running",
			Code:  string(device.CodeMissingController),
		})
		return false
	}
	return true
}

func (h *Handler) listPorts(w http.ResponseWriter, _ *http.Request) {
	if !h.requireTunnel(w) {
		return
	}
	body := portListBody{Connected: h.tunnel.IsConnected(), Ports: []portBody{}}
	for _, p := range h.tunnel.RunningPorts() {
		body.Ports = append(body.Ports, portBody{
			Type:       p.Type.String(),
			ServerPort: p.RemotePort,
			DevicePort: p.LocalPort,
		})
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) addPort(w http.ResponseWriter, r *http.Request) {
	if !h.requireTunnel(w) {
		return
	}
	var body portBody
	if !decodeBody(w, r, &body) {
		return
	}
	portType, ok := parsePortType(body.Type)
	if !ok {
		writeBadRequest(w, "port type must be forward or reverse")
		return
	}
	if body.ServerPort == 0 || body.DevicePort == 0 {
		writeBadRequest(w, "ports must be non-zero")
		return
	}
	if err := h.tunnel.AddPort(portType, body.ServerPort, body.DevicePort); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error: "failed to add port: " + err.Error(),
			Code:  string(device.CodeInternal),
		})
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) removePort(w http.ResponseWriter, r *http.Request) {
	if !h.requireTunnel(w) {
		return
	}
	vars := mux.Vars(r)
	portType, ok := parsePortType(vars["type"])
	if !ok {
		writeBadRequest(w, "port type must be forward or reverse")
		return
	}
	devicePort, err := strconv.ParseUint(vars["device_port"], 10, 16)
	if err != nil {
		writeBadRequest(w, "failed to parse device port: "+err.Error())
		return
	}
	if err := h.tunnel.RemovePort(portType, uint16(devicePort)); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error: "failed to remove port: " + err.Error(),
			Code:  string(device.CodeInternal),
		})
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
