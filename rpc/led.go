package rpc

import (
	"net/http"

	"github.com/gorilla/mux"

	"devsup-go/device"
)

type ledModeBody struct {
	Mode string `json:"mode"`
}

type ledBrightnessBody struct {
	Brightness float32 `json:"brightness"`
}

type ledPowerBody struct {
	PoweredOn bool `json:"powered_on"`
}

func (h *Handler) ledRoutes(r *mux.Router) {
	s := r.PathPrefix("/v1/led/{address}").Subrouter()
	s.HandleFunc("/mode", h.ledGetMode).Methods("GET")
	s.HandleFunc("/mode", h.ledSetMode).Methods("PUT")
	s.HandleFunc("/brightness", h.ledGetBrightness).Methods("GET")
	s.HandleFunc("/brightness", h.ledSetBrightness).Methods("PUT")
	s.HandleFunc("/power", h.ledGetPower).Methods("GET")
	s.HandleFunc("/power", h.ledSetPower).Methods("PUT")
}

func (h *Handler) ledGetMode(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapLEDController, false, func(c device.LEDController) (any, error) {
		mode, err := c.Mode()
		if err != nil {
			return nil, err
		}
		return ledModeBody{Mode: string(mode)}, nil
	})
}

func (h *Handler) ledSetMode(w http.ResponseWriter, r *http.Request) {
	var body ledModeBody
	if !decodeBody(w, r, &body) {
		return
	}
	handleCap(h, w, r, device.CapLEDController, true, func(c device.LEDController) (any, error) {
		return nil, c.SetMode(device.LEDMode(body.Mode))
	})
}

func (h *Handler) ledGetBrightness(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapLEDController, false, func(c device.LEDController) (any, error) {
		brightness, err := c.Brightness()
		if err != nil {
			return nil, err
		}
		return ledBrightnessBody{Brightness: brightness}, nil
	})
}

func (h *Handler) ledSetBrightness(w http.ResponseWriter, r *http.Request) {
	var body ledBrightnessBody
	if !decodeBody(w, r, &body) {
		return
	}
	handleCap(h, w, r, device.CapLEDController, true, func(c device.LEDController) (any, error) {
		return nil, c.SetBrightness(body.Brightness)
	})
}

func (h *Handler) ledGetPower(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapLEDController, false, func(c device.LEDController) (any, error) {
		on, err := c.PowerState()
		if err != nil {
			return nil, err
		}
		return ledPowerBody{PoweredOn: on}, nil
	})
}

func (h *Handler) ledSetPower(w http.ResponseWriter, r *http.Request) {
	var body ledPowerBody
	if !decodeBody(w, r, &body) {
		return
	}
	handleCap(h, w, r, device.CapLEDController, true, func(c device.LEDController) (any, error) {
		return nil, c.SetPowerState(body.PoweredOn)
	})
}
