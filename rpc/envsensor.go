package rpc

import (
	"net/http"

	"github.com/gorilla/mux"

	"devsup-go/device"
)

type temperatureBody struct {
	TemperatureC float32 `json:"temperature_c"`
}

type pressureBody struct {
	PressurePa float32 `json:"pressure_pa"`
}

func (h *Handler) envSensorRoutes(r *mux.Router) {
	s := r.PathPrefix("/v1/envsensor/{address}").Subrouter()
	s.HandleFunc("/temperature", h.envTemperature).Methods("GET")
	s.HandleFunc("/pressure", h.envPressure).Methods("GET")
}

func (h *Handler) envTemperature(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapThermometer, false, func(c device.Thermometer) (any, error) {
		t, err := c.TemperatureC()
		if err != nil {
			return nil, err
		}
		return temperatureBody{TemperatureC: t}, nil
	})
}

func (h *Handler) envPressure(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapBarometer, false, func(c device.Barometer) (any, error) {
		p, err := c.PressurePa()
		if err != nil {
			return nil, err
		}
		return pressureBody{PressurePa: p}, nil
	})
}
