package rpc

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"devsup-go/device"
)

type sensorTableBody struct {
	Values map[uint8]uint16 `json:"values"`
}

type sensorChannelsBody struct {
	Channels map[uint8]string `json:"channels"`
}

type sensorAutoGainBody struct {
	Enabled bool `json:"enabled"`
}

type sensorGainBody struct {
	Gain uint16 `json:"gain"`
}

type sensorGainIDBody struct {
	GainID uint8 `json:"gain_id"`
}

type sensorIntervalBody struct {
	Interval uint16 `json:"interval"`
}

type sensorIntervalIDBody struct {
	IntervalID uint8 `json:"interval_id"`
}

type sensorLuminosityBody struct {
	Luminosity uint32 `json:"luminosity"`
}

type sensorLuxBody struct {
	Lux float32 `json:"lux"`
}

func (h *Handler) lightSensorRoutes(r *mux.Router) {
	s := r.PathPrefix("/v1/lightsensor/{address}").Subrouter()
	s.HandleFunc("/gains", h.lsSupportedGains).Methods("GET")
	s.HandleFunc("/intervals", h.lsSupportedIntervals).Methods("GET")
	s.HandleFunc("/channels", h.lsSupportedChannels).Methods("GET")
	s.HandleFunc("/autogain", h.lsGetAutoGain).Methods("GET")
	s.HandleFunc("/autogain", h.lsSetAutoGain).Methods("PUT")
	s.HandleFunc("/gain", h.lsGetGain).Methods("GET")
	s.HandleFunc("/gain", h.lsSetGain).Methods("PUT")
	s.HandleFunc("/interval", h.lsGetInterval).Methods("GET")
	s.HandleFunc("/interval", h.lsSetInterval).Methods("PUT")
	s.HandleFunc("/luminosity/{channel}", h.lsLuminosity).Methods("GET")
	s.HandleFunc("/lux", h.lsLux).Methods("GET")
}

func (h *Handler) lsSupportedGains(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapLightSensor, false, func(c device.LightSensor) (any, error) {
		return sensorTableBody{Values: c.SupportedGains()}, nil
	})
}

func (h *Handler) lsSupportedIntervals(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapLightSensor, false, func(c device.LightSensor) (any, error) {
		return sensorTableBody{Values: c.SupportedIntervals()}, nil
	})
}

func (h *Handler) lsSupportedChannels(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapLightSensor, false, func(c device.LightSensor) (any, error) {
		return sensorChannelsBody{Channels: c.SupportedChannels()}, nil
	})
}

func (h *Handler) lsGetAutoGain(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapLightSensor, false, func(c device.LightSensor) (any, error) {
		enabled, err := c.AutoGain()
		if err != nil {
			return nil, err
		}
		return sensorAutoGainBody{Enabled: enabled}, nil
	})
}

func (h *Handler) lsSetAutoGain(w http.ResponseWriter, r *http.Request) {
	var body sensorAutoGainBody
	if !decodeBody(w, r, &body) {
		return
	}
	handleCap(h, w, r, device.CapLightSensor, true, func(c device.LightSensor) (any, error) {
		return nil, c.SetAutoGain(body.Enabled)
	})
}

func (h *Handler) lsGetGain(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapLightSensor, false, func(c device.LightSensor) (any, error) {
		gain, err := c.Gain()
		if err != nil {
			return nil, err
		}
		return sensorGainBody{Gain: gain}, nil
	})
}

func (h *Handler) lsSetGain(w http.ResponseWriter, r *http.Request) {
	var body sensorGainIDBody
	if !decodeBody(w, r, &body) {
		return
	}
	handleCap(h, w, r, device.CapLightSensor, true, func(c device.LightSensor) (any, error) {
		return nil, c.SetGain(body.GainID)
	})
}

func (h *Handler) lsGetInterval(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapLightSensor, false, func(c device.LightSensor) (any, error) {
		interval, err := c.Interval()
		if err != nil {
			return nil, err
		}
		return sensorIntervalBody{Interval: interval}, nil
	})
}

func (h *Handler) lsSetInterval(w http.ResponseWriter, r *http.Request) {
	var body sensorIntervalIDBody
	if !decodeBody(w, r, &body) {
		return
	}
	handleCap(h, w, r, device.CapLightSensor, true, func(c device.LightSensor) (any, error) {
		return nil, c.SetInterval(body.IntervalID)
	})
}

func (h *Handler) lsLuminosity(w http.ResponseWriter, r *http.Request) {
	channel, err := strconv.ParseUint(mux.Vars(r)["channel"], 10, 8)
	if err != nil {
		writeBadRequest(w, "failed to parse channel id: "+err.Error())
		return
	}
	// reads mutate sensor state (ADC latch), take the write side
	handleCap(h, w, r, device.CapLightSensor, true, func(c device.LightSensor) (any, error) {
		luminosity, err := c.Luminosity(uint8(channel))
		if err != nil {
			return nil, err
		}
		return sensorLuminosityBody{Luminosity: luminosity}, nil
	})
}

func (h *Handler) lsLux(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapLightSensor, true, func(c device.LightSensor) (any, error) {
		lux, err := c.Lux()
		if err != nil {
			return nil, err
		}
		return sensorLuxBody{Lux: lux}, nil
	})
}
