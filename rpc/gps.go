package rpc

import (
	"net/http"

	"github.com/gorilla/mux"

	"devsup-go/device"
)

type gpsLocationBody struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type gpsAltitudeBody struct {
	Altitude float32 `json:"altitude"`
}

type gpsFixBody struct {
	HasFix bool `json:"has_fix"`
}

type gpsSpeedBody struct {
	Speed float32 `json:"speed"`
}

type gpsHeadingBody struct {
	Heading float32 `json:"heading"`
}

type gpsSatellitesBody struct {
	Satellites []device.Satellite `json:"satellites"`
}

type gpsAccuracyBody struct {
	Horizontal float32 `json:"horizontal"`
	Vertical   float32 `json:"vertical"`
}

func (h *Handler) gpsRoutes(r *mux.Router) {
	s := r.PathPrefix("/v1/gps/{address}").Subrouter()
	s.HandleFunc("/location", h.gpsLocation).Methods("GET")
	s.HandleFunc("/altitude", h.gpsAltitude).Methods("GET")
	s.HandleFunc("/fix", h.gpsFix).Methods("GET")
	s.HandleFunc("/speed", h.gpsSpeed).Methods("GET")
	s.HandleFunc("/heading", h.gpsHeading).Methods("GET")
	s.HandleFunc("/satellites", h.gpsSatellites).Methods("GET")
	s.HandleFunc("/accuracy", h.gpsAccuracy).Methods("GET")
}

func (h *Handler) gpsLocation(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapGPS, false, func(c device.GPS) (any, error) {
		lat, lon, err := c.Location()
		if err != nil {
			return nil, err
		}
		return gpsLocationBody{Latitude: lat, Longitude: lon}, nil
	})
}

func (h *Handler) gpsAltitude(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapGPS, false, func(c device.GPS) (any, error) {
		alt, err := c.Altitude()
		if err != nil {
			return nil, err
		}
		return gpsAltitudeBody{Altitude: alt}, nil
	})
}

func (h *Handler) gpsFix(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapGPS, false, func(c device.GPS) (any, error) {
		fix, err := c.HasFix()
		if err != nil {
			return nil, err
		}
		return gpsFixBody{HasFix: fix}, nil
	})
}

func (h *Handler) gpsSpeed(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapGPS, false, func(c device.GPS) (any, error) {
		speed, err := c.Speed()
		if err != nil {
			return nil, err
		}
		return gpsSpeedBody{Speed: speed}, nil
	})
}

func (h *Handler) gpsHeading(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapGPS, false, func(c device.GPS) (any, error) {
		heading, err := c.Heading()
		if err != nil {
			return nil, err
		}
		return gpsHeadingBody{Heading: heading}, nil
	})
}

func (h *Handler) gpsSatellites(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapGPS, false, func(c device.GPS) (any, error) {
		sats, err := c.Satellites()
		if err != nil {
			return nil, err
		}
		if sats == nil {
			sats = []device.Satellite{}
		}
		return gpsSatellitesBody{Satellites: sats}, nil
	})
}

func (h *Handler) gpsAccuracy(w http.ResponseWriter, r *http.Request) {
	handleCap(h, w, r, device.CapGPS, false, func(c device.GPS) (any, error) {
		horizontal, err := c.HorizontalAccuracy()
		if err != nil {
			return nil, err
		}
		vertical, err := c.VerticalAccuracy()
		if err != nil {
			return nil, err
		}
		return gpsAccuracyBody{Horizontal: horizontal, Vertical: vertical}, nil
	})
}
