package devices

import (
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/sirupsen/logrus"

	"devsup-go/bus"
	"devsup-go/config"
	"devsup-go/device"
)

const (
	gpsWorkerShutdownTimeout = 5 * time.Second
	gpsCycleBufferSize       = 256
	knotsToMetersPerSecond   = 0.514444
)

// UARTGPSConfig configures the NMEA GPS receiver driver.
type UARTGPSConfig struct {
	UARTPort           uint8      `json:"uart_port"`
	BaudRate           uint32     `json:"baud_rate"`
	Parity             bus.Parity `json:"parity"`
	DataBits           uint8      `json:"data_bits"`
	StopBits           uint8      `json:"stop_bits"`
	PollingIntervalMs  uint32     `json:"polling_interval_ms"`
	PeakAccuracyMeters float32    `json:"peak_accuracy_meters"`
}

// DefaultUARTGPSConfig returns the template written back for empty entries.
func DefaultUARTGPSConfig() UARTGPSConfig {
	return UARTGPSConfig{
		BaudRate:           115200,
		Parity:             bus.ParityNone,
		DataBits:           8,
		StopBits:           1,
		PollingIntervalMs:  1000,
		PeakAccuracyMeters: 3.0,
	}
}

// gpsState is the receiver's last known navigation state, updated by the
// reader worker and read by the capability methods.
type gpsState struct {
	mu sync.RWMutex

	fixValid   bool
	latitude   float64
	longitude  float64
	altitude   float32
	speed      float32 // m/s
	heading    float32 // degrees
	satellites []device.Satellite
	hdop       float32
	vdop       float32
}

// UARTGPS reads NMEA sentences from a UART port in a long-lived worker
// goroutine started in Start and torn down in Stop via an explicit shutdown
// handshake.
type UARTGPS struct {
	mu  sync.Mutex
	cfg UARTGPSConfig

	uart   *bus.UARTController
	handle *bus.UARTHandle
	state  *gpsState

	shutdown chan struct{}
	done     chan struct{}
	running  bool
}

// NewUARTGPS validates the configuration and builds the driver.
func NewUARTGPS(cfg UARTGPSConfig) (*UARTGPS, error) {
	if cfg.DataBits < 5 || cfg.DataBits > 9 {
		return nil, device.ErrInvalidConfig("data bit count is out of bounds: only 5-9 data bits are supported")
	}
	if cfg.BaudRate == 0 {
		return nil, device.ErrInvalidConfig("baud rate cannot be 0")
	}
	if cfg.StopBits != 1 && cfg.StopBits != 2 {
		return nil, device.ErrInvalidConfig("stop bit count can be either 1 or 2")
	}
	if cfg.PollingIntervalMs == 0 {
		return nil, device.ErrInvalidConfig("polling interval cannot be 0")
	}
	return &UARTGPS{cfg: cfg}, nil
}

// NewUARTGPSFromConfig builds the driver from a serialized device entry.
func NewUARTGPSFromConfig(entry *config.DeviceEntry) (device.Driver, error) {
	var cfg UARTGPSConfig
	if err := decodeDriverData(entry, DefaultUARTGPSConfig(), &cfg); err != nil {
		return nil, err
	}
	return NewUARTGPS(cfg)
}

func (d *UARTGPS) Name() string { return "gps_uart" }

func (d *UARTGPS) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Start opens the UART port and launches the reader worker.
func (d *UARTGPS) Start(parent *device.Server) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	uart, ok := device.GetBusPtr[*bus.UARTController](parent)
	if !ok {
		return device.ErrMissingController("uart")
	}

	handle, err := uart.Open(d.cfg.UARTPort, d.cfg.BaudRate, d.cfg.Parity, d.cfg.DataBits, d.cfg.StopBits)
	if err != nil {
		return device.ErrHardware(err, "could not open GPS UART port %d", d.cfg.UARTPort)
	}

	interval := time.Duration(d.cfg.PollingIntervalMs) * time.Millisecond
	if err := handle.SetReadTimeout(interval); err != nil {
		logrus.Warnf("Failed to set GPS read timeout: %v", err)
	}

	d.uart = uart
	d.handle = handle
	d.state = &gpsState{}
	d.shutdown = make(chan struct{})
	d.done = make(chan struct{})
	d.running = true

	go d.worker(d.state, handle, d.shutdown, d.done)
	return nil
}

// Stop signals the worker and waits for its acknowledgement with a bounded
// window; a non-responsive worker is abandoned and logged rather than
// allowed to block shutdown.
func (d *UARTGPS) Stop(_ *device.Server) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return device.ErrInvalidOperation("device is not running")
	}

	close(d.shutdown)
	select {
	case <-d.done:
	case <-time.After(gpsWorkerShutdownTimeout):
		logrus.Warn("GPS worker did not acknowledge shutdown in time, proceeding anyway")
	}

	if err := d.uart.Close(d.cfg.UARTPort); err != nil {
		logrus.Warnf("Failed to close GPS UART port: %v", err)
	}

	d.uart = nil
	d.handle = nil
	d.shutdown = nil
	d.done = nil
	d.running = false
	return nil
}

// worker reads the port until told to shut down, feeding complete sentences
// into the shared state. Reads are bounded by the port's read timeout, so
// the shutdown channel is observed at least once per polling interval.
func (d *UARTGPS) worker(state *gpsState, handle *bus.UARTHandle, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, gpsCycleBufferSize)
	partial := ""
	for {
		select {
		case <-shutdown:
			logrus.Debug("GPS worker received shutdown request")
			return
		default:
		}

		n, err := handle.Read(buf)
		if err != nil {
			logrus.Warnf("Failed to read data from GPS device: %v", err)
			continue
		}
		if n == 0 {
			continue // read timeout, no data this cycle
		}

		partial += string(buf[:n])
		sentences := strings.Split(partial, "\n")
		for _, raw := range sentences[:len(sentences)-1] {
			sentence := strings.TrimSpace(raw)
			if sentence == "" {
				continue
			}
			if err := state.apply(sentence); err != nil {
				logrus.Debugf("Failed to parse sentence %q: %v", sentence, err)
			}
		}
		partial = sentences[len(sentences)-1]
	}
}

// apply folds one NMEA sentence into the navigation state.
func (s *gpsState) apply(sentence string) error {
	parsed, err := nmea.Parse(sentence)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := parsed.(type) {
	case nmea.RMC:
		s.fixValid = m.Validity == "A"
		if s.fixValid {
			s.latitude = m.Latitude
			s.longitude = m.Longitude
			s.speed = float32(m.Speed) * knotsToMetersPerSecond
			s.heading = float32(m.Course)
		}
	case nmea.GGA:
		if m.FixQuality != "0" {
			s.latitude = m.Latitude
			s.longitude = m.Longitude
			s.altitude = float32(m.Altitude)
		}
	case nmea.GSA:
		s.hdop = float32(m.HDOP)
		s.vdop = float32(m.VDOP)
	case nmea.GSV:
		if m.MessageNumber == 1 {
			s.satellites = s.satellites[:0]
		}
		for _, info := range m.Info {
			s.satellites = append(s.satellites, device.Satellite{
				ID:        info.SVPRNNumber,
				Elevation: info.Elevation,
				Azimuth:   info.Azimuth,
				SNR:       info.SNR,
			})
		}
	}
	return nil
}

func (d *UARTGPS) getState() (*gpsState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running || d.state == nil {
		return nil, device.ErrInvalidOperation("device is in an invalid state")
	}
	return d.state, nil
}

// ------------------------
// GPS capability
// ------------------------

func (d *UARTGPS) Location() (float64, float64, error) {
	s, err := d.getState()
	if err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latitude, s.longitude, nil
}

func (d *UARTGPS) Altitude() (float32, error) {
	s, err := d.getState()
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.altitude, nil
}

func (d *UARTGPS) HasFix() (bool, error) {
	s, err := d.getState()
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fixValid, nil
}

func (d *UARTGPS) Speed() (float32, error) {
	s, err := d.getState()
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speed, nil
}

func (d *UARTGPS) Heading() (float32, error) {
	s, err := d.getState()
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heading, nil
}

func (d *UARTGPS) Satellites() ([]device.Satellite, error) {
	s, err := d.getState()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]device.Satellite, len(s.satellites))
	copy(out, s.satellites)
	return out, nil
}

func (d *UARTGPS) HorizontalAccuracy() (float32, error) {
	s, err := d.getState()
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hdop * d.cfg.PeakAccuracyMeters, nil
}

func (d *UARTGPS) VerticalAccuracy() (float32, error) {
	s, err := d.getState()
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vdop * d.cfg.PeakAccuracyMeters, nil
}
