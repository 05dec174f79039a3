package devices

import (
	"fmt"
	"testing"

	"github.com/goccy/go-json"

	"devsup-go/config"
	"devsup-go/device"
)

func TestRegistryKnowsEveryDriver(t *testing.T) {
	for _, name := range []string{"sysfs_generic_led", "gps_uart", "tsl2591", "bmp280"} {
		found := false
		for _, known := range Known() {
			if known == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("driver %q missing from registry", name)
		}
	}
}

func TestRegistryUnknownDriver(t *testing.T) {
	_, err := New(&config.DeviceEntry{Driver: "flux_capacitor"})
	if err != ErrUnknownDriver {
		t.Errorf("got %v, want ErrUnknownDriver", err)
	}
}

// An empty driver_data entry must gain a default template and fail, for
// every registered driver.
func TestEmptyEntryWritesTemplate(t *testing.T) {
	for _, name := range Known() {
		t.Run(name, func(t *testing.T) {
			entry := &config.DeviceEntry{Driver: name}
			_, err := New(entry)
			if device.CodeOf(err) != device.CodeInvalidConfig {
				t.Fatalf("empty entry = %v, want invalid_config", err)
			}
			if len(entry.DriverData) == 0 {
				t.Fatal("a default template should have been written back")
			}
			var anything map[string]any
			if err := json.Unmarshal(entry.DriverData, &anything); err != nil {
				t.Fatalf("template does not decode: %v", err)
			}
		})
	}
}

func TestUARTGPSConfigValidation(t *testing.T) {
	base := DefaultUARTGPSConfig()

	bad := base
	bad.DataBits = 4
	if _, err := NewUARTGPS(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("data bits = %v, want invalid_config", err)
	}

	bad = base
	bad.BaudRate = 0
	if _, err := NewUARTGPS(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("baud = %v, want invalid_config", err)
	}

	bad = base
	bad.StopBits = 3
	if _, err := NewUARTGPS(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("stop bits = %v, want invalid_config", err)
	}

	if _, err := NewUARTGPS(base); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

func TestTSL2591ConfigValidation(t *testing.T) {
	base := DefaultTSL2591Config()

	bad := base
	bad.Gain = 7
	if _, err := NewTSL2591(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("gain = %v, want invalid_config", err)
	}

	bad = base
	bad.IntegrationTimeMs = 150
	if _, err := NewTSL2591(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("interval = %v, want invalid_config", err)
	}

	if _, err := NewTSL2591(base); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

func TestBMP280ConfigValidation(t *testing.T) {
	base := DefaultBMP280Config()

	bad := base
	bad.Oversampling = 3
	if _, err := NewBMP280(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("oversampling = %v, want invalid_config", err)
	}

	bad = base
	bad.StandbyTimeMs = 42
	if _, err := NewBMP280(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("standby = %v, want invalid_config", err)
	}

	if _, err := NewBMP280(base); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

func TestSysfsLEDConfigValidation(t *testing.T) {
	base := DefaultSysfsLEDConfig()
	base.ModeSwitchPin = 2
	base.PowerSwitchPin = 3

	bad := base
	bad.PowerOnGPIOState = 0
	bad.PowerOffGPIOState = 0
	if _, err := NewSysfsLED(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("power states = %v, want invalid_config", err)
	}

	bad = base
	bad.IRModeGPIOState = 1
	bad.VisModeGPIOState = 1
	if _, err := NewSysfsLED(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("mode states = %v, want invalid_config", err)
	}

	bad = base
	bad.PowerSwitchPin = bad.ModeSwitchPin
	if _, err := NewSysfsLED(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("shared pin = %v, want invalid_config", err)
	}

	bad = base
	bad.PWMPeriodNs = 0
	if _, err := NewSysfsLED(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("period = %v, want invalid_config", err)
	}

	bad = base
	bad.PWM100BrightnessDuty = bad.PWM0BrightnessDuty
	if _, err := NewSysfsLED(bad); device.CodeOf(err) != device.CodeInvalidConfig {
		t.Errorf("duty endpoints = %v, want invalid_config", err)
	}

	if _, err := NewSysfsLED(base); err != nil {
		t.Errorf("config rejected: %v", err)
	}
}

// Drivers advertise their capabilities purely through interface shape.
func TestDriverCapabilities(t *testing.T) {
	led, err := NewSysfsLED(func() SysfsLEDConfig {
		c := DefaultSysfsLEDConfig()
		c.ModeSwitchPin = 2
		c.PowerSwitchPin = 3
		return c
	}())
	if err != nil {
		t.Fatal(err)
	}
	rec := device.NewRecord(led, "")
	if !rec.HasCapability(device.CapLEDController) {
		t.Error("LED driver should advertise led_controller")
	}
	if rec.HasCapability(device.CapGPS) {
		t.Error("LED driver should not advertise gps")
	}

	gps, err := NewUARTGPS(DefaultUARTGPSConfig())
	if err != nil {
		t.Fatal(err)
	}
	rec = device.NewRecord(gps, "")
	if !rec.HasCapability(device.CapGPS) {
		t.Error("GPS driver should advertise gps")
	}

	light, err := NewTSL2591(DefaultTSL2591Config())
	if err != nil {
		t.Fatal(err)
	}
	rec = device.NewRecord(light, "")
	if !rec.HasCapability(device.CapLightSensor) {
		t.Error("TSL2591 should advertise light_sensor")
	}

	env, err := NewBMP280(DefaultBMP280Config())
	if err != nil {
		t.Fatal(err)
	}
	rec = device.NewRecord(env, "")
	if !rec.HasCapability(device.CapThermometer) || !rec.HasCapability(device.CapBarometer) {
		t.Error("BMP280 should advertise thermometer and barometer")
	}
}

// nmeaSentence appends a valid checksum to a payload like "GPRMC,...".
func nmeaSentence(payload string) string {
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, sum)
}

func TestGPSStateFoldsSentences(t *testing.T) {
	s := &gpsState{}

	rmc := nmeaSentence("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	if err := s.apply(rmc); err != nil {
		t.Fatalf("rmc: %v", err)
	}
	if !s.fixValid {
		t.Error("RMC with validity A should mark the fix valid")
	}
	if s.latitude < 48.11 || s.latitude > 48.13 {
		t.Errorf("latitude = %v", s.latitude)
	}
	if s.speed < 11.0 || s.speed > 12.0 {
		t.Errorf("speed = %v m/s, want ~11.5", s.speed)
	}

	gga := nmeaSentence("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	if err := s.apply(gga); err != nil {
		t.Fatalf("gga: %v", err)
	}
	if s.altitude != 545.4 {
		t.Errorf("altitude = %v", s.altitude)
	}

	gsa := nmeaSentence("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1")
	if err := s.apply(gsa); err != nil {
		t.Fatalf("gsa: %v", err)
	}
	if s.hdop != 1.3 || s.vdop != 2.1 {
		t.Errorf("hdop/vdop = %v/%v", s.hdop, s.vdop)
	}

	gsv := nmeaSentence("GPGSV,1,1,04,01,40,083,46,02,17,308,41,12,07,344,39,14,22,228,45")
	if err := s.apply(gsv); err != nil {
		t.Fatalf("gsv: %v", err)
	}
	if len(s.satellites) != 4 {
		t.Fatalf("satellites = %d, want 4", len(s.satellites))
	}
	if s.satellites[0].ID != 1 || s.satellites[0].SNR != 46 {
		t.Errorf("satellite 0 = %+v", s.satellites[0])
	}

	// a garbage sentence is rejected without disturbing state
	if err := s.apply("$GPRMC,garbage*00"); err == nil {
		t.Error("garbage sentence should fail to parse")
	}
	if !s.fixValid {
		t.Error("state should be unchanged by a rejected sentence")
	}
}

func TestGPSAccuracyScalesWithDilution(t *testing.T) {
	d, err := NewUARTGPS(DefaultUARTGPSConfig())
	if err != nil {
		t.Fatal(err)
	}
	d.state = &gpsState{hdop: 1.5, vdop: 2.0}
	d.running = true

	h, err := d.HorizontalAccuracy()
	if err != nil {
		t.Fatal(err)
	}
	if h != 1.5*3.0 {
		t.Errorf("horizontal = %v", h)
	}
	v, err := d.VerticalAccuracy()
	if err != nil {
		t.Fatal(err)
	}
	if v != 2.0*3.0 {
		t.Errorf("vertical = %v", v)
	}
}

func TestCapabilityCallsWhileStopped(t *testing.T) {
	gps, err := NewUARTGPS(DefaultUARTGPSConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := gps.Location(); device.CodeOf(err) != device.CodeInvalidOperation {
		t.Errorf("location while stopped = %v, want invalid_operation", err)
	}

	light, err := NewTSL2591(DefaultTSL2591Config())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := light.Lux(); device.CodeOf(err) != device.CodeInvalidOperation {
		t.Errorf("lux while stopped = %v, want invalid_operation", err)
	}
}
