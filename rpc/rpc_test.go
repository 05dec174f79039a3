package rpc

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"devsup-go/device"
	"devsup-go/events"
)

// dummyLED implements the LEDController capability with in-memory state.
type dummyLED struct {
	running    bool
	mode       device.LEDMode
	brightness float32
	poweredOn  bool
}

func (d *dummyLED) Name() string    { return "dummyled" }
func (d *dummyLED) IsRunning() bool { return d.running }

func (d *dummyLED) Start(_ *device.Server) error {
	d.running = true
	return nil
}

func (d *dummyLED) Stop(_ *device.Server) error {
	d.running = false
	return nil
}

func (d *dummyLED) Mode() (device.LEDMode, error) { return d.mode, nil }

func (d *dummyLED) SetMode(mode device.LEDMode) error {
	if mode != device.LEDVisible && mode != device.LEDInfrared {
		return device.ErrInvalidOperation("unknown LED mode %q", string(mode))
	}
	d.mode = mode
	return nil
}

func (d *dummyLED) Brightness() (float32, error) { return d.brightness, nil }

func (d *dummyLED) SetBrightness(b float32) error {
	if b < 0 || b > 1 {
		return device.ErrInvalidOperation("brightness must be within [0, 1]")
	}
	d.brightness = b
	return nil
}

func (d *dummyLED) PowerState() (bool, error) { return d.poweredOn, nil }

func (d *dummyLED) SetPowerState(on bool) error {
	d.poweredOn = on
	return nil
}

// plainDevice has no capabilities.
type plainDevice struct{ running bool }

func (d *plainDevice) Name() string                 { return "plain" }
func (d *plainDevice) IsRunning() bool              { return d.running }
func (d *plainDevice) Start(_ *device.Server) error { d.running = true; return nil }
func (d *plainDevice) Stop(_ *device.Server) error  { d.running = false; return nil }

type fixture struct {
	ts      *httptest.Server
	led     uuid.UUID
	plain   uuid.UUID
	devices *device.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	bus := events.NewBus(8)
	srv := device.NewServer()
	srv.SetEventBus(bus)

	led := device.NewRecord(&dummyLED{mode: device.LEDVisible, brightness: 0.5}, "led0")
	plain := device.NewRecord(&plainDevice{}, "plain0")

	_, err := srv.RegisterDevice(led, true)
	require.NoError(t, err)
	_, err = srv.RegisterDevice(plain, false)
	require.NoError(t, err)

	h := New(srv, nil, bus)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)

	return &fixture{ts: ts, led: led.Address(), plain: plain.Address(), devices: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/v1/ping", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLEDRoundTrip(t *testing.T) {
	f := newFixture(t)
	base := "/v1/led/" + f.led.String()

	resp := f.do(t, "GET", base+"/mode", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "visible", decode[ledModeBody](t, resp).Mode)

	resp = f.do(t, "PUT", base+"/mode", ledModeBody{Mode: "infrared"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, "GET", base+"/mode", nil)
	require.Equal(t, "infrared", decode[ledModeBody](t, resp).Mode)

	resp = f.do(t, "PUT", base+"/brightness", ledBrightnessBody{Brightness: 0.75})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, "GET", base+"/brightness", nil)
	require.InDelta(t, 0.75, decode[ledBrightnessBody](t, resp).Brightness, 1e-6)
}

func TestLEDInvalidOperationMapsToPreconditionFailed(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "PUT", "/v1/led/"+f.led.String()+"/brightness",
		ledBrightnessBody{Brightness: 2.0})
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	require.Equal(t, string(device.CodeInvalidOperation), decode[errorBody](t, resp).Code)
}

func TestMissingCapabilityRejected(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/v1/led/"+f.plain.String()+"/mode", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownDeviceIsNotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/v1/led/"+uuid.NewString()+"/mode", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMalformedAddressIsBadRequest(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/v1/led/not-a-uuid/mode", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeviceAdminSurface(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "GET", "/v1/devices", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[deviceListBody](t, resp)
	require.Len(t, list.Devices, 2)

	// stop the led device, then a second stop must fail the precondition
	resp = f.do(t, "POST", "/v1/devices/"+f.led.String()+"/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, "POST", "/v1/devices/"+f.led.String()+"/stop", nil)
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp = f.do(t, "GET", "/v1/devices/"+f.led.String(), nil)
	require.False(t, decode[deviceBody](t, resp).Running)

	resp = f.do(t, "DELETE", "/v1/devices/"+f.led.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, "GET", "/v1/devices/"+f.led.String(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusReadsRetainedTelemetry(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "GET", "/v1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[statusBody](t, resp)
	require.Equal(t, "running", body.Devices["led0"])
	require.Equal(t, "registered", body.Devices["plain0"])
}

func TestNetworkUnavailableWithoutTunnel(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/v1/network/ports", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
