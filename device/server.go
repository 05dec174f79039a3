package device

import (
	"reflect"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"devsup-go/bus"
	"devsup-go/events"
)

// Server owns every bus controller and device record in the process. All
// lookups and lifecycle transitions go through it.
//
// The server is not synchronized internally; see the package comment. Bus
// controllers hand out of GetBus/GetBusPtr are interior-mutable and remain
// safe to use outside the outer lock.
type Server struct {
	buses   []bus.Controller
	devices map[uuid.UUID]*Record
	bus     *events.Bus
}

// NewServer builds an empty server.
func NewServer() *Server {
	return &Server{devices: make(map[uuid.UUID]*Record)}
}

// SetEventBus attaches a telemetry bus; lifecycle transitions are published
// on {"device", <name>, "state"} as retained messages.
func (s *Server) SetEventBus(b *events.Bus) { s.bus = b }

func (s *Server) publishState(rec *Record, state string) {
	if s.bus == nil {
		return
	}
	if state == "removed" {
		s.bus.Publish(events.T("device", rec.name, "state"), nil, true)
		return
	}
	s.bus.Publish(events.T("device", rec.name, "state"), state, true)
}

// ------------------------
// Bus controllers
// ------------------------

// RegisterBus adds a controller. A second controller of the same concrete
// variant is rejected and the registry stays unchanged.
func (s *Server) RegisterBus(c bus.Controller) error {
	for _, existing := range s.buses {
		if reflect.TypeOf(existing) == reflect.TypeOf(c) {
			return &Error{C: CodeDuplicateController}
		}
	}
	s.buses = append(s.buses, c)
	return nil
}

// Buses returns the controllers in registration order. Drivers that need
// several controllers acquire them in this order to keep lock ordering
// consistent.
func (s *Server) Buses() []bus.Controller {
	out := make([]bus.Controller, len(s.buses))
	copy(out, s.buses)
	return out
}

// GetBus returns the controller of concrete type T. The returned pointer is
// shared-owned: a driver may retain it across calls (typically from Start to
// Stop).
func GetBus[T bus.Controller](s *Server) (T, bool) {
	for _, c := range s.buses {
		if t, ok := c.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// GetBusPtr is an alias of GetBus kept for symmetry with the driver-facing
// contract: the pointer it returns is meant to be cached.
func GetBusPtr[T bus.Controller](s *Server) (T, bool) { return GetBus[T](s) }

// HasBus reports whether a controller of concrete type T is registered.
func HasBus[T bus.Controller](s *Server) bool {
	_, ok := GetBus[T](s)
	return ok
}

// ------------------------
// Device records
// ------------------------

// RegisterDevice adds a record. Address and name must be unique. With
// startImmediately set, the driver is started first and any error aborts the
// registration: the device is not recorded.
func (s *Server) RegisterDevice(rec *Record, startImmediately bool) (uuid.UUID, error) {
	if _, ok := s.devices[rec.address]; ok {
		return uuid.Nil, &Error{C: CodeDuplicateDevice,
			Reason: "device with address " + rec.address.String() + " is already registered"}
	}
	for _, other := range s.devices {
		if other.name == rec.name {
			return uuid.Nil, &Error{C: CodeDuplicateDevice,
				Reason: "device with name " + rec.name + " is already registered"}
		}
	}

	if startImmediately && !rec.driver.IsRunning() {
		if err := rec.driver.Start(s); err != nil {
			return uuid.Nil, err
		}
		rec.running = true
	}

	s.devices[rec.address] = rec
	s.publishState(rec, stateName(rec.running))
	return rec.address, nil
}

// StartDevice transitions a registered device to running.
func (s *Server) StartDevice(address uuid.UUID) error {
	rec, ok := s.devices[address]
	if !ok {
		return ErrNotFound(address)
	}
	if rec.running {
		return ErrInvalidOperation("device %s is already running", rec.name)
	}
	if err := rec.driver.Start(s); err != nil {
		return err
	}
	rec.running = true
	s.publishState(rec, "running")
	return nil
}

// StopDevice transitions a running device back to registered.
func (s *Server) StopDevice(address uuid.UUID) error {
	rec, ok := s.devices[address]
	if !ok {
		return ErrNotFound(address)
	}
	if !rec.running {
		return ErrInvalidOperation("device %s is not running", rec.name)
	}
	if err := rec.driver.Stop(s); err != nil {
		return err
	}
	rec.running = false
	s.publishState(rec, "registered")
	return nil
}

// RemoveDevice stops the device if needed and evicts the record. When Stop
// fails the record stays in place and the error is returned.
func (s *Server) RemoveDevice(address uuid.UUID) error {
	rec, ok := s.devices[address]
	if !ok {
		return ErrNotFound(address)
	}
	if rec.running {
		if err := rec.driver.Stop(s); err != nil {
			return err
		}
		rec.running = false
	}
	delete(s.devices, address)
	s.publishState(rec, "removed")
	return nil
}

// GetDevice returns the record at address.
func (s *Server) GetDevice(address uuid.UUID) (*Record, bool) {
	rec, ok := s.devices[address]
	return rec, ok
}

// HasDevice reports whether address is registered.
func (s *Server) HasDevice(address uuid.UUID) bool {
	_, ok := s.devices[address]
	return ok
}

// Devices returns a snapshot of every record.
func (s *Server) Devices() []*Record {
	out := make([]*Record, 0, len(s.devices))
	for _, rec := range s.devices {
		out = append(out, rec)
	}
	return out
}

// Shutdown stops every running device, best-effort: stop failures are
// logged, never raised, so teardown makes progress on all resources.
func (s *Server) Shutdown() {
	for _, rec := range s.devices {
		if !rec.running {
			continue
		}
		if err := rec.driver.Stop(s); err != nil {
			logrus.WithField("device", rec.name).Warnf("Failed to stop device during shutdown: %v", err)
			continue
		}
		rec.running = false
		s.publishState(rec, "registered")
	}
}

func stateName(running bool) string {
	if running {
		return "running"
	}
	return "registered"
}

// ------------------------
// Builder
// ------------------------

// Builder assembles a server from controllers and records in one shot.
// Buses are registered before devices so drivers started immediately can
// resolve their controllers.
type Builder struct {
	buses   []bus.Controller
	records []*Record
}

// Configure starts an empty builder.
func Configure() *Builder { return &Builder{} }

// AddBus queues a controller for registration.
func (b *Builder) AddBus(c bus.Controller) *Builder {
	b.buses = append(b.buses, c)
	return b
}

// AddDevice queues a record for registration.
func (b *Builder) AddDevice(rec *Record) *Builder {
	b.records = append(b.records, rec)
	return b
}

// Build registers everything. With startImmediately set every device is
// started as it is registered; the first failure aborts the build.
func (b *Builder) Build(startImmediately bool) (*Server, error) {
	s := NewServer()
	for _, c := range b.buses {
		if err := s.RegisterBus(c); err != nil {
			return nil, err
		}
	}
	for _, rec := range b.records {
		if _, err := s.RegisterDevice(rec, startImmediately); err != nil {
			return nil, err
		}
	}
	return s, nil
}
