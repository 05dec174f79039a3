// Package device implements the device layer: drivers, capability dispatch,
// device records and the server that owns bus controllers and records.
//
// The server is deliberately not synchronized internally: the process wraps
// it in a single reader-writer lock at the outer (RPC) boundary, and drivers
// receive the server only transiently through Start/Stop while that lock is
// held. What a driver keeps across calls is a pointer to one or more bus
// controllers, never the server.
package device

import (
	"fmt"

	"github.com/google/uuid"
)

// Driver encapsulates one physical device. Start may cache bus handles
// obtained from the server and use them until Stop. Drivers additionally
// implement any subset of the capability interfaces.
type Driver interface {
	Name() string
	IsRunning() bool
	Start(parent *Server) error
	Stop(parent *Server) error
}

// Record is the server's bookkeeping for one driver instance: a stable
// address, a unique friendly name, the cached capability set and the running
// flag. The running flag tracks exactly the last successful transition.
type Record struct {
	address uuid.UUID
	name    string
	driver  Driver
	caps    map[CapabilityID]bool
	running bool
}

// NewRecord wraps driver with a fresh address. When friendlyName is empty
// the name defaults to "<driver_name>-<address>".
func NewRecord(driver Driver, friendlyName string) *Record {
	return NewRecordWithAddress(driver, friendlyName, uuid.New())
}

// NewRecordWithAddress wraps driver with an explicit address.
func NewRecordWithAddress(driver Driver, friendlyName string, address uuid.UUID) *Record {
	name := friendlyName
	if name == "" {
		name = fmt.Sprintf("%s-%s", driver.Name(), address)
	}
	return &Record{
		address: address,
		name:    name,
		driver:  driver,
		caps:    probeCapabilities(driver),
	}
}

func (r *Record) Address() uuid.UUID { return r.address }
func (r *Record) Name() string       { return r.name }
func (r *Record) Driver() Driver     { return r.driver }
func (r *Record) IsRunning() bool    { return r.running }

// HasCapability consults the capability cache built at construction.
func (r *Record) HasCapability(id CapabilityID) bool {
	return r.caps[id]
}

// Capabilities returns the cached capability set.
func (r *Record) Capabilities() []CapabilityID {
	out := make([]CapabilityID, 0, len(r.caps))
	for id := range r.caps {
		out = append(out, id)
	}
	return out
}
