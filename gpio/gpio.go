// Package gpio implements the pin-lease arbiter: a fixed pool of GPIO lines
// with exclusive, atomically acquired multi-pin leases.
//
// The arbiter is the single source of truth for pin exclusion. Acquisition is
// non-blocking: contention reports busy immediately, callers do not wait.
package gpio

import (
	"sync"

	"github.com/google/uuid"
)

// PinState describes one line in the pool. PinID is the logical identifier
// used by every other layer; BcmID is the hardware identifier handed to the
// platform layer.
type PinState struct {
	pinID  uint8
	bcmID  uint8
	leased bool
}

func NewPinState(pinID, bcmID uint8) PinState {
	return PinState{pinID: pinID, bcmID: bcmID}
}

func (p PinState) PinID() uint8 { return p.pinID }
func (p PinState) BcmID() uint8 { return p.bcmID }
func (p PinState) Leased() bool { return p.leased }

// LeaseID is an opaque token for an outstanding lease.
type LeaseID = uuid.UUID

// Arbiter tracks the pin pool and its leases. Safe for concurrent use:
// readers run in parallel, writers are serialized.
type Arbiter struct {
	mu     sync.RWMutex
	pins   map[uint8]*PinState
	leases map[LeaseID][]uint8
}

// NewArbiter builds an arbiter over the given (pin id → bcm id) pool.
// The pool is fixed for the arbiter's lifetime.
func NewArbiter(pins map[uint8]PinState) *Arbiter {
	m := make(map[uint8]*PinState, len(pins))
	for id, p := range pins {
		cp := p
		m[id] = &cp
	}
	return &Arbiter{
		pins:   m,
		leases: make(map[LeaseID][]uint8),
	}
}

// HasPin reports whether pin is part of the pool.
func (a *Arbiter) HasPin(pin uint8) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.pins[pin]
	return ok
}

// Pin returns the full record for pin, in particular so callers can
// translate to the BCM id.
func (a *Arbiter) Pin(pin uint8) (PinState, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pins[pin]
	if !ok {
		return PinState{}, errPinNotFound(pin)
	}
	return *p, nil
}

// Pins returns a snapshot of every pin in the pool.
func (a *Arbiter) Pins() []PinState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]PinState, 0, len(a.pins))
	for _, p := range a.pins {
		out = append(out, *p)
	}
	return out
}

// Borrowed returns a snapshot of every currently leased pin.
func (a *Arbiter) Borrowed() []PinState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]PinState, 0, len(a.pins))
	for _, p := range a.pins {
		if p.leased {
			out = append(out, *p)
		}
	}
	return out
}

// HasLease reports whether id refers to an outstanding lease.
func (a *Arbiter) HasLease(id LeaseID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.leases[id]
	return ok
}

// IsFree reports whether pin exists and is not leased. The second return is
// false when the pin is not in the pool.
func (a *Arbiter) IsFree(pin uint8) (free, exists bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pins[pin]
	if !ok {
		return false, false
	}
	return !p.leased, true
}

// CanBorrowOne is a non-binding availability probe for a single pin.
func (a *Arbiter) CanBorrowOne(pin uint8) bool {
	free, ok := a.IsFree(pin)
	return ok && free
}

// CanBorrowMany is a non-binding availability probe for a pin set.
func (a *Arbiter) CanBorrowMany(pins []uint8) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, pin := range pins {
		p, ok := a.pins[pin]
		if !ok || p.leased {
			return false
		}
	}
	return true
}

// BorrowOne acquires a one-pin lease.
func (a *Arbiter) BorrowOne(pin uint8) (LeaseID, error) {
	return a.BorrowMany([]uint8{pin})
}

// BorrowMany atomically acquires a lease over pins: either every requested
// pin is free and all are marked leased, or the call fails and no pin state
// changes.
func (a *Arbiter) BorrowMany(pins []uint8) (LeaseID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, pin := range pins {
		p, ok := a.pins[pin]
		if !ok {
			return uuid.Nil, errPinNotFound(pin)
		}
		if p.leased {
			return uuid.Nil, errBusy(pin)
		}
	}

	for _, pin := range pins {
		a.pins[pin].leased = true
	}

	id := uuid.New()
	lease := make([]uint8, len(pins))
	copy(lease, pins)
	a.leases[id] = lease
	return id, nil
}

// Release unmarks every pin in the lease and drops the lease.
func (a *Arbiter) Release(id LeaseID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	lease, ok := a.leases[id]
	if !ok {
		return &Error{C: CodeLeaseNotFound}
	}
	for _, pin := range lease {
		a.pins[pin].leased = false
	}
	delete(a.leases, id)
	return nil
}
