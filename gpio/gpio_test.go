package gpio

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func testPins() map[uint8]PinState {
	return map[uint8]PinState{
		2: NewPinState(2, 12),
		3: NewPinState(3, 13),
		4: NewPinState(4, 14),
		5: NewPinState(5, 15),
		6: NewPinState(6, 16),
	}
}

func TestHasPin(t *testing.T) {
	a := NewArbiter(testPins())

	if a.HasPin(1) || a.HasPin(16) {
		t.Error("reported a pin outside the pool")
	}
	// repeated probes must not change anything
	if !a.HasPin(2) || !a.HasPin(2) {
		t.Error("pin 2 should exist")
	}
	if !a.HasPin(3) || !a.HasPin(6) {
		t.Error("pins 3 and 6 should exist")
	}
}

func TestPinTranslation(t *testing.T) {
	a := NewArbiter(testPins())

	p, err := a.Pin(4)
	if err != nil {
		t.Fatalf("Pin(4): %v", err)
	}
	if p.PinID() != 4 || p.BcmID() != 14 {
		t.Errorf("got (%d, %d), want (4, 14)", p.PinID(), p.BcmID())
	}

	_, err = a.Pin(9)
	if CodeOf(err) != CodePinNotFound {
		t.Errorf("Pin(9) = %v, want pin_not_found", err)
	}
}

func TestBorrowMany(t *testing.T) {
	a := NewArbiter(testPins())

	if _, err := a.BorrowMany([]uint8{2, 3}); err != nil {
		t.Fatalf("borrow [2,3]: %v", err)
	}
	if _, err := a.BorrowMany([]uint8{4, 5}); err != nil {
		t.Fatalf("borrow [4,5]: %v", err)
	}
	if _, err := a.BorrowMany([]uint8{6}); err != nil {
		t.Fatalf("borrow [6]: %v", err)
	}
}

func TestBorrowManyNotFound(t *testing.T) {
	a := NewArbiter(testPins())

	_, err := a.BorrowMany([]uint8{3, 4, 7})
	e, ok := err.(*Error)
	if !ok || e.C != CodePinNotFound || e.Pin != 7 {
		t.Errorf("got %v, want PinNotFound(7)", err)
	}

	_, err = a.BorrowMany([]uint8{2, 1})
	e, ok = err.(*Error)
	if !ok || e.C != CodePinNotFound || e.Pin != 1 {
		t.Errorf("got %v, want PinNotFound(1)", err)
	}
}

// Failed acquisition must leave the arbiter untouched, and releasing must
// make the pins borrowable again.
func TestBorrowReleaseCycle(t *testing.T) {
	a := NewArbiter(testPins())

	l1, err := a.BorrowMany([]uint8{2, 3})
	if err != nil {
		t.Fatalf("borrow [2,3]: %v", err)
	}

	_, err = a.BorrowMany([]uint8{3, 5})
	e, ok := err.(*Error)
	if !ok || e.C != CodeBusy || e.Pin != 3 {
		t.Fatalf("got %v, want Busy(3)", err)
	}

	// atomicity: pin 5 must not have been marked by the failed call
	if !a.CanBorrowOne(5) {
		t.Error("pin 5 was leaked by a failed acquisition")
	}
	if len(a.Borrowed()) != 2 {
		t.Errorf("borrowed = %d pins, want 2", len(a.Borrowed()))
	}

	if err := a.Release(l1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := a.BorrowMany([]uint8{3, 5}); err != nil {
		t.Fatalf("borrow [3,5] after release: %v", err)
	}
}

func TestReleaseUnknownLease(t *testing.T) {
	a := NewArbiter(testPins())
	if err := a.Release(uuid.New()); CodeOf(err) != CodeLeaseNotFound {
		t.Errorf("got %v, want lease_not_found", err)
	}
}

func TestDoubleRelease(t *testing.T) {
	a := NewArbiter(testPins())
	id, err := a.BorrowOne(2)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := a.Release(id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := a.Release(id); CodeOf(err) != CodeLeaseNotFound {
		t.Errorf("second release = %v, want lease_not_found", err)
	}
}

func TestProbesAreNonBinding(t *testing.T) {
	a := NewArbiter(testPins())

	if !a.CanBorrowMany([]uint8{2, 3, 4}) {
		t.Error("probe should succeed on a free pool")
	}
	if a.CanBorrowMany([]uint8{2, 9}) {
		t.Error("probe should fail for unknown pins")
	}
	// probes must not mark anything
	if len(a.Borrowed()) != 0 {
		t.Error("probe changed arbiter state")
	}
}

// Pin exclusivity under concurrent borrowers: every pin ends up in at most
// one lease, and the leased set always equals the union of lease pin sets.
func TestConcurrentExclusivity(t *testing.T) {
	a := NewArbiter(testPins())

	var mu sync.Mutex
	granted := make(map[LeaseID][]uint8)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.BorrowMany([]uint8{3, 5})
			if err == nil {
				mu.Lock()
				granted[id] = []uint8{3, 5}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(granted) != 1 {
		t.Fatalf("%d leases granted for the same pin set, want 1", len(granted))
	}

	union := 0
	for _, pins := range granted {
		union += len(pins)
	}
	if got := len(a.Borrowed()); got != union {
		t.Errorf("borrowed = %d pins, union of leases = %d", got, union)
	}
}
