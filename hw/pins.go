package hw

import (
	"errors"
	"fmt"
	"sync"
)

// OwnerKind classifies who holds a pin reservation.
type OwnerKind string

const (
	// OwnerSensor marks a pin owned directly by a single sensor.
	OwnerSensor OwnerKind = "sensor"
	// OwnerBus marks a pin owned by a shared bus; many logical devices may
	// use it through the one bus owner.
	OwnerBus OwnerKind = "bus"
	// OwnerSystem marks a pin permanently allocated at bring-up, such as the
	// addressed-bus pin pair.
	OwnerSystem OwnerKind = "system"
)

// ErrPinConflict is returned when a reservation collides with a different owner.
var ErrPinConflict = errors.New("pin already owned")

type pinOwner struct {
	kind  OwnerKind
	label string
}

// PinRegistry is the exclusive-ownership ledger for every addressable pin.
//
// It performs no hardware I/O; it only tracks who may. All methods are safe
// for concurrent use.
type PinRegistry struct {
	mu     sync.Mutex
	count  int
	analog map[int]bool
	owners map[int]pinOwner
}

// NewPinRegistry creates a ledger for a board with count addressable pins, of
// which the listed pins are analog-capable.
func NewPinRegistry(count int, analogPins []int) *PinRegistry {
	analog := make(map[int]bool, len(analogPins))
	for _, pin := range analogPins {
		analog[pin] = true
	}
	return &PinRegistry{
		count:  count,
		analog: analog,
		owners: make(map[int]pinOwner),
	}
}

func (r *PinRegistry) validate(pin int) error {
	if pin < 0 || pin >= r.count {
		return fmt.Errorf("pin %d out of range (board has %d pins)", pin, r.count)
	}
	return nil
}

// IsAnalog reports whether the pin is analog-capable.
func (r *PinRegistry) IsAnalog(pin int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.analog[pin]
}

// IsAvailable reports whether the pin exists and is currently unowned.
func (r *PinRegistry) IsAvailable(pin int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.validate(pin); err != nil {
		return false
	}
	_, owned := r.owners[pin]
	return !owned
}

// Reserve records ownership of a pin. A reservation is idempotent only when
// the requested kind and label exactly match the existing owner; any other
// mismatch fails with ErrPinConflict and leaves the ledger untouched.
func (r *PinRegistry) Reserve(pin int, kind OwnerKind, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.validate(pin); err != nil {
		return err
	}
	if existing, ok := r.owners[pin]; ok {
		if existing.kind == kind && existing.label == label {
			return nil
		}
		return fmt.Errorf("%w: pin %d held by %s %q", ErrPinConflict, pin, existing.kind, existing.label)
	}
	r.owners[pin] = pinOwner{kind: kind, label: label}
	return nil
}

// Release frees a pin regardless of owner. Releasing a free pin is a no-op.
func (r *PinRegistry) Release(pin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, pin)
}

// OwnerOf returns the owner label of a pin, or false when the pin is free.
func (r *PinRegistry) OwnerOf(pin int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[pin]
	if !ok {
		return "", false
	}
	return owner.label, true
}

// KindOf returns the owner kind of a pin, or false when the pin is free.
func (r *PinRegistry) KindOf(pin int) (OwnerKind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[pin]
	if !ok {
		return "", false
	}
	return owner.kind, true
}

// IsReserved reports whether the pin is held by the system (bring-up
// allocations that sensors may never claim).
func (r *PinRegistry) IsReserved(pin int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[pin]
	return ok && owner.kind == OwnerSystem
}
