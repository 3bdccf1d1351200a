package appointments

import (
	"context"
	"errors"
)

var (
	// ErrSlotTaken is returned when a create or update would leave two
	// confirmed records on the same slot. It is the storage-layer backstop
	// behind the tool layer's advisory availability checks.
	ErrSlotTaken = errors.New("slot already has a confirmed appointment")

	ErrNotFound = errors.New("appointment not found")
)

// Store is the remote record store behind the booking tools. Availability
// checks are advisory only: exclusivity is guaranteed by the uniqueness
// constraint enforced inside Create and UpdateSlot.
type Store interface {
	GetByContact(ctx context.Context, contactNumber string) ([]Record, error)
	Create(ctx context.Context, contactNumber, userName, slot, details string) (Record, error)
	Cancel(ctx context.Context, id string) error
	UpdateSlot(ctx context.Context, id, newSlot string) error
	// IsSlotAvailable reports whether no confirmed record holds the slot.
	// On store failure it reports true so a flaky store never blocks
	// legitimate bookings; Create/UpdateSlot remain the hard gate.
	IsSlotAvailable(ctx context.Context, slot string) bool
	Close() error
}
