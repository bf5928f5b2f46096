// Package bookingRepo is the authoritative booking store. Slot occupancy is
// enforced here, by a uniqueness constraint on (provider, date, time) that only
// covers bookings whose status occupies the slot.
package bookingRepo

import (
	"context"
	"errors"
	"time"

	"wellbook/models"
)

var (
	// ErrSlotTaken means an occupying booking already exists for the slot.
	ErrSlotTaken = errors.New("slot already occupied")
	// ErrDuplicateRequest means the client already used the idempotency key.
	ErrDuplicateRequest = errors.New("idempotency key already used")
	ErrNotFound         = errors.New("booking not found")
	// ErrStatusMismatch means the booking was not in any of the expected statuses.
	ErrStatusMismatch = errors.New("booking status does not match")
	// ErrSubscriptionLagging closes a feed subscription that stopped draining events.
	ErrSubscriptionLagging = errors.New("change feed subscriber fell behind")
)

// BookingRepository defines the store operations the reservation engine and
// the availability index rely on.
type BookingRepository interface {
	// InsertIfSlotFree inserts b in one atomic conditional write. It returns
	// ErrSlotTaken when an occupying booking holds the slot and
	// ErrDuplicateRequest when b.IdempotencyKey was already used by b.ClientID.
	InsertIfSlotFree(ctx context.Context, b *models.Booking) error
	IsSlotOccupied(ctx context.Context, slot models.TimeSlot) (bool, error)
	// ListOccupied returns the occupied time labels for a professional's day.
	ListOccupied(ctx context.Context, providerID, date string) ([]string, error)
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	GetByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Booking, error)
	// UpdateStatus moves a booking to `to` only if its current status is one
	// of `from` (compare-and-swap). Returns the updated booking.
	UpdateStatus(ctx context.Context, id string, from []models.BookingStatus, to models.BookingStatus, at time.Time) (*models.Booking, error)
	// ListByStatusOnOrBefore returns bookings in status whose date is <= date.
	ListByStatusOnOrBefore(ctx context.Context, status models.BookingStatus, date string) ([]models.Booking, error)
	ChangeSource
}

// ChangeSource delivers booking mutations for one professional, at least once
// and in per-row commit order.
type ChangeSource interface {
	Subscribe(ctx context.Context, providerID string) (Subscription, error)
}

// Subscription is a live change feed. Events is closed when the feed ends;
// Err then reports why (nil after Close).
type Subscription interface {
	Events() <-chan models.BookingChange
	Err() error
	Close() error
}
