package models

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

// OccupiesSlot reports whether a booking in this status holds its time slot.
// Completed bookings keep the slot forever; only cancellation frees it.
func (s BookingStatus) OccupiesSlot() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	return s.OccupiesSlot() || s == StatusCancelled
}

// OccupyingStatuses lists every status that holds a slot.
var OccupyingStatuses = []BookingStatus{StatusPending, StatusConfirmed, StatusCompleted}

// DateLayout is the calendar date format used for booking dates.
const DateLayout = "2006-01-02"

// Booking represents a reservation of one time slot with a professional.
type Booking struct {
	ID             string        `bson:"id" json:"id"`
	ProviderID     string        `bson:"provider_id" json:"providerId"`
	ClientID       string        `bson:"client_id" json:"clientId"`
	ServiceID      string        `bson:"service_id" json:"serviceId"`
	Date           string        `bson:"date" json:"date"` // "YYYY-MM-DD"
	Time           string        `bson:"time" json:"time"` // slot label, e.g. "09:00"
	Price          float64       `bson:"price" json:"price"`
	Currency       string        `bson:"currency,omitempty" json:"currency,omitempty"`
	Status         BookingStatus `bson:"status" json:"status"`
	Notes          string        `bson:"notes,omitempty" json:"notes,omitempty"`
	IdempotencyKey string        `bson:"idempotency_key,omitempty" json:"-"`
	// OccupiesSlot mirrors Status.OccupiesSlot() and backs the partial unique index.
	OccupiesSlot bool      `bson:"occupies_slot" json:"-"`
	CreatedAt    time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updatedAt"`
}

// Slot returns the time slot this booking targets.
func (b *Booking) Slot() TimeSlot {
	return TimeSlot{ProviderID: b.ProviderID, Date: b.Date, Time: b.Time}
}

// IsParty reports whether userID is the client or the professional of the booking.
func (b *Booking) IsParty(userID string) bool {
	return userID != "" && (userID == b.ClientID || userID == b.ProviderID)
}

// TimeSlot is the unit of contention: one label on one professional's calendar day.
type TimeSlot struct {
	ProviderID string `json:"providerId"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

// SlotAvailability is one row of the calendar view shown to clients.
type SlotAvailability struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// Service is the bookable offering a booking copies its price from.
type Service struct {
	ID         string  `bson:"id" json:"id"`
	ProviderID string  `bson:"provider_id" json:"providerId"`
	Name       string  `bson:"name" json:"name"`
	Price      float64 `bson:"price" json:"price"`
	Currency   string  `bson:"currency,omitempty" json:"currency,omitempty"`
	Active     bool    `bson:"active" json:"active"`
}

// BookingChangeOp is the mutation kind delivered by the change feed.
type BookingChangeOp string

const (
	ChangeInsert BookingChangeOp = "insert"
	ChangeUpdate BookingChangeOp = "update"
	ChangeDelete BookingChangeOp = "delete"
)

// BookingChange is one booking-table mutation as seen by the change feed.
// Booking is nil for deletes; BookingID is always set.
type BookingChange struct {
	Op        BookingChangeOp
	BookingID string
	Booking   *Booking
}
