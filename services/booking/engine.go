// Package booking is the reservation engine: the atomic check-and-commit path
// for slots, plus the status transitions that follow.
//
// The only enforcement point for "one occupying booking per slot" is the
// store's conditional insert. CheckAvailable and the availability cache are
// pre-filters for the UI.
package booking

import (
	"context"
	"errors"
	"time"

	bookingRepo "wellbook/database/repository/booking"
	serviceRepo "wellbook/database/repository/service"
	"wellbook/models"
	"wellbook/services/events"
	"wellbook/services/slots"
	"wellbook/utils"

	"go.uber.org/zap"
)

// EngineConfig holds the collaborators of an Engine.
type EngineConfig struct {
	Bookings  bookingRepo.BookingRepository
	Services  serviceRepo.ServiceRepository
	Catalog   *slots.Catalog
	Clock     utils.Clock
	Location  *time.Location
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Engine is the reservation engine. It is safe for concurrent use and holds
// no cross-request locks.
type Engine struct {
	bookings  bookingRepo.BookingRepository
	services  serviceRepo.ServiceRepository
	catalog   *slots.Catalog
	clock     utils.Clock
	loc       *time.Location
	publisher events.Publisher
	logger    *zap.Logger
}

// Result is what a committed operation returns. Warnings carry side-effect
// problems the caller should show softly; the commit itself stands.
type Result struct {
	Booking  *models.Booking `json:"booking"`
	Replayed bool            `json:"replayed,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.LifecycleEvent) error { return nil }

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		bookings:  cfg.Bookings,
		services:  cfg.Services,
		catalog:   cfg.Catalog,
		clock:     cfg.Clock,
		loc:       cfg.Location,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.clock == nil {
		e.clock = utils.SystemClock{Location: e.loc}
	}
	if e.publisher == nil {
		e.publisher = nopPublisher{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Catalog returns the slot catalog the engine validates against.
func (e *Engine) Catalog() *slots.Catalog { return e.catalog }

// CheckAvailable asks the authoritative store whether a slot is free right
// now. The answer is advisory: Reserve may still conflict.
func (e *Engine) CheckAvailable(ctx context.Context, providerID, date, label string) (bool, error) {
	if _, err := e.validateSlot(providerID, date, label); err != nil {
		return false, err
	}
	occupied, err := e.bookings.IsSlotOccupied(ctx, models.TimeSlot{ProviderID: providerID, Date: date, Time: label})
	if err != nil {
		return false, models.Unavailable("check availability", err)
	}
	return !occupied, nil
}

// Occupied reads the occupied labels straight from the store.
func (e *Engine) Occupied(ctx context.Context, providerID, date string) ([]string, error) {
	times, err := e.bookings.ListOccupied(ctx, providerID, date)
	if err != nil {
		return nil, models.Unavailable("list occupied slots", err)
	}
	return times, nil
}

// Get loads a booking.
func (e *Engine) Get(ctx context.Context, id string) (*models.Booking, error) {
	b, err := e.bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, bookingRepo.ErrNotFound) {
			return nil, &models.NotFoundError{Resource: "booking", ID: id}
		}
		return nil, models.Unavailable("get booking", err)
	}
	return b, nil
}

// validateSlot checks the shape of a slot reference and returns the instant
// the slot starts.
func (e *Engine) validateSlot(providerID, date, label string) (time.Time, error) {
	if providerID == "" {
		return time.Time{}, models.NewValidationError("provider_id", "is required")
	}
	if date == "" {
		return time.Time{}, models.NewValidationError("date", "is required")
	}
	if label == "" {
		return time.Time{}, models.NewValidationError("time", "is required")
	}
	day, err := time.ParseInLocation(models.DateLayout, date, e.loc)
	if err != nil {
		return time.Time{}, models.NewValidationError("date", "must be YYYY-MM-DD")
	}
	start, err := e.catalog.StartOf(day, label, e.loc)
	if err != nil {
		return time.Time{}, models.NewValidationError("time", "is not a bookable slot")
	}
	return start, nil
}

// checkNotStarted rejects slots on past dates or that have already begun.
func (e *Engine) checkNotStarted(start time.Time) error {
	now := e.clock.Now().In(e.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, e.loc)
	if day.Before(today) {
		return models.NewValidationError("date", "is in the past")
	}
	if !start.After(now) {
		return models.NewValidationError("time", "has already started")
	}
	return nil
}

// emit publishes a lifecycle event and turns a publish failure into a warning.
func (e *Engine) emit(ctx context.Context, t models.LifecycleEventType, b *models.Booking, actor string) []string {
	ev := events.NewEvent(t, *b, actor, e.clock.Now())
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("could not publish lifecycle event",
			zap.String("event_type", string(t)),
			zap.String("booking_id", b.ID),
			zap.Error(err))
		return []string{"Saved, but notifications could not be sent."}
	}
	return nil
}
