package booking

import (
	"context"
	"errors"
	"fmt"

	bookingRepo "wellbook/database/repository/booking"
	"wellbook/metrics"
	"wellbook/models"

	"go.uber.org/zap"
)

type transition struct {
	from    []models.BookingStatus
	to      models.BookingStatus
	event   models.LifecycleEventType
	allowed func(b *models.Booking, actor string) bool
	reason  string
}

var (
	confirmTransition = transition{
		from:  []models.BookingStatus{models.StatusPending},
		to:    models.StatusConfirmed,
		event: models.EventBookingConfirmed,
		allowed: func(b *models.Booking, actor string) bool {
			return actor == b.ProviderID
		},
		reason: "only the professional can confirm a booking",
	}
	cancelTransition = transition{
		from:  []models.BookingStatus{models.StatusPending, models.StatusConfirmed},
		to:    models.StatusCancelled,
		event: models.EventBookingCancelled,
		allowed: func(b *models.Booking, actor string) bool {
			return b.IsParty(actor)
		},
		reason: "only the client or the professional can cancel a booking",
	}
	completeTransition = transition{
		from:  []models.BookingStatus{models.StatusConfirmed},
		to:    models.StatusCompleted,
		event: models.EventBookingCompleted,
		allowed: func(b *models.Booking, actor string) bool {
			return actor == b.ProviderID || actor == models.SystemActor
		},
		reason: "only the professional can complete a booking",
	}
)

// Confirm moves a pending booking to confirmed.
func (e *Engine) Confirm(ctx context.Context, id, actor string) (*Result, error) {
	return e.apply(ctx, id, actor, confirmTransition)
}

// Cancel frees the booking's slot. Either party may cancel until the booking
// completes.
func (e *Engine) Cancel(ctx context.Context, id, actor string) (*Result, error) {
	return e.apply(ctx, id, actor, cancelTransition)
}

// Complete marks a confirmed booking completed. The slot stays occupied.
func (e *Engine) Complete(ctx context.Context, id, actor string) (*Result, error) {
	return e.apply(ctx, id, actor, completeTransition)
}

func (e *Engine) apply(ctx context.Context, id, actor string, t transition) (*Result, error) {
	res, err := e.applyTransition(ctx, id, actor, t)
	outcome := metrics.OutcomeOK
	if err != nil {
		var te *models.TransitionError
		var sue *models.StoreUnavailableError
		switch {
		case errors.As(err, &te):
			outcome = metrics.OutcomeRejected
		case errors.As(err, &sue):
			outcome = metrics.OutcomeError
		default:
			outcome = metrics.OutcomeInvalid
		}
	}
	metrics.BookingTransitionsTotal.WithLabelValues(string(t.to), outcome).Inc()
	return res, err
}

func (e *Engine) applyTransition(ctx context.Context, id, actor string, t transition) (*Result, error) {
	if id == "" {
		return nil, models.NewValidationError("booking_id", "is required")
	}
	current, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.allowed(current, actor) {
		return nil, &models.ForbiddenError{Reason: t.reason}
	}

	updated, err := e.bookings.UpdateStatus(ctx, id, t.from, t.to, e.clock.Now())
	if err != nil {
		switch {
		case errors.Is(err, bookingRepo.ErrStatusMismatch):
			// Lost to a concurrent transition, or never allowed from here.
			from := current.Status
			if latest, gerr := e.bookings.GetByID(ctx, id); gerr == nil {
				from = latest.Status
			}
			return nil, &models.TransitionError{BookingID: id, From: from, To: t.to}
		case errors.Is(err, bookingRepo.ErrNotFound):
			return nil, &models.NotFoundError{Resource: "booking", ID: id}
		default:
			return nil, models.Unavailable(fmt.Sprintf("mark booking %s", t.to), err)
		}
	}

	e.logger.Info("booking status changed",
		zap.String("booking_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(t.to)),
		zap.String("actor", actor))

	warnings := e.emit(ctx, t.event, updated, actor)
	return &Result{Booking: updated, Warnings: warnings}, nil
}
