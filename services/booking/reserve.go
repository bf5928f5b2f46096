package booking

import (
	"context"
	"errors"
	"strings"

	bookingRepo "wellbook/database/repository/booking"
	serviceRepo "wellbook/database/repository/service"
	"wellbook/metrics"
	"wellbook/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReserveRequest asks for one slot. IdempotencyKey is optional; a retry with
// the same key returns the booking the first attempt created.
type ReserveRequest struct {
	ProviderID     string `json:"providerId"`
	ClientID       string `json:"-"`
	ServiceID      string `json:"serviceId"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Notes          string `json:"notes,omitempty"`
	IdempotencyKey string `json:"-"`
}

func (r *ReserveRequest) normalize() {
	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.ServiceID = strings.TrimSpace(r.ServiceID)
	r.Date = strings.TrimSpace(r.Date)
	r.Time = strings.TrimSpace(r.Time)
	r.Notes = strings.TrimSpace(r.Notes)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
}

const maxNotesLen = 1000

// Reserve books a slot with one conditional insert. The first commit wins;
// every other request for the same slot gets a ConflictError carrying the
// refreshed occupied set. A conflict is never retried here.
func (e *Engine) Reserve(ctx context.Context, req ReserveRequest) (*Result, error) {
	req.normalize()
	res, outcome, err := e.reserve(ctx, req)
	metrics.ReservationsTotal.WithLabelValues(outcome).Inc()
	return res, err
}

func (e *Engine) reserve(ctx context.Context, req ReserveRequest) (*Result, string, error) {
	if req.ClientID == "" {
		return nil, metrics.OutcomeInvalid, models.NewValidationError("client_id", "is required")
	}
	if req.ServiceID == "" {
		return nil, metrics.OutcomeInvalid, models.NewValidationError("service_id", "is required")
	}
	if req.ClientID == req.ProviderID {
		return nil, metrics.OutcomeInvalid, models.NewValidationError("provider_id", "cannot book your own calendar")
	}
	if len(req.Notes) > maxNotesLen {
		return nil, metrics.OutcomeInvalid, models.NewValidationError("notes", "is too long")
	}
	start, err := e.validateSlot(req.ProviderID, req.Date, req.Time)
	if err != nil {
		return nil, metrics.OutcomeInvalid, err
	}

	// A retry is answered before the time check: the slot may have started
	// since the first attempt committed.
	if req.IdempotencyKey != "" {
		prior, err := e.bookings.GetByIdempotencyKey(ctx, req.ClientID, req.IdempotencyKey)
		switch {
		case err == nil:
			return e.replay(prior, req)
		case !errors.Is(err, bookingRepo.ErrNotFound):
			return nil, metrics.OutcomeError, models.Unavailable("lookup idempotency key", err)
		}
	}
	if err := e.checkNotStarted(start); err != nil {
		return nil, metrics.OutcomeInvalid, err
	}

	svc, err := e.services.GetByID(ctx, req.ProviderID, req.ServiceID)
	if err != nil {
		if errors.Is(err, serviceRepo.ErrNotFound) {
			return nil, metrics.OutcomeInvalid, models.NewValidationError("service_id", "unknown service")
		}
		return nil, metrics.OutcomeError, models.Unavailable("lookup service", err)
	}
	if !svc.Active {
		return nil, metrics.OutcomeInvalid, models.NewValidationError("service_id", "service is not offered")
	}

	now := e.clock.Now()
	b := &models.Booking{
		ID:             uuid.NewString(),
		ProviderID:     req.ProviderID,
		ClientID:       req.ClientID,
		ServiceID:      svc.ID,
		Date:           req.Date,
		Time:           req.Time,
		Price:          svc.Price,
		Currency:       svc.Currency,
		Status:         models.StatusPending,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.bookings.InsertIfSlotFree(ctx, b); err != nil {
		switch {
		case errors.Is(err, bookingRepo.ErrSlotTaken):
			// The slot may be held by this very request's earlier attempt.
			if req.IdempotencyKey != "" {
				if prior, gerr := e.bookings.GetByIdempotencyKey(ctx, req.ClientID, req.IdempotencyKey); gerr == nil {
					return e.replay(prior, req)
				}
			}
			return nil, metrics.OutcomeConflict, e.conflict(ctx, req)
		case errors.Is(err, bookingRepo.ErrDuplicateRequest):
			// A concurrent retry with the same key committed first.
			prior, gerr := e.bookings.GetByIdempotencyKey(ctx, req.ClientID, req.IdempotencyKey)
			if gerr != nil {
				return nil, metrics.OutcomeError, models.Unavailable("lookup idempotency key", gerr)
			}
			return e.replay(prior, req)
		default:
			e.logger.Error("reservation insert failed",
				zap.String("provider_id", req.ProviderID),
				zap.String("date", req.Date),
				zap.String("time", req.Time),
				zap.Error(err))
			return nil, metrics.OutcomeError, models.Unavailable("reserve slot", err)
		}
	}

	e.logger.Info("booking reserved",
		zap.String("booking_id", b.ID),
		zap.String("provider_id", b.ProviderID),
		zap.String("client_id", b.ClientID),
		zap.String("date", b.Date),
		zap.String("time", b.Time))

	warnings := e.emit(ctx, models.EventBookingCreated, b, b.ClientID)
	return &Result{Booking: b, Warnings: warnings}, metrics.OutcomeCreated, nil
}

// replay answers a retried request from the booking its key already created.
func (e *Engine) replay(prior *models.Booking, req ReserveRequest) (*Result, string, error) {
	if prior.ProviderID != req.ProviderID || prior.ServiceID != req.ServiceID ||
		prior.Date != req.Date || prior.Time != req.Time {
		return nil, metrics.OutcomeInvalid,
			models.NewValidationError("idempotency_key", "was already used for a different reservation")
	}
	return &Result{Booking: prior, Replayed: true}, metrics.OutcomeReplayed, nil
}

// conflict builds the ConflictError, refreshing the occupied set from the
// store so the caller can re-render without another round trip.
func (e *Engine) conflict(ctx context.Context, req ReserveRequest) error {
	cerr := &models.ConflictError{ProviderID: req.ProviderID, Date: req.Date, Time: req.Time}
	occupied, err := e.bookings.ListOccupied(ctx, req.ProviderID, req.Date)
	if err != nil {
		e.logger.Warn("could not refresh occupied slots after conflict",
			zap.String("provider_id", req.ProviderID), zap.String("date", req.Date), zap.Error(err))
		return cerr
	}
	cerr.Occupied = occupied
	return cerr
}
