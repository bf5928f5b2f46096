package booking

import (
	"context"
	"errors"

	"wellbook/models"

	"go.uber.org/zap"
)

// SweepReport summarises one CompleteElapsed run.
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// CompleteElapsed marks every confirmed booking whose slot has started as
// completed, acting as the system. Bookings another actor moved first are
// skipped. The error collects per-booking failures; the report is always set.
func (e *Engine) CompleteElapsed(ctx context.Context) (*SweepReport, error) {
	now := e.clock.Now().In(e.loc)
	due, err := e.bookings.ListByStatusOnOrBefore(ctx, models.StatusConfirmed, now.Format(models.DateLayout))
	if err != nil {
		return &SweepReport{}, models.Unavailable("list confirmed bookings", err)
	}

	report := &SweepReport{Scanned: len(due)}
	var errs models.MultiError
	for i := range due {
		b := &due[i]
		start, err := e.validateSlot(b.ProviderID, b.Date, b.Time)
		if err != nil {
			// Labels dropped from the catalog still complete once their day is over.
			if b.Date >= now.Format(models.DateLayout) {
				report.Skipped++
				continue
			}
		} else if start.After(now) {
			report.Skipped++
			continue
		}

		_, err = e.Complete(ctx, b.ID, models.SystemActor)
		var te *models.TransitionError
		switch {
		case err == nil:
			report.Completed++
		case errors.As(err, &te):
			report.Skipped++
		default:
			report.Failed++
			errs = append(errs, err)
		}
	}

	if report.Completed > 0 || report.Failed > 0 {
		e.logger.Info("completion sweep finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("completed", report.Completed),
			zap.Int("failed", report.Failed))
	}
	return report, errs.ErrOrNil()
}
