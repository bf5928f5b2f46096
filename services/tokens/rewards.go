package tokens

import (
	"context"
	"fmt"
	"strings"

	"wellbook/models"
	"wellbook/services/events"
)

// BookingCompletedKey is the idempotency key of the reward for one booking.
func BookingCompletedKey(bookingID string) string {
	return "booking-completed:" + bookingID
}

func missionKey(missionID string) string {
	return "mission:" + missionID
}

// RewardHandler credits the client of a completed booking. The reward is
// keyed by booking id, so a redelivered event cannot credit twice.
func RewardHandler(l *Ledger, amount int64) events.Handler {
	return func(ctx context.Context, ev models.LifecycleEvent) error {
		if ev.Type != models.EventBookingCompleted || amount <= 0 {
			return nil
		}
		_, err := l.Award(ctx, Operation{
			UserID:         ev.Booking.ClientID,
			Amount:         amount,
			Reason:         fmt.Sprintf("Completed booking on %s at %s", ev.Booking.Date, ev.Booking.Time),
			IdempotencyKey: BookingCompletedKey(ev.Booking.ID),
		})
		return err
	}
}

// AwardMission credits a completed mission once per mission id.
func (l *Ledger) AwardMission(ctx context.Context, userID, missionID string, amount int64) (*Receipt, error) {
	missionID = strings.TrimSpace(missionID)
	if missionID == "" {
		return nil, models.NewValidationError("mission_id", "is required")
	}
	return l.Award(ctx, Operation{
		UserID:         userID,
		Amount:         amount,
		Reason:         "Mission completed: " + missionID,
		IdempotencyKey: missionKey(missionID),
	})
}
