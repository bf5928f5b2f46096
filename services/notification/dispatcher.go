package notification

import (
	"context"
	"fmt"

	"wellbook/models"
)

// Dispatcher turns lifecycle events into pushes for the parties involved.
type Dispatcher struct {
	notifier Notifier
}

func NewDispatcher(n Notifier) *Dispatcher {
	return &Dispatcher{notifier: n}
}

// Handle is an events.Handler.
func (d *Dispatcher) Handle(ctx context.Context, ev models.LifecycleEvent) error {
	var errs models.MultiError
	for _, msg := range Messages(ev) {
		if err := d.notifier.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs.ErrOrNil()
}

// Messages builds the pushes for an event.
func Messages(ev models.LifecycleEvent) []models.PushMessage {
	b := ev.Booking
	when := fmt.Sprintf("%s at %s", b.Date, b.Time)
	data := func(role string) map[string]string {
		return map[string]string{
			"type":       string(ev.Type),
			"booking_id": b.ID,
			"role":       role,
		}
	}

	switch ev.Type {
	case models.EventBookingCreated:
		return []models.PushMessage{{
			UserID: b.ProviderID,
			Title:  "New booking request",
			Body:   fmt.Sprintf("A client booked your %s slot. Confirm it to lock it in.", when),
			Data:   data("provider"),
		}}
	case models.EventBookingConfirmed:
		return []models.PushMessage{{
			UserID: b.ClientID,
			Title:  "Booking confirmed",
			Body:   fmt.Sprintf("Your appointment on %s is confirmed.", when),
			Data:   data("user"),
		}}
	case models.EventBookingCancelled:
		toClient := models.PushMessage{
			UserID: b.ClientID,
			Title:  "Booking cancelled",
			Body:   fmt.Sprintf("Your appointment on %s was cancelled.", when),
			Data:   data("user"),
		}
		toProvider := models.PushMessage{
			UserID: b.ProviderID,
			Title:  "Booking cancelled",
			Body:   fmt.Sprintf("The booking for %s was cancelled. The slot is open again.", when),
			Data:   data("provider"),
		}
		switch ev.Actor {
		case b.ClientID:
			return []models.PushMessage{toProvider}
		case b.ProviderID:
			return []models.PushMessage{toClient}
		default:
			return []models.PushMessage{toClient, toProvider}
		}
	case models.EventBookingCompleted:
		return []models.PushMessage{{
			UserID: b.ClientID,
			Title:  "How was your session?",
			Body:   "Your appointment is complete and your reward tokens are on the way.",
			Data:   data("user"),
		}}
	}
	return nil
}
