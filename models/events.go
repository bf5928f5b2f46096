package models

import "time"

// LifecycleEventType names a booking lifecycle transition.
type LifecycleEventType string

const (
	EventBookingCreated   LifecycleEventType = "booking.created"
	EventBookingConfirmed LifecycleEventType = "booking.confirmed"
	EventBookingCancelled LifecycleEventType = "booking.cancelled"
	EventBookingCompleted LifecycleEventType = "booking.completed"
)

// LifecycleEvent is emitted after a booking commit and consumed by side-effect
// handlers (token rewards, notifications). ID is stable across redelivery.
type LifecycleEvent struct {
	ID         string             `json:"id"`
	Type       LifecycleEventType `json:"type"`
	Booking    Booking            `json:"booking"`
	Actor      string             `json:"actor,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// SystemActor performs transitions nobody clicked, like the completion sweep.
const SystemActor = "system"

// PushMessage is what the notification dispatcher hands to a delivery channel.
type PushMessage struct {
	UserID string            `json:"userId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// User is the part of the identity record this service reads.
type User struct {
	ID       string `bson:"id" json:"id"`
	FCMToken string `bson:"fcm_token,omitempty" json:"-"`
	Tokens   int64  `bson:"tokens" json:"tokens"`
}
