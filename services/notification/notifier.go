// Package notification delivers booking lifecycle pushes. Delivery is a side
// effect: it runs after the commit, and its failures are only logged.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	userRepo "wellbook/database/repository/user"
	"wellbook/metrics"
	"wellbook/models"

	"firebase.google.com/go/v4/messaging"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Sender is the part of the FCM messaging client the notifier uses.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Notifier delivers one push message to a user.
type Notifier interface {
	Notify(ctx context.Context, msg models.PushMessage) error
}

// BreakerConfig tunes the circuit breaker in front of FCM.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive send failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig opens after 5 consecutive failures for 30s.
var DefaultBreakerConfig = BreakerConfig{MaxFailures: 5, OpenTimeout: 30 * time.Second}

const breakerName = "fcm"

// FCMNotifier sends pushes through Firebase Cloud Messaging to the device
// token stored on the user record.
type FCMNotifier struct {
	sender Sender
	users  userRepo.UserRepository
	cb     *gobreaker.CircuitBreaker[string]
	logger *zap.Logger
}

func NewFCMNotifier(sender Sender, users userRepo.UserRepository, cfg BreakerConfig, logger *zap.Logger) *FCMNotifier {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultBreakerConfig.MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig.OpenTimeout
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// A stale device token is the recipient's problem, not FCM's.
		IsSuccessful: func(err error) bool {
			return err == nil || messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &FCMNotifier{sender: sender, users: users, cb: cb, logger: logger}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Notify looks up the user's device token and sends the push. Users without a
// token are skipped.
func (n *FCMNotifier) Notify(ctx context.Context, msg models.PushMessage) error {
	u, err := n.users.GetByID(ctx, msg.UserID)
	if err != nil {
		if errors.Is(err, userRepo.ErrNotFound) {
			n.logger.Debug("push skipped, unknown user", zap.String("user_id", msg.UserID))
			return nil
		}
		return fmt.Errorf("could not load push recipient %s: %w", msg.UserID, err)
	}
	if u.FCMToken == "" {
		n.logger.Debug("push skipped, no device token", zap.String("user_id", msg.UserID))
		return nil
	}

	message := &messaging.Message{
		Token: u.FCMToken,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "bookings",
				Sound:     "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}

	id, err := n.cb.Execute(func() (string, error) {
		return n.sender.Send(ctx, message)
	})
	if err != nil {
		return fmt.Errorf("fcm send to %s failed: %w", msg.UserID, err)
	}
	n.logger.Debug("push sent", zap.String("user_id", msg.UserID), zap.String("message_id", id))
	return nil
}

// LogNotifier writes pushes to the log. Used when FCM is not configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(ctx context.Context, msg models.PushMessage) error {
	n.Logger.Info("push notification",
		zap.String("user_id", msg.UserID),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body))
	return nil
}
