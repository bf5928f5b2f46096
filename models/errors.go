package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes surfaced to API clients.
const (
	CodeValidation        = "validation_error"
	CodeConflict          = "slot_conflict"
	CodeInsufficientFunds = "insufficient_funds"
	CodeStoreUnavailable  = "store_unavailable"
	CodeNotFound          = "not_found"
	CodeTransition        = "invalid_transition"
	CodeForbidden         = "forbidden"
)

// ValidationError reports a malformed request the caller can correct.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", CodeValidation, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", CodeValidation, e.Field, e.Message)
}

func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// ConflictError means the slot was occupied at commit time. Occupied carries
// the refreshed set of taken labels for that date when it could be read.
type ConflictError struct {
	ProviderID string
	Date       string
	Time       string
	Occupied   []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s on %s for provider %s is already booked", CodeConflict, e.Time, e.Date, e.ProviderID)
}

// InsufficientFundsError is returned when a spend exceeds the balance.
type InsufficientFundsError struct {
	UserID    string
	Balance   int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: user %s requested %d tokens", CodeInsufficientFunds, e.UserID, e.Requested)
}

// StoreUnavailableError wraps a transport or backing-store failure. The outcome
// of the operation is unknown; callers re-query before retrying.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", CodeStoreUnavailable, e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as a StoreUnavailableError unless it already is one.
func Unavailable(op string, err error) error {
	var sue *StoreUnavailableError
	if errors.As(err, &sue) {
		return err
	}
	return &StoreUnavailableError{Op: op, Err: err}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %s", CodeNotFound, e.Resource, e.ID)
}

// TransitionError is returned when a status change is not allowed from the
// booking's current status (including losing a race to another transition).
type TransitionError struct {
	BookingID string
	From      BookingStatus
	To        BookingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: booking %s cannot move from %s to %s", CodeTransition, e.BookingID, e.From, e.To)
}

type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s: %s", CodeForbidden, e.Reason)
}

// MultiError collects side-effect failures that must not fail the primary operation.
type MultiError []error

func (m MultiError) Error() string {
	parts := make([]string, 0, len(m))
	for _, err := range m {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

// ErrOrNil returns nil for an empty collection.
func (m MultiError) ErrOrNil() error {
	if len(m) == 0 {
		return nil
	}
	return m
}
