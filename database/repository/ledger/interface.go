// Package ledgerRepo stores token balances (the tokens field of the user
// record) and the append-only tokens_transactions log.
package ledgerRepo

import (
	"context"
	"errors"
	"fmt"

	"wellbook/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientFunds means the guarded decrement found a balance below the amount.
	ErrInsufficientFunds = errors.New("insufficient token balance")
	// ErrDuplicateKey means the idempotency key was already applied for the
	// user. The balance was not moved by the rejected call.
	ErrDuplicateKey = errors.New("ledger idempotency key already recorded")
	ErrNotFound     = errors.New("ledger transaction not found")
)

// AppendError is returned by Apply in best-effort mode when the balance update
// committed but the ledger row could not be written. The balance stands.
type AppendError struct {
	Transaction models.TokenTransaction
	Err         error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("balance updated for user %s but ledger append failed: %v", e.Transaction.UserID, e.Err)
}

func (e *AppendError) Unwrap() error { return e.Err }

// LedgerRepository defines the balance and ledger operations of the token ledger.
type LedgerRepository interface {
	Balance(ctx context.Context, userID string) (int64, error)
	// Apply adds tx.Amount to the user's balance and appends tx, atomically per
	// user: no two concurrent Applies for one user observe the same starting
	// balance. It fills tx.BalanceBefore and tx.BalanceAfter. A negative amount
	// larger than the balance fails with ErrInsufficientFunds and changes nothing.
	// A non-empty tx.IdempotencyKey is claimed in the same atomic step as the
	// balance move; a key already claimed fails with ErrDuplicateKey in both
	// transactional and best-effort mode.
	Apply(ctx context.Context, tx *models.TokenTransaction) error
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.TokenTransaction, error)
	// List returns the user's ledger rows, newest first.
	List(ctx context.Context, userID string, limit int) ([]models.TokenTransaction, error)
	// Sum returns the total signed amount and the row count of the user's ledger.
	Sum(ctx context.Context, userID string) (int64, int, error)
}
