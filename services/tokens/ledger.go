// Package tokens is the token ledger: per-user balances mutated together with
// an append-only transaction log.
package tokens

import (
	"context"
	"errors"
	"strings"

	ledgerRepo "wellbook/database/repository/ledger"
	"wellbook/metrics"
	"wellbook/models"
	"wellbook/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxReasonLen        = 200
)

// Operation is one Award or Spend. IdempotencyKey is optional; a retry with
// the same key returns the first outcome without moving the balance again.
type Operation struct {
	UserID         string
	Amount         int64
	Reason         string
	IdempotencyKey string
}

// Receipt is the result of an applied operation.
type Receipt struct {
	Transaction models.TokenTransaction `json:"transaction"`
	Balance     int64                   `json:"balance"`
	Replayed    bool                    `json:"replayed,omitempty"`
}

// Ledger applies Award and Spend atomically per user. The repository does the
// compare-and-swap; the ledger validates, deduplicates and maps errors.
type Ledger struct {
	repo   ledgerRepo.LedgerRepository
	clock  utils.Clock
	logger *zap.Logger
}

func NewLedger(repo ledgerRepo.LedgerRepository, clock utils.Clock, logger *zap.Logger) *Ledger {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{repo: repo, clock: clock, logger: logger}
}

// Award credits amount tokens.
func (l *Ledger) Award(ctx context.Context, op Operation) (*Receipt, error) {
	return l.apply(ctx, models.TxEarn, op)
}

// Spend debits amount tokens, failing with InsufficientFundsError when the
// balance does not cover it. A rejected spend changes nothing.
func (l *Ledger) Spend(ctx context.Context, op Operation) (*Receipt, error) {
	return l.apply(ctx, models.TxSpend, op)
}

func (l *Ledger) apply(ctx context.Context, typ models.TransactionType, op Operation) (*Receipt, error) {
	receipt, outcome, err := l.applyOp(ctx, typ, op)
	metrics.LedgerOperationsTotal.WithLabelValues(string(typ), outcome).Inc()
	return receipt, err
}

func (l *Ledger) applyOp(ctx context.Context, typ models.TransactionType, op Operation) (*Receipt, string, error) {
	op.UserID = strings.TrimSpace(op.UserID)
	op.Reason = strings.TrimSpace(op.Reason)
	op.IdempotencyKey = strings.TrimSpace(op.IdempotencyKey)
	if op.UserID == "" {
		return nil, metrics.OutcomeInvalid, models.NewValidationError("user_id", "is required")
	}
	if op.Amount <= 0 {
		return nil, metrics.OutcomeInvalid, models.NewValidationError("amount", "must be positive")
	}
	if len(op.Reason) > maxReasonLen {
		return nil, metrics.OutcomeInvalid, models.NewValidationError("reason", "is too long")
	}
	if op.Reason == "" {
		op.Reason = defaultReason(typ)
	}

	signed := op.Amount
	if typ == models.TxSpend {
		signed = -op.Amount
	}

	if op.IdempotencyKey != "" {
		prior, err := l.repo.FindByIdempotencyKey(ctx, op.UserID, op.IdempotencyKey)
		switch {
		case err == nil:
			return replay(prior, typ, signed)
		case !errors.Is(err, ledgerRepo.ErrNotFound):
			return nil, metrics.OutcomeError, models.Unavailable("lookup ledger key", err)
		}
	}

	tx := models.TokenTransaction{
		ID:             uuid.NewString(),
		UserID:         op.UserID,
		Type:           typ,
		Amount:         signed,
		Description:    op.Reason,
		IdempotencyKey: op.IdempotencyKey,
		CreatedAt:      l.clock.Now(),
	}

	err := l.repo.Apply(ctx, &tx)
	var appendErr *ledgerRepo.AppendError
	switch {
	case err == nil:
	case errors.As(err, &appendErr):
		// The balance committed; only the audit row is missing.
		metrics.LedgerAppendFailuresTotal.Inc()
		l.logger.Error("ledger append failed after balance update",
			zap.String("user_id", tx.UserID),
			zap.String("transaction_id", tx.ID),
			zap.Int64("amount", tx.Amount),
			zap.Int64("balance_before", appendErr.Transaction.BalanceBefore),
			zap.Int64("balance_after", appendErr.Transaction.BalanceAfter),
			zap.Error(appendErr.Err))
		tx = appendErr.Transaction
	case errors.Is(err, ledgerRepo.ErrUserNotFound):
		return nil, metrics.OutcomeInvalid, &models.NotFoundError{Resource: "user", ID: op.UserID}
	case errors.Is(err, ledgerRepo.ErrInsufficientFunds):
		ife := &models.InsufficientFundsError{UserID: op.UserID, Requested: op.Amount}
		if bal, berr := l.repo.Balance(ctx, op.UserID); berr == nil {
			ife.Balance = bal
		}
		return nil, metrics.OutcomeRejected, ife
	case errors.Is(err, ledgerRepo.ErrDuplicateKey):
		// Another call with the same key moved the balance; nothing was applied here.
		prior, ferr := l.repo.FindByIdempotencyKey(ctx, op.UserID, op.IdempotencyKey)
		switch {
		case ferr == nil:
			return replay(prior, typ, signed)
		case errors.Is(ferr, ledgerRepo.ErrNotFound):
			return l.replayWithoutRow(ctx, tx)
		default:
			return nil, metrics.OutcomeError, models.Unavailable("lookup ledger key", ferr)
		}
	default:
		l.logger.Error("ledger update failed",
			zap.String("user_id", op.UserID), zap.String("type", string(typ)), zap.Error(err))
		return nil, metrics.OutcomeError, models.Unavailable("apply ledger transaction", err)
	}

	l.logger.Info("ledger transaction applied",
		zap.String("user_id", tx.UserID),
		zap.String("type", string(tx.Type)),
		zap.Int64("amount", tx.Amount),
		zap.Int64("balance_after", tx.BalanceAfter))
	return &Receipt{Transaction: tx, Balance: tx.BalanceAfter}, metrics.OutcomeOK, nil
}

func replay(prior *models.TokenTransaction, typ models.TransactionType, signed int64) (*Receipt, string, error) {
	if prior.Type != typ || prior.Amount != signed {
		return nil, metrics.OutcomeInvalid,
			models.NewValidationError("idempotency_key", "was already used for a different transaction")
	}
	return &Receipt{Transaction: *prior, Balance: prior.BalanceAfter, Replayed: true}, metrics.OutcomeReplayed, nil
}

// replayWithoutRow answers a duplicate whose ledger row is not readable: the
// winner has not appended yet, or its best-effort append failed.
func (l *Ledger) replayWithoutRow(ctx context.Context, tx models.TokenTransaction) (*Receipt, string, error) {
	bal, err := l.repo.Balance(ctx, tx.UserID)
	if err != nil {
		return nil, metrics.OutcomeError, models.Unavailable("read balance", err)
	}
	l.logger.Warn("idempotency key applied but ledger row missing",
		zap.String("user_id", tx.UserID),
		zap.String("idempotency_key", tx.IdempotencyKey),
		zap.Int64("amount", tx.Amount))
	tx.ID = ""
	tx.BalanceAfter = bal
	return &Receipt{Transaction: tx, Balance: bal, Replayed: true}, metrics.OutcomeReplayed, nil
}

func defaultReason(typ models.TransactionType) string {
	if typ == models.TxSpend {
		return "Tokens spent"
	}
	return "Tokens earned"
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	bal, err := l.repo.Balance(ctx, userID)
	if err != nil {
		if errors.Is(err, ledgerRepo.ErrUserNotFound) {
			return 0, &models.NotFoundError{Resource: "user", ID: userID}
		}
		return 0, models.Unavailable("read balance", err)
	}
	return bal, nil
}

// Transactions returns the user's ledger, newest first.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]models.TokenTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	txs, err := l.repo.List(ctx, userID, limit)
	if err != nil {
		return nil, models.Unavailable("list ledger", err)
	}
	if txs == nil {
		txs = []models.TokenTransaction{}
	}
	return txs, nil
}

// Audit compares the balance with the ledger sum. Drift is reported, never
// repaired.
func (l *Ledger) Audit(ctx context.Context, userID string) (*models.LedgerAudit, error) {
	bal, err := l.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, n, err := l.repo.Sum(ctx, userID)
	if err != nil {
		return nil, models.Unavailable("sum ledger", err)
	}
	audit := &models.LedgerAudit{
		UserID:    userID,
		Balance:   bal,
		LedgerSum: sum,
		Drift:     bal - sum,
		Entries:   n,
		CheckedAt: l.clock.Now(),
	}
	if !audit.Consistent() {
		metrics.LedgerDriftDetectedTotal.Inc()
		l.logger.Warn("ledger drift detected",
			zap.String("user_id", userID),
			zap.Int64("balance", bal),
			zap.Int64("ledger_sum", sum))
	}
	return audit, nil
}
