package models

import "time"

// TransactionType is the direction of a ledger row.
type TransactionType string

const (
	TxEarn  TransactionType = "earn"
	TxSpend TransactionType = "spend"
)

// TokenTransaction is an immutable ledger row. Amount is signed: positive for
// earn, negative for spend.
type TokenTransaction struct {
	ID             string          `bson:"id" json:"id"`
	UserID         string          `bson:"user_id" json:"userId"`
	Type           TransactionType `bson:"type" json:"type"`
	Amount         int64           `bson:"amount" json:"amount"`
	Description    string          `bson:"description" json:"description"`
	BalanceBefore  int64           `bson:"balance_before" json:"balanceBefore"`
	BalanceAfter   int64           `bson:"balance_after" json:"balanceAfter"`
	IdempotencyKey string          `bson:"idempotency_key,omitempty" json:"-"`
	CreatedAt      time.Time       `bson:"created_at" json:"createdAt"`
}

// TokenAccount is the slice of the user record the ledger owns.
type TokenAccount struct {
	UserID string `bson:"id" json:"userId"`
	Tokens int64  `bson:"tokens" json:"tokens"`
}

// LedgerAudit compares a balance with the sum of its ledger rows.
type LedgerAudit struct {
	UserID    string    `json:"userId"`
	Balance   int64     `json:"balance"`
	LedgerSum int64     `json:"ledgerSum"`
	Drift     int64     `json:"drift"`
	Entries   int       `json:"entries"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Consistent reports whether the balance equals the ledger sum.
func (a LedgerAudit) Consistent() bool {
	return a.Drift == 0
}
