package ledgerRepo

import (
	"context"
	"sort"
	"sync"

	"wellbook/models"
)

// MemoryLedgerRepo is an in-process LedgerRepository. Apply holds one mutex
// across the balance update and the append, so it has the same per-user
// atomicity as the Mongo compare-and-swap.
type MemoryLedgerRepo struct {
	mu            sync.Mutex
	balances      map[string]int64
	txs           []models.TokenTransaction
	keys          map[string]int
	applied       map[string]struct{}
	transactional bool
	appendHook    func(*models.TokenTransaction) error
	failErr       error
}

// NewMemoryLedgerRepo creates a ledger where only the given users exist, each
// with a zero balance.
func NewMemoryLedgerRepo(transactional bool, userIDs ...string) *MemoryLedgerRepo {
	r := &MemoryLedgerRepo{
		balances:      make(map[string]int64),
		keys:          make(map[string]int),
		applied:       make(map[string]struct{}),
		transactional: transactional,
	}
	for _, id := range userIDs {
		r.balances[id] = 0
	}
	return r
}

// AddUser registers a user account with a zero balance.
func (r *MemoryLedgerRepo) AddUser(userID string) {
	r.mu.Lock()
	if _, ok := r.balances[userID]; !ok {
		r.balances[userID] = 0
	}
	r.mu.Unlock()
}

// SetAppendHook installs a function run before each ledger append; a non-nil
// error fails the append.
func (r *MemoryLedgerRepo) SetAppendHook(hook func(*models.TokenTransaction) error) {
	r.mu.Lock()
	r.appendHook = hook
	r.mu.Unlock()
}

// SetUnavailable makes every call fail with err until reset with nil.
func (r *MemoryLedgerRepo) SetUnavailable(err error) {
	r.mu.Lock()
	r.failErr = err
	r.mu.Unlock()
}

func (r *MemoryLedgerRepo) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.failErr
}

func (r *MemoryLedgerRepo) Balance(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return 0, err
	}
	bal, ok := r.balances[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	return bal, nil
}

func (r *MemoryLedgerRepo) Apply(ctx context.Context, tx *models.TokenTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return err
	}

	bal, ok := r.balances[tx.UserID]
	if !ok {
		return ErrUserNotFound
	}
	// A key is claimed together with the balance move and stays claimed
	// whether or not its ledger row was written.
	key := tx.UserID + "\x00" + tx.IdempotencyKey
	if _, dup := r.applied[key]; dup && tx.IdempotencyKey != "" {
		return ErrDuplicateKey
	}
	if tx.Amount < 0 && bal < -tx.Amount {
		return ErrInsufficientFunds
	}
	if tx.IdempotencyKey != "" {
		r.applied[key] = struct{}{}
	}

	tx.BalanceBefore = bal
	tx.BalanceAfter = bal + tx.Amount
	r.balances[tx.UserID] = tx.BalanceAfter

	var appendErr error
	if r.appendHook != nil {
		appendErr = r.appendHook(tx)
	}
	if appendErr != nil {
		if r.transactional {
			r.balances[tx.UserID] = bal
			delete(r.applied, key)
			return appendErr
		}
		return &AppendError{Transaction: *tx, Err: appendErr}
	}

	r.txs = append(r.txs, *tx)
	if tx.IdempotencyKey != "" {
		r.keys[key] = len(r.txs) - 1
	}
	return nil
}

func (r *MemoryLedgerRepo) FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.TokenTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	i, ok := r.keys[userID+"\x00"+key]
	if !ok {
		return nil, ErrNotFound
	}
	tx := r.txs[i]
	return &tx, nil
}

func (r *MemoryLedgerRepo) List(ctx context.Context, userID string, limit int) ([]models.TokenTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	var out []models.TokenTransaction
	for i := len(r.txs) - 1; i >= 0; i-- {
		if r.txs[i].UserID != userID {
			continue
		}
		out = append(out, r.txs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryLedgerRepo) Sum(ctx context.Context, userID string) (int64, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return 0, 0, err
	}
	var total int64
	var n int
	for _, tx := range r.txs {
		if tx.UserID == userID {
			total += tx.Amount
			n++
		}
	}
	return total, n, nil
}
