//go:build integration

package ledgerRepo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wellbook/database"
	"wellbook/database/testinfra"
	"wellbook/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func newMongoLedger(t *testing.T, mc *testinfra.MongoContainer, transactional bool, users ...string) *MongoLedgerRepo {
	t.Helper()
	db := mc.Database(t)
	repo := NewMongoLedgerRepo(db, transactional, 10*time.Second)
	require.NoError(t, repo.EnsureIndexes(context.Background()))
	for _, u := range users {
		_, err := db.Collection(database.UsersCollection).InsertOne(context.Background(), bson.M{"id": u, "tokens": int64(0)})
		require.NoError(t, err)
	}
	return repo
}

func entry(user string, amount int64, key string) *models.TokenTransaction {
	typ := models.TxEarn
	if amount < 0 {
		typ = models.TxSpend
	}
	return &models.TokenTransaction{
		ID:             uuid.NewString(),
		UserID:         user,
		Type:           typ,
		Amount:         amount,
		Description:    "integration",
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
}

func assertBalanceMatchesLedger(t *testing.T, repo *MongoLedgerRepo, user string, want int64, rows int) {
	t.Helper()
	ctx := context.Background()
	bal, err := repo.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, want, bal)
	sum, n, err := repo.Sum(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, want, sum)
	assert.Equal(t, rows, n)
}

func TestMongoLedgerRepo(t *testing.T) {
	mc := testinfra.StartMongo(t)

	for _, transactional := range []bool{true, false} {
		mode := fmt.Sprintf("transactional=%v", transactional)

		t.Run(mode+"/spend past balance changes nothing", func(t *testing.T) {
			repo := newMongoLedger(t, mc, transactional, "u1")
			ctx := context.Background()

			require.NoError(t, repo.Apply(ctx, entry("u1", 30, "")))
			assert.ErrorIs(t, repo.Apply(ctx, entry("u1", -31, "")), ErrInsufficientFunds)
			assertBalanceMatchesLedger(t, repo, "u1", 30, 1)

			spend := entry("u1", -30, "")
			require.NoError(t, repo.Apply(ctx, spend))
			assert.EqualValues(t, 30, spend.BalanceBefore)
			assert.EqualValues(t, 0, spend.BalanceAfter)
			assertBalanceMatchesLedger(t, repo, "u1", 0, 2)
		})

		t.Run(mode+"/unknown user", func(t *testing.T) {
			repo := newMongoLedger(t, mc, transactional)
			assert.ErrorIs(t, repo.Apply(context.Background(), entry("ghost", 5, "")), ErrUserNotFound)
		})

		t.Run(mode+"/same key applies once", func(t *testing.T) {
			repo := newMongoLedger(t, mc, transactional, "u1")
			const n = 20

			errs := make([]error, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = repo.Apply(context.Background(), entry("u1", 50, "mission-7"))
				}(i)
			}
			wg.Wait()

			applied := 0
			for _, err := range errs {
				switch {
				case err == nil:
					applied++
				case errors.Is(err, ErrDuplicateKey):
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			assert.Equal(t, 1, applied)
			assertBalanceMatchesLedger(t, repo, "u1", 50, 1)

			prior, err := repo.FindByIdempotencyKey(context.Background(), "u1", "mission-7")
			require.NoError(t, err)
			assert.EqualValues(t, 50, prior.BalanceAfter)

			// A spend cannot reuse a key either, even when the balance covers it.
			assert.ErrorIs(t, repo.Apply(context.Background(), entry("u1", -10, "mission-7")), ErrDuplicateKey)
			assertBalanceMatchesLedger(t, repo, "u1", 50, 1)
		})

		t.Run(mode+"/concurrent awards are not lost", func(t *testing.T) {
			repo := newMongoLedger(t, mc, transactional, "u1")
			const n = 30

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, repo.Apply(context.Background(), entry("u1", 1, "")))
				}()
			}
			wg.Wait()
			assertBalanceMatchesLedger(t, repo, "u1", n, n)
		})
	}
}
