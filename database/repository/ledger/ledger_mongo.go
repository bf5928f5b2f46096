package ledgerRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wellbook/database"
	"wellbook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLedgerRepo implements LedgerRepository using MongoDB. In transactional
// mode the balance update and the ledger insert commit together in one
// multi-document transaction (requires a replica set). Otherwise the balance
// update is authoritative and the insert is best effort. In both modes the
// user document carries the applied idempotency keys (ledger_keys).
type MongoLedgerRepo struct {
	client        *mongo.Client
	users         *mongo.Collection
	txs           *mongo.Collection
	transactional bool
	timeout       time.Duration
}

func NewMongoLedgerRepo(db *mongo.Database, transactional bool, timeout time.Duration) *MongoLedgerRepo {
	return &MongoLedgerRepo{
		client:        db.Client(),
		users:         db.Collection(database.UsersCollection),
		txs:           db.Collection(database.TokenTransactionsCollection),
		transactional: transactional,
		timeout:       timeout,
	}
}

// EnsureIndexes creates the ledger indexes.
func (r *MongoLedgerRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_id"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("user_created_idx"),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("unique_user_idempotency_key").
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$type": "string"}}),
		},
	}
	if _, err := r.txs.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create ledger indexes: %w", err)
	}
	return nil
}

func (r *MongoLedgerRepo) Balance(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var acct models.TokenAccount
	opts := options.FindOne().SetProjection(bson.M{"id": 1, "tokens": 1})
	if err := r.users.FindOne(ctx, bson.M{"id": userID}, opts).Decode(&acct); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to read balance for %s: %w", userID, err)
	}
	return acct.Tokens, nil
}

func (r *MongoLedgerRepo) Apply(ctx context.Context, tx *models.TokenTransaction) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.transactional {
		return r.applyTransactionally(ctx, tx)
	}

	if err := r.adjustBalance(ctx, tx); err != nil {
		return err
	}
	if err := r.insert(ctx, tx); err != nil {
		return &AppendError{Transaction: *tx, Err: err}
	}
	return nil
}

func (r *MongoLedgerRepo) applyTransactionally(ctx context.Context, tx *models.TokenTransaction) error {
	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	// WithTransaction retries the callback on TransientTransactionError and
	// the commit on UnknownTransactionCommitResult.
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if err := r.adjustBalance(sc, tx); err != nil {
			return nil, err
		}
		if err := r.insert(sc, tx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// adjustBalance is the compare-and-swap: one FindOneAndUpdate that only
// matches when the balance covers a decrement and the idempotency key has not
// been claimed on the account, returning the pre-image. The key is claimed in
// the same update, so two calls with one key can never both move the balance.
func (r *MongoLedgerRepo) adjustBalance(ctx context.Context, tx *models.TokenTransaction) error {
	filter := bson.M{"id": tx.UserID}
	update := bson.M{"$inc": bson.M{"tokens": tx.Amount}}
	if tx.Amount < 0 {
		filter["tokens"] = bson.M{"$gte": -tx.Amount}
	}
	if tx.IdempotencyKey != "" {
		filter["ledger_keys"] = bson.M{"$ne": tx.IdempotencyKey}
		update["$addToSet"] = bson.M{"ledger_keys": tx.IdempotencyKey}
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetProjection(bson.M{"id": 1, "tokens": 1})

	var before models.TokenAccount
	err := r.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	if err == nil {
		tx.BalanceBefore = before.Tokens
		tx.BalanceAfter = before.Tokens + tx.Amount
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("failed to update balance for %s: %w", tx.UserID, err)
	}
	return r.explainMiss(ctx, tx)
}

// explainMiss tells apart the reasons the compare-and-swap matched nothing.
func (r *MongoLedgerRepo) explainMiss(ctx context.Context, tx *models.TokenTransaction) error {
	projection := bson.M{"id": 1}
	if tx.IdempotencyKey != "" {
		projection["ledger_keys"] = bson.M{"$elemMatch": bson.M{"$eq": tx.IdempotencyKey}}
	}
	var acct struct {
		Keys []string `bson:"ledger_keys"`
	}
	err := r.users.FindOne(ctx, bson.M{"id": tx.UserID}, options.FindOne().SetProjection(projection)).Decode(&acct)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrUserNotFound
	case err != nil:
		return fmt.Errorf("failed to read user %s: %w", tx.UserID, err)
	case len(acct.Keys) > 0:
		return ErrDuplicateKey
	default:
		return ErrInsufficientFunds
	}
}

func (r *MongoLedgerRepo) insert(ctx context.Context, tx *models.TokenTransaction) error {
	if _, err := r.txs.InsertOne(ctx, tx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert ledger row failed: %w", err)
	}
	return nil
}

func (r *MongoLedgerRepo) FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.TokenTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var tx models.TokenTransaction
	err := r.txs.FindOne(ctx, bson.M{"user_id": userID, "idempotency_key": key}).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up ledger key: %w", err)
	}
	return &tx, nil
}

func (r *MongoLedgerRepo) List(ctx context.Context, userID string, limit int) ([]models.TokenTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.txs.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger for %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var out []models.TokenTransaction
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode ledger rows: %w", err)
	}
	return out, nil
}

func (r *MongoLedgerRepo) Sum(ctx context.Context, userID string) (int64, int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"user_id": userID}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$amount"},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cursor, err := r.txs.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum ledger for %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total int64 `bson:"total"`
		Count int   `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, 0, fmt.Errorf("failed to decode ledger sum: %w", err)
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	return rows[0].Total, rows[0].Count, nil
}
