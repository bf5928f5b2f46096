package bookingRepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	slotIndexName        = "unique_occupied_slot"
	idempotencyIndexName = "unique_client_idempotency_key"
)

// EnsureIndexes creates the booking indexes. unique_occupied_slot is the
// constraint that makes double booking impossible.
func (r *MongoBookingRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_id"),
		},
		// One occupying booking per (provider, date, time); cancelled rows drop out of the index.
		{
			Keys: bson.D{{Key: "provider_id", Value: 1}, {Key: "date", Value: 1}, {Key: "time", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName(slotIndexName).
				SetPartialFilterExpression(bson.M{"occupies_slot": true}),
		},
		{
			Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName(idempotencyIndexName).
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetName("status_date_idx"),
		},
	}

	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create booking indexes: %w", err)
	}
	return r.enablePreImages(ctx)
}

// enablePreImages stores pre-images so delete events can be routed to the
// professional that owned the row. Requires MongoDB 6.0 or later.
func (r *MongoBookingRepo) enablePreImages(ctx context.Context) error {
	cmd := bson.D{
		{Key: "collMod", Value: r.coll.Name()},
		{Key: "changeStreamPreAndPostImages", Value: bson.M{"enabled": true}},
	}
	if err := r.coll.Database().RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("failed to enable booking pre-images: %w", err)
	}
	return nil
}
