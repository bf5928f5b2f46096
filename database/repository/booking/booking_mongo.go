package bookingRepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wellbook/database"
	"wellbook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBookingRepo implements BookingRepository using MongoDB.
type MongoBookingRepo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// NewMongoBookingRepo constructs a booking repository on db. timeout bounds
// every single store round trip.
func NewMongoBookingRepo(db *mongo.Database, timeout time.Duration) *MongoBookingRepo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MongoBookingRepo{
		coll:    db.Collection(database.BookingsCollection),
		timeout: timeout,
	}
}

func (r *MongoBookingRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// InsertIfSlotFree relies on unique_occupied_slot: the insert itself is the
// availability check, so concurrent requests for one slot serialize in Mongo.
func (r *MongoBookingRepo) InsertIfSlotFree(ctx context.Context, b *models.Booking) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	b.OccupiesSlot = b.Status.OccupiesSlot()
	if _, err := r.coll.InsertOne(ctx, b); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), idempotencyIndexName) {
				return ErrDuplicateRequest
			}
			return ErrSlotTaken
		}
		return fmt.Errorf("insert booking failed: %w", err)
	}
	return nil
}

func (r *MongoBookingRepo) IsSlotOccupied(ctx context.Context, slot models.TimeSlot) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"provider_id":   slot.ProviderID,
		"date":          slot.Date,
		"time":          slot.Time,
		"occupies_slot": true,
	}
	n, err := r.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("error checking slot occupancy: %w", err)
	}
	return n > 0, nil
}

func (r *MongoBookingRepo) ListOccupied(ctx context.Context, providerID, date string) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"provider_id": providerID, "date": date, "occupies_slot": true}
	opts := options.Find().SetProjection(bson.M{"time": 1})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error fetching occupied slots: %w", err)
	}
	defer cursor.Close(ctx)

	var times []string
	for cursor.Next(ctx) {
		var row struct {
			Time string `bson:"time"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("error decoding occupied slot: %w", err)
		}
		times = append(times, row.Time)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return times, nil
}

func (r *MongoBookingRepo) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *MongoBookingRepo) GetByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Booking, error) {
	return r.findOne(ctx, bson.M{"client_id": clientID, "idempotency_key": key})
}

func (r *MongoBookingRepo) findOne(ctx context.Context, filter bson.M) (*models.Booking, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var b models.Booking
	if err := r.coll.FindOne(ctx, filter).Decode(&b); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching booking: %w", err)
	}
	return &b, nil
}

// UpdateStatus is a single FindOneAndUpdate guarded on the current status.
// Moving to cancelled clears occupies_slot, which drops the row out of the
// slot index and frees the slot in the same write.
func (r *MongoBookingRepo) UpdateStatus(ctx context.Context, id string, from []models.BookingStatus, to models.BookingStatus, at time.Time) (*models.Booking, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"id": id, "status": bson.M{"$in": from}}
	update := bson.M{"$set": bson.M{
		"status":        to,
		"occupies_slot": to.OccupiesSlot(),
		"updated_at":    at,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var b models.Booking
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&b)
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error updating booking %s: %w", id, err)
	}

	n, cerr := r.coll.CountDocuments(ctx, bson.M{"id": id}, options.Count().SetLimit(1))
	if cerr != nil {
		return nil, fmt.Errorf("error fetching booking %s: %w", id, cerr)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrStatusMismatch
}

// Delete removes a booking row outright, as an operator purge would. The
// change feed reports it as a delete routed by the row's pre-image.
func (r *MongoBookingRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.coll.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("error deleting booking %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoBookingRepo) ListByStatusOnOrBefore(ctx context.Context, status models.BookingStatus, date string) ([]models.Booking, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"status": status, "date": bson.M{"$lte": date}}
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "time", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing %s bookings: %w", status, err)
	}
	defer cursor.Close(ctx)

	var bookings []models.Booking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("error decoding bookings: %w", err)
	}
	return bookings, nil
}
