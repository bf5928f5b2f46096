package bookingRepo

import (
	"context"
	"fmt"
	"sync"

	"wellbook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const feedBuffer = 64

// changeEvent is the subset of a change stream document the feed reads.
type changeEvent struct {
	OperationType            string          `bson:"operationType"`
	FullDocument             *models.Booking `bson:"fullDocument"`
	FullDocumentBeforeChange *models.Booking `bson:"fullDocumentBeforeChange"`
}

// Subscribe opens a change stream on the bookings collection filtered to one
// professional. Deletes are scoped by their pre-image, which EnsureIndexes
// enables on the collection.
func (r *MongoBookingRepo) Subscribe(ctx context.Context, providerID string) (Subscription, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"$or": bson.A{
				bson.M{"fullDocument.provider_id": providerID},
				bson.M{"operationType": "delete", "fullDocumentBeforeChange.provider_id": providerID},
			},
		}}},
	}
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)

	stream, err := r.coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open booking change stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &mongoSubscription{
		events: make(chan models.BookingChange, feedBuffer),
		cancel: cancel,
	}
	go sub.pump(ctx, stream)
	return sub, nil
}

type mongoSubscription struct {
	events chan models.BookingChange
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (s *mongoSubscription) pump(ctx context.Context, stream *mongo.ChangeStream) {
	defer close(s.events)
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			s.setErr(fmt.Errorf("decode change event: %w", err))
			return
		}
		change, ok := toBookingChange(ev)
		if !ok {
			continue
		}
		select {
		case s.events <- change:
		case <-ctx.Done():
			return
		}
	}
	if ctx.Err() == nil {
		s.setErr(stream.Err())
	}
}

func toBookingChange(ev changeEvent) (models.BookingChange, bool) {
	switch ev.OperationType {
	case "insert", "update", "replace":
		if ev.FullDocument == nil {
			return models.BookingChange{}, false
		}
		op := models.ChangeUpdate
		if ev.OperationType == "insert" {
			op = models.ChangeInsert
		}
		return models.BookingChange{Op: op, BookingID: ev.FullDocument.ID, Booking: ev.FullDocument}, true
	case "delete":
		if ev.FullDocumentBeforeChange == nil || ev.FullDocumentBeforeChange.ID == "" {
			return models.BookingChange{}, false
		}
		return models.BookingChange{Op: models.ChangeDelete, BookingID: ev.FullDocumentBeforeChange.ID}, true
	}
	return models.BookingChange{}, false
}

func (s *mongoSubscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *mongoSubscription) Events() <-chan models.BookingChange { return s.events }

func (s *mongoSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *mongoSubscription) Close() error {
	s.cancel()
	return nil
}
