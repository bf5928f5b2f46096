// Package serviceRepo reads the services professionals offer. Service CRUD is
// owned elsewhere; bookings only need the price at reservation time.
package serviceRepo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wellbook/database"
	"wellbook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var ErrNotFound = errors.New("service not found")

type ServiceRepository interface {
	GetByID(ctx context.Context, providerID, serviceID string) (*models.Service, error)
}

// MongoServiceRepo implements ServiceRepository using MongoDB.
type MongoServiceRepo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoServiceRepo(db *mongo.Database, timeout time.Duration) *MongoServiceRepo {
	return &MongoServiceRepo{coll: db.Collection(database.ServicesCollection), timeout: timeout}
}

func (r *MongoServiceRepo) GetByID(ctx context.Context, providerID, serviceID string) (*models.Service, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var svc models.Service
	filter := bson.M{"id": serviceID, "provider_id": providerID}
	if err := r.coll.FindOne(ctx, filter).Decode(&svc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching service %s: %w", serviceID, err)
	}
	return &svc, nil
}

// MemoryServiceRepo is an in-process ServiceRepository.
type MemoryServiceRepo struct {
	mu       sync.RWMutex
	services map[string]models.Service
}

func NewMemoryServiceRepo(services ...models.Service) *MemoryServiceRepo {
	r := &MemoryServiceRepo{services: make(map[string]models.Service)}
	for _, s := range services {
		r.Put(s)
	}
	return r
}

// Put adds or replaces a service.
func (r *MemoryServiceRepo) Put(s models.Service) {
	r.mu.Lock()
	r.services[s.ID] = s
	r.mu.Unlock()
}

func (r *MemoryServiceRepo) GetByID(ctx context.Context, providerID, serviceID string) (*models.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[serviceID]
	if !ok || s.ProviderID != providerID {
		return nil, ErrNotFound
	}
	return &s, nil
}
