// Package userRepo reads the identity records this service depends on: the
// FCM token for push delivery. Users are created by the identity service.
package userRepo

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
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("user not found")

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// MongoUserRepo implements UserRepository using MongoDB.
type MongoUserRepo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoUserRepo(db *mongo.Database, timeout time.Duration) *MongoUserRepo {
	return &MongoUserRepo{coll: db.Collection(database.UsersCollection), timeout: timeout}
}

// GetByID retrieves a user by its unique ID, projecting only what this service reads.
func (r *MongoUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := options.FindOne().SetProjection(bson.M{"id": 1, "fcm_token": 1, "tokens": 1})
	var user models.User
	if err := r.coll.FindOne(ctx, bson.M{"id": id}, opts).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch user with id %s: %w", id, err)
	}
	return &user, nil
}

// MemoryUserRepo is an in-process UserRepository.
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryUserRepo(users ...models.User) *MemoryUserRepo {
	r := &MemoryUserRepo{users: make(map[string]models.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *MemoryUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}
