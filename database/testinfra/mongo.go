//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"wellbook/database"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	// DefaultMongoImage must be 6.0 or later for change stream pre-images.
	DefaultMongoImage = "mongo:7.0"
	mongoPort         = "27017/tcp"
	replicaSetName    = "rs0"
)

// MongoContainer is a single-node replica set: enough for multi-document
// transactions and change streams.
type MongoContainer struct {
	testcontainers.Container
	URI    string
	Client *mongo.Client
}

// NewMongoReplicaSet starts MongoDB, initiates the replica set and waits
// until the node is a writable primary.
func NewMongoReplicaSet(ctx context.Context) (*MongoContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        DefaultMongoImage,
		ExposedPorts: []string{mongoPort},
		Cmd:          []string{"--replSet", replicaSetName, "--bind_ip_all"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Waiting for connections"),
			wait.ForListeningPort(mongoPort),
		).WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create mongo container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("mongo host: %w", err)
	}
	port, err := container.MappedPort(ctx, mongoPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("mongo port: %w", err)
	}
	// The member advertises localhost:27017, which is only reachable inside
	// the container, so the client must not follow the replica set topology.
	uri := fmt.Sprintf("mongodb://%s:%s/?directConnection=true", host, port.Port())

	client, err := database.Connect(ctx, uri)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, err
	}
	if err := initiateReplicaSet(ctx, client); err != nil {
		_ = client.Disconnect(context.Background())
		container.Terminate(ctx) //nolint:errcheck
		return nil, err
	}
	return &MongoContainer{Container: container, URI: uri, Client: client}, nil
}

func initiateReplicaSet(ctx context.Context, client *mongo.Client) error {
	admin := client.Database("admin")
	cfg := bson.M{
		"_id":     replicaSetName,
		"members": bson.A{bson.M{"_id": 0, "host": "localhost:27017"}},
	}
	if err := admin.RunCommand(ctx, bson.D{{Key: "replSetInitiate", Value: cfg}}).Err(); err != nil {
		return fmt.Errorf("replSetInitiate: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		var hello struct {
			IsWritablePrimary bool `bson:"isWritablePrimary"`
		}
		if err := admin.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err == nil && hello.IsWritablePrimary {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return fmt.Errorf("replica set %s has no primary after 30s", replicaSetName)
}

// Database returns a fresh database, dropped when the test ends.
func (m *MongoContainer) Database(t *testing.T) *mongo.Database {
	t.Helper()
	name := "wellbook_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	db := m.Client.Database(name)
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
	})
	return db
}

// StartMongo starts a replica set for t, skipping the test when Docker or
// the image is unavailable.
func StartMongo(t *testing.T) *MongoContainer {
	t.Helper()
	SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	mc, err := NewMongoReplicaSet(ctx)
	if err != nil {
		t.Skipf("Skipping: could not start mongo: %v", err)
	}
	t.Cleanup(func() {
		_ = mc.Client.Disconnect(context.Background())
		CleanupContainer(t, context.Background(), mc.Container)
	})
	return mc
}
