package testing

import (
	"context"
	"fmt"
	stdtesting "testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewTestMongo connects to TEST_MONGO_URL (default mongodb://localhost:27017) and skips t when unreachable.
// Every call gets its own database, dropped on cleanup.
func NewTestMongo(t *stdtesting.T) *mongo.Database {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(getEnv("TEST_MONGO_URL", "mongodb://localhost:27017")).
		SetServerSelectionTimeout(2 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		t.Skipf("skipping mongo integration test: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		t.Skipf("skipping mongo integration test: %v", err)
	}

	db := client.Database(fmt.Sprintf("kura_test_%s", uuid.NewString()[:8]))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}
