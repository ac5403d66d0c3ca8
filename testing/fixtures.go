// Package testing provides test utilities and database setup for integration tests of the stores
package testing

import (
	"context"
	"errors"
	"fmt"
	"os"
	stdtesting "testing"
	"time"

	"github.com/amirphl/Kura/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNoTestDB is returned by TestWithDB when no test server is available
var ErrNoTestDB = errors.New("test database unavailable")

// RunWithDB runs fn against a fresh test database and skips t when PostgreSQL is unreachable
func RunWithDB(t *stdtesting.T, fn func(*TestDB) error) {
	t.Helper()
	err := TestWithDB(fn)
	if errors.Is(err, ErrNoTestDB) {
		t.Skipf("skipping postgres integration test: %v", err)
	}
	if err != nil {
		t.Fatal(err)
	}
}

// NewTestRedis connects to TEST_REDIS_URL (default redis://localhost:6379/15) and skips t when unreachable.
// Keys are namespaced with a random prefix and removed on cleanup.
func NewTestRedis(t *stdtesting.T) (*redis.Client, string) {
	t.Helper()
	opts, err := redis.ParseURL(getEnv("TEST_REDIS_URL", "redis://localhost:6379/15"))
	if err != nil {
		t.Fatalf("invalid TEST_REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("skipping redis integration test: %v", err)
	}

	prefix := fmt.Sprintf("kura_test:%s:", uuid.NewString())
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return client, prefix
}

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestDocument stores a document with the given id and fields
func (tf *TestFixtures) CreateTestDocument(collection, id string, data map[string]any) (*models.DocumentRow, error) {
	row := &models.DocumentRow{
		Collection: collection,
		ID:         id,
		Data:       data,
	}
	if err := tf.DB.DB.Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to create test document %s/%s: %w", collection, id, err)
	}
	return row, nil
}

// SeedCounter stores next for key
func (tf *TestFixtures) SeedCounter(key string, next int64) error {
	rec := &models.CounterRecord{Key: key, Next: next}
	if err := tf.DB.DB.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to seed counter %s: %w", key, err)
	}
	return nil
}

// TestCollectionName returns a collection name unique to this process run
func TestCollectionName(base string) string {
	return fmt.Sprintf("%s_%d_%d", base, os.Getpid(), time.Now().UnixNano())
}
