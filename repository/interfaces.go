// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"

	"github.com/amirphl/Kura/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

// CounterRepository is the durable mapping from collection name to the next sequence value.
type CounterRepository interface {
	// Peek returns the stored next value, or 1 when the key was never allocated.
	// It is not atomic against concurrent allocators and must not be used to allocate.
	Peek(ctx context.Context, key string) (int64, error)
	// Allocate atomically adds delta to the stored value, creating the record when absent,
	// and returns the value before the increment.
	Allocate(ctx context.Context, key string, delta int64) (int64, error)
	// Set overwrites the stored next value, creating the record when absent.
	Set(ctx context.Context, key string, value int64) error
}

// DocumentRepository defines schemaless document operations scoped by collection.
// Lookups that match nothing return a nil document and a nil error.
type DocumentRepository interface {
	Count(ctx context.Context, collection string, filter models.Document) (int64, error)
	Find(ctx context.Context, collection string, query models.DocumentQuery) ([]models.Document, error)
	ByID(ctx context.Context, collection, id string) (models.Document, error)
	Insert(ctx context.Context, collection string, doc models.Document) (models.Document, error)
	InsertBatch(ctx context.Context, collection string, docs []models.Document) ([]models.Document, error)
	Update(ctx context.Context, collection, id string, patch models.Document) (models.Document, error)
	Delete(ctx context.Context, collection, id string) (models.Document, error)
}
