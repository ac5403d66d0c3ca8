package repository

import (
	"context"
	"math"
	"sync"

	"github.com/amirphl/Kura/models"
)

// MemoryCounterRepository is a process-local counter store for development and tests.
// It gives the same allocation guarantees as the shared backends within one process only.
type MemoryCounterRepository struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryCounterRepository creates an empty in-memory counter store
func NewMemoryCounterRepository() *MemoryCounterRepository {
	return &MemoryCounterRepository{counters: make(map[string]int64)}
}

func (r *MemoryCounterRepository) Peek(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, newStoreError("peek counter", key, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.counters[key]; ok {
		return v, nil
	}
	return models.InitialCounterValue, nil
}

func (r *MemoryCounterRepository) Allocate(ctx context.Context, key string, delta int64) (int64, error) {
	if err := checkDelta(delta); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, newStoreError("allocate counter", key, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.counters[key]
	if !ok {
		cur = models.InitialCounterValue
	}
	if cur > math.MaxInt64-delta {
		return 0, ErrCounterExhausted
	}
	r.counters[key] = cur + delta
	return cur, nil
}

func (r *MemoryCounterRepository) Set(ctx context.Context, key string, value int64) error {
	if err := ctx.Err(); err != nil {
		return newStoreError("set counter", key, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key] = value
	return nil
}
