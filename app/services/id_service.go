// Package services provides identifier generation and technical concerns like tokens
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/Kura/models"
	"github.com/amirphl/Kura/repository"
)

// IDService hands out collision-free record identifiers backed by a shared counter store.
// It keeps no counter state between calls; every allocation is one atomic store operation.
type IDService interface {
	NextID(ctx context.Context, cfg models.CollectionConfig) (string, error)
	NextIDsForBatch(ctx context.Context, cfg models.CollectionConfig, docs []models.Document) ([]models.Document, error)
	// GetNextCounter and SetNextCounter are administrative and not ordered against in-flight allocations
	GetNextCounter(ctx context.Context, cfg models.CollectionConfig) (int64, error)
	SetNextCounter(ctx context.Context, cfg models.CollectionConfig, value int64) error
}

// IDServiceImpl implements IDService
type IDServiceImpl struct {
	counters repository.CounterRepository
	logger   *log.Logger
}

// NewIDService creates a new ID service over counters
func NewIDService(counters repository.CounterRepository, logger *log.Logger) IDService {
	if logger == nil {
		logger = log.Default()
	}
	return &IDServiceImpl{
		counters: counters,
		logger:   logger,
	}
}

// NextID allocates one value for cfg.Key and renders it
func (s *IDServiceImpl) NextID(ctx context.Context, cfg models.CollectionConfig) (string, error) {
	// parse first so a bad pattern does not burn a counter value
	pattern, err := ParseIDPattern(PatternFor(cfg))
	if err != nil {
		s.recordError(cfg.Key, "pattern")
		return "", err
	}

	start := time.Now()
	value, err := s.counters.Allocate(ctx, cfg.Key, 1)
	idAllocationDuration.WithLabelValues(cfg.Key, "single").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", s.allocationFailure(cfg.Key, 1, err)
	}

	id, err := pattern.Render(value)
	if err != nil {
		s.recordError(cfg.Key, "render")
		return "", err
	}

	idAllocationsTotal.WithLabelValues(cfg.Key, "single").Inc()
	idsAllocatedTotal.WithLabelValues(cfg.Key).Inc()
	return id, nil
}

// NextIDsForBatch assigns identifiers to the documents of docs that have none, using one block
// reservation. The returned slice holds copies for the documents that were assigned; docs is
// never modified. Documents that already carry an identifier are returned as given.
func (s *IDServiceImpl) NextIDsForBatch(ctx context.Context, cfg models.CollectionConfig, docs []models.Document) ([]models.Document, error) {
	n := int64(0)
	for _, doc := range docs {
		if !doc.HasID() {
			n++
		}
	}

	out := make([]models.Document, len(docs))
	copy(out, docs)
	if n == 0 {
		return out, nil
	}

	pattern, err := ParseIDPattern(PatternFor(cfg))
	if err != nil {
		s.recordError(cfg.Key, "pattern")
		return nil, err
	}

	start := time.Now()
	base, err := s.counters.Allocate(ctx, cfg.Key, n)
	idAllocationDuration.WithLabelValues(cfg.Key, "batch").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.allocationFailure(cfg.Key, n, err)
	}

	next := base
	for i, doc := range docs {
		if doc.HasID() {
			continue
		}
		id, err := pattern.Render(next)
		if err != nil {
			s.recordError(cfg.Key, "render")
			return nil, err
		}
		assigned := doc.Clone()
		if assigned == nil {
			assigned = models.Document{}
		}
		assigned[models.DocumentIDField] = id
		out[i] = assigned
		next++
	}

	idAllocationsTotal.WithLabelValues(cfg.Key, "batch").Inc()
	idsAllocatedTotal.WithLabelValues(cfg.Key).Add(float64(n))
	return out, nil
}

// GetNextCounter returns the value the next allocation for cfg.Key would start at
func (s *IDServiceImpl) GetNextCounter(ctx context.Context, cfg models.CollectionConfig) (int64, error) {
	value, err := s.counters.Peek(ctx, cfg.Key)
	if err != nil {
		return 0, fmt.Errorf("failed to read counter for %s: %w", cfg.Key, err)
	}
	return value, nil
}

// SetNextCounter overwrites the counter of cfg.Key; lowering it can reissue identifiers
func (s *IDServiceImpl) SetNextCounter(ctx context.Context, cfg models.CollectionConfig, value int64) error {
	if value < models.InitialCounterValue {
		return fmt.Errorf("%w: got %d", ErrInvalidCounterValue, value)
	}
	if err := s.counters.Set(ctx, cfg.Key, value); err != nil {
		return fmt.Errorf("failed to set counter for %s: %w", cfg.Key, err)
	}
	s.logger.Printf("counter for %s set to %d", cfg.Key, value)
	return nil
}

// allocationFailure separates a counter that cannot grow any further from a store failure
func (s *IDServiceImpl) allocationFailure(collection string, n int64, err error) error {
	if repository.IsCounterExhausted(err) {
		s.recordError(collection, "exhausted")
		s.logger.Printf("counter for %s cannot allocate %d more ids", collection, n)
		return fmt.Errorf("%w: %d ids for %s: %w", ErrInvalidAllocationRequest, n, collection, err)
	}
	s.recordError(collection, "store")
	s.logger.Printf("allocation of %d ids failed for %s: %v", n, collection, err)
	return fmt.Errorf("failed to allocate %d ids for %s: %w", n, collection, err)
}

func (s *IDServiceImpl) recordError(collection, reason string) {
	idAllocationErrorsTotal.WithLabelValues(collection, reason).Inc()
}

// IsMalformedPattern reports whether err was caused by an unusable id pattern
func IsMalformedPattern(err error) bool {
	return errors.Is(err, ErrMalformedPattern)
}
