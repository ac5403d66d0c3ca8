package businessflow

import (
	"context"
	"errors"
	"log"

	"github.com/amirphl/Kura/app/services"
	"github.com/amirphl/Kura/models"
)

// CounterState describes the counter of one collection
type CounterState struct {
	Collection string `json:"collection"`
	Next       int64  `json:"next"`
	Pattern    string `json:"pattern"`
	CustomID   bool   `json:"custom_id"`
}

// CounterAdminFlow exposes the administrative counter operations.
// Reads and overwrites are not ordered against allocations running at the same time.
type CounterAdminFlow interface {
	GetNextCounter(ctx context.Context, collection string) (*CounterState, error)
	SetNextCounter(ctx context.Context, collection string, next int64, metadata *ClientMetadata) (*CounterState, error)
	GetNextID(ctx context.Context, collection string) (string, error)
}

// CounterAdminFlowImpl implements CounterAdminFlow
type CounterAdminFlowImpl struct {
	ids         services.IDService
	collections CollectionResolver
	logger      *log.Logger
}

// NewCounterAdminFlow creates a new counter administration flow
func NewCounterAdminFlow(ids services.IDService, collections CollectionResolver, logger *log.Logger) CounterAdminFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &CounterAdminFlowImpl{ids: ids, collections: collections, logger: logger}
}

func (f *CounterAdminFlowImpl) GetNextCounter(ctx context.Context, collection string) (*CounterState, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	cfg := f.collections.Resolve(collection)

	next, err := f.ids.GetNextCounter(ctx, cfg)
	if err != nil {
		return nil, NewBusinessError("COUNTER_READ_FAILED", "Failed to read counter", err)
	}
	return counterState(cfg, next), nil
}

// SetNextCounter overwrites the counter; setting it below an issued value lets identifiers repeat
func (f *CounterAdminFlowImpl) SetNextCounter(ctx context.Context, collection string, next int64, metadata *ClientMetadata) (*CounterState, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	cfg := f.collections.Resolve(collection)

	if err := f.ids.SetNextCounter(ctx, cfg, next); err != nil {
		if errors.Is(err, services.ErrInvalidCounterValue) {
			return nil, NewBusinessError("INVALID_COUNTER_VALUE", "Counter value must be at least 1", ErrInvalidCounterValue)
		}
		return nil, NewBusinessError("COUNTER_UPDATE_FAILED", "Failed to update counter", err)
	}

	if metadata != nil {
		f.logger.Printf("counter %s set to %d by %s (ip=%s request_id=%s)", collection, next, metadata.Actor, metadata.IPAddress, metadata.RequestID)
	}
	return counterState(cfg, next), nil
}

// GetNextID allocates and returns one identifier of collection
func (f *CounterAdminFlowImpl) GetNextID(ctx context.Context, collection string) (string, error) {
	if err := validateCollection(collection); err != nil {
		return "", err
	}
	id, err := f.ids.NextID(ctx, f.collections.Resolve(collection))
	if err != nil {
		return "", idFailure(err)
	}
	return id, nil
}

func counterState(cfg models.CollectionConfig, next int64) *CounterState {
	return &CounterState{
		Collection: cfg.Key,
		Next:       next,
		Pattern:    services.PatternFor(cfg),
		CustomID:   cfg.CustomID,
	}
}
