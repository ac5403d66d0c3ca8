package services

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/amirphl/Kura/models"
	"github.com/amirphl/Kura/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingCounterRepository wraps a counter store and records every allocation
type countingCounterRepository struct {
	repository.CounterRepository
	mu     sync.Mutex
	deltas []int64
	err    error
}

func (r *countingCounterRepository) Allocate(ctx context.Context, key string, delta int64) (int64, error) {
	r.mu.Lock()
	r.deltas = append(r.deltas, delta)
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return r.CounterRepository.Allocate(ctx, key, delta)
}

func (r *countingCounterRepository) calls() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.deltas...)
}

func newTestIDService() (IDService, *countingCounterRepository) {
	store := &countingCounterRepository{CounterRepository: repository.NewMemoryCounterRepository()}
	return NewIDService(store, log.New(io.Discard, "", 0)), store
}

var ordersConfig = models.CollectionConfig{Key: "orders", CustomID: true}

func TestNextID(t *testing.T) {
	ctx := context.Background()

	t.Run("SequentialIDs", func(t *testing.T) {
		svc, _ := newTestIDService()
		for _, expected := range []string{"ORD00000001", "ORD00000002", "ORD00000003"} {
			id, err := svc.NextID(ctx, ordersConfig)
			require.NoError(t, err)
			assert.Equal(t, expected, id)
		}
	})

	t.Run("ExplicitPattern", func(t *testing.T) {
		svc, _ := newTestIDService()
		id, err := svc.NextID(ctx, models.CollectionConfig{Key: "tickets", IDPattern: "T-#####"})
		require.NoError(t, err)
		assert.Equal(t, "T-00001", id)
	})

	t.Run("MalformedPatternDoesNotConsumeCounter", func(t *testing.T) {
		svc, store := newTestIDService()
		_, err := svc.NextID(ctx, models.CollectionConfig{Key: "orders", IDPattern: "ORD"})
		assert.ErrorIs(t, err, ErrMalformedPattern)
		assert.True(t, IsMalformedPattern(err))
		assert.Empty(t, store.calls())

		next, err := svc.GetNextCounter(ctx, ordersConfig)
		require.NoError(t, err)
		assert.Equal(t, int64(1), next)
	})

	t.Run("StoreFailurePropagates", func(t *testing.T) {
		svc, store := newTestIDService()
		driverErr := errors.New("dial tcp: connection refused")
		store.err = &repository.StoreError{Op: "allocate counter", Key: "orders", Err: driverErr}

		id, err := svc.NextID(ctx, ordersConfig)
		assert.Empty(t, id)
		assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
		assert.ErrorIs(t, err, driverErr)
	})

	t.Run("CounterAtMaxIsNotWrapped", func(t *testing.T) {
		svc, _ := newTestIDService()
		require.NoError(t, svc.SetNextCounter(ctx, ordersConfig, math.MaxInt64-1))

		id, err := svc.NextID(ctx, ordersConfig)
		require.NoError(t, err)
		assert.Equal(t, "ORD9223372036854775806", id)

		for i := 0; i < 2; i++ {
			id, err = svc.NextID(ctx, ordersConfig)
			assert.Empty(t, id)
			assert.ErrorIs(t, err, ErrInvalidAllocationRequest)
			assert.ErrorIs(t, err, repository.ErrCounterExhausted)
			assert.False(t, repository.IsStoreUnavailable(err))
		}

		next, err := svc.GetNextCounter(ctx, ordersConfig)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), next)
	})

	t.Run("ConcurrentCallersOnFreshKey", func(t *testing.T) {
		svc, _ := newTestIDService()
		const callers = 64

		ids := make([]string, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := svc.NextID(ctx, ordersConfig)
				if err != nil {
					t.Error(err)
					return
				}
				ids[i] = id
			}(i)
		}
		wg.Wait()

		seen := make(map[string]bool, callers)
		for _, id := range ids {
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
		sort.Strings(ids)
		assert.Equal(t, "ORD00000001", ids[0])
		assert.Equal(t, "ORD00000064", ids[callers-1])
	})
}

func TestNextIDsForBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("AllDocumentsHaveIDs", func(t *testing.T) {
		svc, store := newTestIDService()
		docs := []models.Document{{"_id": "A"}, {"_id": "B"}}

		out, err := svc.NextIDsForBatch(ctx, ordersConfig, docs)
		require.NoError(t, err)
		assert.Equal(t, docs, out)
		assert.Empty(t, store.calls())

		next, err := svc.GetNextCounter(ctx, ordersConfig)
		require.NoError(t, err)
		assert.Equal(t, int64(1), next)
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		svc, store := newTestIDService()
		out, err := svc.NextIDsForBatch(ctx, ordersConfig, nil)
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Empty(t, store.calls())
	})

	t.Run("MixedBatchUsesOneBlock", func(t *testing.T) {
		svc, store := newTestIDService()
		_, err := svc.NextID(ctx, ordersConfig)
		require.NoError(t, err)

		docs := []models.Document{
			{"name": "first"},
			{"_id": "KEEP", "name": "explicit"},
			{"_id": nil, "name": "null id"},
			{"_id": "", "name": "empty id"},
		}
		out, err := svc.NextIDsForBatch(ctx, ordersConfig, docs)
		require.NoError(t, err)
		require.Len(t, out, 4)

		assert.Equal(t, "ORD00000002", out[0]["_id"])
		assert.Equal(t, "KEEP", out[1]["_id"])
		assert.Equal(t, "ORD00000003", out[2]["_id"])
		assert.Equal(t, "ORD00000004", out[3]["_id"])
		assert.Equal(t, "null id", out[2]["name"])

		assert.Equal(t, []int64{1, 3}, store.calls())

		next, err := svc.GetNextCounter(ctx, ordersConfig)
		require.NoError(t, err)
		assert.Equal(t, int64(5), next)
	})

	t.Run("InputsAreNotMutated", func(t *testing.T) {
		svc, _ := newTestIDService()
		docs := []models.Document{{"name": "a"}, {"name": "b"}}

		out, err := svc.NextIDsForBatch(ctx, ordersConfig, docs)
		require.NoError(t, err)
		assert.False(t, docs[0].HasID())
		assert.False(t, docs[1].HasID())
		assert.True(t, out[0].HasID())
		assert.True(t, out[1].HasID())
	})

	t.Run("FailureAssignsNothing", func(t *testing.T) {
		svc, store := newTestIDService()
		store.err = &repository.StoreError{Op: "allocate counter", Key: "orders", Err: context.DeadlineExceeded}
		docs := []models.Document{{"name": "a"}}

		out, err := svc.NextIDsForBatch(ctx, ordersConfig, docs)
		assert.Nil(t, out)
		assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
		assert.False(t, docs[0].HasID())
	})

	t.Run("BlockPastMaxIsRefused", func(t *testing.T) {
		svc, _ := newTestIDService()
		require.NoError(t, svc.SetNextCounter(ctx, ordersConfig, math.MaxInt64-1))

		out, err := svc.NextIDsForBatch(ctx, ordersConfig, []models.Document{{}, {}})
		assert.Nil(t, out)
		assert.ErrorIs(t, err, ErrInvalidAllocationRequest)

		next, err := svc.GetNextCounter(ctx, ordersConfig)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64-1), next)
	})

	t.Run("MalformedPattern", func(t *testing.T) {
		svc, store := newTestIDService()
		cfg := models.CollectionConfig{Key: "orders", IDPattern: "#-#"}
		_, err := svc.NextIDsForBatch(ctx, cfg, []models.Document{{}})
		assert.ErrorIs(t, err, ErrMalformedPattern)
		assert.Empty(t, store.calls())
	})

	t.Run("ConcurrentBatchesDoNotOverlap", func(t *testing.T) {
		svc, _ := newTestIDService()
		const batches = 16
		const size = 10

		var mu sync.Mutex
		var all []string
		var wg sync.WaitGroup
		for i := 0; i < batches; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				docs := make([]models.Document, size)
				for j := range docs {
					docs[j] = models.Document{"n": j}
				}
				out, err := svc.NextIDsForBatch(ctx, ordersConfig, docs)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				for _, d := range out {
					all = append(all, d["_id"].(string))
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		require.Len(t, all, batches*size)
		sort.Strings(all)
		for i, id := range all {
			expected, err := RenderID(DefaultIDPattern("orders", models.DefaultIDWidth), int64(i+1))
			require.NoError(t, err)
			assert.Equal(t, expected, id)
		}
	})
}

func TestCounterAdministration(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestIDService()

	require.NoError(t, svc.SetNextCounter(ctx, ordersConfig, 1000))
	next, err := svc.GetNextCounter(ctx, ordersConfig)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), next)

	id, err := svc.NextID(ctx, ordersConfig)
	require.NoError(t, err)
	assert.Equal(t, "ORD00001000", id)

	err = svc.SetNextCounter(ctx, ordersConfig, 0)
	assert.ErrorIs(t, err, ErrInvalidCounterValue)
}
