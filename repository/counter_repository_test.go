package repository_test

import (
	"context"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/amirphl/Kura/repository"
	testingutil "github.com/amirphl/Kura/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseCounterRepository checks the allocation contract shared by every backend
func exerciseCounterRepository(t *testing.T, repo repository.CounterRepository) {
	ctx := context.Background()

	t.Run("PeekAbsentKey", func(t *testing.T) {
		next, err := repo.Peek(ctx, "absent")
		require.NoError(t, err)
		assert.Equal(t, int64(1), next)
	})

	t.Run("SeedingRule", func(t *testing.T) {
		first, err := repo.Allocate(ctx, "seeded", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), first)

		next, err := repo.Peek(ctx, "seeded")
		require.NoError(t, err)
		assert.Equal(t, int64(2), next)
	})

	t.Run("BlockAllocation", func(t *testing.T) {
		base, err := repo.Allocate(ctx, "block", 4)
		require.NoError(t, err)
		assert.Equal(t, int64(1), base)

		base, err = repo.Allocate(ctx, "block", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(5), base)
	})

	t.Run("InvalidDelta", func(t *testing.T) {
		_, err := repo.Allocate(ctx, "block", 0)
		assert.ErrorIs(t, err, repository.ErrInvalidDelta)
	})

	t.Run("ExhaustedCounter", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "exhausted", math.MaxInt64-2))

		v, err := repo.Allocate(ctx, "exhausted", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64-2), v)

		for i := 0; i < 2; i++ {
			_, err = repo.Allocate(ctx, "exhausted", 1)
			assert.ErrorIs(t, err, repository.ErrCounterExhausted)
			assert.False(t, repository.IsStoreUnavailable(err))
		}

		next, err := repo.Peek(ctx, "exhausted")
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), next)
	})

	t.Run("OversizedDeltaOnFreshKey", func(t *testing.T) {
		_, err := repo.Allocate(ctx, "oversized", math.MaxInt64)
		assert.ErrorIs(t, err, repository.ErrCounterExhausted)

		next, err := repo.Peek(ctx, "oversized")
		require.NoError(t, err)
		assert.Equal(t, int64(1), next)
	})

	t.Run("LargeValuesStayExact", func(t *testing.T) {
		const large = int64(1) << 60
		require.NoError(t, repo.Set(ctx, "large", large+1))

		v, err := repo.Allocate(ctx, "large", 3)
		require.NoError(t, err)
		assert.Equal(t, large+1, v)

		next, err := repo.Peek(ctx, "large")
		require.NoError(t, err)
		assert.Equal(t, large+4, next)
	})

	t.Run("SetOverwritesAndCreates", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "admin", 500))
		next, err := repo.Peek(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, int64(500), next)

		v, err := repo.Allocate(ctx, "admin", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(500), v)

		require.NoError(t, repo.Set(ctx, "admin", 10))
		next, err = repo.Peek(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, int64(10), next)
	})

	t.Run("ConcurrentAllocationsOnFreshKey", func(t *testing.T) {
		const callers = 20
		const delta = 3

		var mu sync.Mutex
		var bases []int64
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := repo.Allocate(ctx, "concurrent", delta)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				bases = append(bases, v)
				mu.Unlock()
			}()
		}
		wg.Wait()

		require.Len(t, bases, callers)
		sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
		for i, v := range bases {
			assert.Equal(t, int64(1+i*delta), v)
		}

		next, err := repo.Peek(ctx, "concurrent")
		require.NoError(t, err)
		assert.Equal(t, int64(1+callers*delta), next)
	})
}

func TestCounterRepositoryPostgres(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		exerciseCounterRepository(t, repository.NewCounterRepository(testDB.DB))

		t.Run("SeededRow", func(t *testing.T) {
			fixtures := testingutil.NewTestFixtures(testDB)
			require.NoError(t, fixtures.SeedCounter("invoices", 42))

			repo := repository.NewCounterRepository(testDB.DB)
			v, err := repo.Allocate(testingutil.CreateTestContext(), "invoices", 2)
			require.NoError(t, err)
			assert.Equal(t, int64(42), v)
		})
		return nil
	})
}

func TestCounterRepositoryRedis(t *testing.T) {
	client, prefix := testingutil.NewTestRedis(t)
	exerciseCounterRepository(t, repository.NewRedisCounterRepository(client, prefix))
}

func TestCounterRepositoryMemory(t *testing.T) {
	exerciseCounterRepository(t, repository.NewMemoryCounterRepository())
}
