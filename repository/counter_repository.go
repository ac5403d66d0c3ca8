package repository

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/amirphl/Kura/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CounterRepositoryImpl implements CounterRepository on the postgres counters table
type CounterRepositoryImpl struct {
	*BaseRepository[models.CounterRecord]
}

// NewCounterRepository creates a new postgres counter repository
func NewCounterRepository(db *gorm.DB) CounterRepository {
	return &CounterRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CounterRecord](db),
	}
}

// upsert-increment in one statement; the row lock taken by ON CONFLICT serializes allocators of the same key.
// The WHERE guard leaves the row untouched and returns nothing when the increment would overflow bigint.
const allocateCounterSQL = `INSERT INTO counters (key, next, created_at, updated_at)
VALUES (?, ?, NOW(), NOW())
ON CONFLICT (key) DO UPDATE SET next = counters.next + ?, updated_at = NOW()
WHERE counters.next <= ?
RETURNING next`

// Peek returns the stored next value or 1 when the key has no record yet
func (r *CounterRepositoryImpl) Peek(ctx context.Context, key string) (int64, error) {
	db := r.getDB(ctx)
	var row models.CounterRecord
	if err := db.Where("key = ?", key).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.InitialCounterValue, nil
		}
		return 0, newStoreError("peek counter", key, err)
	}
	return row.Next, nil
}

// Allocate reserves delta consecutive values and returns the first of them
func (r *CounterRepositoryImpl) Allocate(ctx context.Context, key string, delta int64) (int64, error) {
	if err := checkDelta(delta); err != nil {
		return 0, err
	}

	db := r.getDB(ctx)
	var next int64
	row := db.Raw(allocateCounterSQL, key, models.InitialCounterValue+delta, delta, math.MaxInt64-delta).Row()
	if err := row.Scan(&next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrCounterExhausted
		}
		return 0, newStoreError("allocate counter", key, err)
	}
	return next - delta, nil
}

// Set overwrites the stored next value, creating the record when absent
func (r *CounterRepositoryImpl) Set(ctx context.Context, key string, value int64) error {
	db := r.getDB(ctx)
	now := time.Now().UTC()
	record := models.CounterRecord{Key: key, Next: value, CreatedAt: now, UpdatedAt: now}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"next":       clause.Expr{SQL: "EXCLUDED.next"},
			"updated_at": clause.Expr{SQL: "EXCLUDED.updated_at"},
		}),
	}).Create(&record).Error
	if err != nil {
		return newStoreError("set counter", key, err)
	}
	return nil
}
