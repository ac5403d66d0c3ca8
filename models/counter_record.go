package models

import "time"

// CounterRecord stores the next sequence value handed out for a collection.
// Table: counters
// One row per logical collection name; rows are created on first allocation and never deleted.
type CounterRecord struct {
	Key       string    `gorm:"column:key;primaryKey;size:128" json:"key" bson:"key"`
	Next      int64     `gorm:"column:next;not null;default:1" json:"next" bson:"next"`
	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at" bson:"created_at,omitempty"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at" bson:"updated_at,omitempty"`
}

func (CounterRecord) TableName() string { return "counters" }

// InitialCounterValue is the value of next for a collection that never allocated an ID.
const InitialCounterValue int64 = 1
