package repository

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/amirphl/Kura/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCounterRepository stores counters as {_id: key, key, next} documents
type MongoCounterRepository struct {
	coll *mongo.Collection
}

// NewMongoCounterRepository creates a counter repository on the counters collection of db
func NewMongoCounterRepository(db *mongo.Database) CounterRepository {
	return &MongoCounterRepository{coll: db.Collection(models.CounterRecord{}.TableName())}
}

func (r *MongoCounterRepository) Peek(ctx context.Context, key string) (int64, error) {
	var rec models.CounterRecord
	err := r.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.InitialCounterValue, nil
		}
		return 0, newStoreError("peek counter", key, err)
	}
	return rec.Next, nil
}

// Allocate runs a single findAndModify with an aggregation pipeline update so a missing
// record is seeded and incremented in the same atomic document write.
// The filter only matches records that can absorb delta; an existing record outside it makes the
// upsert collide on _id, which is how exhaustion is detected. Two upserts racing on a fresh key
// collide the same way, so one retry runs against the now existing record.
func (r *MongoCounterRepository) Allocate(ctx context.Context, key string, delta int64) (int64, error) {
	if err := checkDelta(delta); err != nil {
		return 0, err
	}

	filter := bson.M{
		"_id": key,
		"$or": bson.A{
			bson.M{"next": bson.M{"$lte": math.MaxInt64 - delta}},
			bson.M{"next": bson.M{"$exists": false}},
		},
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "key", Value: key},
			{Key: "next", Value: bson.D{{Key: "$add", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$next", models.InitialCounterValue}}},
				delta,
			}}}},
			{Key: "created_at", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$created_at", "$$NOW"}}}},
			{Key: "updated_at", Value: "$$NOW"},
		}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var rec models.CounterRecord
		err = r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
		if err == nil {
			return rec.Next - delta, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return 0, newStoreError("allocate counter", key, err)
		}
	}
	return 0, ErrCounterExhausted
}

func (r *MongoCounterRepository) Set(ctx context.Context, key string, value int64) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set":         bson.M{"key": key, "next": value, "updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
	if _, err := r.coll.UpdateOne(ctx, bson.M{"_id": key}, update, options.Update().SetUpsert(true)); err != nil {
		return newStoreError("set counter", key, err)
	}
	return nil
}
