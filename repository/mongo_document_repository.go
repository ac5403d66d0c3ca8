package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/Kura/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDocumentRepository maps each collection name to a mongo collection of db
type MongoDocumentRepository struct {
	db *mongo.Database
}

// NewMongoDocumentRepository creates a document repository on db
func NewMongoDocumentRepository(db *mongo.Database) DocumentRepository {
	return &MongoDocumentRepository{db: db}
}

func (r *MongoDocumentRepository) Count(ctx context.Context, collection string, filter models.Document) (int64, error) {
	f, err := mongoFilter(filter)
	if err != nil {
		return 0, err
	}
	n, err := r.db.Collection(collection).CountDocuments(ctx, f)
	if err != nil {
		return 0, newStoreError("count documents", collection, err)
	}
	return n, nil
}

func (r *MongoDocumentRepository) Find(ctx context.Context, collection string, q models.DocumentQuery) ([]models.Document, error) {
	f, err := mongoFilter(q.Filter)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if len(q.Sort) > 0 {
		sort := bson.D{}
		for _, s := range q.Sort {
			if s.Field != models.DocumentIDField && !IsValidFieldPath(s.Field) {
				return nil, fmt.Errorf("%w: %q", ErrInvalidFieldPath, s.Field)
			}
			dir := 1
			if s.Descending {
				dir = -1
			}
			sort = append(sort, bson.E{Key: s.Field, Value: dir})
		}
		opts.SetSort(sort)
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}

	cur, err := r.db.Collection(collection).Find(ctx, f, opts)
	if err != nil {
		return nil, newStoreError("find documents", collection, err)
	}
	defer cur.Close(ctx)

	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, newStoreError("find documents", collection, err)
	}
	out := make([]models.Document, 0, len(raw))
	for _, m := range raw {
		out = append(out, fromBSON(m))
	}
	return out, nil
}

func (r *MongoDocumentRepository) ByID(ctx context.Context, collection, id string) (models.Document, error) {
	var m bson.M
	if err := r.db.Collection(collection).FindOne(ctx, idFilter(id)).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, newStoreError("get document", collection, err)
	}
	return fromBSON(m), nil
}

// Insert stores doc; mongo assigns an ObjectID when _id is absent
func (r *MongoDocumentRepository) Insert(ctx context.Context, collection string, doc models.Document) (models.Document, error) {
	m := toBSON(doc)
	res, err := r.db.Collection(collection).InsertOne(ctx, m)
	if err != nil {
		return nil, translateMongoWriteError("insert document", collection, err)
	}
	m[models.DocumentIDField] = res.InsertedID
	return fromBSON(m), nil
}

func (r *MongoDocumentRepository) InsertBatch(ctx context.Context, collection string, docs []models.Document) ([]models.Document, error) {
	if len(docs) == 0 {
		return []models.Document{}, nil
	}

	items := make([]any, 0, len(docs))
	ms := make([]bson.M, 0, len(docs))
	for _, doc := range docs {
		m := toBSON(doc)
		ms = append(ms, m)
		items = append(items, m)
	}
	res, err := r.db.Collection(collection).InsertMany(ctx, items, options.InsertMany().SetOrdered(true))
	if err != nil {
		return nil, translateMongoWriteError("insert documents", collection, err)
	}

	out := make([]models.Document, 0, len(ms))
	for i, m := range ms {
		if i < len(res.InsertedIDs) {
			m[models.DocumentIDField] = res.InsertedIDs[i]
		}
		out = append(out, fromBSON(m))
	}
	return out, nil
}

// Update applies patch with $set and returns the document after the update
func (r *MongoDocumentRepository) Update(ctx context.Context, collection, id string, patch models.Document) (models.Document, error) {
	fields := withoutID(patch)
	if len(fields) == 0 {
		return r.ByID(ctx, collection, id)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m bson.M
	err := r.db.Collection(collection).
		FindOneAndUpdate(ctx, idFilter(id), bson.M{"$set": bson.M(fields)}, opts).
		Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, newStoreError("update document", collection, err)
	}
	return fromBSON(m), nil
}

func (r *MongoDocumentRepository) Delete(ctx context.Context, collection, id string) (models.Document, error) {
	var m bson.M
	if err := r.db.Collection(collection).FindOneAndDelete(ctx, idFilter(id)).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, newStoreError("delete document", collection, err)
	}
	return fromBSON(m), nil
}

func mongoFilter(filter models.Document) (bson.M, error) {
	fields, err := FilterFields(filter)
	if err != nil {
		return nil, err
	}
	f := bson.M{}
	if id, ok := filter.ID(); ok {
		f = mergeFilter(f, idFilter(fmt.Sprint(id)))
	}
	for _, field := range fields {
		f[field] = filter[field]
	}
	return f, nil
}

func mergeFilter(dst, src bson.M) bson.M {
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// idFilter matches both ObjectID and string identifiers for a hex-looking id
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{models.DocumentIDField: bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{models.DocumentIDField: id}
}

func toBSON(doc models.Document) bson.M {
	m := bson.M{}
	for k, v := range doc {
		if k == models.DocumentIDField && !doc.HasID() {
			continue
		}
		m[k] = v
	}
	return m
}

func fromBSON(m bson.M) models.Document {
	doc := models.Document(m)
	if oid, ok := doc[models.DocumentIDField].(primitive.ObjectID); ok {
		doc[models.DocumentIDField] = oid.Hex()
	}
	return doc
}

func translateMongoWriteError(op, collection string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return newStoreError(op, collection, err)
}
