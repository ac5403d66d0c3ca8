package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/Kura/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepositoryImpl implements DocumentRepository on a postgres jsonb table
type DocumentRepositoryImpl struct {
	*BaseRepository[models.DocumentRow]
}

// NewDocumentRepository creates a new postgres document repository
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &DocumentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.DocumentRow](db),
	}
}

// Count returns the number of documents of collection matching filter
func (r *DocumentRepositoryImpl) Count(ctx context.Context, collection string, filter models.Document) (int64, error) {
	query, err := r.applyFilter(r.getDB(ctx).Model(&models.DocumentRow{}), collection, filter)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, newStoreError("count documents", collection, err)
	}
	return count, nil
}

// Find returns the documents of collection matching the query
func (r *DocumentRepositoryImpl) Find(ctx context.Context, collection string, q models.DocumentQuery) ([]models.Document, error) {
	db, err := r.applyFilter(r.getDB(ctx).Model(&models.DocumentRow{}), collection, q.Filter)
	if err != nil {
		return nil, err
	}

	for _, s := range q.Sort {
		column, err := sortColumn(s.Field)
		if err != nil {
			return nil, err
		}
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: column, Raw: true}, Desc: s.Descending})
	}
	db = db.Order("created_at").Order("id")

	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if q.Offset > 0 {
		db = db.Offset(q.Offset)
	}

	var rows []models.DocumentRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, newStoreError("find documents", collection, err)
	}
	return rowsToDocuments(rows), nil
}

// ByID retrieves a document by its identifier
func (r *DocumentRepositoryImpl) ByID(ctx context.Context, collection, id string) (models.Document, error) {
	db := r.getDB(ctx)
	var row models.DocumentRow
	if err := db.Where("collection = ? AND id = ?", collection, id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, newStoreError("get document", collection, err)
	}
	return row.ToDocument(), nil
}

// Insert stores doc; a document without _id gets a random UUID
func (r *DocumentRepositoryImpl) Insert(ctx context.Context, collection string, doc models.Document) (models.Document, error) {
	row := documentToRow(collection, doc)
	if err := r.Save(ctx, row); err != nil {
		return nil, translateWriteError("insert document", collection, err)
	}
	return row.ToDocument(), nil
}

// InsertBatch stores docs in one transaction
func (r *DocumentRepositoryImpl) InsertBatch(ctx context.Context, collection string, docs []models.Document) ([]models.Document, error) {
	if len(docs) == 0 {
		return []models.Document{}, nil
	}

	rows := make([]*models.DocumentRow, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, documentToRow(collection, doc))
	}
	if err := r.SaveBatch(ctx, rows); err != nil {
		return nil, translateWriteError("insert documents", collection, err)
	}

	out := make([]models.Document, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToDocument())
	}
	return out, nil
}

// Update merges the top-level fields of patch into the stored document and returns the result
func (r *DocumentRepositoryImpl) Update(ctx context.Context, collection, id string, patch models.Document) (models.Document, error) {
	fields := withoutID(patch)
	if len(fields) == 0 {
		return r.ByID(ctx, collection, id)
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode patch: %w", err)
	}

	db := r.getDB(ctx)
	var rows []models.DocumentRow
	res := db.Model(&rows).
		Clauses(clause.Returning{}).
		Where("collection = ? AND id = ?", collection, id).
		Updates(map[string]any{
			"data":       gorm.Expr("data || ?::jsonb", string(raw)),
			"updated_at": gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return nil, newStoreError("update document", collection, res.Error)
	}
	if res.RowsAffected == 0 || len(rows) == 0 {
		return nil, nil
	}
	return rows[0].ToDocument(), nil
}

// Delete removes a document and returns it
func (r *DocumentRepositoryImpl) Delete(ctx context.Context, collection, id string) (models.Document, error) {
	db := r.getDB(ctx)
	var rows []models.DocumentRow
	res := db.Clauses(clause.Returning{}).
		Where("collection = ? AND id = ?", collection, id).
		Delete(&rows)
	if res.Error != nil {
		return nil, newStoreError("delete document", collection, res.Error)
	}
	if res.RowsAffected == 0 || len(rows) == 0 {
		return nil, nil
	}
	return rows[0].ToDocument(), nil
}

// applyFilter scopes db to collection and turns filter into an id match plus a jsonb containment test.
// Dotted keys address nested objects.
func (r *DocumentRepositoryImpl) applyFilter(db *gorm.DB, collection string, filter models.Document) (*gorm.DB, error) {
	db = db.Where("collection = ?", collection)
	if len(filter) == 0 {
		return db, nil
	}

	if id, ok := filter.ID(); ok {
		db = db.Where("id = ?", fmt.Sprint(id))
	}

	fields, err := FilterFields(filter)
	if err != nil {
		return nil, err
	}
	contains := map[string]any{}
	for _, field := range fields {
		setPath(contains, strings.Split(field, "."), filter[field])
	}
	if len(contains) == 0 {
		return db, nil
	}

	raw, err := json.Marshal(contains)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}
	return db.Where("data @> ?::jsonb", string(raw)), nil
}

func setPath(m map[string]any, path []string, value any) {
	if len(path) == 1 {
		m[path[0]] = value
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[path[0]] = child
	}
	setPath(child, path[1:], value)
}

// sortColumn maps a document field to an ORDER BY expression; jsonb values compare by type-aware ordering
func sortColumn(field string) (string, error) {
	if field == models.DocumentIDField {
		return "id", nil
	}
	if !IsValidFieldPath(field) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFieldPath, field)
	}
	return fmt.Sprintf("data #> '{%s}'", strings.ReplaceAll(field, ".", ",")), nil
}

func documentToRow(collection string, doc models.Document) *models.DocumentRow {
	id := uuid.NewString()
	if v, ok := doc.ID(); ok {
		id = fmt.Sprint(v)
	}
	return &models.DocumentRow{
		Collection: collection,
		ID:         id,
		Data:       map[string]any(withoutID(doc)),
	}
}

func withoutID(doc models.Document) models.Document {
	out := make(models.Document, len(doc))
	for k, v := range doc {
		if k == models.DocumentIDField {
			continue
		}
		out[k] = v
	}
	return out
}

func rowsToDocuments(rows []models.DocumentRow) []models.Document {
	out := make([]models.Document, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToDocument())
	}
	return out
}

func translateWriteError(op, collection string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return newStoreError(op, collection, err)
}
