package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/amirphl/Kura/models"
	"github.com/google/uuid"
)

// MemoryDocumentRepository is a process-local document store for development and tests.
// Filters match by equality on (possibly dotted) field paths.
type MemoryDocumentRepository struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	order []string
	docs  map[string]models.Document
}

// NewMemoryDocumentRepository creates an empty in-memory document store
func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{collections: make(map[string]*memoryCollection)}
}

func (r *MemoryDocumentRepository) collection(name string) *memoryCollection {
	c, ok := r.collections[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string]models.Document)}
		r.collections[name] = c
	}
	return c
}

func (r *MemoryDocumentRepository) Count(ctx context.Context, collection string, filter models.Document) (int64, error) {
	docs, err := r.Find(ctx, collection, models.DocumentQuery{Filter: filter})
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (r *MemoryDocumentRepository) Find(ctx context.Context, collection string, q models.DocumentQuery) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, newStoreError("find documents", collection, err)
	}
	for field := range q.Filter {
		if field != models.DocumentIDField && !IsValidFieldPath(field) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFieldPath, field)
		}
	}
	for _, s := range q.Sort {
		if s.Field != models.DocumentIDField && !IsValidFieldPath(s.Field) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFieldPath, s.Field)
		}
	}

	r.mu.RLock()
	out := []models.Document{}
	if c, ok := r.collections[collection]; ok {
		for _, id := range c.order {
			doc := c.docs[id]
			if matches(doc, q.Filter) {
				out = append(out, doc.Clone())
			}
		}
	}
	r.mu.RUnlock()

	if len(q.Sort) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, s := range q.Sort {
				c := compareValues(lookup(out[i], s.Field), lookup(out[j], s.Field))
				if c == 0 {
					continue
				}
				if s.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []models.Document{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryDocumentRepository) ByID(ctx context.Context, collection, id string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, newStoreError("get document", collection, err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.collections[collection]; ok {
		if doc, ok := c.docs[id]; ok {
			return doc.Clone(), nil
		}
	}
	return nil, nil
}

func (r *MemoryDocumentRepository) Insert(ctx context.Context, collection string, doc models.Document) (models.Document, error) {
	out, err := r.InsertBatch(ctx, collection, []models.Document{doc})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// InsertBatch stores every document or none of them
func (r *MemoryDocumentRepository) InsertBatch(ctx context.Context, collection string, docs []models.Document) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, newStoreError("insert documents", collection, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.collection(collection)

	prepared := make([]models.Document, 0, len(docs))
	batchIDs := make(map[string]bool, len(docs))
	for _, doc := range docs {
		stored := doc.Clone()
		if stored == nil {
			stored = models.Document{}
		}
		id := uuid.NewString()
		if v, ok := doc.ID(); ok {
			id = fmt.Sprint(v)
		}
		if _, exists := c.docs[id]; exists || batchIDs[id] {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateKey, collection, id)
		}
		batchIDs[id] = true
		stored[models.DocumentIDField] = id
		prepared = append(prepared, stored)
	}

	out := make([]models.Document, 0, len(prepared))
	for _, doc := range prepared {
		id := doc[models.DocumentIDField].(string)
		c.docs[id] = doc
		c.order = append(c.order, id)
		out = append(out, doc.Clone())
	}
	return out, nil
}

func (r *MemoryDocumentRepository) Update(ctx context.Context, collection, id string, patch models.Document) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, newStoreError("update document", collection, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collections[collection]
	if !ok {
		return nil, nil
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, nil
	}
	updated := doc.Clone()
	for k, v := range patch {
		if k == models.DocumentIDField {
			continue
		}
		updated[k] = v
	}
	c.docs[id] = updated
	return updated.Clone(), nil
}

func (r *MemoryDocumentRepository) Delete(ctx context.Context, collection, id string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, newStoreError("delete document", collection, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collections[collection]
	if !ok {
		return nil, nil
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, nil
	}
	delete(c.docs, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return doc, nil
}

func matches(doc, filter models.Document) bool {
	for field, want := range filter {
		if field == models.DocumentIDField {
			if id, ok := filter.ID(); ok && fmt.Sprint(doc[models.DocumentIDField]) != fmt.Sprint(id) {
				return false
			}
			continue
		}
		if !looselyEqual(lookup(doc, field), want) {
			return false
		}
	}
	return true
}

func lookup(doc models.Document, path string) any {
	var cur any = map[string]any(doc)
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			cur = m[part]
		case models.Document:
			cur = m[part]
		default:
			return nil
		}
	}
	return cur
}

// looselyEqual compares numbers by value so that 1 and 1.0 match as they do in JSON
func looselyEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func compareValues(a, b any) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		}
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
