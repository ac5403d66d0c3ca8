package models

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentIDField is the document key holding the record identifier.
const DocumentIDField = "_id"

// Document is a schemaless record of a collection.
type Document map[string]any

// ID returns the identifier carried by the document and whether it is set.
// A missing, null or empty-string identifier counts as absent.
func (d Document) ID() (any, bool) {
	v, ok := d[DocumentIDField]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString && s == "" {
		return nil, false
	}
	return v, true
}

// HasID reports whether the document carries an explicit identifier.
func (d Document) HasID() bool {
	_, ok := d.ID()
	return ok
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// DocumentRow is the relational representation of a document.
// Table: documents
// Primary key is (collection, id); data holds every field except _id.
type DocumentRow struct {
	Collection string            `gorm:"primaryKey;size:128;index:idx_documents_collection" json:"collection"`
	ID         string            `gorm:"column:id;primaryKey;size:255" json:"id"`
	Data       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"data"`
	CreatedAt  time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_documents_created_at" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (DocumentRow) TableName() string { return "documents" }

// ToDocument converts the row back into a document with its _id restored.
func (r DocumentRow) ToDocument() Document {
	doc := make(Document, len(r.Data)+1)
	for k, v := range r.Data {
		doc[k] = v
	}
	doc[DocumentIDField] = r.ID
	return doc
}

// SortField is a single ordering instruction of a list query
type SortField struct {
	Field      string
	Descending bool
}

// DocumentQuery represents filter, ordering and pagination of a list query
type DocumentQuery struct {
	Filter Document
	Sort   []SortField
	Limit  int
	Offset int
}
