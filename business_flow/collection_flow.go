package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/amirphl/Kura/app/services"
	"github.com/amirphl/Kura/models"
	"github.com/amirphl/Kura/repository"
	"github.com/amirphl/Kura/utils"
	"github.com/xuri/excelize/v2"
)

// CollectionResolver returns the identifier settings of a collection.
// Unknown collections resolve to the defaults.
type CollectionResolver interface {
	Resolve(collection string) models.CollectionConfig
}

// ListOptions holds the raw list parameters of a request.
// Sort is a comma separated field list where a leading '-' means descending.
// Count == -1 disables pagination.
type ListOptions struct {
	Filter models.Document
	Sort   string
	Page   int
	Count  int
}

// ListResult is one page of documents
type ListResult struct {
	Items []models.Document `json:"items"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Count int               `json:"count"`
}

// CollectionFlow handles the document operations of every collection
type CollectionFlow interface {
	Count(ctx context.Context, collection string, filter models.Document) (int64, error)
	List(ctx context.Context, collection string, opts ListOptions) (*ListResult, error)
	Get(ctx context.Context, collection, id string) (models.Document, error)
	Post(ctx context.Context, collection string, doc models.Document) (models.Document, error)
	PostBatch(ctx context.Context, collection string, docs []models.Document) ([]models.Document, error)
	Put(ctx context.Context, collection, id string, patch models.Document) (models.Document, error)
	Delete(ctx context.Context, collection, id string) (models.Document, error)
	Export(ctx context.Context, collection string, filter models.Document) (string, []byte, error)
}

// CollectionFlowImpl implements CollectionFlow
type CollectionFlowImpl struct {
	docs        repository.DocumentRepository
	ids         services.IDService
	collections CollectionResolver
	logger      *log.Logger
}

// NewCollectionFlow creates a new collection flow
func NewCollectionFlow(docs repository.DocumentRepository, ids services.IDService, collections CollectionResolver, logger *log.Logger) CollectionFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &CollectionFlowImpl{
		docs:        docs,
		ids:         ids,
		collections: collections,
		logger:      logger,
	}
}

func (f *CollectionFlowImpl) Count(ctx context.Context, collection string, filter models.Document) (int64, error) {
	if err := validateCollection(collection); err != nil {
		return 0, err
	}
	if err := validateFilter(filter); err != nil {
		return 0, err
	}

	n, err := f.docs.Count(ctx, collection, filter)
	if err != nil {
		return 0, storeFailure("COUNT_FAILED", "Failed to count documents", err)
	}
	return n, nil
}

func (f *CollectionFlowImpl) List(ctx context.Context, collection string, opts ListOptions) (*ListResult, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if err := validateFilter(opts.Filter); err != nil {
		return nil, err
	}

	page := opts.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return nil, NewBusinessError("INVALID_PAGE", "Page must be a positive number", ErrInvalidPage)
	}
	count := opts.Count
	if count == 0 {
		count = utils.DefaultPageSize
	}
	if count < -1 || count > utils.MaxPageSize {
		return nil, NewBusinessErrorf("INVALID_PAGE_SIZE", "Count must be between 1 and %d, or -1 for all", ErrInvalidPageSize, utils.MaxPageSize)
	}

	sortFields, err := ParseSort(opts.Sort)
	if err != nil {
		return nil, err
	}

	query := models.DocumentQuery{Filter: opts.Filter, Sort: sortFields}
	if count != -1 {
		query.Limit = count
		query.Offset = (page - 1) * count
	}

	items, err := f.docs.Find(ctx, collection, query)
	if err != nil {
		return nil, storeFailure("LIST_FAILED", "Failed to list documents", err)
	}
	total, err := f.docs.Count(ctx, collection, opts.Filter)
	if err != nil {
		return nil, storeFailure("LIST_FAILED", "Failed to count documents", err)
	}

	return &ListResult{Items: items, Total: total, Page: page, Count: count}, nil
}

func (f *CollectionFlowImpl) Get(ctx context.Context, collection, id string) (models.Document, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	doc, err := f.docs.ByID(ctx, collection, id)
	if err != nil {
		return nil, storeFailure("GET_FAILED", "Failed to get document", err)
	}
	if doc == nil {
		return nil, NewBusinessError("DOCUMENT_NOT_FOUND", "Document not found", ErrDocumentNotFound)
	}
	return doc, nil
}

// Post inserts doc, generating its identifier first when the collection uses custom IDs
func (f *CollectionFlowImpl) Post(ctx context.Context, collection string, doc models.Document) (models.Document, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, NewBusinessError("DOCUMENT_REQUIRED", "Document body is required", ErrDocumentRequired)
	}

	cfg := f.collections.Resolve(collection)
	if cfg.CustomID && !doc.HasID() {
		id, err := f.ids.NextID(ctx, cfg)
		if err != nil {
			return nil, idFailure(err)
		}
		doc = doc.Clone()
		doc[models.DocumentIDField] = id
	}

	created, err := f.docs.Insert(ctx, collection, doc)
	if err != nil {
		return nil, writeFailure("CREATE_FAILED", "Failed to create document", err)
	}
	return created, nil
}

// PostBatch inserts docs, reserving one block of identifiers for those without one
func (f *CollectionFlowImpl) PostBatch(ctx context.Context, collection string, docs []models.Document) ([]models.Document, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []models.Document{}, nil
	}
	if len(docs) > utils.MaxBatchSize {
		return nil, NewBusinessErrorf("BATCH_TOO_LARGE", "At most %d documents can be inserted at once", ErrBatchTooLarge, utils.MaxBatchSize)
	}
	for i, doc := range docs {
		if doc == nil {
			return nil, NewBusinessErrorf("DOCUMENT_REQUIRED", "Document at index %d is empty", ErrDocumentRequired, i)
		}
	}

	cfg := f.collections.Resolve(collection)
	if cfg.CustomID {
		assigned, err := f.ids.NextIDsForBatch(ctx, cfg, docs)
		if err != nil {
			return nil, idFailure(err)
		}
		docs = assigned
	}

	created, err := f.docs.InsertBatch(ctx, collection, docs)
	if err != nil {
		return nil, writeFailure("CREATE_FAILED", "Failed to create documents", err)
	}
	return created, nil
}

// Put merges patch into the stored document and returns the updated document
func (f *CollectionFlowImpl) Put(ctx context.Context, collection, id string, patch models.Document) (models.Document, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	updated, err := f.docs.Update(ctx, collection, id, patch)
	if err != nil {
		return nil, storeFailure("UPDATE_FAILED", "Failed to update document", err)
	}
	if updated == nil {
		return nil, NewBusinessError("DOCUMENT_NOT_FOUND", "Document not found", ErrDocumentNotFound)
	}
	return updated, nil
}

// Delete removes a document and returns it
func (f *CollectionFlowImpl) Delete(ctx context.Context, collection, id string) (models.Document, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	deleted, err := f.docs.Delete(ctx, collection, id)
	if err != nil {
		return nil, storeFailure("DELETE_FAILED", "Failed to delete document", err)
	}
	if deleted == nil {
		return nil, NewBusinessError("DOCUMENT_NOT_FOUND", "Document not found", ErrDocumentNotFound)
	}
	f.logger.Printf("document %s/%s deleted", collection, id)
	return deleted, nil
}

// Export writes every document matching filter to an xlsx workbook.
// The first column is _id, the rest are the sorted union of top-level fields.
func (f *CollectionFlowImpl) Export(ctx context.Context, collection string, filter models.Document) (string, []byte, error) {
	if err := validateCollection(collection); err != nil {
		return "", nil, err
	}
	if err := validateFilter(filter); err != nil {
		return "", nil, err
	}

	docs, err := f.docs.Find(ctx, collection, models.DocumentQuery{
		Filter: filter,
		Sort:   []models.SortField{{Field: models.DocumentIDField}},
	})
	if err != nil {
		return "", nil, storeFailure("EXPORT_FAILED", "Failed to load documents", err)
	}

	columns := exportColumns(docs)

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := sanitizeSheetName(collection)
	if err := xl.SetSheetName(xl.GetSheetName(0), sheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to prepare Excel sheet", err)
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := xl.SetSheetRow(sheet, "A1", &header); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel header", err)
	}

	for ri, doc := range docs {
		record := make([]any, len(columns))
		for ci, c := range columns {
			record[ci] = excelValue(doc[c])
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, ri+2)
		if err := xl.SetSheetRow(sheet, cellRef, &record); err != nil {
			return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel row", err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("%s_%s.xlsx", collection, utils.UTCNowFormat("20060102_150405"))
	return filename, buf.Bytes(), nil
}

// ParseSort turns "name,-created_at" into sort fields
func ParseSort(raw string) ([]models.SortField, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	fields := make([]models.SortField, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		desc := strings.HasPrefix(part, "-")
		part = strings.TrimPrefix(strings.TrimPrefix(part, "-"), "+")
		if part != models.DocumentIDField && !repository.IsValidFieldPath(part) {
			return nil, NewBusinessErrorf("INVALID_SORT", "Invalid sort field %q", ErrInvalidSort, part)
		}
		fields = append(fields, models.SortField{Field: part, Descending: desc})
	}
	return fields, nil
}

func validateCollection(collection string) error {
	if !models.IsValidCollectionName(collection) {
		return NewBusinessErrorf("INVALID_COLLECTION", "Invalid collection name %q", ErrInvalidCollectionName, collection)
	}
	return nil
}

func validateFilter(filter models.Document) error {
	if _, err := repository.FilterFields(filter); err != nil {
		return NewBusinessError("INVALID_FILTER", "Invalid filter fields", fmt.Errorf("%w: %w", ErrInvalidFilter, err))
	}
	return nil
}

func validatePatch(patch models.Document) error {
	if len(patch) == 0 {
		return NewBusinessError("INVALID_UPDATE", "At least one field must be provided for update", ErrInvalidPatch)
	}
	for field := range patch {
		if field == "" || strings.HasPrefix(field, "$") || strings.Contains(field, ".") {
			return NewBusinessErrorf("INVALID_UPDATE", "Invalid update field %q", ErrInvalidPatch, field)
		}
	}
	return nil
}

func storeFailure(code, message string, err error) error {
	if errors.Is(err, repository.ErrInvalidFieldPath) {
		return NewBusinessError("INVALID_FILTER", "Invalid field in query", ErrInvalidFilter)
	}
	return NewBusinessError(code, message, err)
}

func writeFailure(code, message string, err error) error {
	if repository.IsDuplicateKey(err) {
		return NewBusinessError("DOCUMENT_ID_EXISTS", "A document with this id already exists", fmt.Errorf("%w: %v", ErrDuplicateDocumentID, err))
	}
	return NewBusinessError(code, message, err)
}

func idFailure(err error) error {
	if services.IsMalformedPattern(err) {
		return NewBusinessError("ID_PATTERN_INVALID", "Collection id pattern is malformed", fmt.Errorf("%w: %w", ErrIDGenerationFailed, err))
	}
	if repository.IsCounterExhausted(err) {
		return NewBusinessError("COUNTER_EXHAUSTED", "Collection counter cannot issue more ids", fmt.Errorf("%w: %w", ErrCounterExhausted, err))
	}
	return NewBusinessError("ID_GENERATION_FAILED", "Failed to generate document id", fmt.Errorf("%w: %w", ErrIDGenerationFailed, err))
}

func exportColumns(docs []models.Document) []string {
	seen := map[string]bool{}
	for _, doc := range docs {
		for k := range doc {
			if k != models.DocumentIDField {
				seen[k] = true
			}
		}
	}
	columns := make([]string, 0, len(seen)+1)
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return append([]string{models.DocumentIDField}, columns...)
}

// excelValue keeps scalars as cell values and writes nested values as JSON
func excelValue(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case map[string]any, models.Document, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	default:
		return v
	}
}

func sanitizeSheetName(name string) string {
	// Excel sheet names cannot contain: : \\ / ? * [ ] and must be <= 31 chars
	replacer := strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_")
	safe := strings.TrimSpace(replacer.Replace(name))
	if len(safe) > 31 {
		return safe[:31]
	}
	if safe == "" {
		return "Sheet"
	}
	return safe
}
