package handlers

import (
	"bytes"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/amirphl/Kura/app/dto"
	businessflow "github.com/amirphl/Kura/business_flow"
	"github.com/amirphl/Kura/models"
	"github.com/gofiber/fiber/v3"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CollectionHandlerInterface defines the document endpoints shared by every collection
type CollectionHandlerInterface interface {
	Count(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	Create(c fiber.Ctx) error
	Update(c fiber.Ctx) error
	Delete(c fiber.Ctx) error
	Export(c fiber.Ctx) error
}

// CollectionHandler serves /api/v1/collections/:collection
type CollectionHandler struct {
	flow    businessflow.CollectionFlow
	logger  *log.Logger
	timeout time.Duration
}

func NewCollectionHandler(flow businessflow.CollectionFlow, logger *log.Logger, timeout time.Duration) CollectionHandlerInterface {
	if logger == nil {
		logger = log.Default()
	}
	return &CollectionHandler{flow: flow, logger: logger, timeout: timeout}
}

// Count returns the number of documents matching the optional filter
// @Router /api/v1/collections/{collection}/count [get]
func (h *CollectionHandler) Count(c fiber.Ctx) error {
	collection := c.Params("collection")
	filter, err := parseFilter(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Filter must be a JSON object", "INVALID_FILTER", err.Error())
	}

	ctx, cancel := createRequestContext(c, "/api/v1/collections/:collection/count", h.timeout)
	defer cancel()

	n, err := h.flow.Count(ctx, collection, filter)
	if err != nil {
		return businessErrorResponse(c, h.logger, err, "Failed to count documents", "COUNT_FAILED")
	}
	return successResponse(c, fiber.StatusOK, "Documents counted", dto.CountResponse{Collection: collection, Count: n})
}

// List returns one page of documents
// @Router /api/v1/collections/{collection} [get]
func (h *CollectionHandler) List(c fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Filter must be a JSON object", "INVALID_FILTER", err.Error())
	}
	page, err := queryInt(c, "page")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Page must be a number", "INVALID_PAGE", nil)
	}
	count, err := queryInt(c, "count")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Count must be a number", "INVALID_PAGE_SIZE", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/collections/:collection", h.timeout)
	defer cancel()

	res, err := h.flow.List(ctx, c.Params("collection"), businessflow.ListOptions{
		Filter: filter,
		Sort:   c.Query("sort"),
		Page:   page,
		Count:  count,
	})
	if err != nil {
		return businessErrorResponse(c, h.logger, err, "Failed to list documents", "LIST_FAILED")
	}
	return successResponse(c, fiber.StatusOK, "Documents retrieved", res)
}

// Get returns one document by id
// @Router /api/v1/collections/{collection}/{id} [get]
func (h *CollectionHandler) Get(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/collections/:collection/:id", h.timeout)
	defer cancel()

	doc, err := h.flow.Get(ctx, c.Params("collection"), c.Params("id"))
	if err != nil {
		return businessErrorResponse(c, h.logger, err, "Failed to get document", "GET_FAILED")
	}
	return successResponse(c, fiber.StatusOK, "Document retrieved", doc)
}

// Create inserts a JSON object, or every object of a JSON array as one batch
// @Router /api/v1/collections/{collection} [post]
func (h *CollectionHandler) Create(c fiber.Ctx) error {
	body := bytes.TrimSpace(c.Body())
	if len(body) == 0 {
		return errorResponse(c, fiber.StatusBadRequest, "Document body is required", "DOCUMENT_REQUIRED", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/collections/:collection", h.timeout)
	defer cancel()
	collection := c.Params("collection")

	if body[0] == '[' {
		var docs []models.Document
		if err := json.Unmarshal(body, &docs); err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		created, err := h.flow.PostBatch(ctx, collection, docs)
		if err != nil {
			return businessErrorResponse(c, h.logger, err, "Failed to create documents", "CREATE_FAILED")
		}
		return successResponse(c, fiber.StatusCreated, "Documents created", dto.BatchCreateResponse{Inserted: len(created), Items: created})
	}

	var doc models.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	created, err := h.flow.Post(ctx, collection, doc)
	if err != nil {
		return businessErrorResponse(c, h.logger, err, "Failed to create document", "CREATE_FAILED")
	}
	return successResponse(c, fiber.StatusCreated, "Document created", created)
}

// Update merges the request fields into the stored document
// @Router /api/v1/collections/{collection}/{id} [put]
func (h *CollectionHandler) Update(c fiber.Ctx) error {
	var patch models.Document
	if err := json.Unmarshal(c.Body(), &patch); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	ctx, cancel := createRequestContext(c, "/api/v1/collections/:collection/:id", h.timeout)
	defer cancel()

	updated, err := h.flow.Put(ctx, c.Params("collection"), c.Params("id"), patch)
	if err != nil {
		return businessErrorResponse(c, h.logger, err, "Failed to update document", "UPDATE_FAILED")
	}
	return successResponse(c, fiber.StatusOK, "Document updated", updated)
}

// Delete removes a document and returns it
// @Router /api/v1/collections/{collection}/{id} [delete]
func (h *CollectionHandler) Delete(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/collections/:collection/:id", h.timeout)
	defer cancel()

	deleted, err := h.flow.Delete(ctx, c.Params("collection"), c.Params("id"))
	if err != nil {
		return businessErrorResponse(c, h.logger, err, "Failed to delete document", "DELETE_FAILED")
	}
	return successResponse(c, fiber.StatusOK, "Document deleted", deleted)
}

// Export downloads the matching documents as an Excel workbook
// @Router /api/v1/collections/{collection}/export [get]
func (h *CollectionHandler) Export(c fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Filter must be a JSON object", "INVALID_FILTER", err.Error())
	}

	ctx, cancel := createRequestContext(c, "/api/v1/collections/:collection/export", 2*h.timeout)
	defer cancel()

	filename, data, err := h.flow.Export(ctx, c.Params("collection"), filter)
	if err != nil {
		return businessErrorResponse(c, h.logger, err, "Failed to export documents", "EXPORT_FAILED")
	}
	c.Set("Content-Type", xlsxContentType)
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

// parseFilter decodes the optional filter query parameter
func parseFilter(c fiber.Ctx) (models.Document, error) {
	raw := c.Query("filter")
	if raw == "" {
		return models.Document{}, nil
	}
	var filter models.Document
	if err := json.Unmarshal([]byte(raw), &filter); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = models.Document{}
	}
	return filter, nil
}

// queryInt returns 0 for an absent parameter so the flow applies its default
func queryInt(c fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
