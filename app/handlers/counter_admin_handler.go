package handlers

import (
	"log"
	"time"

	"github.com/amirphl/Kura/app/dto"
	businessflow "github.com/amirphl/Kura/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// CounterAdminHandlerInterface defines the operator endpoints of collection counters
type CounterAdminHandlerInterface interface {
	GetCounter(c fiber.Ctx) error
	SetCounter(c fiber.Ctx) error
	NextID(c fiber.Ctx) error
}

// CounterAdminHandler serves /api/v1/admin/counters/:collection
type CounterAdminHandler struct {
	flow      businessflow.CounterAdminFlow
	validator *validator.Validate
	logger    *log.Logger
	timeout   time.Duration
}

func NewCounterAdminHandler(flow businessflow.CounterAdminFlow, logger *log.Logger, timeout time.Duration) CounterAdminHandlerInterface {
	if logger == nil {
		logger = log.Default()
	}
	return &CounterAdminHandler{
		flow:      flow,
		validator: validator.New(),
		logger:    logger,
		timeout:   timeout,
	}
}

// GetCounter returns the value the next allocation of a collection will return
// @Router /api/v1/admin/counters/{collection} [get]
func (h *CounterAdminHandler) GetCounter(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/admin/counters/:collection", h.timeout)
	defer cancel()

	state, err := h.flow.GetNextCounter(ctx, c.Params("collection"))
	if err != nil {
		return businessErrorResponse(c, h.logger, err, "Failed to read counter", "COUNTER_READ_FAILED")
	}
	return successResponse(c, fiber.StatusOK, "Counter retrieved", state)
}

// SetCounter overwrites the next value of a collection counter
// @Router /api/v1/admin/counters/{collection} [put]
func (h *CounterAdminHandler) SetCounter(c fiber.Ctx) error {
	var req dto.SetCounterRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return validationErrorResponse(c, err)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/admin/counters/:collection", h.timeout)
	defer cancel()

	state, err := h.flow.SetNextCounter(ctx, c.Params("collection"), req.Next, clientMetadata(c))
	if err != nil {
		return businessErrorResponse(c, h.logger, err, "Failed to update counter", "COUNTER_UPDATE_FAILED")
	}
	return successResponse(c, fiber.StatusOK, "Counter updated", state)
}

// NextID allocates one identifier of a collection
// @Router /api/v1/admin/counters/{collection}/next-id [post]
func (h *CounterAdminHandler) NextID(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/admin/counters/:collection/next-id", h.timeout)
	defer cancel()

	collection := c.Params("collection")
	id, err := h.flow.GetNextID(ctx, collection)
	if err != nil {
		return businessErrorResponse(c, h.logger, err, "Failed to generate id", "ID_GENERATION_FAILED")
	}
	return successResponse(c, fiber.StatusOK, "Identifier allocated", dto.NextIDResponse{Collection: collection, ID: id})
}
