// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/Kura/app/dto"
	"github.com/amirphl/Kura/app/middleware"
	businessflow "github.com/amirphl/Kura/business_flow"
	"github.com/amirphl/Kura/repository"
	"github.com/amirphl/Kura/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
)

// DefaultRequestTimeout bounds the store work of one request
const DefaultRequestTimeout = 15 * time.Second

func errorResponse(c fiber.Ctx, status int, message, code string, details any) error {
	return c.Status(status).JSON(dto.APIResponse{
		Success:   false,
		Message:   message,
		Error:     &dto.ErrorDetail{Code: code, Details: details},
		RequestID: requestID(c),
	})
}

func successResponse(c fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(dto.APIResponse{Success: true, Message: message, Data: data})
}

// validationErrorResponse reports the failed fields of a request struct
func validationErrorResponse(c fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		messages = append(messages, getValidationErrorMessage(e))
	}
	return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", messages)
}

// businessErrorResponse maps flow errors to HTTP statuses and API codes
func businessErrorResponse(c fiber.Ctx, lg *log.Logger, err error, fallbackMessage, fallbackCode string) error {
	code := businessflow.BusinessCode(err)
	message := fallbackMessage
	var be *businessflow.BusinessError
	if errors.As(err, &be) && be.Message != "" {
		message = be.Message
	}
	if code == "" {
		code = fallbackCode
	}

	switch {
	case businessflow.IsDocumentNotFound(err):
		return errorResponse(c, fiber.StatusNotFound, message, code, nil)
	case businessflow.IsDuplicateDocumentID(err), businessflow.IsCounterExhausted(err):
		return errorResponse(c, fiber.StatusConflict, message, code, nil)
	case businessflow.IsBatchTooLarge(err):
		return errorResponse(c, fiber.StatusRequestEntityTooLarge, message, code, nil)
	case businessflow.IsInvalidCollectionName(err),
		businessflow.IsInvalidFilter(err),
		businessflow.IsInvalidSort(err),
		businessflow.IsInvalidPage(err),
		businessflow.IsInvalidPageSize(err),
		businessflow.IsDocumentRequired(err),
		businessflow.IsInvalidPatch(err),
		businessflow.IsInvalidCounterValue(err):
		return errorResponse(c, fiber.StatusBadRequest, message, code, nil)
	}

	status := fiber.StatusInternalServerError
	if repository.IsStoreUnavailable(err) {
		status = fiber.StatusServiceUnavailable
	}
	lg.Printf("request %s %s failed (request_id=%s code=%s): %v", c.Method(), c.Path(), requestID(c), code, err)
	return errorResponse(c, status, message, code, nil)
}

// createRequestContext carries request-scoped values into flows.
// The caller must call the returned cancel function.
func createRequestContext(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, requestID(c))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	if actor, ok := middleware.GetAdminSubjectFromContext(c); ok {
		ctx = context.WithValue(ctx, utils.ActorKey, actor)
	}
	return ctx, cancel
}

func requestID(c fiber.Ctx) string {
	if id := requestid.FromContext(c); id != "" {
		return id
	}
	return c.Get(businessflow.RequestIDKey)
}

func clientMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(requestID(c))
	if actor, ok := middleware.GetAdminSubjectFromContext(c); ok {
		metadata.SetActor(actor)
	}
	return metadata
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param() + " characters"
	case "max":
		return err.Field() + " must be at most " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "collection_name":
		return err.Field() + " may contain only letters, digits, '_' and '-'"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
