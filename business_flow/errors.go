// Package businessflow contains the use cases of the document API and counter administration
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Document errors
	ErrDocumentNotFound    = errors.New("document not found")
	ErrDuplicateDocumentID = errors.New("document id already exists")
	ErrDocumentRequired    = errors.New("document body is required")
	ErrInvalidPatch        = errors.New("invalid update fields")

	// Query errors
	ErrInvalidCollectionName = errors.New("invalid collection name")
	ErrInvalidFilter         = errors.New("invalid filter")
	ErrInvalidSort           = errors.New("invalid sort")
	ErrInvalidPage           = errors.New("invalid page")
	ErrInvalidPageSize       = errors.New("invalid page size")

	// Batch errors
	ErrBatchTooLarge = errors.New("batch is too large")

	// Counter errors
	ErrInvalidCounterValue = errors.New("invalid counter value")
	ErrIDGenerationFailed  = errors.New("id generation failed")
	ErrCounterExhausted    = errors.New("counter exhausted")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsDocumentNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound)
}

func IsDuplicateDocumentID(err error) bool {
	return errors.Is(err, ErrDuplicateDocumentID)
}

func IsDocumentRequired(err error) bool {
	return errors.Is(err, ErrDocumentRequired)
}

func IsInvalidPatch(err error) bool {
	return errors.Is(err, ErrInvalidPatch)
}

func IsInvalidCollectionName(err error) bool {
	return errors.Is(err, ErrInvalidCollectionName)
}

func IsInvalidFilter(err error) bool {
	return errors.Is(err, ErrInvalidFilter)
}

func IsInvalidSort(err error) bool {
	return errors.Is(err, ErrInvalidSort)
}

func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage)
}

func IsInvalidPageSize(err error) bool {
	return errors.Is(err, ErrInvalidPageSize)
}

func IsBatchTooLarge(err error) bool {
	return errors.Is(err, ErrBatchTooLarge)
}

func IsInvalidCounterValue(err error) bool {
	return errors.Is(err, ErrInvalidCounterValue)
}

func IsCounterExhausted(err error) bool {
	return errors.Is(err, ErrCounterExhausted)
}

func IsIDGenerationFailed(err error) bool {
	return errors.Is(err, ErrIDGenerationFailed)
}

// BusinessCode returns the code of the outermost BusinessError in err, or "" if there is none
func BusinessCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
