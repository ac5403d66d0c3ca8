package repository

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/amirphl/Kura/models"
)

var (
	// ErrStoreUnavailable marks a failure reaching or operating the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidDelta is returned when an allocation asks for less than one value.
	ErrInvalidDelta = errors.New("allocation delta must be positive")
	// ErrCounterExhausted is returned when an allocation would move a counter past math.MaxInt64.
	// Nothing is written in that case.
	ErrCounterExhausted = errors.New("counter exhausted")
	// ErrDuplicateKey is returned when an inserted document reuses an existing identifier.
	ErrDuplicateKey = errors.New("duplicate document identifier")
	// ErrInvalidFieldPath is returned for filter or sort fields outside [A-Za-z0-9_.].
	ErrInvalidFieldPath = errors.New("invalid field path")
)

// StoreError wraps a driver error with the operation and key it happened on.
// errors.Is matches both ErrStoreUnavailable and the wrapped driver error.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

func newStoreError(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}

// IsStoreUnavailable reports whether err came from the backing store
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsCounterExhausted reports whether err is an allocation refused for int64 overflow
func IsCounterExhausted(err error) bool {
	return errors.Is(err, ErrCounterExhausted)
}

// checkDelta validates an allocation size before any store round trip
func checkDelta(delta int64) error {
	if delta < 1 {
		return ErrInvalidDelta
	}
	if delta > math.MaxInt64-models.InitialCounterValue {
		return ErrCounterExhausted
	}
	return nil
}

// IsDuplicateKey reports whether err is a duplicate identifier violation
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

var fieldPathPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// IsValidFieldPath reports whether field can be used in a filter or sort expression.
func IsValidFieldPath(field string) bool {
	return fieldPathPattern.MatchString(field)
}

// FilterFields validates the fields of filter and returns them sorted, without the id field.
// A field that is a path prefix of another one ("a" next to "a.b") is rejected.
func FilterFields(filter models.Document) ([]string, error) {
	fields := make([]string, 0, len(filter))
	for field := range filter {
		if field == models.DocumentIDField {
			continue
		}
		if !IsValidFieldPath(field) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFieldPath, field)
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)
	// '.' sorts before every other path character, so a prefix is always followed by its extensions
	for i := 1; i < len(fields); i++ {
		if strings.HasPrefix(fields[i], fields[i-1]+".") {
			return nil, fmt.Errorf("%w: %q overlaps %q", ErrInvalidFieldPath, fields[i-1], fields[i])
		}
	}
	return fields, nil
}
