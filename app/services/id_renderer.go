package services

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/amirphl/Kura/models"
)

var (
	// ErrMalformedPattern is returned for a pattern without exactly one contiguous '#' run
	ErrMalformedPattern = errors.New("malformed id pattern")
	// ErrInvalidAllocationRequest is returned for negative block sizes or values
	ErrInvalidAllocationRequest = errors.New("invalid allocation request")
	// ErrInvalidCounterValue is returned when an administrative set goes below the initial counter value
	ErrInvalidCounterValue = errors.New("counter value must be at least 1")
)

// IDPattern is a parsed identifier pattern: literal prefix, placeholder width, literal suffix
type IDPattern struct {
	Prefix string
	Width  int
	Suffix string
}

// ParseIDPattern splits pattern around its single run of '#'
func ParseIDPattern(pattern string) (IDPattern, error) {
	start := strings.IndexRune(pattern, models.IDPlaceholder)
	if start < 0 {
		return IDPattern{}, fmt.Errorf("%w: %q has no %q placeholder", ErrMalformedPattern, pattern, models.IDPlaceholder)
	}
	end := start
	for end < len(pattern) && pattern[end] == models.IDPlaceholder {
		end++
	}
	if strings.ContainsRune(pattern[end:], models.IDPlaceholder) {
		return IDPattern{}, fmt.Errorf("%w: %q has more than one placeholder run", ErrMalformedPattern, pattern)
	}
	return IDPattern{
		Prefix: pattern[:start],
		Width:  end - start,
		Suffix: pattern[end:],
	}, nil
}

// Render substitutes value zero-padded to the placeholder width; wider values are not truncated
func (p IDPattern) Render(value int64) (string, error) {
	if value < 0 {
		return "", fmt.Errorf("%w: negative value %d", ErrInvalidAllocationRequest, value)
	}
	return fmt.Sprintf("%s%0*d%s", p.Prefix, p.Width, value, p.Suffix), nil
}

// RenderID renders value into pattern, e.g. RenderID("ABC#####", 7) == "ABC00007"
func RenderID(pattern string, value int64) (string, error) {
	p, err := ParseIDPattern(pattern)
	if err != nil {
		return "", err
	}
	return p.Render(value)
}

// DefaultIDPattern derives the pattern of a collection without explicit configuration:
// the first three characters of key upper-cased followed by width placeholders.
func DefaultIDPattern(key string, width int) string {
	if width < 1 {
		width = models.DefaultIDWidth
	}
	prefix := key
	if utf8.RuneCountInString(key) > models.DefaultIDPrefixLength {
		prefix = string([]rune(key)[:models.DefaultIDPrefixLength])
	}
	return strings.ToUpper(prefix) + strings.Repeat(string(models.IDPlaceholder), width)
}

// PatternFor returns the configured pattern of cfg or its derived default
func PatternFor(cfg models.CollectionConfig) string {
	if cfg.IDPattern != "" {
		return cfg.IDPattern
	}
	return DefaultIDPattern(cfg.Key, cfg.Width())
}
