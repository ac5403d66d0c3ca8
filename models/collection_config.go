package models

import "regexp"

// Default identifier settings applied when a collection has no explicit configuration.
const (
	DefaultIDWidth        = 8
	DefaultIDPrefixLength = 3
	IDPlaceholder         = '#'
)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]{0,127}$`)

// IsValidCollectionName reports whether name can be used as a collection and counter key
func IsValidCollectionName(name string) bool {
	return collectionNamePattern.MatchString(name)
}

// CollectionConfig describes how records of one collection get their identifiers.
// Key is the logical collection name and doubles as the counter key.
// IDPattern is optional; when empty the pattern is derived from Key and IDWidth.
// CustomID enables identifier generation on insert.
type CollectionConfig struct {
	Key       string `yaml:"key" json:"key" validate:"required,max=128,collection_name"`
	IDPattern string `yaml:"id_pattern,omitempty" json:"id_pattern,omitempty" validate:"omitempty,max=64"`
	CustomID  bool   `yaml:"custom_id" json:"custom_id"`
	IDWidth   int    `yaml:"id_width,omitempty" json:"id_width,omitempty" validate:"omitempty,gte=1,lte=19"`
}

// Width returns the configured placeholder width or the default one.
func (c CollectionConfig) Width() int {
	if c.IDWidth > 0 {
		return c.IDWidth
	}
	return DefaultIDWidth
}
