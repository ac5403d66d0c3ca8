package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"github.com/amirphl/Kura/models"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CollectionRegistry resolves per-collection identifier settings.
// Collections absent from the registry get the defaults.
type CollectionRegistry struct {
	collections     map[string]models.CollectionConfig
	defaultWidth    int
	defaultCustomID bool
}

type collectionsFile struct {
	Collections []models.CollectionConfig `yaml:"collections" validate:"dive"`
}

// NewValidator returns a validator with the collection specific rules registered
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("collection_name", func(fl validator.FieldLevel) bool {
		return models.IsValidCollectionName(fl.Field().String())
	})
	return v
}

// NewCollectionRegistry builds a registry from explicit configurations.
// Identifier patterns are not parsed here; a malformed one fails on the first allocation of its collection.
func NewCollectionRegistry(cfg IDGenConfig, collections []models.CollectionConfig) (*CollectionRegistry, error) {
	width := cfg.DefaultWidth
	if width <= 0 {
		width = models.DefaultIDWidth
	}
	r := &CollectionRegistry{
		collections:     make(map[string]models.CollectionConfig, len(collections)),
		defaultWidth:    width,
		defaultCustomID: cfg.DefaultCustomID,
	}

	v := NewValidator()
	for i, c := range collections {
		if err := v.Struct(c); err != nil {
			return nil, fmt.Errorf("collection %d (%q): %w", i, c.Key, err)
		}
		if _, dup := r.collections[c.Key]; dup {
			return nil, fmt.Errorf("collection %q is configured more than once", c.Key)
		}
		if c.IDWidth == 0 {
			c.IDWidth = width
		}
		r.collections[c.Key] = c
	}
	return r, nil
}

// LoadCollectionRegistry reads the YAML registry at path.
// A missing file yields a registry holding only the defaults.
func LoadCollectionRegistry(path string, cfg IDGenConfig) (*CollectionRegistry, error) {
	if path == "" {
		return NewCollectionRegistry(cfg, nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewCollectionRegistry(cfg, nil)
		}
		return nil, fmt.Errorf("failed to read collections file: %w", err)
	}
	return ParseCollectionRegistry(data, cfg)
}

// ParseCollectionRegistry decodes a YAML document of the form
//
//	collections:
//	  - key: orders
//	    id_pattern: "ORD-######"
//	    custom_id: true
func ParseCollectionRegistry(data []byte, cfg IDGenConfig) (*CollectionRegistry, error) {
	var file collectionsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse collections file: %w", err)
	}
	return NewCollectionRegistry(cfg, file.Collections)
}

// Resolve returns the configuration of collection, falling back to defaults
func (r *CollectionRegistry) Resolve(collection string) models.CollectionConfig {
	if c, ok := r.collections[collection]; ok {
		return c
	}
	return models.CollectionConfig{
		Key:      collection,
		CustomID: r.defaultCustomID,
		IDWidth:  r.defaultWidth,
	}
}

// Collections returns the explicitly configured collections ordered by key
func (r *CollectionRegistry) Collections() []models.CollectionConfig {
	out := make([]models.CollectionConfig, 0, len(r.collections))
	for _, c := range r.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
