package config

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amirphl/Kura/app/services"
	"github.com/amirphl/Kura/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCollections = `
collections:
  - key: orders
    id_pattern: "ORD-######"
    custom_id: true
  - key: invoices
    custom_id: true
    id_width: 5
  - key: notes
`

func TestParseCollectionRegistry(t *testing.T) {
	r, err := ParseCollectionRegistry([]byte(sampleCollections), IDGenConfig{DefaultWidth: 8})
	require.NoError(t, err)

	orders := r.Resolve("orders")
	assert.Equal(t, "ORD-######", orders.IDPattern)
	assert.True(t, orders.CustomID)

	invoices := r.Resolve("invoices")
	assert.Equal(t, 5, invoices.IDWidth)

	notes := r.Resolve("notes")
	assert.False(t, notes.CustomID)
	assert.Equal(t, 8, notes.IDWidth)

	keys := []string{}
	for _, c := range r.Collections() {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{"invoices", "notes", "orders"}, keys)
}

func TestCollectionRegistry_ResolveUnknownUsesDefaults(t *testing.T) {
	r, err := NewCollectionRegistry(IDGenConfig{DefaultWidth: 6, DefaultCustomID: true}, nil)
	require.NoError(t, err)

	cfg := r.Resolve("widgets")
	assert.Equal(t, "widgets", cfg.Key)
	assert.True(t, cfg.CustomID)
	assert.Equal(t, 6, cfg.IDWidth)
	assert.Empty(t, cfg.IDPattern)
}

func TestParseCollectionRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "duplicate key", yaml: "collections:\n  - key: a\n  - key: a\n"},
		{name: "missing key", yaml: "collections:\n  - custom_id: true\n"},
		{name: "bad key", yaml: "collections:\n  - key: \"a b\"\n"},
		{name: "pattern too long", yaml: "collections:\n  - key: a\n    id_pattern: \"" + strings.Repeat("#", 65) + "\"\n"},
		{name: "width out of range", yaml: "collections:\n  - key: a\n    id_width: 40\n"},
		{name: "unknown field", yaml: "collections:\n  - key: a\n    prefix: X\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCollectionRegistry([]byte(tt.yaml), IDGenConfig{DefaultWidth: 8})
			assert.Error(t, err)
		})
	}
}

func TestLoadCollectionRegistry(t *testing.T) {
	dir := t.TempDir()

	t.Run("MissingFile", func(t *testing.T) {
		r, err := LoadCollectionRegistry(filepath.Join(dir, "absent.yaml"), IDGenConfig{DefaultWidth: 8})
		require.NoError(t, err)
		assert.Empty(t, r.Collections())
	})

	t.Run("EmptyFile", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0o600))
		r, err := LoadCollectionRegistry(path, IDGenConfig{DefaultWidth: 8})
		require.NoError(t, err)
		assert.Empty(t, r.Collections())
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(dir, "collections.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleCollections), 0o600))
		r, err := LoadCollectionRegistry(path, IDGenConfig{DefaultWidth: 8})
		require.NoError(t, err)
		assert.Len(t, r.Collections(), 3)
	})
}

func TestParseCollectionRegistry_MalformedPatternFailsOnAllocation(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{name: "pattern without placeholder", pattern: "ORD"},
		{name: "pattern with two runs", pattern: "A##B##"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := "collections:\n  - key: orders\n    custom_id: true\n    id_pattern: \"" + tt.pattern + "\"\n"
			r, err := ParseCollectionRegistry([]byte(yaml), IDGenConfig{DefaultWidth: 8})
			require.NoError(t, err)
			assert.Equal(t, tt.pattern, r.Resolve("orders").IDPattern)

			ctx := context.Background()
			counters := repository.NewMemoryCounterRepository()
			ids := services.NewIDService(counters, log.New(io.Discard, "", 0))

			_, err = ids.NextID(ctx, r.Resolve("orders"))
			assert.ErrorIs(t, err, services.ErrMalformedPattern)

			next, err := counters.Peek(ctx, "orders")
			require.NoError(t, err)
			assert.Equal(t, int64(1), next)
		})
	}
}
