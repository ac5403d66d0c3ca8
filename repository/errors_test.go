package repository

import (
	"errors"
	"math"
	"testing"

	"github.com/amirphl/Kura/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreErrorMatchesBothCauses(t *testing.T) {
	driverErr := errors.New("connection refused")
	err := newStoreError("allocate counter", "orders", driverErr)

	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, driverErr))
	assert.Equal(t, `allocate counter "orders": connection refused`, err.Error())
	assert.Equal(t, "count documents: boom", newStoreError("count documents", "", errors.New("boom")).Error())
}

func TestIsValidFieldPath(t *testing.T) {
	tests := []struct {
		field string
		valid bool
	}{
		{"name", true},
		{"created_at", true},
		{"address.city", true},
		{"a.b.c2", true},
		{"", false},
		{".name", false},
		{"name.", false},
		{"a..b", false},
		{"name'); DROP TABLE documents;--", false},
		{"first name", false},
		{"$where", false},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidFieldPath(tt.field))
		})
	}
}

func TestFilterFields(t *testing.T) {
	tests := []struct {
		name     string
		filter   models.Document
		expected []string
		valid    bool
	}{
		{"Empty", nil, []string{}, true},
		{"IDSkipped", models.Document{"_id": "A", "status": "open"}, []string{"status"}, true},
		{"Sorted", models.Document{"b": 1, "a.z": 2, "a0": 3}, []string{"a.z", "a0", "b"}, true},
		{"SiblingPaths", models.Document{"address.city": "x", "address.zip": "y"}, []string{"address.city", "address.zip"}, true},
		{"SharedNameNotPath", models.Document{"ab": 1, "a": 2}, []string{"a", "ab"}, true},
		{"ParentAndChild", models.Document{"address": map[string]any{"city": "x"}, "address.zip": "y"}, nil, false},
		{"ParentAndGrandchild", models.Document{"a": 1, "a.b.c": 2}, nil, false},
		{"BadField", models.Document{"$where": "1"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := FilterFields(tt.filter)
			if !tt.valid {
				assert.ErrorIs(t, err, ErrInvalidFieldPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, fields)
		})
	}
}

func TestCheckDelta(t *testing.T) {
	assert.NoError(t, checkDelta(1))
	assert.NoError(t, checkDelta(math.MaxInt64-1))
	assert.ErrorIs(t, checkDelta(0), ErrInvalidDelta)
	assert.ErrorIs(t, checkDelta(-3), ErrInvalidDelta)
	assert.ErrorIs(t, checkDelta(math.MaxInt64), ErrCounterExhausted)
}

func TestSortColumn(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		expected string
		wantErr  bool
	}{
		{name: "identifier", field: "_id", expected: "id"},
		{name: "top level", field: "name", expected: "data #> '{name}'"},
		{name: "nested", field: "address.city", expected: "data #> '{address,city}'"},
		{name: "injection", field: "x'}'; --", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sortColumn(tt.field)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFieldPath)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSetPathBuildsNestedContainment(t *testing.T) {
	m := map[string]any{}
	setPath(m, []string{"address", "city"}, "Tehran")
	setPath(m, []string{"address", "zip"}, "123")
	setPath(m, []string{"status"}, "open")

	assert.Equal(t, map[string]any{
		"address": map[string]any{"city": "Tehran", "zip": "123"},
		"status":  "open",
	}, m)
}
