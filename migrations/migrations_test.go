package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles(t *testing.T) {
	names, err := Files()
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Equal(t, "0001_create_counters.sql", names[0])
	assert.Equal(t, "0002_create_documents.sql", names[1])
}

func TestFilesContainSchema(t *testing.T) {
	content, err := files.ReadFile("0001_create_counters.sql")
	require.NoError(t, err)
	assert.Contains(t, string(content), "CREATE TABLE IF NOT EXISTS counters")

	content, err = files.ReadFile("0002_create_documents.sql")
	require.NoError(t, err)
	assert.Contains(t, string(content), "PRIMARY KEY (collection, id)")
}
