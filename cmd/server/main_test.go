package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigSource_PrefersLiteralJSONWhenGiven(t *testing.T) {
	data, err := loadConfigSource("/nonexistent/path.json", `{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestLoadConfigSource_ReadsFileWhenNoLiteralGiven(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"b":2}`), 0o644))

	data, err := loadConfigSource(path, "")
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(data))
}

func TestLoadConfigSource_MissingFile_IsAnError(t *testing.T) {
	_, err := loadConfigSource(filepath.Join(t.TempDir(), "missing.json"), "")
	assert.Error(t, err)
}
