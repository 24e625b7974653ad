package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeNestedKeysAndScalars(t *testing.T) {
	base := map[string]any{
		"server": map[string]any{
			"port":           float64(8790),
			"maxConnections": float64(100),
		},
		"tags": []any{"a", "b"},
	}
	overlay := map[string]any{
		"server": map[string]any{
			"port": float64(9000),
		},
		"tags": []any{"c"},
	}

	out := Merge(base, overlay)

	srv := out["server"].(map[string]any)
	assert.Equal(t, float64(9000), srv["port"], "overlay scalar wins")
	assert.Equal(t, float64(100), srv["maxConnections"], "base key survives nested merge")
	assert.Equal(t, []any{"c"}, out["tags"], "arrays overwrite, not merge")

	// Merge is pure: inputs untouched.
	assert.Equal(t, float64(8790), base["server"].(map[string]any)["port"])
}

func TestOpenMissingFileUsesDefaults(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "config.json"), Default())
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, store.Decode(&cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Server.MaxConnections)
	assert.True(t, cfg.Server.RequireAuth)
}

func TestOpenMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":9100}}`), 0o600))

	store, err := Open(path, Default())
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, store.Decode(&cfg))
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Server.MaxConnections, "unspecified keys keep defaults")
}

func TestDottedGetSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store, err := Open(path, Default())
	require.NoError(t, err)

	v, ok := store.Get("server.maxConnections")
	require.True(t, ok)
	assert.Equal(t, float64(100), v)

	_, ok = store.Get("server.missing")
	assert.False(t, ok)

	require.NoError(t, store.Set("server.maxConnections", 250))
	v, ok = store.Get("server.maxConnections")
	require.True(t, ok)
	assert.EqualValues(t, 250, v)

	// Set persisted to disk.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, float64(250), onDisk["server"].(map[string]any)["maxConnections"])
}

func TestSaveBacksUpPriorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store, err := Open(path, Default())
	require.NoError(t, err)

	require.NoError(t, store.Set("server.port", 9200))
	require.NoError(t, store.Set("server.port", 9300))

	backup, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	var prior map[string]any
	require.NoError(t, json.Unmarshal(backup, &prior))
	assert.Equal(t, float64(9200), prior["server"].(map[string]any)["port"])
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Server.MaxConnections = 0
	assert.Error(t, cfg.Validate())

	admin := DefaultAdmin()
	require.NoError(t, admin.Validate())
	admin.MaxFailedAttempts = 0
	assert.Error(t, admin.Validate())
}
