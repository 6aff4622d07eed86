package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "proofmesh", cfg.Name)
	assert.Equal(t, 4, cfg.Build.Workers)
	require.NoError(t, cfg.Validate())
}

func TestLoadLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("server:\n  addr: \":9000\"\nbuild:\n  workers: 8\ntrust:\n  libpaths: [\"test.moo\"]\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Build.Workers)
	// Unspecified settings keep their defaults.
	assert.Equal(t, "lib", cfg.Library.Root)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7372", cfg.Server.Addr)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PROOFMESH_LIB_ROOT", "/srv/lib")
	t.Setenv("PROOFMESH_TRUSTED_LIBPATHS", "test.moo,test.hist")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/lib", cfg.Library.Root)
	assert.True(t, cfg.IsTrusted("test.moo.bar"))
	assert.True(t, cfg.IsTrusted("test.hist"))
	assert.False(t, cfg.IsTrusted("test.moose"))
}

func TestValidateRejectsBadWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Build.Workers = 0
	assert.Error(t, cfg.Validate())
}
