package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	v := viper.New()
	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), normalize(cfg))
	assert.Empty(t, v.ConfigFileUsed())
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network:
  port: 4096
worker:
  env:
    - FOO=bar
upgrade:
  delay: 250ms
worker_limits:
  rate: 5
  timeout: 30s
registry:
  endpoints: [localhost:2379]
`), 0o600))
	t.Setenv("WORKERLINK_NETWORK_HOSTNAME", "0.0.0.0")

	v := viper.New()
	cfg, err := Load(v, path)
	require.NoError(t, err)

	assert.Equal(t, path, v.ConfigFileUsed())
	assert.Equal(t, 4096, cfg.Network.Port)
	assert.Equal(t, "0.0.0.0", cfg.Network.Hostname)
	assert.Equal(t, []string{"FOO=bar"}, cfg.Worker.Env)
	assert.Equal(t, 250*time.Millisecond, cfg.Upgrade.Delay)
	assert.Equal(t, 5.0, cfg.WorkerLimits.Rate)
	assert.Equal(t, 30*time.Second, cfg.WorkerLimits.Timeout)
	assert.Equal(t, []string{"localhost:2379"}, cfg.Registry.Endpoints)
	assert.Equal(t, int64(10), cfg.Registry.TTL)
}

func TestLoadPrefersLocalFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, os.MkdirAll(".workerlink", 0o750))
	require.NoError(t, os.WriteFile(LocalPath, []byte("log:\n  level: debug\n"), 0o600))

	v := viper.New()
	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, LocalPath, v.ConfigFileUsed())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), normalize(cfg))

	assert.Error(t, WriteDefault(path), "existing file is not overwritten")
}

// normalize maps empty slices to nil so loaded and built-in configs compare equal.
func normalize(cfg Config) Config {
	if len(cfg.Worker.Env) == 0 {
		cfg.Worker.Env = nil
	}
	if len(cfg.Registry.Endpoints) == 0 {
		cfg.Registry.Endpoints = nil
	}
	return cfg
}
