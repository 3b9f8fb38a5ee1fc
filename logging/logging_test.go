package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, l)

	l, err = ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn")
	require.NoError(t, err)

	log.Info().Msg("Hidden")
	log.Warn().Str("component", "rpc").Msg("Shown")

	assert.NotContains(t, buf.String(), "Hidden")
	assert.Contains(t, buf.String(), `"component":"rpc"`)
	assert.Contains(t, buf.String(), `"time":`)
}

func TestNewFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "workerlink.log")

	for _, msg := range []string{"First", "Second"} {
		log, closer, err := NewFile(path, "info")
		require.NoError(t, err)
		log.Info().Msg(msg)
		require.NoError(t, closer.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "First")
	assert.Contains(t, string(data), "Second")
}

func TestDefaultPathUsesXDGStateHome(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	assert.Equal(t, filepath.Join("/tmp/state", "workerlink", "workerlink.log"), DefaultPath())
}
