package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lazymic.log")

	logger, closer, err := New("info", path)
	require.NoError(t, err)

	logger.Info().Str("cmp", "test").Msg("hello")
	logger.Debug().Msg("filtered")
	closer()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.NotContains(t, string(data), "filtered")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, closer, err := New("loud", "")
	assert.Error(t, err)
	assert.NotNil(t, closer)
}
