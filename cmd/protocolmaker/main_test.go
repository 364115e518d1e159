package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const healthFile = "/tmp/protocolmaker-health-test.json"

func writeHealth(t *testing.T, fsys afero.Fs, status map[string]any) {
	t.Helper()
	data, err := json.Marshal(status)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fsys, healthFile, data, 0644))
}

func TestPrintHelp(t *testing.T) {
	t.Run("should print help information without panicking", func(t *testing.T) {
		assert.NotPanics(t, printHelp)
	})
}

func TestPrintVersion(t *testing.T) {
	t.Run("should print version information without panicking", func(t *testing.T) {
		assert.NotPanics(t, printVersion)
	})
}

func TestCheckHealthWithFile(t *testing.T) {
	t.Run("should return unhealthy when health file does not exist", func(t *testing.T) {
		assert.Equal(t, 1, checkHealthWithFile(afero.NewMemMapFs(), healthFile))
	})

	t.Run("should return unhealthy when health file contains invalid JSON", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, healthFile, []byte("invalid json"), 0644))

		assert.Equal(t, 1, checkHealthWithFile(fsys, healthFile))
	})

	t.Run("should return unhealthy when health file is empty", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, healthFile, []byte("   \n  \t  "), 0644))

		assert.Equal(t, 1, checkHealthWithFile(fsys, healthFile))
	})

	t.Run("should return unhealthy when health file missing timestamp", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		writeHealth(t, fsys, map[string]any{"healthy": true})

		assert.Equal(t, 1, checkHealthWithFile(fsys, healthFile))
	})

	t.Run("should return unhealthy when health file is stale", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		writeHealth(t, fsys, map[string]any{
			"healthy":                true,
			"health_check_timestamp": time.Now().Add(-2 * time.Minute).Format(time.RFC3339),
		})

		assert.Equal(t, 1, checkHealthWithFile(fsys, healthFile))
	})

	t.Run("should return unhealthy when healthy field is false", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		writeHealth(t, fsys, map[string]any{
			"healthy":                false,
			"health_check_timestamp": time.Now().Format(time.RFC3339),
		})

		assert.Equal(t, 1, checkHealthWithFile(fsys, healthFile))
	})

	t.Run("should return healthy when timestamp is just within limit", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		writeHealth(t, fsys, map[string]any{
			"healthy":                true,
			"health_check_timestamp": time.Now().Add(-80 * time.Second).Format(time.RFC3339),
		})

		assert.Equal(t, 0, checkHealthWithFile(fsys, healthFile))
	})
}

func TestCheckHealth(t *testing.T) {
	t.Run("should read the file named by HEALTH_FILE", func(t *testing.T) {
		t.Setenv("HEALTH_FILE", "/nonexistent/protocolmaker-health.json")

		assert.Equal(t, 1, checkHealth())
	})
}
