package build

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readDockerfile(t *testing.T) string {
	t.Helper()
	content, err := os.ReadFile("Dockerfile")
	require.NoError(t, err, "Dockerfile should exist in the build/ directory")
	return string(content)
}

func TestDockerfileStructure(t *testing.T) {
	t.Run("should use a multi-stage build", func(t *testing.T) {
		content := readDockerfile(t)

		assert.Contains(t, content, "AS builder")
		assert.Contains(t, content, "COPY --from=builder")
		assert.Contains(t, content, "go build")
	})

	t.Run("should install ffmpeg for duration probing", func(t *testing.T) {
		content := readDockerfile(t)

		assert.Contains(t, content, "RUN apt-get update")
		assert.Contains(t, content, "ffmpeg")
	})

	t.Run("should run as a system user with a health check", func(t *testing.T) {
		content := readDockerfile(t)

		assert.Contains(t, content, "useradd -r")
		assert.Contains(t, content, "USER protocolmaker")
		assert.Contains(t, content, "HEALTHCHECK")
		assert.Contains(t, content, "-health")
	})
}

func TestDockerfileOptimization(t *testing.T) {
	t.Run("should download modules before copying sources", func(t *testing.T) {
		content := readDockerfile(t)

		modIdx := strings.Index(content, "RUN go mod download")
		srcIdx := strings.Index(content, "COPY internal")
		require.NotEqual(t, -1, modIdx)
		require.NotEqual(t, -1, srcIdx)
		assert.Less(t, modIdx, srcIdx)
	})

	t.Run("should run the test suite during the build", func(t *testing.T) {
		assert.Contains(t, readDockerfile(t), "go test")
	})
}

func TestDockerfileSecrets(t *testing.T) {
	t.Run("should not hardcode credentials", func(t *testing.T) {
		content := strings.ToLower(readDockerfile(t))

		for _, pattern := range []string{"password", "secret", "key=", "token", "api_key"} {
			assert.NotContains(t, content, pattern, "Dockerfile should not contain %s", pattern)
		}
	})
}
