package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"protocolmaker/internal/transcript"
)

func TestArtifactWriter(t *testing.T) {
	t.Run("should store uploads under the job id", func(t *testing.T) {
		// Arrange
		fsys := afero.NewMemMapFs()
		w := NewArtifactWriter(fsys, "uploads", zap.NewNop())

		// Act
		path, n, err := w.SaveUpload("job1", "../../etc/meeting.mp3", strings.NewReader("audio"))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "uploads/job1_meeting.mp3", path)
		assert.Equal(t, int64(5), n)
		data, _ := afero.ReadFile(fsys, path)
		assert.Equal(t, "audio", string(data))
	})

	t.Run("should write the transcript document", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		w := NewArtifactWriter(fsys, "uploads", zap.NewNop())

		path, err := w.WriteTranscript("job1", "СТЕНОГРАММА ВСТРЕЧИ\n")

		require.NoError(t, err)
		assert.Equal(t, "uploads/job1_transcript.txt", path)
		data, _ := afero.ReadFile(fsys, path)
		assert.Equal(t, "СТЕНОГРАММА ВСТРЕЧИ\n", string(data))
	})

	t.Run("should write one JSON line per segment", func(t *testing.T) {
		// Arrange
		fsys := afero.NewMemMapFs()
		w := NewArtifactWriter(fsys, "uploads", zap.NewNop())
		segments := []transcript.AlignedSegment{
			{Start: 0, End: 2, Text: "a", Speaker: "A", Confidence: 1},
			{Start: 2, End: 4, Text: "b", Speaker: transcript.UnknownSpeaker},
		}

		// Act
		path, err := w.WriteSegments("job1", segments)

		// Assert
		require.NoError(t, err)
		data, _ := afero.ReadFile(fsys, path)
		scanner := bufio.NewScanner(bytes.NewReader(data))
		var got []transcript.AlignedSegment
		for scanner.Scan() {
			var seg transcript.AlignedSegment
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &seg))
			got = append(got, seg)
		}
		assert.Equal(t, segments, got)
	})

	t.Run("should reject invalid segments", func(t *testing.T) {
		w := NewArtifactWriter(afero.NewMemMapFs(), "uploads", zap.NewNop())

		_, err := w.WriteSegments("job1", []transcript.AlignedSegment{{Start: 0, End: 1, Text: "", Speaker: "A"}})

		assert.ErrorContains(t, err, "invalid segment")
	})

	t.Run("should remove artifacts idempotently", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		w := NewArtifactWriter(fsys, "uploads", zap.NewNop())
		path, _, err := w.SaveUpload("job1", "a.wav", strings.NewReader("x"))
		require.NoError(t, err)

		assert.NoError(t, w.Remove(path))
		assert.NoError(t, w.Remove(path))
	})
}
