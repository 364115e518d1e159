package diarization

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const audioPath = "/uploads/meeting.wav"

func audioFs(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, audioPath, []byte("RIFF-data"), 0644))
	return fsys
}

func TestClient_Diarize(t *testing.T) {
	t.Run("should upload the file and return valid turns", func(t *testing.T) {
		// Arrange
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/diarize", r.URL.Path)
			file, header, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)
			assert.Equal(t, "meeting.wav", header.Filename)
			assert.Equal(t, "RIFF-data", string(data))

			json.NewEncoder(w).Encode(map[string]any{
				"segments": []map[string]any{
					{"start": 0.0, "end": 3.5, "speaker": "SPEAKER_00"},
					{"start": 3.5, "end": 3.5, "speaker": "SPEAKER_01"},
					{"start": 4.0, "end": 9.0, "speaker": "SPEAKER_01"},
				},
				"num_speakers": 2,
			})
		}))
		defer srv.Close()
		client := NewClient(srv.URL+"/", time.Second, audioFs(t), zap.NewNop())

		// Act
		turns, err := client.Diarize(context.Background(), audioPath)

		// Assert
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "SPEAKER_00", turns[0].Speaker)
		assert.Equal(t, 9.0, turns[1].End)
	})

	t.Run("should report service errors with a bounded body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, time.Second, audioFs(t), zap.NewNop()).Diarize(context.Background(), audioPath)

		assert.ErrorContains(t, err, "503")
		assert.ErrorContains(t, err, "model not loaded")
	})

	t.Run("should fail for a missing file", func(t *testing.T) {
		_, err := NewClient("http://127.0.0.1:1", time.Second, afero.NewMemMapFs(), zap.NewNop()).Diarize(context.Background(), "/nope.wav")

		assert.ErrorContains(t, err, "failed to open audio file")
	})
}
