package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"protocolmaker/internal/transcript"
)

// ArtifactWriter stores uploaded audio and per-job transcript artifacts under one directory
type ArtifactWriter struct {
	fs     afero.Fs
	dir    string
	logger *zap.Logger
}

// NewArtifactWriter creates an ArtifactWriter rooted at dir
func NewArtifactWriter(fsys afero.Fs, dir string, logger *zap.Logger) *ArtifactWriter {
	return &ArtifactWriter{
		fs:     fsys,
		dir:    dir,
		logger: logger,
	}
}

// SaveUpload copies an uploaded file to <dir>/<id>_<filename> and returns its path and size
func (w *ArtifactWriter) SaveUpload(id, filename string, r io.Reader) (string, int64, error) {
	if err := w.fs.MkdirAll(w.dir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create uploads directory: %w", err)
	}

	path := filepath.Join(w.dir, id+"_"+sanitizeFilename(filename))
	f, err := w.fs.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to write upload file: %w", err)
	}

	w.logger.Info("upload stored", zap.String("path", path), zap.Int64("bytes", n))
	return path, n, nil
}

// WriteTranscript stores the rendered document as <dir>/<id>_transcript.txt
func (w *ArtifactWriter) WriteTranscript(id, document string) (string, error) {
	if err := w.fs.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create uploads directory: %w", err)
	}

	path := filepath.Join(w.dir, id+"_transcript.txt")
	if err := afero.WriteFile(w.fs, path, []byte(document), 0644); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}

	w.logger.Debug("transcript saved", zap.String("path", path))
	return path, nil
}

// WriteSegments stores aligned segments as JSON lines in <dir>/<id>_segments.jsonl
func (w *ArtifactWriter) WriteSegments(id string, segments []transcript.AlignedSegment) (string, error) {
	if err := w.fs.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create uploads directory: %w", err)
	}

	path := filepath.Join(w.dir, id+"_segments.jsonl")
	f, err := w.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create segments file: %w", err)
	}
	defer f.Close()

	for _, seg := range segments {
		if err := seg.Validate(); err != nil {
			w.logger.Error("invalid segment", zap.Error(err))
			return "", fmt.Errorf("invalid segment: %w", err)
		}

		line, err := json.Marshal(seg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal segment to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
			return "", fmt.Errorf("failed to write segment: %w", err)
		}
	}

	w.logger.Debug("segments saved", zap.String("path", path), zap.Int("count", len(segments)))
	return path, nil
}

// Remove deletes an artifact, ignoring files that are already gone
func (w *ArtifactWriter) Remove(path string) error {
	if err := w.fs.Remove(path); err != nil {
		if exists, _ := afero.Exists(w.fs, path); exists {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "audio"
	}
	return name
}
