package diarization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"protocolmaker/internal/transcript"
)

const maxErrorBody = 4096

type response struct {
	Segments    []transcript.DiarizationTurn `json:"segments"`
	NumSpeakers int                          `json:"num_speakers"`
}

// Client calls an external diarization service that returns speaker turns for an audio file
type Client struct {
	baseURL string
	fs      afero.Fs
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a diarization client for the service at baseURL that reads audio from fsys
func NewClient(baseURL string, timeout time.Duration, fsys afero.Fs, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		fs:      fsys,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Diarize uploads the file and returns the speaker turns the service found
func (c *Client) Diarize(ctx context.Context, audioPath string) ([]transcript.DiarizationTurn, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	fd, err := c.fs.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer fd.Close()

	if _, err := io.Copy(fw, fd); err != nil {
		return nil, fmt.Errorf("failed to copy audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/diarize", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call diarization service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("diarization service returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode diarization response: %w", err)
	}

	turns := make([]transcript.DiarizationTurn, 0, len(out.Segments))
	for _, t := range out.Segments {
		if t.End <= t.Start || t.Speaker == "" {
			continue
		}
		turns = append(turns, t)
	}

	c.logger.Info("diarization completed",
		zap.String("path", audioPath),
		zap.Int("turns", len(turns)),
		zap.Int("speakers", out.NumSpeakers))
	return turns, nil
}
