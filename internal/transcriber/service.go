package transcriber

import (
	"context"
	"errors"
	"strings"
	"time"

	"protocolmaker/internal/transcript"
)

var (
	// ErrTranscriptionFailed is returned when the vendor reports a failed job
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrTimeout is returned when a job does not finish before the deadline.
	// The upstream job is not cancelled.
	ErrTimeout = errors.New("transcription timed out")
	// ErrNotConfigured is returned when no API key is set
	ErrNotConfigured = errors.New("transcription service is not configured")
)

// Service turns an audio file into speaker-labeled segments
type Service interface {
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
}

// Result is the vendor-neutral outcome of a transcription job
type Result struct {
	JobID    string
	Text     string
	Language string
	// Duration as reported by the vendor; zero when unknown
	Duration time.Duration
	Segments []transcript.TimeSegment
	Turns    []transcript.DiarizationTurn
}

// Empty reports whether the job produced no usable content
func (r *Result) Empty() bool {
	if r == nil {
		return true
	}
	if len(r.Segments) > 0 {
		return false
	}
	return strings.TrimSpace(r.Text) == ""
}
