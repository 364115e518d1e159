package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"protocolmaker/internal/transcript"
)

const (
	maxBackoffFactor     = 8
	maxConsecutiveErrors = 5
)

// api is the slice of the AssemblyAI SDK the transcriber depends on
type api interface {
	Submit(ctx context.Context, audio io.Reader) (aai.Transcript, error)
	Get(ctx context.Context, id string) (aai.Transcript, error)
}

type sdkAPI struct {
	client *aai.Client
}

func (s *sdkAPI) Submit(ctx context.Context, audio io.Reader) (aai.Transcript, error) {
	params := &aai.TranscriptOptionalParams{
		SpeakerLabels:     aai.Bool(true),
		LanguageDetection: aai.Bool(true),
	}
	return s.client.Transcripts.SubmitFromReader(ctx, audio, params)
}

func (s *sdkAPI) Get(ctx context.Context, id string) (aai.Transcript, error) {
	return s.client.Transcripts.Get(ctx, id)
}

// AssemblyAI transcribes audio with speaker labels through the AssemblyAI API
type AssemblyAI struct {
	api          api
	fs           afero.Fs
	pollInterval time.Duration
	timeout      time.Duration
	logger       *zap.Logger
}

// NewAssemblyAI creates a transcriber backed by the AssemblyAI SDK that reads audio from fsys
func NewAssemblyAI(fsys afero.Fs, apiKey, baseURL string, pollInterval, timeout time.Duration, logger *zap.Logger) *AssemblyAI {
	var client api
	if apiKey != "" {
		opts := []aai.ClientOption{aai.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, aai.WithBaseURL(baseURL))
		}
		client = &sdkAPI{client: aai.NewClientWithOptions(opts...)}
	}
	return newAssemblyAI(client, fsys, pollInterval, timeout, logger)
}

func newAssemblyAI(client api, fsys afero.Fs, pollInterval, timeout time.Duration, logger *zap.Logger) *AssemblyAI {
	return &AssemblyAI{
		api:          client,
		fs:           fsys,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger,
	}
}

// Transcribe uploads the file, submits it and waits for the job to finish
func (a *AssemblyAI) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if a.api == nil {
		return nil, ErrNotConfigured
	}

	f, err := a.fs.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	deadlineCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.logger.Info("submitting audio for transcription", zap.String("path", audioPath))
	submitted, err := a.api.Submit(deadlineCtx, f)
	if err != nil {
		if ctx.Err() == nil && deadlineCtx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to submit audio: %w", err)
	}

	id := aai.ToString(submitted.ID)
	done, err := a.poll(ctx, deadlineCtx, id, submitted)
	if err != nil {
		return nil, err
	}

	result := toResult(done)
	a.logger.Info("transcription completed",
		zap.String("job_id", id),
		zap.String("language", result.Language),
		zap.Duration("duration", result.Duration),
		zap.Int("utterances", len(result.Segments)))
	return result, nil
}

// poll waits for a terminal status with exponential backoff capped at maxBackoffFactor intervals
func (a *AssemblyAI) poll(parent, ctx context.Context, id string, current aai.Transcript) (aai.Transcript, error) {
	failures := 0
	for attempt := 1; ; attempt++ {
		switch current.Status {
		case aai.TranscriptStatusCompleted:
			return current, nil
		case aai.TranscriptStatusError:
			return current, fmt.Errorf("%w: %s", ErrTranscriptionFailed, aai.ToString(current.Error))
		}

		delay := backoff(a.pollInterval, attempt)
		a.logger.Debug("transcription pending",
			zap.String("job_id", id),
			zap.String("status", string(current.Status)),
			zap.Int("attempt", attempt),
			zap.Duration("next_poll", delay))

		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return current, fmt.Errorf("transcription cancelled: %w", parent.Err())
			}
			a.logger.Warn("transcription deadline reached, upstream job left running",
				zap.String("job_id", id),
				zap.Duration("timeout", a.timeout))
			return current, ErrTimeout
		case <-time.After(delay):
		}

		next, err := a.api.Get(ctx, id)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			failures++
			a.logger.Debug("transcription status check failed",
				zap.String("job_id", id),
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
			if failures >= maxConsecutiveErrors {
				return current, fmt.Errorf("failed to get transcript status: %w", err)
			}
			continue
		}
		failures = 0
		current = next
	}
}

// backoff doubles the interval per attempt up to maxBackoffFactor times the base
func backoff(base time.Duration, attempt int) time.Duration {
	factor := 1 << (attempt - 1)
	if attempt > 4 || factor > maxBackoffFactor {
		factor = maxBackoffFactor
	}
	return base * time.Duration(factor)
}

func toResult(t aai.Transcript) *Result {
	result := &Result{
		JobID:    aai.ToString(t.ID),
		Text:     strings.TrimSpace(aai.ToString(t.Text)),
		Language: string(t.LanguageCode),
	}
	if seconds := aai.ToFloat64(t.AudioDuration); seconds > 0 {
		result.Duration = time.Duration(seconds) * time.Second
	}

	for _, u := range t.Utterances {
		start := msToSeconds(aai.ToInt64(u.Start))
		end := msToSeconds(aai.ToInt64(u.End))
		result.Segments = append(result.Segments, transcript.TimeSegment{
			Start: start,
			End:   end,
			Text:  strings.TrimSpace(aai.ToString(u.Text)),
		})
		if speaker := aai.ToString(u.Speaker); speaker != "" {
			result.Turns = append(result.Turns, transcript.DiarizationTurn{
				Start:   start,
				End:     end,
				Speaker: speaker,
			})
		}
	}
	return result
}

func msToSeconds(ms int64) float64 {
	return float64(ms) / 1000
}
