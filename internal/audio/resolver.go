package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Strategy measures the duration of an audio file one particular way
type Strategy interface {
	Name() string
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Resolver tries each strategy in order and keeps the first positive duration
type Resolver struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewResolver creates a resolver over an explicit strategy chain
func NewResolver(logger *zap.Logger, strategies ...Strategy) *Resolver {
	return &Resolver{
		strategies: strategies,
		logger:     logger,
	}
}

// NewDefaultResolver creates the standard chain: ffprobe, beep decode, WAV header, ffmpeg full decode.
// The decoders read through fsys; ffprobe and ffmpeg only see files on the OS filesystem.
func NewDefaultResolver(logger *zap.Logger, fsys afero.Fs, ffprobePath, ffmpegPath string, probeTimeout time.Duration) *Resolver {
	return NewResolver(logger,
		NewProbeStrategy(ffprobePath, probeTimeout),
		NewDecodeStrategy(fsys),
		NewHeaderStrategy(fsys),
		NewFullDecodeStrategy(ffmpegPath),
	)
}

// Resolve returns the duration of the file at path, or false when every strategy failed
func (r *Resolver) Resolve(ctx context.Context, path string) (time.Duration, bool) {
	d, _, ok := r.ResolveWithSource(ctx, path)
	return d, ok
}

// ResolveWithSource is Resolve that also names the strategy that produced the value
func (r *Resolver) ResolveWithSource(ctx context.Context, path string) (time.Duration, string, bool) {
	for _, s := range r.strategies {
		if ctx.Err() != nil {
			break
		}

		d, err := s.Duration(ctx, path)
		if err != nil {
			r.logger.Debug("duration strategy failed",
				zap.String("strategy", s.Name()),
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		if d <= 0 {
			r.logger.Debug("duration strategy returned non-positive value",
				zap.String("strategy", s.Name()),
				zap.Duration("duration", d))
			continue
		}

		r.logger.Info("audio duration resolved",
			zap.String("strategy", s.Name()),
			zap.String("path", path),
			zap.Duration("duration", d))
		return d, s.Name(), true
	}

	r.logger.Warn("could not determine audio duration", zap.String("path", path))
	return 0, "", false
}

// secondsToDuration converts fractional seconds reported by tools
func secondsToDuration(seconds float64) (time.Duration, error) {
	if seconds <= 0 {
		return 0, fmt.Errorf("non-positive duration %.3fs", seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
