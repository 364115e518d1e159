package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	beepwav "github.com/gopxl/beep/wav"
	"github.com/spf13/afero"
)

// ErrUnsupportedFormat is returned by decoders that do not handle a file's extension
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// commandRunner executes an external tool and returns its combined output
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// ProbeStrategy asks ffprobe for the container duration
type ProbeStrategy struct {
	path    string
	timeout time.Duration
	run     commandRunner
}

// NewProbeStrategy creates an ffprobe strategy bounded by timeout
func NewProbeStrategy(ffprobePath string, timeout time.Duration) *ProbeStrategy {
	return &ProbeStrategy{path: ffprobePath, timeout: timeout, run: runCommand}
}

// Name identifies the strategy in logs and metrics
func (p *ProbeStrategy) Name() string { return "ffprobe" }

// Duration runs ffprobe and parses the single-value duration output
func (p *ProbeStrategy) Duration(ctx context.Context, path string) (time.Duration, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	out, err := p.run(ctx, p.path,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe timed out: %w", ctx.Err())
		}
		return 0, fmt.Errorf("ffprobe command failed: %w", err)
	}

	value := strings.TrimSpace(string(out))
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", value, err)
	}
	return secondsToDuration(seconds)
}

// DecodeStrategy counts decoded samples with beep
type DecodeStrategy struct {
	fs afero.Fs
}

// NewDecodeStrategy creates a beep-backed decode strategy for mp3, wav and flac files on fsys
func NewDecodeStrategy(fsys afero.Fs) *DecodeStrategy {
	return &DecodeStrategy{fs: fsys}
}

// Name identifies the strategy in logs and metrics
func (d *DecodeStrategy) Name() string { return "decode" }

// Duration decodes the stream header and converts its sample count to time
func (d *DecodeStrategy) Duration(_ context.Context, path string) (time.Duration, error) {
	f, err := d.fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = beepwav.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decode audio: %w", err)
	}
	defer streamer.Close()

	if format.SampleRate <= 0 {
		return 0, fmt.Errorf("invalid sample rate %d", format.SampleRate)
	}
	return format.SampleRate.D(streamer.Len()), nil
}

// HeaderStrategy reads the duration recorded in a WAV header
type HeaderStrategy struct {
	fs afero.Fs
}

// NewHeaderStrategy creates a WAV metadata strategy for files on fsys
func NewHeaderStrategy(fsys afero.Fs) *HeaderStrategy {
	return &HeaderStrategy{fs: fsys}
}

// Name identifies the strategy in logs and metrics
func (h *HeaderStrategy) Name() string { return "header" }

// Duration validates the RIFF header and derives duration from its data chunk
func (h *HeaderStrategy) Duration(_ context.Context, path string) (time.Duration, error) {
	f, err := h.fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%w: not a valid wav file", ErrUnsupportedFormat)
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to read wav duration: %w", err)
	}
	return d, nil
}

var (
	progressTimePattern = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	headerTimePattern   = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// FullDecodeStrategy decodes the whole file through ffmpeg into the null muxer
type FullDecodeStrategy struct {
	path string
	run  commandRunner
}

// NewFullDecodeStrategy creates the last-resort ffmpeg strategy
func NewFullDecodeStrategy(ffmpegPath string) *FullDecodeStrategy {
	return &FullDecodeStrategy{path: ffmpegPath, run: runCommand}
}

// Name identifies the strategy in logs and metrics
func (f *FullDecodeStrategy) Name() string { return "full_decode" }

// Duration uses the last progress timestamp, falling back to the input header duration
func (f *FullDecodeStrategy) Duration(ctx context.Context, path string) (time.Duration, error) {
	out, err := f.run(ctx, f.path, "-hide_banner", "-nostdin", "-i", path, "-f", "null", "-")
	if err != nil && len(out) == 0 {
		return 0, fmt.Errorf("ffmpeg command failed: %w", err)
	}
	return parseDecodeOutput(string(out))
}

func parseDecodeOutput(output string) (time.Duration, error) {
	if matches := progressTimePattern.FindAllStringSubmatch(output, -1); len(matches) > 0 {
		last := matches[len(matches)-1]
		if d, err := clockToDuration(last[1], last[2], last[3]); err == nil && d > 0 {
			return d, nil
		}
	}
	if m := headerTimePattern.FindStringSubmatch(output); m != nil {
		return clockToDuration(m[1], m[2], m[3])
	}
	return 0, fmt.Errorf("no duration found in ffmpeg output")
}

func clockToDuration(h, m, s string) (time.Duration, error) {
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("invalid hours %q: %w", h, err)
	}
	minutes, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("invalid minutes %q: %w", m, err)
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid seconds %q: %w", s, err)
	}
	return secondsToDuration(float64(hours*3600+minutes*60) + seconds)
}
