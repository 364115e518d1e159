package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWAV writes a silent 16-bit mono PCM file of the given length to fsys
func writeTestWAV(t *testing.T, fsys afero.Fs, sampleRate int, length time.Duration) string {
	t.Helper()

	samples := int(float64(sampleRate) * length.Seconds())
	dataSize := samples * 2

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))

	path := "/uploads/meeting.wav"
	require.NoError(t, afero.WriteFile(fsys, path, buf.Bytes(), 0644))
	return path
}

func TestProbeStrategy(t *testing.T) {
	t.Run("should parse ffprobe seconds output", func(t *testing.T) {
		// Arrange
		var gotArgs []string
		s := NewProbeStrategy("ffprobe", time.Second)
		s.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = append([]string{name}, args...)
			return []byte("125.480000\n"), nil
		}

		// Act
		d, err := s.Duration(context.Background(), "/tmp/a.mp3")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 125480*time.Millisecond, d)
		assert.Equal(t, "ffprobe", gotArgs[0])
		assert.Contains(t, gotArgs, "format=duration")
		assert.Equal(t, "/tmp/a.mp3", gotArgs[len(gotArgs)-1])
	})

	t.Run("should fail on unparseable output", func(t *testing.T) {
		s := NewProbeStrategy("ffprobe", time.Second)
		s.run = func(context.Context, string, ...string) ([]byte, error) { return []byte("N/A"), nil }

		_, err := s.Duration(context.Background(), "a.mp3")

		assert.Error(t, err)
	})

	t.Run("should fail when the tool is missing", func(t *testing.T) {
		s := NewProbeStrategy("/nonexistent/ffprobe", time.Second)

		_, err := s.Duration(context.Background(), "a.mp3")

		assert.ErrorContains(t, err, "ffprobe command failed")
	})

	t.Run("should treat a deadline as a failed strategy", func(t *testing.T) {
		s := NewProbeStrategy("ffprobe", 10*time.Millisecond)
		s.run = func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}

		_, err := s.Duration(context.Background(), "a.mp3")

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestDecodeAndHeaderStrategies(t *testing.T) {
	fsys := afero.NewMemMapFs()
	path := writeTestWAV(t, fsys, 8000, 3*time.Second)

	t.Run("should decode wav sample count", func(t *testing.T) {
		d, err := NewDecodeStrategy(fsys).Duration(context.Background(), path)

		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, d)
	})

	t.Run("should read wav header duration", func(t *testing.T) {
		d, err := NewHeaderStrategy(fsys).Duration(context.Background(), path)

		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, d)
	})

	t.Run("should reject unknown extensions", func(t *testing.T) {
		other := "/uploads/meeting.m4a"
		require.NoError(t, afero.WriteFile(fsys, other, []byte("not audio"), 0644))

		_, err := NewDecodeStrategy(fsys).Duration(context.Background(), other)

		assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	})

	t.Run("should reject non-wav data in the header strategy", func(t *testing.T) {
		other := "/uploads/broken.wav"
		require.NoError(t, afero.WriteFile(fsys, other, []byte("definitely not riff data"), 0644))

		_, err := NewHeaderStrategy(fsys).Duration(context.Background(), other)

		assert.Error(t, err)
	})

	t.Run("should fail for files missing from the filesystem", func(t *testing.T) {
		_, err := NewDecodeStrategy(fsys).Duration(context.Background(), "/uploads/missing.wav")

		assert.ErrorContains(t, err, "failed to open audio file")
	})
}

func TestFullDecodeStrategy(t *testing.T) {
	t.Run("should prefer the last progress timestamp", func(t *testing.T) {
		s := NewFullDecodeStrategy("ffmpeg")
		s.run = func(context.Context, string, ...string) ([]byte, error) {
			return []byte("  Duration: 00:10:00.00, start: 0\n" +
				"size=N/A time=00:01:00.00 bitrate=N/A\r" +
				"size=N/A time=00:09:58.50 bitrate=N/A\n"), nil
		}

		d, err := s.Duration(context.Background(), "a.m4a")

		require.NoError(t, err)
		assert.Equal(t, 9*time.Minute+58500*time.Millisecond, d)
	})

	t.Run("should fall back to the header duration", func(t *testing.T) {
		d, err := parseDecodeOutput("Input #0\n  Duration: 01:02:03.25, start: 0.000000")

		require.NoError(t, err)
		assert.Equal(t, time.Hour+2*time.Minute+3250*time.Millisecond, d)
	})

	t.Run("should fail without any timing information", func(t *testing.T) {
		_, err := parseDecodeOutput("Invalid data found when processing input")

		assert.Error(t, err)
	})
}
