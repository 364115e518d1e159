package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected string
	}{
		{"zero is unknown", 0, "Неизвестно"},
		{"negative is unknown", -time.Second, "Неизвестно"},
		{"sub-second", 450 * time.Millisecond, "450 мс"},
		{"seconds only", 5 * time.Second, "5 сек"},
		{"minutes keep seconds at 30 or more", 95 * time.Second, "1 мин 35 сек"},
		{"minutes keep exactly 30 seconds", 90 * time.Second, "1 мин 30 сек"},
		{"minutes drop seconds under 30", 65 * time.Second, "1 мин"},
		{"hours with minutes drop seconds", 3925 * time.Second, "1 ч 5 мин"},
		{"whole hours", 2 * time.Hour, "2 ч"},
		{"hours without minutes drop seconds", time.Hour + 45*time.Second, "1 ч"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.input))
		})
	}
}

func TestCandidates_Select(t *testing.T) {
	t.Run("should prefer the file probe over the api value", func(t *testing.T) {
		d, src, ok := Candidates{FromFile: 5 * time.Second, FromAPI: 9999 * time.Millisecond}.Select()
		assert.True(t, ok)
		assert.Equal(t, 5*time.Second, d)
		assert.Equal(t, SourceFile, src)
	})

	t.Run("should fall back to the last utterance end", func(t *testing.T) {
		d, src, ok := Candidates{FromLastUtteranceEnd: 42 * time.Second}.Select()
		assert.True(t, ok)
		assert.Equal(t, 42*time.Second, d)
		assert.Equal(t, SourceLastUtterance, src)
	})

	t.Run("should report absence when nothing is positive", func(t *testing.T) {
		_, src, ok := Candidates{FromFile: -1, FromAPI: 0}.Select()
		assert.False(t, ok)
		assert.Equal(t, SourceNone, src)
	})
}

func TestReconcile(t *testing.T) {
	doc := Header + "\nЯзык: ru\nДлительность: Неизвестно\n\n[00:00 - 00:05] A: привет\n"

	t.Run("should render the winning candidate by priority", func(t *testing.T) {
		// Act
		out := Reconcile(doc, Candidates{FromFile: 5000 * time.Millisecond, FromAPI: 9999 * time.Millisecond})

		// Assert
		assert.Contains(t, out, "\nДлительность: 5 сек\n")
		assert.NotContains(t, out, UnknownDuration)
	})

	t.Run("should be idempotent", func(t *testing.T) {
		c := Candidates{FromAPI: 95 * time.Second}

		once := Reconcile(doc, c)
		twice := Reconcile(once, c)

		assert.Equal(t, once, twice)
		assert.Equal(t, 1, strings.Count(twice, "Длительность:"))
	})

	t.Run("should overwrite a previously reconciled value", func(t *testing.T) {
		first := Reconcile(doc, Candidates{FromAPI: 95 * time.Second})

		second := Reconcile(first, Candidates{FromFile: 2 * time.Hour})

		assert.Contains(t, second, "Длительность: 2 ч\n")
		assert.NotContains(t, second, "1 мин 35 сек")
	})

	t.Run("should render unknown when no candidate is present", func(t *testing.T) {
		out := Reconcile(strings.Replace(doc, "Неизвестно", "3 мин", 1), Candidates{})
		assert.Contains(t, out, "Длительность: Неизвестно")
	})

	t.Run("should not insert a duration line", func(t *testing.T) {
		bare := Header + "\n\n[00:00 - 00:05] A: привет\n"

		out := Reconcile(bare, Candidates{FromFile: time.Minute})

		assert.Equal(t, bare, out)
	})

	t.Run("should leave speech lines mentioning duration untouched", func(t *testing.T) {
		withSpeech := doc + "[00:05 - 00:09] B: Длительность: долго\n"

		out := Reconcile(withSpeech, Candidates{FromFile: time.Minute})

		assert.Contains(t, out, "B: Длительность: долго")
		assert.Contains(t, out, "\nДлительность: 1 мин\n")
	})
}

func TestStripDurationLine(t *testing.T) {
	doc := Header + "\nДлительность: 5 сек\nУчастники: Иван\n"

	out := StripDurationLine(doc)

	assert.Equal(t, Header+"\nУчастники: Иван\n", out)
	assert.Equal(t, out, StripDurationLine(out))
}
