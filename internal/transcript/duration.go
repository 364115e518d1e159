package transcript

import (
	"fmt"
	"regexp"
	"time"
)

const (
	// DurationPrefix opens the single duration annotation line of a document
	DurationPrefix = "Длительность: "
	// UnknownDuration is rendered when no duration source produced a value
	UnknownDuration = "Неизвестно"
)

var (
	durationLinePattern  = regexp.MustCompile(`(?m)^Длительность:[^\n]*$`)
	durationStripPattern = regexp.MustCompile(`(?m)^Длительность:[^\n]*(\n|$)`)
)

// FormatDuration renders a duration the way meeting documents show it.
// Seconds are only kept in the minutes bucket, and only when they reach 30.
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms <= 0 {
		return UnknownDuration
	}

	totalSeconds := ms / 1000
	if totalSeconds == 0 {
		return fmt.Sprintf("%d мс", ms)
	}

	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	switch {
	case hours > 0:
		if minutes > 0 {
			return fmt.Sprintf("%d ч %d мин", hours, minutes)
		}
		return fmt.Sprintf("%d ч", hours)
	case minutes > 0:
		if seconds >= 30 {
			return fmt.Sprintf("%d мин %d сек", minutes, seconds)
		}
		return fmt.Sprintf("%d мин", minutes)
	default:
		return fmt.Sprintf("%d сек", seconds)
	}
}

// DurationSource names where a reconciled duration came from
type DurationSource string

const (
	SourceFile          DurationSource = "file"
	SourceAPI           DurationSource = "api"
	SourceLastUtterance DurationSource = "last_utterance"
	SourceNone          DurationSource = "none"
)

// Candidates holds the duration values reported by each source. Non-positive means absent.
type Candidates struct {
	FromFile             time.Duration
	FromAPI              time.Duration
	FromLastUtteranceEnd time.Duration
}

// Select returns the first present candidate in priority order: file, api, last utterance
func (c Candidates) Select() (time.Duration, DurationSource, bool) {
	switch {
	case c.FromFile > 0:
		return c.FromFile, SourceFile, true
	case c.FromAPI > 0:
		return c.FromAPI, SourceAPI, true
	case c.FromLastUtteranceEnd > 0:
		return c.FromLastUtteranceEnd, SourceLastUtterance, true
	}
	return 0, SourceNone, false
}

// Reconcile rewrites the document's duration line with the winning candidate.
// A document without a duration line is returned unchanged.
func Reconcile(document string, c Candidates) string {
	d, _, _ := c.Select()
	line := DurationPrefix + FormatDuration(d)

	loc := durationLinePattern.FindStringIndex(document)
	if loc == nil {
		return document
	}
	return document[:loc[0]] + line + document[loc[1]:]
}

// StripDurationLine removes the duration line from a document
func StripDurationLine(document string) string {
	return durationStripPattern.ReplaceAllString(document, "")
}

// SecondsToDuration converts a segment timestamp to a time.Duration
func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
