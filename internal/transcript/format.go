package transcript

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Header is the first line of every rendered document
const Header = "СТЕНОГРАММА ВСТРЕЧИ"

const (
	processedPrefix    = "Дата обработки: "
	languagePrefix     = "Язык: "
	participantsPrefix = "Участники: "
	processedLayout    = "2006-01-02 15:04:05"
)

var segmentLinePattern = regexp.MustCompile(`^\s*(?:\d+\.\s*)?\[(\d+):(\d{2})\s*-\s*(\d+):(\d{2})\]\s?(.*)$`)

// Meta carries the optional header lines of a rendered document
type Meta struct {
	ProcessedAt  time.Time
	Language     string
	Participants []string
	// DurationSlot reserves the duration line. Its value is owned by Reconcile.
	DurationSlot bool
}

// Render produces the canonical document for a set of aligned segments.
// Timestamps are truncated to whole seconds.
func Render(segments []AlignedSegment, meta Meta) string {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')

	if !meta.ProcessedAt.IsZero() {
		b.WriteString(processedPrefix + meta.ProcessedAt.Format(processedLayout) + "\n")
	}
	if meta.Language != "" {
		b.WriteString(languagePrefix + meta.Language + "\n")
	}
	if meta.DurationSlot {
		b.WriteString(DurationPrefix + UnknownDuration + "\n")
	}
	if len(meta.Participants) > 0 {
		b.WriteString(participantsPrefix + strings.Join(meta.Participants, ", ") + "\n")
	}

	ordered := make([]AlignedSegment, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s.Text) == "" || s.End <= s.Start {
			continue
		}
		ordered = append(ordered, s)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	if len(ordered) > 0 {
		b.WriteByte('\n')
	}
	for _, s := range ordered {
		fmt.Fprintf(&b, "[%s - %s] %s: %s\n",
			Timestamp(s.Start), Timestamp(s.End), s.Speaker, flattenLine(s.Text))
	}

	return b.String()
}

// Timestamp renders seconds as zero-padded mm:ss, discarding the fraction
func Timestamp(seconds float64) string {
	t := int64(math.Floor(seconds))
	if t < 0 {
		t = 0
	}
	return fmt.Sprintf("%02d:%02d", t/60, t%60)
}

func flattenLine(text string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
}

// Parse reads timestamped lines back into segments with whole-second bounds.
// Text after the closing bracket is kept verbatim and other lines are ignored.
func Parse(document string) []TimeSegment {
	var segments []TimeSegment
	for _, line := range strings.Split(document, "\n") {
		line = strings.TrimSuffix(line, "\r")
		m := segmentLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		segments = append(segments, TimeSegment{
			Start: float64(clockSeconds(m[1], m[2])),
			End:   float64(clockSeconds(m[3], m[4])),
			Text:  m[5],
		})
	}
	return segments
}

func clockSeconds(minutes, seconds string) int64 {
	mm, _ := strconv.ParseInt(minutes, 10, 64)
	ss, _ := strconv.ParseInt(seconds, 10, 64)
	return mm*60 + ss
}

// SplitSpeaker separates a parsed line body into its speaker and spoken text
func SplitSpeaker(body string) (string, string) {
	idx := strings.Index(body, ": ")
	if idx < 0 {
		return "", body
	}
	return body[:idx], body[idx+2:]
}

// Labels lists the distinct speakers of a document in order of first appearance
func Labels(document string) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, seg := range Parse(document) {
		speaker, _ := SplitSpeaker(seg.Text)
		if speaker == "" || seen[speaker] {
			continue
		}
		seen[speaker] = true
		labels = append(labels, speaker)
	}
	return labels
}
