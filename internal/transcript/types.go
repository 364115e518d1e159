package transcript

import (
	"errors"
	"fmt"
)

// UnknownSpeaker is assigned to segments that no diarization turn overlaps
const UnknownSpeaker = "UNKNOWN"

// ErrNoTranscript is returned when a job produced no transcript content at all
var ErrNoTranscript = errors.New("no transcript generated")

// TimeSegment is a span of recognized speech, in seconds
type TimeSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Duration returns the segment length in seconds
func (s TimeSegment) Duration() float64 {
	return s.End - s.Start
}

// DiarizationTurn is a span of audio attributed to an anonymous speaker label
type DiarizationTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// AlignedSegment is a recognized segment tagged with the speaker that overlaps it most
type AlignedSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker"`
	Confidence float64 `json:"confidence"`
}

// Validate checks if the AlignedSegment has valid values
func (s *AlignedSegment) Validate() error {
	if s.Text == "" {
		return fmt.Errorf("text cannot be empty")
	}

	if s.Start < 0 {
		return fmt.Errorf("start cannot be negative")
	}

	if s.End < s.Start {
		return fmt.Errorf("end must not precede start")
	}

	if s.Speaker == "" {
		return fmt.Errorf("speaker cannot be empty")
	}

	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0")
	}

	return nil
}

// LabelMapping maps diarization labels to participant display names
type LabelMapping map[string]string

// Participant is a meeting attendee as supplied by the client
type Participant struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

// Names returns participant display names in input order
func Names(participants []Participant) []string {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.Name == "" {
			names = append(names, "Unknown")
			continue
		}
		names = append(names, p.Name)
	}
	return names
}
