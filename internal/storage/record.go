package storage

import (
	"encoding/json"
	"errors"
	"time"

	"protocolmaker/internal/transcript"
)

var (
	// ErrNotFound is returned when a record or protocol type does not exist
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when saving a record under an id already in use
	ErrExists = errors.New("record already exists")
)

// Status is the lifecycle state of a protocol record
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ProtocolRecord is an immutable, persisted protocol generation result
type ProtocolRecord struct {
	ID           string                   `json:"id"`
	Status       Status                   `json:"status"`
	Content      string                   `json:"content"`
	Transcript   string                   `json:"transcript"`
	Participants []transcript.Participant `json:"participants"`
	ProtocolType string                   `json:"protocol_type"`
	Duration     string                   `json:"duration"`
	DurationMS   int64                    `json:"duration_ms"`
	Error        string                   `json:"error,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// Summary is the list view of a completed record
type Summary struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	ProtocolType string    `json:"protocol_type"`
	MeetingTitle string    `json:"meeting_title,omitempty"`
	Duration     string    `json:"duration"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// MeetingTitle extracts metadata.meeting_title when the content is a JSON document
func (r *ProtocolRecord) MeetingTitle() string {
	var doc struct {
		Metadata struct {
			MeetingTitle string `json:"meeting_title"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal([]byte(r.Content), &doc); err != nil {
		return ""
	}
	return doc.Metadata.MeetingTitle
}

// Summary builds the list view of the record
func (r *ProtocolRecord) Summary() Summary {
	return Summary{
		ID:           r.ID,
		Status:       r.Status,
		ProtocolType: r.ProtocolType,
		MeetingTitle: r.MeetingTitle(),
		Duration:     r.Duration,
		Participants: len(r.Participants),
		CreatedAt:    r.CreatedAt,
	}
}
