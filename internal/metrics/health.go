package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// MaxConsecutiveFailures is the number of failed jobs in a row after which the service reports unhealthy
const MaxConsecutiveFailures = 5

// StaleAfter is how old a health file may be before the health check fails
const StaleAfter = 90 * time.Second

// Health tracks the liveness of the job pipeline
type Health struct {
	mu                  sync.RWMutex
	startedAt           time.Time
	lastJobTime         time.Time
	serverActive        bool
	totalJobs           int64
	failedJobs          int64
	consecutiveFailures int
	queueDepth          int
	jobStates           map[string]int
	averageLatencyMS    float64
	now                 func() time.Time
}

// HealthStatus is a point-in-time view of Health
type HealthStatus struct {
	Timestamp           string         `json:"health_check_timestamp"`
	Healthy             bool           `json:"healthy"`
	ServerActive        bool           `json:"server_active"`
	UptimeSeconds       float64        `json:"uptime_seconds"`
	LastJobTime         string         `json:"last_job_time,omitempty"`
	TotalJobs           int64          `json:"total_jobs"`
	FailedJobs          int64          `json:"failed_jobs"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	QueueDepth          int            `json:"queue_depth"`
	JobStates           map[string]int `json:"job_states,omitempty"`
	AverageLatencyMS    float64        `json:"average_latency_ms"`
}

// NewHealth creates a tracker with the clock started now
func NewHealth() *Health {
	return &Health{startedAt: time.Now(), now: time.Now}
}

// SetServerActive records whether the HTTP server is serving
func (h *Health) SetServerActive(active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.serverActive = active
}

// SetQueueDepth records the current job queue length
func (h *Health) SetQueueDepth(depth int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queueDepth = depth
}

// SetJobStates records how many tracked jobs are in each state
func (h *Health) SetJobStates(states map[string]int) {
	copied := make(map[string]int, len(states))
	for state, n := range states {
		copied[state] = n
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobStates = copied
}

// RecordJob records a finished job and its processing latency
func (h *Health) RecordJob(latency time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastJobTime = h.now()
	h.totalJobs++
	if err != nil {
		h.failedJobs++
		h.consecutiveFailures++
	} else {
		h.consecutiveFailures = 0
	}

	// exponential moving average
	const alpha = 0.1
	latencyMS := float64(latency.Milliseconds())
	if h.averageLatencyMS == 0 {
		h.averageLatencyMS = latencyMS
	} else {
		h.averageLatencyMS = alpha*latencyMS + (1-alpha)*h.averageLatencyMS
	}
}

// Snapshot returns the current status
func (h *Health) Snapshot() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	status := HealthStatus{
		Timestamp:           now.Format(time.RFC3339),
		ServerActive:        h.serverActive,
		UptimeSeconds:       now.Sub(h.startedAt).Seconds(),
		TotalJobs:           h.totalJobs,
		FailedJobs:          h.failedJobs,
		ConsecutiveFailures: h.consecutiveFailures,
		QueueDepth:          h.queueDepth,
		AverageLatencyMS:    h.averageLatencyMS,
	}
	if len(h.jobStates) > 0 {
		status.JobStates = make(map[string]int, len(h.jobStates))
		for state, n := range h.jobStates {
			status.JobStates[state] = n
		}
	}
	if !h.lastJobTime.IsZero() {
		status.LastJobTime = h.lastJobTime.Format(time.RFC3339)
	}
	status.Healthy = h.serverActive && h.consecutiveFailures < MaxConsecutiveFailures
	return status
}

// WriteFile writes the snapshot to path atomically
func (h *Health) WriteFile(fsys afero.Fs, path string) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create health file directory: %w", err)
	}

	data, err := json.MarshalIndent(h.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal health status: %w", err)
	}

	tempFile := path + ".tmp"
	if err := afero.WriteFile(fsys, tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write health file: %w", err)
	}
	if err := fsys.Rename(tempFile, path); err != nil {
		return fmt.Errorf("failed to rename health file: %w", err)
	}
	return nil
}

// CheckFile validates a health file written by WriteFile
func CheckFile(fsys afero.Fs, path string, now time.Time) error {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("health file not found: %w", err)
	}

	var status struct {
		Timestamp string `json:"health_check_timestamp"`
		Healthy   *bool  `json:"healthy"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("invalid health file format: %w", err)
	}
	if status.Timestamp == "" || status.Healthy == nil {
		return errors.New("invalid health file format: missing fields")
	}

	ts, err := time.Parse(time.RFC3339, status.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid health check timestamp: %w", err)
	}
	if age := now.Sub(ts); age > StaleAfter {
		return fmt.Errorf("health status is stale (age: %s)", age.Round(time.Second))
	}
	if !*status.Healthy {
		return errors.New("system reported unhealthy status")
	}
	return nil
}
