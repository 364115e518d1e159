package worker

import (
	"sync"
	"time"
)

// State is the lifecycle state of a submitted job
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// JobStatus is a snapshot of one job
type JobStatus struct {
	ID        string    `json:"job_id"`
	State     State     `json:"status"`
	Error     string    `json:"error,omitempty"`
	Result    any       `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry tracks job status by id
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*JobStatus
	now  func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*JobStatus),
		now:  time.Now,
	}
}

// Queue records a new job in the queued state
func (r *Registry) Queue(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.jobs[id] = &JobStatus{ID: id, State: StateQueued, CreatedAt: now, UpdatedAt: now}
}

// Start marks a job as running
func (r *Registry) Start(id string) {
	r.update(id, func(s *JobStatus) {
		s.State = StateRunning
	})
}

// Complete marks a job as completed with its result
func (r *Registry) Complete(id string, result any) {
	r.update(id, func(s *JobStatus) {
		s.State = StateCompleted
		s.Result = result
	})
}

// Fail marks a job as failed
func (r *Registry) Fail(id string, err error) {
	r.update(id, func(s *JobStatus) {
		s.State = StateFailed
		if err != nil {
			s.Error = err.Error()
		}
	})
}

// Get returns a copy of the job status
func (r *Registry) Get(id string) (JobStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return *s, true
}

// Remove forgets a job
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Sweep evicts completed and failed jobs last updated more than ttl ago and returns how many were removed
func (r *Registry) Sweep(ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-ttl)
	removed := 0
	for id, s := range r.jobs {
		if (s.State == StateCompleted || s.State == StateFailed) && s.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Counts returns the number of jobs per state
func (r *Registry) Counts() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[State]int)
	for _, s := range r.jobs {
		counts[s.State]++
	}
	return counts
}

func (r *Registry) update(id string, fn func(*JobStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.jobs[id]
	if !ok {
		now := r.now()
		s = &JobStatus{ID: id, CreatedAt: now}
		r.jobs[id] = s
	}
	fn(s)
	s.UpdatedAt = r.now()
}
