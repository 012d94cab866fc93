package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the most recent jobs in process memory
type MemoryStore struct {
	jobs    map[string]*Job
	order   []string
	maxJobs int
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
}

// NewMemoryStore creates a store holding at most maxJobs jobs for ttl each.
// Zero values disable the respective limit.
func NewMemoryStore(maxJobs int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*Job),
		maxJobs: maxJobs,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Save stores a job, dropping expired jobs and evicting the oldest when full
func (m *MemoryStore) Save(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep()

	if _, exists := m.jobs[job.ID]; !exists {
		m.order = append(m.order, job.ID)
	}
	m.jobs[job.ID] = job

	for m.maxJobs > 0 && len(m.order) > m.maxJobs {
		delete(m.jobs, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

// Get returns a job by ID
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if m.expired(job) {
		m.remove(id)
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (m *MemoryStore) expired(job *Job) bool {
	return m.ttl > 0 && m.now().Sub(job.CreatedAt) > m.ttl
}

// sweep drops expired jobs. Callers hold mu.
func (m *MemoryStore) sweep() {
	if m.ttl <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if m.expired(m.jobs[id]) {
			delete(m.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (m *MemoryStore) remove(id string) {
	delete(m.jobs, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}
