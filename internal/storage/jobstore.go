package storage

import (
	"sync"

	"github.com/example/trip-dispatch/internal/models"
)

// JobStore archives job snapshots. The registry is the source of truth for
// live dispatch; the store is for receipts, review, and restarts, which is
// why writes are best effort from the registry's point of view.
type JobStore interface {
	SaveJob(j *models.Job) error
	UpdateJob(j *models.Job) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (m *MemoryStore) SaveJob(j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *MemoryStore) UpdateJob(j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *MemoryStore) Get(id string) (*models.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}
