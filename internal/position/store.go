package position

import (
	"sync"
	"time"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
)

// Store serves the latest known position per agent. Update is fire-and-forget
// and never participates in job or agent locking.
type Store interface {
	// Update applies a sample last-write-wins by RecordedAt. It reports
	// whether the sample was stored (false: an equal-or-newer sample was
	// already present).
	Update(s models.PositionSample) bool
	// Latest returns the stored sample, or false when the agent has never
	// reported or the sample is older than the staleness window. Callers
	// treat false as "position unknown", never as zero distance.
	Latest(agentID string) (models.PositionSample, bool)
}

// MemoryStore is the authoritative in-process store: one sample per agent
// under an RWMutex, sized for high-frequency overwrites.
type MemoryStore struct {
	mu        sync.RWMutex
	samples   map[string]models.PositionSample
	staleness time.Duration
	now       func() time.Time
}

func NewMemoryStore(staleness time.Duration) *MemoryStore {
	return &MemoryStore{
		samples:   make(map[string]models.PositionSample),
		staleness: staleness,
		now:       time.Now,
	}
}

func (m *MemoryStore) Update(s models.PositionSample) bool {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.samples[s.AgentID]; ok && !s.RecordedAt.After(prev.RecordedAt) {
		observability.PositionRejected.Inc()
		return false
	}
	m.samples[s.AgentID] = s
	observability.PositionUpdates.Inc()
	return true
}

func (m *MemoryStore) Latest(agentID string) (models.PositionSample, bool) {
	m.mu.RLock()
	s, ok := m.samples[agentID]
	m.mu.RUnlock()
	if !ok {
		return models.PositionSample{}, false
	}
	if m.now().Sub(s.RecordedAt) > m.staleness {
		return models.PositionSample{}, false
	}
	return s, true
}
