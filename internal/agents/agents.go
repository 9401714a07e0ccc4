// Package agents tracks availability records: who is online, what they can
// do, and which job currently holds them. Assignment is a per-agent
// compare-and-set so an agent accepting two offers concurrently can win at
// most one.
package agents

import (
	"errors"
	"sync"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
)

// ErrAgentBusy means the agent already holds a job; the losing accept is
// surfaced upstream as job-no-longer-available.
var ErrAgentBusy = errors.New("agent already assigned")

type record struct {
	mu    sync.Mutex
	agent models.Agent
}

type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

func NewStore() *Store {
	return &Store{records: make(map[string]*record)}
}

// Upsert creates or updates the agent-controlled fields of a record. The
// current job id is never touched here; only Assign and Release move it.
func (s *Store) Upsert(id string, online bool, caps []models.ServiceKind, rating float64) models.Agent {
	rec := s.record(id)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	wasOnline := rec.agent.Online
	rec.agent.Online = online
	if caps != nil {
		rec.agent.Capabilities = append([]models.ServiceKind(nil), caps...)
	}
	if rating > 0 {
		rec.agent.Rating = rating
	}
	if online && !wasOnline {
		observability.AgentsOnline.Inc()
	} else if !online && wasOnline {
		observability.AgentsOnline.Dec()
	}
	return rec.agent
}

// Assign sets the agent's current job, succeeding only when the agent is
// free. This is the arbiter of "at most one active job per agent".
func (s *Store) Assign(agentID, jobID string) error {
	rec := s.record(agentID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.agent.CurrentJobID != "" {
		return ErrAgentBusy
	}
	rec.agent.CurrentJobID = jobID
	return nil
}

// Release clears the current job, but only if the agent still holds jobID.
// A stale release (job already handed elsewhere) is a no-op.
func (s *Store) Release(agentID, jobID string) {
	rec := s.record(agentID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.agent.CurrentJobID == jobID {
		rec.agent.CurrentJobID = ""
	}
}

func (s *Store) Get(agentID string) (models.Agent, bool) {
	s.mu.RLock()
	rec, ok := s.records[agentID]
	s.mu.RUnlock()
	if !ok {
		return models.Agent{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.agent, true
}

// Snapshot returns a copy of every record for eligibility scans.
func (s *Store) Snapshot() []models.Agent {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.RUnlock()
	out := make([]models.Agent, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		out = append(out, r.agent)
		r.mu.Unlock()
	}
	return out
}

func (s *Store) record(id string) *record {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if ok {
		return rec
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok = s.records[id]; ok {
		return rec
	}
	rec = &record{agent: models.Agent{ID: id}}
	s.records[id] = rec
	return rec
}
