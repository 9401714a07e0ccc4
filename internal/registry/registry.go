// Package registry is the authoritative record of every job. All status
// changes funnel through one compare-and-set so two concurrent actors can
// never both think they own the same transition.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/trip-dispatch/internal/models"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrStaleTransition means the job was no longer in any of the expected
	// source statuses: the caller lost a race or retried a duplicate. The
	// caller refreshes and moves on; nothing is left half-applied.
	ErrStaleTransition = errors.New("stale transition")
)

// Archiver receives a snapshot of every applied transition. Best effort; an
// archiver failure never rolls back an in-memory transition.
type Archiver interface {
	SaveJob(j *models.Job) error
	UpdateJob(j *models.Job) error
}

type entry struct {
	mu  sync.Mutex
	job models.Job
}

// Registry holds jobs behind per-job locks. Two different jobs never
// serialize against each other; the outer map lock is held only for lookup.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]*entry
	archive Archiver
	now     func() time.Time
}

func New(archive Archiver) *Registry {
	return &Registry{jobs: make(map[string]*entry), archive: archive, now: time.Now}
}

// Create registers a job in status requested and writes the first history
// entry. The requester is the acting party.
func (r *Registry) Create(kind models.ServiceKind, requesterID string, origin, dest models.Coord) models.Job {
	now := r.now()
	j := models.Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		RequesterID: requesterID,
		Origin:      origin,
		Destination: dest,
		Status:      models.StatusRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
		History:     []models.HistoryEntry{{Status: models.StatusRequested, Actor: requesterID, At: now}},
	}
	e := &entry{job: j}
	r.mu.Lock()
	r.jobs[j.ID] = e
	r.mu.Unlock()
	if r.archive != nil {
		_ = r.archive.SaveJob(snapshot(&j))
	}
	return j
}

// Transition applies from -> to only if the job's current status is a member
// of from; otherwise ErrStaleTransition. The history entry is appended inside
// the same critical section, so history order is apply order.
func (r *Registry) Transition(jobID string, from []models.JobStatus, to models.JobStatus, actor string) (models.Job, error) {
	return r.apply(jobID, from, to, actor, "")
}

// Assign is Transition plus recording the assigned agent, in one critical
// section. Used only by the offer coordinator on acceptance.
func (r *Registry) Assign(jobID string, from []models.JobStatus, to models.JobStatus, agentID string) (models.Job, error) {
	return r.apply(jobID, from, to, agentID, agentID)
}

func (r *Registry) apply(jobID string, from []models.JobStatus, to models.JobStatus, actor, assignAgent string) (models.Job, error) {
	e, err := r.entry(jobID)
	if err != nil {
		return models.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status.Terminal() || !statusIn(e.job.Status, from) {
		return models.Job{}, ErrStaleTransition
	}
	now := r.now()
	e.job.Status = to
	e.job.UpdatedAt = now
	if assignAgent != "" {
		e.job.AgentID = assignAgent
		e.job.AssignedAt = now
	}
	e.job.History = append(e.job.History, models.HistoryEntry{Status: to, Actor: actor, At: now})

	snap := *snapshot(&e.job)
	if r.archive != nil {
		_ = r.archive.UpdateJob(&snap)
	}
	return snap, nil
}

func (r *Registry) Get(jobID string) (models.Job, error) {
	e, err := r.entry(jobID)
	if err != nil {
		return models.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *snapshot(&e.job), nil
}

func (r *Registry) entry(jobID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func statusIn(s models.JobStatus, set []models.JobStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// snapshot copies the job so callers never share the registry's history
// backing array.
func snapshot(j *models.Job) *models.Job {
	cp := *j
	cp.History = append([]models.HistoryEntry(nil), j.History...)
	return &cp
}
