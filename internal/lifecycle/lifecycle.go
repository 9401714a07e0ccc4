// Package lifecycle validates and applies status transitions for jobs after
// acceptance, and owns every cancellation path. Each step is one registry
// compare-and-set keyed on the acting party, so a duplicate or out-of-order
// request loses cleanly instead of corrupting state.
package lifecycle

import (
	"log/slog"
	"time"

	"github.com/example/trip-dispatch/internal/fanout"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
	"github.com/example/trip-dispatch/internal/registry"
)

// JobRegistry is the slice of the registry the machine needs.
type JobRegistry interface {
	Get(jobID string) (models.Job, error)
	Transition(jobID string, from []models.JobStatus, to models.JobStatus, actor string) (models.Job, error)
}

// AgentReleaser frees an agent when its job reaches a terminal status.
type AgentReleaser interface {
	Release(agentID, jobID string)
}

// DispatchAborter tears down a live dispatch loop after a cancellation wins.
type DispatchAborter interface {
	Abort(jobID string)
}

// predecessor maps each forward status to the only status it may follow.
// The shape is shared across ride, food, and parcel jobs.
var predecessor = map[models.JobStatus]models.JobStatus{
	models.StatusEnRouteToOrigin: models.StatusAccepted,
	models.StatusArrivedAtOrigin: models.StatusEnRouteToOrigin,
	models.StatusInProgress:      models.StatusArrivedAtOrigin,
	models.StatusCompleted:       models.StatusInProgress,
}

// requesterCancellable lists statuses a requester may leave with a bare
// cancel. Past in_progress the ride/delivery is underway and cancellation
// needs the explicit override flag.
var requesterCancellable = []models.JobStatus{
	models.StatusRequested, models.StatusSearching, models.StatusOffered,
	models.StatusAccepted, models.StatusEnRouteToOrigin, models.StatusArrivedAtOrigin,
}

// agentCancellable lists statuses the assigned agent may cancel from.
var agentCancellable = []models.JobStatus{
	models.StatusAccepted, models.StatusEnRouteToOrigin,
	models.StatusArrivedAtOrigin, models.StatusInProgress,
}

type Machine struct {
	registry JobRegistry
	agents   AgentReleaser
	dispatch DispatchAborter
	notify   fanout.Notifier
	logger   *slog.Logger
}

func NewMachine(reg JobRegistry, agents AgentReleaser, dispatch DispatchAborter, notify fanout.Notifier, logger *slog.Logger) *Machine {
	return &Machine{registry: reg, agents: agents, dispatch: dispatch, notify: notify, logger: logger}
}

// Advance moves an accepted job one step forward. Only the assigned agent
// may advance, and only along the forward chain; anything else is a stale
// transition.
func (m *Machine) Advance(jobID, agentID string, to models.JobStatus) (models.Job, error) {
	j, err := m.registry.Get(jobID)
	if err != nil {
		return models.Job{}, err
	}
	from, ok := predecessor[to]
	if !ok || j.AgentID != agentID {
		return models.Job{}, registry.ErrStaleTransition
	}
	j, err = m.registry.Transition(jobID, []models.JobStatus{from}, to, agentID)
	if err != nil {
		return models.Job{}, err
	}
	if to == models.StatusCompleted {
		m.agents.Release(agentID, jobID)
		observability.JobsTerminal.WithLabelValues(string(models.StatusCompleted)).Inc()
		m.logger.Info("job completed", "job_id", jobID, "agent_id", agentID)
	}
	m.publish(j)
	return j, nil
}

// Cancel applies a requester- or agent-initiated cancellation. The registry
// compare-and-set decides any race against a concurrent accept; the loser of
// that race gets ErrStaleTransition here or ErrJobNoLongerAvailable on the
// accept side, never a silently lost update.
func (m *Machine) Cancel(jobID, actorID, reason string, override bool) (models.Job, error) {
	j, err := m.registry.Get(jobID)
	if err != nil {
		return models.Job{}, err
	}

	var target models.JobStatus
	var from []models.JobStatus
	switch {
	case actorID == j.RequesterID:
		target = models.StatusCancelledRequester
		from = requesterCancellable
		if override {
			from = append(append([]models.JobStatus(nil), from...), models.StatusInProgress)
		}
	case j.AgentID != "" && actorID == j.AgentID:
		target = models.StatusCancelledAgent
		from = agentCancellable
	default:
		return models.Job{}, registry.ErrStaleTransition
	}

	j, err = m.registry.Transition(jobID, from, target, actorID)
	if err != nil {
		return models.Job{}, err
	}
	if j.AgentID != "" {
		m.agents.Release(j.AgentID, jobID)
	}
	// Stop a dispatch loop if one is still searching or holding an offer.
	m.dispatch.Abort(jobID)
	observability.JobsTerminal.WithLabelValues(string(target)).Inc()
	m.logger.Info("job cancelled", "job_id", jobID, "actor", actorID, "reason", reason)
	m.publish(j)
	return j, nil
}

func (m *Machine) publish(j models.Job) {
	ev := models.Event{Kind: models.EventJobStatusChanged, JobID: j.ID, AgentID: j.AgentID, At: time.Now(), Job: &j}
	m.notify.NotifyRequester(j.RequesterID, ev)
	if j.AgentID != "" {
		m.notify.NotifyAgent(j.AgentID, ev)
	}
	m.notify.PublishObservability(ev)
}
