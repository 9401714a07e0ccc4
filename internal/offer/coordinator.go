// Package offer drives a job through sequential, time-bounded offers until
// an agent accepts, the requester cancels, or the candidate pool is
// exhausted. Offers are strictly one-at-a-time per job: the single pending
// offer plus the per-agent assignment compare-and-set is what makes
// double-booking impossible, at the cost of a little matching latency.
package offer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/trip-dispatch/internal/config"
	"github.com/example/trip-dispatch/internal/eligibility"
	"github.com/example/trip-dispatch/internal/eta"
	"github.com/example/trip-dispatch/internal/fanout"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
)

var (
	// ErrOfferExpired: the agent answered after the decision window closed.
	ErrOfferExpired = errors.New("offer expired")
	// ErrJobNoLongerAvailable: the job was resolved by another path, or the
	// agent was never the active candidate. Surfaced to agents as "job
	// taken"; an expected outcome of sequential offers, not a failure.
	ErrJobNoLongerAvailable = errors.New("job no longer available")
)

// JobRegistry is the slice of the registry the coordinator needs.
type JobRegistry interface {
	Transition(jobID string, from []models.JobStatus, to models.JobStatus, actor string) (models.Job, error)
	Assign(jobID string, from []models.JobStatus, to models.JobStatus, agentID string) (models.Job, error)
}

// AgentAssigner is the per-agent compare-and-set on availability records.
type AgentAssigner interface {
	Assign(agentID, jobID string) error
	Release(agentID, jobID string)
}

// CandidateSource produces the ranked pool for a job at a given radius.
type CandidateSource interface {
	Candidates(job models.Job, radiusM float64) []eligibility.Candidate
}

// dispatch is the in-flight state for one searching job. All fields behind
// mu; the run loop, Respond, and Abort are the only writers.
type dispatch struct {
	jobID       string
	requesterID string
	cancel      context.CancelFunc

	mu      sync.Mutex
	pending *models.Offer                  // at most one at any time
	past    map[string]models.OfferOutcome // per-agent resolved outcomes, for late-answer classification
	done    chan models.OfferOutcome       // buffered 1; wakes the run loop
}

// signal hands the resolution to the run loop. Buffered so the resolver
// never blocks on the loop.
func (d *dispatch) signal(out models.OfferOutcome) {
	select {
	case d.done <- out:
	default:
	}
}

type Coordinator struct {
	cfg      config.DispatchConfig
	registry JobRegistry
	agents   AgentAssigner
	pool     CandidateSource
	eta      *eta.Service
	notify   fanout.Notifier
	logger   *slog.Logger

	mu         sync.Mutex
	dispatches map[string]*dispatch
	wg         sync.WaitGroup
	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewCoordinator(cfg config.DispatchConfig, reg JobRegistry, ag AgentAssigner, pool CandidateSource, estimates *eta.Service, notify fanout.Notifier, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:        cfg,
		registry:   reg,
		agents:     ag,
		pool:       pool,
		eta:        estimates,
		notify:     notify,
		logger:     logger,
		dispatches: make(map[string]*dispatch),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Dispatch moves a requested job into searching and starts its dispatch
// loop. The registry compare-and-set makes a duplicate Dispatch call lose
// with ErrStaleTransition.
func (c *Coordinator) Dispatch(job models.Job) error {
	j, err := c.registry.Transition(job.ID, []models.JobStatus{models.StatusRequested}, models.StatusSearching, models.ActorSystem)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(c.rootCtx)
	d := &dispatch{
		jobID:       j.ID,
		requesterID: j.RequesterID,
		cancel:      cancel,
		past:        make(map[string]models.OfferOutcome),
		done:        make(chan models.OfferOutcome, 1),
	}
	c.mu.Lock()
	c.dispatches[j.ID] = d
	c.mu.Unlock()
	observability.ActiveDispatches.Inc()
	c.publishStatus(j)

	c.wg.Add(1)
	go c.run(ctx, d, j)
	return nil
}

type loopOutcome int

const (
	advance loopOutcome = iota // declined or expired: next candidate
	settled                    // accepted: loop is finished
	aborted                    // cancelled or shutting down
)

func (c *Coordinator) run(ctx context.Context, d *dispatch, job models.Job) {
	defer func() {
		c.mu.Lock()
		delete(c.dispatches, d.jobID)
		c.mu.Unlock()
		observability.ActiveDispatches.Dec()
		c.wg.Done()
	}()

	radius := c.cfg.InitialRadiusM
	for scan := 0; ; scan++ {
		offered := make(map[string]bool)
		for {
			cands := c.pool.Candidates(job, radius)
			var next *eligibility.Candidate
			for i := range cands {
				if !offered[cands[i].AgentID] && !c.alreadyAnswered(d, cands[i].AgentID) {
					next = &cands[i]
					break
				}
			}
			if next == nil {
				break
			}
			offered[next.AgentID] = true
			out, j := c.offerTo(ctx, d, job, *next)
			switch out {
			case settled, aborted:
				return
			}
			job = j
		}
		if scan >= c.cfg.MaxRescans {
			break
		}
		radius *= c.cfg.RadiusGrowth
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RescanDelay):
		}
	}

	// Candidate pool exhausted across every widened scan.
	j, err := c.registry.Transition(d.jobID, []models.JobStatus{models.StatusSearching}, models.StatusCancelledNoAgent, models.ActorSystem)
	if err != nil {
		return // lost the race to a cancel; nothing left to do
	}
	observability.JobsTerminal.WithLabelValues(string(models.StatusCancelledNoAgent)).Inc()
	c.logger.Info("no agent found", "job_id", d.jobID)
	c.publishStatus(j)
}

// alreadyAnswered reports whether this agent has already resolved an offer
// for this job; they are not asked twice within one dispatch.
func (c *Coordinator) alreadyAnswered(d *dispatch, agentID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.past[agentID]
	return ok
}

// offerTo issues one offer and blocks until it resolves, the deadline
// passes, or the dispatch is torn down. Returns the refreshed job snapshot
// for the next iteration.
func (c *Coordinator) offerTo(ctx context.Context, d *dispatch, job models.Job, cand eligibility.Candidate) (loopOutcome, models.Job) {
	j, err := c.registry.Transition(d.jobID, []models.JobStatus{models.StatusSearching}, models.StatusOffered, models.ActorSystem)
	if err != nil {
		return aborted, job
	}
	now := time.Now()
	off := &models.Offer{
		ID:             uuid.NewString(),
		JobID:          d.jobID,
		AgentID:        cand.AgentID,
		IssuedAt:       now,
		Deadline:       now.Add(c.cfg.OfferWindow),
		Outcome:        models.OfferPending,
		DistanceMeters: cand.DistanceMeters,
		EtaSeconds:     c.eta.Estimate(cand.Position, job.Origin),
	}
	d.mu.Lock()
	d.pending = off
	d.mu.Unlock()

	observability.OffersIssued.Inc()
	ev := models.Event{Kind: models.EventOfferIssued, JobID: d.jobID, AgentID: cand.AgentID, At: now, Offer: off, Job: &j}
	c.notify.NotifyAgent(cand.AgentID, ev)
	c.notify.PublishObservability(ev)
	c.logger.Info("offer issued", "job_id", d.jobID, "agent_id", cand.AgentID, "deadline", off.Deadline)

	timer := time.NewTimer(c.cfg.OfferWindow)
	defer timer.Stop()

	var out models.OfferOutcome
	select {
	case out = <-d.done:
	case <-timer.C:
		if c.expire(d, off) {
			out = models.OfferExpired
		} else {
			// An answer or a teardown beat the timer.
			select {
			case out = <-d.done:
			case <-ctx.Done():
				return aborted, j
			}
		}
	case <-ctx.Done():
		c.void(d)
		return aborted, j
	}

	switch out {
	case models.OfferAccepted:
		return settled, j
	default:
		// Declined and expired advance identically: put the job back into
		// searching for the next candidate.
		j2, err := c.registry.Transition(d.jobID, []models.JobStatus{models.StatusOffered}, models.StatusSearching, models.ActorSystem)
		if err != nil {
			return aborted, j
		}
		return advance, j2
	}
}

// expire resolves the pending offer as expired, if it is still this offer
// and still pending. A late accept afterwards gets ErrOfferExpired.
func (c *Coordinator) expire(d *dispatch, off *models.Offer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != off {
		return false
	}
	off.Outcome = models.OfferExpired
	d.past[off.AgentID] = models.OfferExpired
	d.pending = nil
	observability.OffersResolved.WithLabelValues(string(models.OfferExpired)).Inc()
	c.logger.Info("offer expired", "job_id", d.jobID, "agent_id", off.AgentID)
	return true
}

// void kills a pending offer during teardown. The agent is deliberately not
// recorded in past: a late accept should read as "job no longer available",
// the job was resolved by another path, not as an expired offer.
func (c *Coordinator) void(d *dispatch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		d.pending.Outcome = models.OfferExpired
		d.pending = nil
	}
}

// Respond resolves the pending offer with the agent's decision. Exactly one
// of {accept, decline, expire} wins for any offer; everything else gets a
// rejection the agent can act on.
func (c *Coordinator) Respond(jobID, agentID string, decision models.Decision) error {
	c.mu.Lock()
	d, ok := c.dispatches[jobID]
	c.mu.Unlock()
	if !ok {
		return ErrJobNoLongerAvailable
	}

	d.mu.Lock()
	off := d.pending
	if off == nil || off.AgentID != agentID {
		past, seen := d.past[agentID]
		d.mu.Unlock()
		if seen && past == models.OfferExpired {
			return ErrOfferExpired
		}
		return ErrJobNoLongerAvailable
	}
	if time.Now().After(off.Deadline) {
		// The answer lost to the deadline even though the timer goroutine
		// has not fired yet; resolve here so the loop advances immediately.
		off.Outcome = models.OfferExpired
		d.past[agentID] = models.OfferExpired
		d.pending = nil
		d.mu.Unlock()
		observability.OffersResolved.WithLabelValues(string(models.OfferExpired)).Inc()
		d.signal(models.OfferExpired)
		return ErrOfferExpired
	}

	if decision == models.DecisionDecline {
		off.Outcome = models.OfferDeclined
		d.past[agentID] = models.OfferDeclined
		d.pending = nil
		d.mu.Unlock()
		observability.OffersResolved.WithLabelValues(string(models.OfferDeclined)).Inc()
		observability.OfferDecisionLatency.Observe(time.Since(off.IssuedAt).Seconds())
		d.signal(models.OfferDeclined)
		return nil
	}

	// Accept. The agent record is claimed first: it is the arbiter of "one
	// active job per agent", so a concurrent accept elsewhere loses here.
	if err := c.agents.Assign(agentID, jobID); err != nil {
		off.Outcome = models.OfferDeclined
		d.past[agentID] = models.OfferDeclined
		d.pending = nil
		d.mu.Unlock()
		observability.OffersResolved.WithLabelValues(string(models.OfferDeclined)).Inc()
		d.signal(models.OfferDeclined)
		return ErrJobNoLongerAvailable
	}
	j, err := c.registry.Assign(jobID, []models.JobStatus{models.StatusSearching, models.StatusOffered}, models.StatusAccepted, agentID)
	if err != nil {
		// The requester's cancel won the race window. Free the agent again;
		// the dispatch teardown voids the offer.
		c.agents.Release(agentID, jobID)
		d.mu.Unlock()
		return ErrJobNoLongerAvailable
	}
	off.Outcome = models.OfferAccepted
	d.past[agentID] = models.OfferAccepted
	d.pending = nil
	d.mu.Unlock()

	observability.OffersResolved.WithLabelValues(string(models.OfferAccepted)).Inc()
	observability.OfferDecisionLatency.Observe(time.Since(off.IssuedAt).Seconds())
	d.signal(models.OfferAccepted)
	c.logger.Info("offer accepted", "job_id", jobID, "agent_id", agentID)
	c.publishStatus(j)
	c.notify.NotifyAgent(agentID, models.Event{Kind: models.EventJobStatusChanged, JobID: jobID, AgentID: agentID, At: time.Now(), Job: &j})
	return nil
}

// Abort tears down the dispatch loop after a requester cancellation has
// already won the registry compare-and-set. Safe to call when no loop runs.
func (c *Coordinator) Abort(jobID string) {
	c.mu.Lock()
	d, ok := c.dispatches[jobID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.void(d)
	d.cancel()
}

// PendingOffer exposes the live offer for a job, if any.
func (c *Coordinator) PendingOffer(jobID string) (models.Offer, bool) {
	c.mu.Lock()
	d, ok := c.dispatches[jobID]
	c.mu.Unlock()
	if !ok {
		return models.Offer{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return models.Offer{}, false
	}
	return *d.pending, true
}

// Shutdown stops every dispatch loop and waits for them, bounded by ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.rootCancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) publishStatus(j models.Job) {
	ev := models.Event{Kind: models.EventJobStatusChanged, JobID: j.ID, AgentID: j.AgentID, At: time.Now(), Job: &j}
	c.notify.NotifyRequester(j.RequesterID, ev)
	c.notify.PublishObservability(ev)
}
