package offer

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/trip-dispatch/internal/agents"
	"github.com/example/trip-dispatch/internal/config"
	"github.com/example/trip-dispatch/internal/eligibility"
	"github.com/example/trip-dispatch/internal/eta"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/registry"
)

// fakePool serves a fixed candidate list, minus agents already engaged.
type fakePool struct {
	mu    sync.Mutex
	cands []eligibility.Candidate
	busy  func(agentID string) bool
	calls int
}

func (f *fakePool) Candidates(job models.Job, radiusM float64) []eligibility.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := []eligibility.Candidate{}
	for _, c := range f.cands {
		if f.busy != nil && f.busy(c.AgentID) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (f *fakePool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingNotifier records offer pushes so tests can assert on them.
type countingNotifier struct {
	mu           sync.Mutex
	offersIssued int
}

func (n *countingNotifier) NotifyAgent(agentID string, ev models.Event) {
	if ev.Kind == models.EventOfferIssued {
		n.mu.Lock()
		n.offersIssued++
		n.mu.Unlock()
	}
}
func (n *countingNotifier) NotifyRequester(string, models.Event) {}
func (n *countingNotifier) PublishObservability(models.Event)    {}

func (n *countingNotifier) issued() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.offersIssued
}

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{
		OfferWindow:     80 * time.Millisecond,
		InitialRadiusM:  2000,
		RadiusGrowth:    2,
		MaxRescans:      1,
		RescanDelay:     10 * time.Millisecond,
		StalenessWindow: time.Minute,
		AvgSpeedMps:     10,
		EtaFloorSec:     60,
	}
}

type fixture struct {
	reg    *registry.Registry
	agents *agents.Store
	pool   *fakePool
	notify *countingNotifier
	coord  *Coordinator
}

func newFixture(cfg config.DispatchConfig, cands ...eligibility.Candidate) *fixture {
	f := &fixture{
		reg:    registry.New(nil),
		agents: agents.NewStore(),
		pool:   &fakePool{cands: cands},
		notify: &countingNotifier{},
	}
	f.pool.busy = func(id string) bool {
		a, ok := f.agents.Get(id)
		return ok && a.CurrentJobID != ""
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	estimates := eta.NewService(nil, nil, cfg.AvgSpeedMps, cfg.EtaFloorSec)
	f.coord = NewCoordinator(cfg, f.reg, f.agents, f.pool, estimates, f.notify, logger)
	return f
}

func (f *fixture) newJob(t *testing.T) models.Job {
	t.Helper()
	j := f.reg.Create(models.ServiceRide, "rider1", models.Coord{}, models.Coord{Lat: 1})
	if err := f.coord.Dispatch(j); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return j
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func (f *fixture) waitForOfferTo(t *testing.T, jobID, agentID string) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool {
		off, ok := f.coord.PendingOffer(jobID)
		return ok && off.AgentID == agentID
	}, "offer to "+agentID)
}

func cand(id string, dist float64) eligibility.Candidate {
	return eligibility.Candidate{AgentID: id, Rating: 4.5, DistanceMeters: dist}
}

func TestAcceptAssignsAgentAndJob(t *testing.T) {
	f := newFixture(testConfig(), cand("A", 100))
	j := f.newJob(t)
	f.waitForOfferTo(t, j.ID, "A")

	if err := f.coord.Respond(j.ID, "A", models.DecisionAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, _ := f.reg.Get(j.ID)
	if got.Status != models.StatusAccepted || got.AgentID != "A" {
		t.Fatalf("job not accepted by A: %+v", got)
	}
	if a, _ := f.agents.Get("A"); a.CurrentJobID != j.ID {
		t.Fatalf("agent record not assigned: %+v", a)
	}
}

func TestDeclineAdvancesToNextCandidate(t *testing.T) {
	f := newFixture(testConfig(), cand("A", 100), cand("B", 200))
	j := f.newJob(t)
	f.waitForOfferTo(t, j.ID, "A")

	if err := f.coord.Respond(j.ID, "A", models.DecisionDecline); err != nil {
		t.Fatalf("decline: %v", err)
	}
	f.waitForOfferTo(t, j.ID, "B")
	if err := f.coord.Respond(j.ID, "B", models.DecisionAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, _ := f.reg.Get(j.ID)
	if got.AgentID != "B" {
		t.Fatalf("expected B assigned, got %q", got.AgentID)
	}
}

func TestExpiryAdvancesAndLateAcceptRejected(t *testing.T) {
	f := newFixture(testConfig(), cand("A", 100), cand("B", 200))
	j := f.newJob(t)
	f.waitForOfferTo(t, j.ID, "A")

	// Let A's decision window lapse; the loop must move on to B.
	f.waitForOfferTo(t, j.ID, "B")

	// A answers after expiry while B's offer is still pending.
	if err := f.coord.Respond(j.ID, "A", models.DecisionAccept); !errors.Is(err, ErrOfferExpired) {
		t.Fatalf("late accept: expected ErrOfferExpired, got %v", err)
	}

	if err := f.coord.Respond(j.ID, "B", models.DecisionAccept); err != nil {
		t.Fatalf("B accept: %v", err)
	}
	got, _ := f.reg.Get(j.ID)
	if got.Status != models.StatusAccepted || got.AgentID != "B" {
		t.Fatalf("expected B assigned after A expired: %+v", got)
	}
	if a, _ := f.agents.Get("A"); a.CurrentJobID != "" {
		t.Fatalf("A must remain free: %+v", a)
	}
}

func TestAcceptFromNeverOfferedAgentFails(t *testing.T) {
	f := newFixture(testConfig(), cand("A", 100), cand("B", 200))
	j := f.newJob(t)
	f.waitForOfferTo(t, j.ID, "A")

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() { defer wg.Done(); errA = f.coord.Respond(j.ID, "A", models.DecisionAccept) }()
	go func() { defer wg.Done(); errB = f.coord.Respond(j.ID, "B", models.DecisionAccept) }()
	wg.Wait()

	if errA != nil {
		t.Fatalf("offered agent's accept must win: %v", errA)
	}
	if !errors.Is(errB, ErrJobNoLongerAvailable) {
		t.Fatalf("never-offered agent must get ErrJobNoLongerAvailable, got %v", errB)
	}
	got, _ := f.reg.Get(j.ID)
	if got.AgentID != "A" {
		t.Fatalf("expected A assigned, got %q", got.AgentID)
	}
}

func TestAgentCannotHoldTwoJobs(t *testing.T) {
	f := newFixture(testConfig(), cand("A", 100))
	// Disable the busy filter so both jobs offer to A, as can happen when
	// the second offer was issued before the first accept landed.
	f.pool.busy = nil

	j1 := f.newJob(t)
	f.waitForOfferTo(t, j1.ID, "A")
	j2 := f.newJob(t)
	f.waitForOfferTo(t, j2.ID, "A")

	if err := f.coord.Respond(j1.ID, "A", models.DecisionAccept); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if err := f.coord.Respond(j2.ID, "A", models.DecisionAccept); !errors.Is(err, ErrJobNoLongerAvailable) {
		t.Fatalf("second accept must lose the agent CAS, got %v", err)
	}
	if a, _ := f.agents.Get("A"); a.CurrentJobID != j1.ID {
		t.Fatalf("agent must hold exactly j1: %+v", a)
	}
}

func TestExhaustionCancelsWithNoOffer(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRescans = 2
	f := newFixture(cfg) // empty pool on every scan
	j := f.newJob(t)

	waitFor(t, 2*time.Second, func() bool {
		got, _ := f.reg.Get(j.ID)
		return got.Status == models.StatusCancelledNoAgent
	}, "no-agent cancellation")

	if n := f.notify.issued(); n != 0 {
		t.Fatalf("no offer should ever be issued, got %d", n)
	}
	if calls := f.pool.callCount(); calls != cfg.MaxRescans+1 {
		t.Fatalf("expected %d scans, got %d", cfg.MaxRescans+1, calls)
	}
}

func TestRequesterCancelBeatsAccept(t *testing.T) {
	f := newFixture(testConfig(), cand("A", 100))
	j := f.newJob(t)
	f.waitForOfferTo(t, j.ID, "A")

	// The cancel path does its registry CAS first, then tears down the loop.
	if _, err := f.reg.Transition(j.ID, []models.JobStatus{models.StatusSearching, models.StatusOffered}, models.StatusCancelledRequester, "rider1"); err != nil {
		t.Fatalf("cancel CAS: %v", err)
	}
	f.coord.Abort(j.ID)

	if err := f.coord.Respond(j.ID, "A", models.DecisionAccept); !errors.Is(err, ErrJobNoLongerAvailable) {
		t.Fatalf("accept after cancel must be rejected, got %v", err)
	}
	if a, _ := f.agents.Get("A"); a.CurrentJobID != "" {
		t.Fatalf("agent must remain free after losing the race: %+v", a)
	}
	got, _ := f.reg.Get(j.ID)
	if got.Status != models.StatusCancelledRequester {
		t.Fatalf("cancellation must stick: %+v", got.Status)
	}
}

func TestSinglePendingOfferInvariant(t *testing.T) {
	f := newFixture(testConfig(), cand("A", 100), cand("B", 200), cand("C", 300))
	j := f.newJob(t)

	// Watch the pending offer through two declines; at every observation
	// point there is at most one, and ids never repeat.
	seen := map[string]bool{}
	for _, agent := range []string{"A", "B", "C"} {
		f.waitForOfferTo(t, j.ID, agent)
		off, ok := f.coord.PendingOffer(j.ID)
		if !ok || off.Outcome != models.OfferPending {
			t.Fatalf("expected one pending offer for %s", agent)
		}
		if seen[off.ID] {
			t.Fatalf("offer id reused: %s", off.ID)
		}
		seen[off.ID] = true
		if agent != "C" {
			if err := f.coord.Respond(j.ID, agent, models.DecisionDecline); err != nil {
				t.Fatalf("decline %s: %v", agent, err)
			}
		}
	}
}

func TestDuplicateDispatchRejected(t *testing.T) {
	f := newFixture(testConfig(), cand("A", 100))
	j := f.newJob(t)
	if err := f.coord.Dispatch(j); !errors.Is(err, registry.ErrStaleTransition) {
		t.Fatalf("second dispatch must lose the CAS, got %v", err)
	}
}
