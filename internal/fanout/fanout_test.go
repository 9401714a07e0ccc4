package fanout

import (
	"sync"
	"testing"
	"time"

	"github.com/example/trip-dispatch/internal/models"
)

// blockingSink stalls on delivery so tests can prove the dispatch path
// never waits on a slow sink.
type blockingSink struct {
	wg       *sync.WaitGroup
	release  chan struct{}
	mu       sync.Mutex
	received []models.Event
}

func (b *blockingSink) NotifyAgent(_ string, ev models.Event) {
	<-b.release
	b.mu.Lock()
	b.received = append(b.received, ev)
	b.mu.Unlock()
	b.wg.Done()
}
func (b *blockingSink) NotifyRequester(string, models.Event) {}
func (b *blockingSink) PublishObservability(models.Event)    {}

type countingSink struct {
	wg    *sync.WaitGroup
	mu    sync.Mutex
	agent int
	reqs  int
	obs   int
}

func (c *countingSink) NotifyAgent(string, models.Event) {
	c.mu.Lock()
	c.agent++
	c.mu.Unlock()
	c.wg.Done()
}
func (c *countingSink) NotifyRequester(string, models.Event) {
	c.mu.Lock()
	c.reqs++
	c.mu.Unlock()
	c.wg.Done()
}
func (c *countingSink) PublishObservability(models.Event) {
	c.mu.Lock()
	c.obs++
	c.mu.Unlock()
	c.wg.Done()
}

func TestTeeSlowSinkDoesNotBlockCaller(t *testing.T) {
	var wg sync.WaitGroup
	slow := &blockingSink{wg: &wg, release: make(chan struct{})}
	tee := NewTee(slow)

	wg.Add(1)
	done := make(chan struct{})
	go func() {
		tee.NotifyAgent("A", models.Event{Kind: models.EventOfferIssued})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tee blocked on a stalled sink")
	}

	close(slow.release)
	wg.Wait()
	slow.mu.Lock()
	defer slow.mu.Unlock()
	if len(slow.received) != 1 {
		t.Fatalf("event lost: got %d deliveries", len(slow.received))
	}
}

func TestTeeFansOutToEverySink(t *testing.T) {
	var wg sync.WaitGroup
	a := &countingSink{wg: &wg}
	b := &countingSink{wg: &wg}
	tee := NewTee(a, b)

	wg.Add(6)
	ev := models.Event{Kind: models.EventJobStatusChanged, JobID: "j1"}
	tee.NotifyAgent("A", ev)
	tee.NotifyRequester("rider1", ev)
	tee.PublishObservability(ev)
	wg.Wait()

	for _, s := range []*countingSink{a, b} {
		s.mu.Lock()
		if s.agent != 1 || s.reqs != 1 || s.obs != 1 {
			s.mu.Unlock()
			t.Fatalf("sink missed deliveries: agent=%d reqs=%d obs=%d", s.agent, s.reqs, s.obs)
		}
		s.mu.Unlock()
	}
}
