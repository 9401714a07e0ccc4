package agents

import (
	"errors"
	"sync"
	"testing"

	"github.com/example/trip-dispatch/internal/models"
)

func TestAssignIsExclusive(t *testing.T) {
	s := NewStore()
	s.Upsert("a1", true, []models.ServiceKind{models.ServiceRide}, 4.5)

	if err := s.Assign("a1", "job1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Assign("a1", "job2"); !errors.Is(err, ErrAgentBusy) {
		t.Fatalf("second assignment should fail, got %v", err)
	}
}

func TestConcurrentAssignOneWinner(t *testing.T) {
	s := NewStore()
	s.Upsert("a1", true, nil, 0)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		jobID := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Assign("a1", jobID) == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected one winning assignment, got %d", winners)
	}
}

func TestReleaseOnlyMatchingJob(t *testing.T) {
	s := NewStore()
	s.Upsert("a1", true, nil, 0)
	_ = s.Assign("a1", "job1")

	s.Release("a1", "jobX") // stale release, must not clear
	if a, _ := s.Get("a1"); a.CurrentJobID != "job1" {
		t.Fatalf("stale release cleared assignment: %+v", a)
	}
	s.Release("a1", "job1")
	if a, _ := s.Get("a1"); a.CurrentJobID != "" {
		t.Fatalf("release did not clear assignment: %+v", a)
	}
	if err := s.Assign("a1", "job2"); err != nil {
		t.Fatalf("agent should be free again: %v", err)
	}
}

func TestUpsertKeepsAssignment(t *testing.T) {
	s := NewStore()
	s.Upsert("a1", true, []models.ServiceKind{models.ServiceFood}, 4.0)
	_ = s.Assign("a1", "job1")
	a := s.Upsert("a1", false, nil, 0)
	if a.CurrentJobID != "job1" {
		t.Fatalf("availability update must not touch current job, got %+v", a)
	}
}
