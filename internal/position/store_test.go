package position

import (
	"testing"
	"time"

	"github.com/example/trip-dispatch/internal/models"
)

func TestUpdateLastWriteWins(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	base := time.Now()

	if !s.Update(models.PositionSample{AgentID: "a1", Lat: 1, Lng: 1, RecordedAt: base.Add(10 * time.Second)}) {
		t.Fatal("first sample should store")
	}
	// Retransmitted older sample must not overwrite.
	if s.Update(models.PositionSample{AgentID: "a1", Lat: 9, Lng: 9, RecordedAt: base.Add(5 * time.Second)}) {
		t.Fatal("older sample should be discarded")
	}
	got, ok := s.Latest("a1")
	if !ok || got.Lat != 1 {
		t.Fatalf("expected t+10 sample retained, got %+v ok=%v", got, ok)
	}
}

func TestLatestAbsentWhenNeverSeen(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	if _, ok := s.Latest("ghost"); ok {
		t.Fatal("unknown agent should be absent")
	}
}

func TestLatestAbsentWhenStale(t *testing.T) {
	s := NewMemoryStore(30 * time.Second)
	s.Update(models.PositionSample{AgentID: "a1", RecordedAt: time.Now().Add(-time.Minute)})
	if _, ok := s.Latest("a1"); ok {
		t.Fatal("stale sample should read as unknown, not as a position")
	}
}
