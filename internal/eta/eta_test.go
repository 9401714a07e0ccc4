package eta

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/example/trip-dispatch/internal/models"
)

type fakeEstimator struct {
	mu    sync.Mutex
	sec   float64
	err   error
	calls int
}

func (f *fakeEstimator) EstimateSeconds(from, to models.Coord) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.sec, f.err
}

func (f *fakeEstimator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestEstimateFallsBackWithoutClient(t *testing.T) {
	s := NewService(nil, nil, 10, 60)
	// ~111.2 km at 10 m/s is well above the floor.
	got := s.Estimate(models.Coord{}, models.Coord{Lat: 1})
	if got < 10000 || got > 12000 {
		t.Fatalf("expected straight-line fallback around 11120s, got %f", got)
	}
	if s.Estimate(models.Coord{}, models.Coord{}) != 0 {
		t.Fatal("zero distance must report 0")
	}
}

func TestEstimatePrefersRoadClient(t *testing.T) {
	f := &fakeEstimator{sec: 420}
	s := NewService(f, nil, 10, 60)
	if got := s.Estimate(models.Coord{}, models.Coord{Lat: 1}); got != 420 {
		t.Fatalf("expected the road estimate, got %f", got)
	}
}

func TestEstimateClientErrorFallsBack(t *testing.T) {
	f := &fakeEstimator{err: errors.New("osrm down")}
	s := NewService(f, nil, 10, 60)
	got := s.Estimate(models.Coord{}, models.Coord{Lat: 1})
	if got < 10000 || got > 12000 {
		t.Fatalf("expected fallback on client error, got %f", got)
	}
}

func TestEstimateFloorAppliesToRoadEstimates(t *testing.T) {
	f := &fakeEstimator{sec: 5}
	s := NewService(f, nil, 10, 60)
	if got := s.Estimate(models.Coord{}, models.Coord{Lat: 0.001}); got != 60 {
		t.Fatalf("floor must apply to road estimates, got %f", got)
	}
}

func TestCacheAvoidsRepeatLookups(t *testing.T) {
	f := &fakeEstimator{sec: 300}
	s := NewService(f, NewCache(time.Minute), 10, 60)
	a, b := models.Coord{}, models.Coord{Lat: 1}
	_ = s.Estimate(a, b)
	_ = s.Estimate(a, b)
	if n := f.callCount(); n != 1 {
		t.Fatalf("expected one road lookup with a warm cache, got %d", n)
	}
}

func TestCacheExpires(t *testing.T) {
	c := NewCache(time.Millisecond)
	a, b := models.Coord{}, models.Coord{Lat: 1}
	c.Set(a, b, 120)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expired entry must miss")
	}
}

func TestOSRMClientParsesRoute(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"Ok","routes":[{"duration":182.5}]}`)
	}))
	defer ts.Close()

	c := NewOSRMClient(ts.URL)
	got, err := c.EstimateSeconds(models.Coord{Lat: 1, Lng: 2}, models.Coord{Lat: 3, Lng: 4})
	if err != nil {
		t.Fatal(err)
	}
	if got != 182.5 {
		t.Fatalf("expected 182.5, got %f", got)
	}
}

func TestOSRMClientNoRoute(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"NoRoute","routes":[]}`)
	}))
	defer ts.Close()

	if _, err := NewOSRMClient(ts.URL).EstimateSeconds(models.Coord{}, models.Coord{Lat: 1}); err == nil {
		t.Fatal("expected an error for NoRoute")
	}
}
