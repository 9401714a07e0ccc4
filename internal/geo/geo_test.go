package geo

import (
	"math"
	"testing"

	"github.com/example/trip-dispatch/internal/models"
)

func TestDistanceZero(t *testing.T) {
	d := Distance(models.Coord{}, models.Coord{})
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKnownPair(t *testing.T) {
	// One degree of latitude is ~111.19 km.
	d := Distance(models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 1, Lng: 0})
	if math.Abs(d-111195) > 200 {
		t.Fatalf("expected ~111195m, got %f", d)
	}
}

func TestETAFloor(t *testing.T) {
	if got := ETASeconds(100, 10, 60); got != 60 {
		t.Fatalf("expected floor 60, got %f", got)
	}
	if got := ETASeconds(1200, 10, 60); got != 120 {
		t.Fatalf("expected 120, got %f", got)
	}
	if got := ETASeconds(0, 10, 60); got != 0 {
		t.Fatalf("zero distance should report 0, got %f", got)
	}
}
