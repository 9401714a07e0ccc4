// Package eta resolves travel-time estimates. A road estimator (OSRM) is
// optional; the straight-line model in internal/geo is always available as
// the fallback, so Estimate never fails.
package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/models"
)

// Estimator is a road-aware travel-time source.
type Estimator interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// Service answers ETA queries, preferring the road estimator when one is
// configured and degrading to the straight-line model on error or absence.
type Service struct {
	client   Estimator // optional
	cache    *Cache    // optional
	speedMps float64
	floorSec float64
}

func NewService(client Estimator, cache *Cache, speedMps, floorSec float64) *Service {
	return &Service{client: client, cache: cache, speedMps: speedMps, floorSec: floorSec}
}

// Estimate returns travel seconds between two points. Road estimates go
// through the cache; the floor applies to every nonzero estimate.
func (s *Service) Estimate(from, to models.Coord) float64 {
	if s.client != nil {
		if s.cache != nil {
			if v, ok := s.cache.Get(from, to); ok {
				return s.floor(v)
			}
		}
		if v, err := s.client.EstimateSeconds(from, to); err == nil {
			if s.cache != nil {
				s.cache.Set(from, to, v)
			}
			return s.floor(v)
		}
	}
	return geo.ETASeconds(geo.Distance(from, to), s.speedMps, s.floorSec)
}

func (s *Service) floor(v float64) float64 {
	if v > 0 && v < s.floorSec {
		return s.floorSec
	}
	return v
}

// Cache is a small TTL'd in-memory cache for road ETA lookups keyed by the
// coordinate pair.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}
