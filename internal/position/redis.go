package position

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/trip-dispatch/internal/models"
)

// RedisStore mirrors positions into Redis GEO structures so other processes
// (and the Kafka consumer) share one view. Last-write-wins arbitrated
// through the stored recorded_at field, best effort (see Update).
type RedisStore struct {
	client    *redis.Client
	key       string
	staleness time.Duration
	ctx       context.Context
}

func NewRedisStore(addr, password, key string, staleness time.Duration) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, key: key, staleness: staleness, ctx: context.Background()}
}

// Update applies the sample last-write-wins. The read-then-write guard is
// not atomic: two concurrent updates for one agent can interleave and let
// the older sample land. Acceptable for the mirror, where the next sample
// corrects it within one report interval; MemoryStore holds the strict
// contract for dispatch decisions.
func (r *RedisStore) Update(s models.PositionSample) bool {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now()
	}
	// Out-of-order guard: compare against the stored timestamp first.
	if prev, err := r.client.HGet(r.ctx, metaKey(s.AgentID), "recorded_at").Result(); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, prev); err == nil && !s.RecordedAt.After(ts) {
			return false
		}
	}
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: s.Lng, Latitude: s.Lat, Name: s.AgentID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(s.AgentID), map[string]interface{}{
		"heading":     strconv.FormatFloat(s.Heading, 'f', -1, 64),
		"speed_mps":   strconv.FormatFloat(s.SpeedMps, 'f', -1, 64),
		"recorded_at": s.RecordedAt.Format(time.RFC3339Nano),
	}).Err()
	return true
}

func (r *RedisStore) Latest(agentID string) (models.PositionSample, bool) {
	pos, err := r.client.GeoPos(r.ctx, r.key, agentID).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.PositionSample{}, false
	}
	s := models.PositionSample{AgentID: agentID, Lat: pos[0].Latitude, Lng: pos[0].Longitude}
	if m, err := r.client.HGetAll(r.ctx, metaKey(agentID)).Result(); err == nil {
		if v, ok := m["heading"]; ok {
			s.Heading, _ = strconv.ParseFloat(v, 64)
		}
		if v, ok := m["speed_mps"]; ok {
			s.SpeedMps, _ = strconv.ParseFloat(v, 64)
		}
		if v, ok := m["recorded_at"]; ok {
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				s.RecordedAt = ts
			}
		}
	}
	if s.RecordedAt.IsZero() || time.Since(s.RecordedAt) > r.staleness {
		return models.PositionSample{}, false
	}
	return s, true
}

func metaKey(id string) string { return "agent:pos:" + id }
