// Package eligibility selects and ranks the candidate pool for a job.
package eligibility

import (
	"sort"

	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/models"
)

// AgentSource is the read side of the availability store.
type AgentSource interface {
	Snapshot() []models.Agent
}

// PositionSource is the read side of the position store.
type PositionSource interface {
	Latest(agentID string) (models.PositionSample, bool)
}

// Candidate is an eligible agent with its live position and distance to the
// job origin.
type Candidate struct {
	AgentID        string
	Rating         float64
	Position       models.Coord
	DistanceMeters float64
}

type Pool struct {
	agents    AgentSource
	positions PositionSource
}

func NewPool(agents AgentSource, positions PositionSource) *Pool {
	return &Pool{agents: agents, positions: positions}
}

// Candidates filters to agents that are online, capable of the job's kind,
// not already engaged, with a known (non-stale) position within radiusM of
// the origin, sorted ascending by distance with rating descending as the
// tie-break. An empty result is a valid outcome, not an error.
func (p *Pool) Candidates(job models.Job, radiusM float64) []Candidate {
	out := []Candidate{}
	for _, a := range p.agents.Snapshot() {
		if !a.Online || a.CurrentJobID != "" || !a.Capable(job.Kind) {
			continue
		}
		s, ok := p.positions.Latest(a.ID)
		if !ok {
			// Unknown position is never treated as zero distance.
			continue
		}
		d := geo.Distance(s.Coord(), job.Origin)
		if d > radiusM {
			continue
		}
		out = append(out, Candidate{AgentID: a.ID, Rating: a.Rating, Position: s.Coord(), DistanceMeters: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters != out[j].DistanceMeters {
			return out[i].DistanceMeters < out[j].DistanceMeters
		}
		return out[i].Rating > out[j].Rating
	})
	return out
}
