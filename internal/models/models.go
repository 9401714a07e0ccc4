package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ServiceKind selects which capability a job requires from an agent.
type ServiceKind string

const (
	ServiceRide   ServiceKind = "ride"
	ServiceFood   ServiceKind = "food"
	ServiceParcel ServiceKind = "parcel"
)

func (k ServiceKind) Valid() bool {
	switch k {
	case ServiceRide, ServiceFood, ServiceParcel:
		return true
	}
	return false
}

// JobStatus values. completed and the cancelled_* statuses are terminal.
type JobStatus string

const (
	StatusRequested          JobStatus = "requested"
	StatusSearching          JobStatus = "searching"
	StatusOffered            JobStatus = "offered"
	StatusAccepted           JobStatus = "accepted"
	StatusEnRouteToOrigin    JobStatus = "en_route_to_origin"
	StatusArrivedAtOrigin    JobStatus = "arrived_at_origin"
	StatusInProgress         JobStatus = "in_progress"
	StatusCompleted          JobStatus = "completed"
	StatusCancelledRequester JobStatus = "cancelled_by_requester"
	StatusCancelledAgent     JobStatus = "cancelled_by_agent"
	StatusCancelledNoAgent   JobStatus = "cancelled_no_agent_found"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelledRequester, StatusCancelledAgent, StatusCancelledNoAgent:
		return true
	}
	return false
}

// ActorSystem marks transitions applied by the engine itself (offer expiry,
// fallback to searching, no-agent cancellation) rather than by a requester
// or an agent.
const ActorSystem = "system"

// HistoryEntry is one applied status transition. Entries are appended in the
// order transitions actually commit, never rewritten.
type HistoryEntry struct {
	Status JobStatus `json:"status"`
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
}

type Job struct {
	ID          string         `json:"id"`
	Kind        ServiceKind    `json:"service_kind"`
	RequesterID string         `json:"requester_id"`
	Origin      Coord          `json:"origin"`
	Destination Coord          `json:"destination"`
	Status      JobStatus      `json:"status"`
	AgentID     string         `json:"agent_id,omitempty"`
	AssignedAt  time.Time      `json:"assigned_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	History     []HistoryEntry `json:"history"`
}

// Agent is an availability record, one per connected agent.
type Agent struct {
	ID           string        `json:"id"`
	Online       bool          `json:"online"`
	Capabilities []ServiceKind `json:"capabilities"`
	Rating       float64       `json:"rating"` // 0..5
	CurrentJobID string        `json:"current_job_id,omitempty"`
}

func (a Agent) Capable(k ServiceKind) bool {
	for _, c := range a.Capabilities {
		if c == k {
			return true
		}
	}
	return false
}

// PositionSample is the latest known location of an agent. Only the newest
// sample per agent is retained.
type PositionSample struct {
	AgentID    string    `json:"agent_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    float64   `json:"heading"`
	SpeedMps   float64   `json:"speed_mps"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (p PositionSample) Coord() Coord { return Coord{Lat: p.Lat, Lng: p.Lng} }

type OfferOutcome string

const (
	OfferPending  OfferOutcome = "pending"
	OfferAccepted OfferOutcome = "accepted"
	OfferDeclined OfferOutcome = "declined"
	OfferExpired  OfferOutcome = "expired"
)

// Offer is a time-bounded proposal of one job to one agent. Resolved exactly
// once, then immutable.
type Offer struct {
	ID       string       `json:"id"`
	JobID    string       `json:"job_id"`
	AgentID  string       `json:"agent_id"`
	IssuedAt time.Time    `json:"issued_at"`
	Deadline time.Time    `json:"deadline"`
	Outcome  OfferOutcome `json:"outcome"`

	EtaSeconds     float64 `json:"eta_seconds,omitempty"`
	DistanceMeters float64 `json:"distance_meters,omitempty"`
}

// Decision is an agent's answer to an offer.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// Event kinds pushed through the notification fanout.
type EventKind string

const (
	EventOfferIssued      EventKind = "offer_issued"
	EventJobStatusChanged EventKind = "job_status_changed"
	EventPositionRefresh  EventKind = "position_refreshed"
)

// Event is the serializable envelope handed to fanout sinks. Exactly one of
// the payload fields is set, matching Kind.
type Event struct {
	Kind    EventKind `json:"kind"`
	JobID   string    `json:"job_id,omitempty"`
	AgentID string    `json:"agent_id,omitempty"`
	At      time.Time `json:"at"`

	Offer    *Offer          `json:"offer,omitempty"`
	Job      *Job            `json:"job,omitempty"`
	Position *PositionSample `json:"position,omitempty"`

	// Live estimates for position_refreshed events; zero when the position
	// or the assignment is unknown.
	EtaSeconds     float64 `json:"eta_seconds,omitempty"`
	DistanceMeters float64 `json:"distance_meters,omitempty"`
}
