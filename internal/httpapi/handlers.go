package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/trip-dispatch/internal/agents"
	"github.com/example/trip-dispatch/internal/config"
	"github.com/example/trip-dispatch/internal/eta"
	"github.com/example/trip-dispatch/internal/fanout"
	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/ingest"
	"github.com/example/trip-dispatch/internal/lifecycle"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/offer"
	"github.com/example/trip-dispatch/internal/position"
	"github.com/example/trip-dispatch/internal/registry"
)

// Server exposes the engine's operations over HTTP plus a websocket attach
// point. Everything stateful is injected; the server owns no dispatch logic.
type Server struct {
	cfg       config.DispatchConfig
	logger    *slog.Logger
	registry  *registry.Registry
	agents    *agents.Store
	positions position.Store
	coord     *offer.Coordinator
	machine   *lifecycle.Machine
	eta       *eta.Service
	notify    fanout.Notifier
	wsreg     *fanout.WSRegistry
	producer  *ingest.PositionProducer // nil when Kafka is not configured
	mux       *mux.Router
}

func NewServer(cfg config.DispatchConfig, logger *slog.Logger, reg *registry.Registry, ag *agents.Store, pos position.Store,
	coord *offer.Coordinator, machine *lifecycle.Machine, estimates *eta.Service, notify fanout.Notifier, wsreg *fanout.WSRegistry, producer *ingest.PositionProducer) *Server {
	s := &Server{
		cfg: cfg, logger: logger, registry: reg, agents: ag, positions: pos,
		coord: coord, machine: machine, eta: estimates, notify: notify, wsreg: wsreg, producer: producer,
		mux: mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/jobs", s.handleCreateJob).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}", s.handleGetJob).Methods("GET")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/cancel", s.handleCancelJob).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/response", s.handleOfferResponse).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/status", s.handleAdvanceStatus).Methods("POST")
	s.mux.HandleFunc("/api/v1/agents/{agent_id}/availability", s.handleAvailability).Methods("POST")
	s.mux.HandleFunc("/internal/agent/positions", s.handlePosition).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{client_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createJobRequest struct {
	RequesterID string             `json:"requester_id"`
	ServiceKind models.ServiceKind `json:"service_kind"`
	Origin      models.Coord       `json:"origin"`
	Destination models.Coord       `json:"destination"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if req.RequesterID == "" || !req.ServiceKind.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	j := s.registry.Create(req.ServiceKind, req.RequesterID, req.Origin, req.Destination)
	if err := s.coord.Dispatch(j); err != nil {
		// Creation succeeded but searching could not start; surface it.
		s.logger.Error("dispatch start failed", "job_id", j.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "dispatch_failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"job_id": j.ID})
}

type cancelJobRequest struct {
	ActorID  string `json:"actor_id"`
	Reason   string `json:"reason"`
	Override bool   `json:"override"`
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	var req cancelJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if _, err := s.machine.Cancel(jobID, req.ActorID, req.Reason, req.Override); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type offerResponseRequest struct {
	AgentID  string          `json:"agent_id"`
	Decision models.Decision `json:"decision"`
}

func (s *Server) handleOfferResponse(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	var req offerResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if req.Decision != models.DecisionAccept && req.Decision != models.DecisionDecline {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if err := s.coord.Respond(jobID, req.AgentID, req.Decision); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type advanceStatusRequest struct {
	AgentID string           `json:"agent_id"`
	Status  models.JobStatus `json:"status"`
}

func (s *Server) handleAdvanceStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	var req advanceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if _, err := s.machine.Advance(jobID, req.AgentID, req.Status); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type availabilityRequest struct {
	Online       bool                 `json:"online"`
	Capabilities []models.ServiceKind `json:"capabilities"`
	Rating       float64              `json:"rating"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	for _, c := range req.Capabilities {
		if !c.Valid() {
			writeError(w, http.StatusBadRequest, "bad_request")
			return
		}
	}
	s.agents.Upsert(agentID, req.Online, req.Capabilities, req.Rating)
	w.WriteHeader(http.StatusNoContent)
}

// handlePosition ingests one sample: fire-and-forget, idempotent,
// last-write-wins. While the agent is on an active job the requester gets a
// refreshed ETA/distance push.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var sample models.PositionSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil || sample.AgentID == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if s.producer != nil {
		_ = s.producer.PublishSample(sample)
	}
	if s.positions.Update(sample) {
		s.pushPositionRefresh(sample)
	}
	w.WriteHeader(http.StatusNoContent)
}

// pushPositionRefresh recomputes ETA/distance for the agent's active job.
func (s *Server) pushPositionRefresh(sample models.PositionSample) {
	a, ok := s.agents.Get(sample.AgentID)
	if !ok || a.CurrentJobID == "" {
		return
	}
	j, err := s.registry.Get(a.CurrentJobID)
	if err != nil || j.Status.Terminal() {
		return
	}
	// Before pickup the relevant leg is agent->origin; after, agent->destination.
	target := j.Origin
	if j.Status == models.StatusInProgress {
		target = j.Destination
	}
	d := geo.Distance(sample.Coord(), target)
	ev := models.Event{
		Kind:           models.EventPositionRefresh,
		JobID:          j.ID,
		AgentID:        sample.AgentID,
		At:             time.Now(),
		Position:       &sample,
		DistanceMeters: d,
		EtaSeconds:     s.eta.Estimate(sample.Coord(), target),
	}
	s.notify.NotifyRequester(j.RequesterID, ev)
	s.notify.PublishObservability(ev)
}

type jobStatusResponse struct {
	JobID          string                `json:"job_id"`
	Status         models.JobStatus      `json:"status"`
	AssignedAgent  string                `json:"assigned_agent,omitempty"`
	EtaSeconds     *float64              `json:"eta_seconds,omitempty"`
	DistanceMeters *float64              `json:"distance_meters,omitempty"`
	History        []models.HistoryEntry `json:"history"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	j, err := s.registry.Get(jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := jobStatusResponse{JobID: j.ID, Status: j.Status, AssignedAgent: j.AgentID, History: j.History}
	if j.AgentID != "" && !j.Status.Terminal() {
		// Stale or missing position degrades to "unavailable", never zero.
		if sample, ok := s.positions.Latest(j.AgentID); ok {
			target := j.Origin
			if j.Status == models.StatusInProgress {
				target = j.Destination
			}
			d := geo.Distance(sample.Coord(), target)
			sec := s.eta.Estimate(sample.Coord(), target)
			resp.DistanceMeters = &d
			resp.EtaSeconds = &sec
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

var upgrader = websocket.Upgrader{}

// handleWS attaches an agent or requester session for event pushes. The
// read loop only watches for the close.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its error response.
		s.logger.Warn("ws upgrade failed", "client_id", clientID, "error", err)
		return
	}
	sess := s.wsreg.Add(clientID, conn)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.wsreg.Remove(clientID, sess)
				_ = conn.Close()
				return
			}
		}
	}()
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, registry.ErrStaleTransition):
		writeError(w, http.StatusConflict, "stale_transition")
	case errors.Is(err, offer.ErrOfferExpired):
		writeError(w, http.StatusConflict, "offer_expired")
	case errors.Is(err, offer.ErrJobNoLongerAvailable):
		writeError(w, http.StatusConflict, "job_no_longer_available")
	default:
		s.logger.Error("unhandled domain error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
