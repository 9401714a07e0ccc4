package fanout

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/trip-dispatch/internal/models"
)

var ErrNoSession = errors.New("no ws session")

// WSSession is one connected client (agent or requester). gorilla/websocket
// allows a single concurrent writer, hence the mutex.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds live sessions keyed by client id. Agents and requesters
// share the same registry; ids are globally unique upstream.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

// Add registers a session, displacing any previous one for the same client.
// The returned session is the caller's handle for Remove.
func (r *WSRegistry) Add(clientID string, conn *websocket.Conn) *WSSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[clientID]; ok {
		_ = old.conn.Close()
	}
	sess := &WSSession{conn: conn}
	r.sessions[clientID] = sess
	return sess
}

// Remove drops the entry only if it still holds sess. A read loop tearing
// down after a reconnect displaced it must not delete the fresh session.
func (r *WSRegistry) Remove(clientID string, sess *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[clientID] == sess {
		delete(r.sessions, clientID)
	}
}

func (r *WSRegistry) send(clientID string, ev models.Event) error {
	r.mu.RLock()
	s, ok := r.sessions[clientID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ev); err != nil {
		r.logger.Warn("ws send error", "client_id", clientID, "error", err)
		return err
	}
	return nil
}

func (r *WSRegistry) NotifyAgent(agentID string, ev models.Event) {
	_ = r.send(agentID, ev)
}

func (r *WSRegistry) NotifyRequester(requesterID string, ev models.Event) {
	_ = r.send(requesterID, ev)
}

// PublishObservability is a no-op for websockets; observability consumers
// attach to the broker sinks instead.
func (r *WSRegistry) PublishObservability(models.Event) {}
