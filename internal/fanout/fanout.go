// Package fanout pushes job, offer, and position events to interested
// parties. The engine only knows this narrow contract; how a sink actually
// delivers (websocket push, broker, log line) is its own business.
package fanout

import (
	"log/slog"

	"github.com/example/trip-dispatch/internal/models"
)

// Notifier is the outbound boundary of the engine. All methods are best
// effort: the engine never blocks on, or fails because of, a slow sink.
type Notifier interface {
	NotifyAgent(agentID string, ev models.Event)
	NotifyRequester(requesterID string, ev models.Event)
	PublishObservability(ev models.Event)
}

// LogSink writes events to the structured log. Used standalone in local
// runs and as the always-present member of a Tee.
type LogSink struct {
	Logger *slog.Logger
}

func (l *LogSink) NotifyAgent(agentID string, ev models.Event) {
	l.Logger.Debug("notify_agent", "agent_id", agentID, "kind", string(ev.Kind), "job_id", ev.JobID)
}

func (l *LogSink) NotifyRequester(requesterID string, ev models.Event) {
	l.Logger.Debug("notify_requester", "requester_id", requesterID, "kind", string(ev.Kind), "job_id", ev.JobID)
}

func (l *LogSink) PublishObservability(ev models.Event) {
	l.Logger.Debug("observability_event", "kind", string(ev.Kind), "job_id", ev.JobID, "agent_id", ev.AgentID)
}

// Tee fans one event out to every configured sink, each on its own
// goroutine so no sink can stall the dispatch path.
type Tee struct {
	Sinks []Notifier
}

func NewTee(sinks ...Notifier) *Tee { return &Tee{Sinks: sinks} }

func (t *Tee) NotifyAgent(agentID string, ev models.Event) {
	for _, s := range t.Sinks {
		go s.NotifyAgent(agentID, ev)
	}
}

func (t *Tee) NotifyRequester(requesterID string, ev models.Event) {
	for _, s := range t.Sinks {
		go s.NotifyRequester(requesterID, ev)
	}
}

func (t *Tee) PublishObservability(ev models.Event) {
	for _, s := range t.Sinks {
		go s.PublishObservability(ev)
	}
}
