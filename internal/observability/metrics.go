package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersIssued = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "offers_issued_total", Help: "Offers pushed to agents"})
	OffersResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "offers_resolved_total", Help: "Offer resolutions by outcome"},
		[]string{"outcome"},
	)
	JobsTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "jobs_terminal_total", Help: "Jobs reaching a terminal status"},
		[]string{"status"},
	)
	ActiveDispatches = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "trip_dispatch", Name: "active_dispatches", Help: "Dispatch loops currently searching"})
	AgentsOnline     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "trip_dispatch", Name: "agents_online", Help: "Agents flagged online"})

	PositionUpdates  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "position_updates_total", Help: "Position samples applied"})
	PositionRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "position_rejected_total", Help: "Out-of-order position samples discarded"})

	OfferDecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trip_dispatch",
		Name:      "offer_decision_seconds",
		Help:      "Time from offer issue to resolution",
		Buckets:   prometheus.DefBuckets,
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trip_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
