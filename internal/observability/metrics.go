package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_sharing"

var (
	RoutesSaved       = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "routes_saved_total", Help: "Routes persisted with a computed itinerary"})
	RoutesCancelled   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "routes_cancelled_total", Help: "Routes cancelled by their driver"})
	RoutesRejected    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "routes_rejected_total", Help: "Route saves rejected before persistence"}, []string{"reason"})
	ItineraryLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "itinerary_build_seconds", Help: "Itinerary build latency seconds"})
	RoutingDegraded   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "routing_degraded_legs_total", Help: "Legs computed as zero after a routing oracle fault"})
	RoutingCacheHits  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "routing_cache_hits_total", Help: "Routing legs served from cache"})
	SearchesTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "searches_total", Help: "Route searches served"})
	SearchLatency     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "search_latency_seconds", Help: "Route search latency seconds"})
	SearchResults     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "search_results", Help: "Routes returned per search", Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100}})
	AlertsDispatched  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "alerts_dispatched_total", Help: "Passenger alerts dispatched"}, []string{"channel", "result"})
	SettlementRuns    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "settlement_runs_total", Help: "Settlement cycles by result"}, []string{"result"})
	SettlementActions = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "settlement_actions_total", Help: "Per-reservation settlement decisions"}, []string{"outcome"})
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "settlement_cycle_seconds", Help: "Settlement cycle duration seconds"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
