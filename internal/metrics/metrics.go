package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actionkit_events_enqueued_total",
		Help: "Total number of events placed on the processing queue.",
	})

	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actionkit_events_processed_total",
		Help: "Total number of events fully processed by the engine.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actionkit_events_dropped_total",
		Help: "Total number of events rejected due to a full queue or the ingest rate limit.",
	})

	SubscriptionsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actionkit_subscriptions_matched_total",
		Help: "Total number of subscription matches, labelled by destination and subscription ID.",
	}, []string{"destination", "subscription_id"})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actionkit_actions_executed_total",
		Help: "Total number of actions executed, labelled by destination, action and status.",
	}, []string{"destination", "action", "status"})

	OutboundRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actionkit_outbound_requests_total",
		Help: "Total number of HTTP responses received from partner APIs, labelled by destination and status code.",
	}, []string{"destination", "code"})

	OutboundRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "actionkit_outbound_request_duration_ms",
		Help:    "Partner API round-trip latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"destination"})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "actionkit_event_processing_duration_ms",
		Help:    "End-to-end event processing latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "actionkit_queue_utilization_ratio",
		Help: "Current event queue utilization (0-1).",
	})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "actionkit_destination_breaker_state",
		Help: "Circuit breaker state per destination instance (0 closed, 1 half-open, 2 open).",
	}, []string{"destination"})
)
