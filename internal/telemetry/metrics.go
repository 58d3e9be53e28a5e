package telemetry

import "github.com/prometheus/client_golang/prometheus"

var DiscoveryRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "singura",
		Subsystem: "discovery",
		Name:      "runs_total",
		Help:      "Total number of discovery runs by terminal status.",
	},
	[]string{"platform", "status"},
)

var DiscoveryRunDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "singura",
		Subsystem: "discovery",
		Name:      "run_duration_seconds",
		Help:      "Discovery run duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	},
	[]string{"platform"},
)

var RefreshOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "singura",
		Subsystem: "oauth",
		Name:      "refresh_outcomes_total",
		Help:      "Total number of OAuth refresh attempts by outcome.",
	},
	[]string{"platform", "outcome"},
)

var DetectorInvocationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "singura",
		Subsystem: "detection",
		Name:      "invocations_total",
		Help:      "Total number of detector invocations by detector and outcome.",
	},
	[]string{"detector", "outcome"},
)

var RiskHighAlertsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "singura",
		Subsystem: "risk",
		Name:      "high_alerts_total",
		Help:      "Total number of risk.high_alert events emitted, by trigger.",
	},
	[]string{"trigger"},
)

var CorrelationLinksFormedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "singura",
		Subsystem: "correlation",
		Name:      "links_formed_total",
		Help:      "Total number of correlation links formed by link type.",
	},
	[]string{"link_type"},
)

var QualityDriftAlertsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "singura",
		Subsystem: "quality",
		Name:      "drift_alerts_total",
		Help:      "Total number of detector quality drift alerts by detector and severity.",
	},
	[]string{"detector", "severity"},
)

var BusMessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "singura",
		Subsystem: "bus",
		Name:      "messages_total",
		Help:      "Total number of realtime bus messages by outcome (delivered, dropped_slow_subscriber, dropped_no_subscribers, dropped_schema_invalid).",
	},
	[]string{"outcome"},
)

var ConnectorRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "singura",
		Subsystem: "connector",
		Name:      "request_duration_seconds",
		Help:      "Platform connector HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"platform", "operation"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "singura",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

var ConnectorDroppedEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "singura",
		Subsystem: "connector",
		Name:      "dropped_events_total",
		Help:      "Total number of malformed activity events dropped by platform.",
	},
	[]string{"platform"},
)

// All returns all Singura-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		DiscoveryRunsTotal,
		DiscoveryRunDuration,
		RefreshOutcomesTotal,
		DetectorInvocationsTotal,
		RiskHighAlertsTotal,
		CorrelationLinksFormedTotal,
		QualityDriftAlertsTotal,
		BusMessagesTotal,
		HTTPRequestDuration,
		ConnectorRequestDuration,
		ConnectorDroppedEventsTotal,
	}
}
