package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "zonetracker_"

	resultSuccess = "success"
	resultError   = "error"

	eventResultStored    = "stored"
	eventResultMalformed = "malformed"
	eventResultFailed    = "failed"
)

var (
	registerOnce sync.Once

	eventsTotal  *prometheus.CounterVec
	eventErrors  *prometheus.CounterVec
	eventLatency *prometheus.HistogramVec

	creationConflicts prometheus.Counter

	queryTotal   *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	mqttConnected prometheus.Gauge
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		eventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "location_events_total",
				Help: "Total processed location events by result",
			},
			[]string{"result"},
		)
		eventErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "location_event_errors_total",
				Help: "Total location event errors by reason",
			},
			[]string{"reason"},
		)
		eventLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "location_event_latency_seconds",
				Help:    "Location event processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		creationConflicts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "visit_creation_conflicts_total",
				Help: "Open-visit creation races recovered via retry",
			},
		)

		queryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "query_requests_total",
				Help: "Total read API requests by endpoint and result",
			},
			[]string{"endpoint", "result"},
		)
		queryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "query_latency_seconds",
				Help:    "Read API latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		mqttConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "mqtt_connected",
				Help: "Whether the MQTT consumer is connected (1) or not (0)",
			},
		)

		prometheus.MustRegister(
			eventsTotal,
			eventErrors,
			eventLatency,
			creationConflicts,
			queryTotal,
			queryLatency,
			exportTotal,
			exportLatency,
			mqttConnected,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveEvent records location event processing duration and result.
func ObserveEvent(result string, duration time.Duration) {
	if result == "" {
		result = eventResultStored
	}
	if eventsTotal != nil {
		eventsTotal.WithLabelValues(result).Inc()
	}
	if eventLatency != nil {
		eventLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncEventError increments event error counter.
func IncEventError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if eventErrors != nil {
		eventErrors.WithLabelValues(reason).Inc()
	}
}

// IncCreationConflict counts a recovered open-visit creation race.
func IncCreationConflict() {
	if creationConflicts != nil {
		creationConflicts.Inc()
	}
}

// ObserveQuery records read API request duration and result.
func ObserveQuery(endpoint, result string, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if queryTotal != nil {
		queryTotal.WithLabelValues(endpoint, result).Inc()
	}
	if queryLatency != nil {
		queryLatency.WithLabelValues(endpoint, result).Observe(duration.Seconds())
	}
}

// ObserveExport records report export duration and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// SetMQTTConnected flips the consumer connectivity gauge.
func SetMQTTConnected(connected bool) {
	if mqttConnected == nil {
		return
	}
	if connected {
		mqttConnected.Set(1)
		return
	}
	mqttConnected.Set(0)
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	EventResultStored    = eventResultStored
	EventResultMalformed = eventResultMalformed
	EventResultFailed    = eventResultFailed
)
