package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful fetches and executions.
	OutcomeSuccess = "success"
	// OutcomeFailure labels failed fetches and executions.
	OutcomeFailure = "failure"
)

var (
	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "ingestion",
			Name:      "fetches_total",
			Help:      "Source collection ticks, partitioned by environment and outcome.",
		},
		[]string{"environment", "outcome"},
	)

	recordsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "ingestion",
			Name:      "records_total",
			Help:      "Raw records fetched from data sources.",
		},
		[]string{"environment"},
	)

	recordsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "processing",
			Name:      "records_total",
			Help:      "Records normalized and enriched.",
		},
		[]string{"environment"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "analytics",
			Name:      "anomalies_total",
			Help:      "Anomalies flagged, partitioned by severity.",
		},
		[]string{"severity"},
	)

	riskScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "secops",
			Subsystem: "analytics",
			Name:      "risk_score",
			Help:      "Most recent overall risk score per environment.",
		},
		[]string{"environment"},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "orchestration",
			Name:      "executions_total",
			Help:      "Playbook and policy executions, partitioned by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	incidentsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "orchestration",
			Name:      "incidents_opened_total",
			Help:      "Incidents created by orchestration.",
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "secops",
			Name:      "stage_seconds",
			Help:      "Time spent handling one batch per pipeline stage.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"stage"},
	)

	subscriberFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "secops",
			Name:      "subscriber_failures_total",
			Help:      "Subscriber callbacks that panicked or returned an error.",
		},
		[]string{"stage"},
	)
)

// Register attaches the pipeline collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		fetchesTotal,
		recordsIngestedTotal,
		recordsProcessedTotal,
		anomaliesTotal,
		riskScore,
		executionsTotal,
		incidentsOpenedTotal,
		stageDurationSeconds,
		subscriberFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// ObserveFetch records one collection tick.
func ObserveFetch(environment string, records int, ok bool) {
	fetchesTotal.WithLabelValues(environment, outcome(ok)).Inc()
	if ok && records > 0 {
		recordsIngestedTotal.WithLabelValues(environment).Add(float64(records))
	}
}

// ObserveProcessed records normalized records for an environment.
func ObserveProcessed(environment string, records int) {
	if records > 0 {
		recordsProcessedTotal.WithLabelValues(environment).Add(float64(records))
	}
}

// ObserveAnomaly counts one flagged anomaly.
func ObserveAnomaly(severity string) {
	anomaliesTotal.WithLabelValues(severity).Inc()
}

// SetRiskScore publishes the latest overall score for an environment.
func SetRiskScore(environment string, score int) {
	riskScore.WithLabelValues(environment).Set(float64(score))
}

// ObserveExecution counts one playbook or policy run.
func ObserveExecution(kind string, ok bool) {
	executionsTotal.WithLabelValues(kind, outcome(ok)).Inc()
}

// IncidentOpened counts one created incident.
func IncidentOpened() {
	incidentsOpenedTotal.Inc()
}

// ObserveStage records how long a stage spent on one batch.
func ObserveStage(stage string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// SubscriberFailure counts one failed subscriber delivery.
func SubscriberFailure(stage string) {
	subscriberFailuresTotal.WithLabelValues(stage).Inc()
}
