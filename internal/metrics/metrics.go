// Package metrics — prometheus-счётчики Dataman.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dataman",
		Name:      "queries_total",
		Help:      "Executed Dataman requests by database, operation and outcome.",
	}, []string{"database", "operation", "outcome"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dataman",
		Name:      "query_duration_seconds",
		Help:      "Round trip of a Dataman request to Postgres.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"database", "operation"})

	RowsReturned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dataman",
		Name:      "rows_returned_total",
		Help:      "json_row rows decoded from Postgres.",
	}, []string{"database", "operation"})

	LintIssues = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dataman",
		Name:      "lint_issues_total",
		Help:      "Schema lint issues found, by kind.",
	}, []string{"kind"})

	CaptcherDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dataman",
		Name:      "captcher_decisions_total",
		Help:      "Captcher issue/validate outcomes.",
	}, []string{"action", "result"})
)

// Outcome значения для Queries.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// ObserveQuery — одна запись о выполненном запросе.
func ObserveQuery(database, operation, outcome string, started time.Time, rows int) {
	Queries.WithLabelValues(database, operation, outcome).Inc()
	QueryDuration.WithLabelValues(database, operation).Observe(time.Since(started).Seconds())
	if rows > 0 {
		RowsReturned.WithLabelValues(database, operation).Add(float64(rows))
	}
}
