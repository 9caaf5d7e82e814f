// Package metrics provides Prometheus metrics for the JustPaid client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artpar/justpaid/domain/usage"
	"github.com/artpar/justpaid/ports"
)

const namespace = "justpaid"

// Collector holds all Prometheus metrics of the client.
type Collector struct {
	// API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SchemaDrift     *prometheus.CounterVec

	// Job metrics
	JobPolls        *prometheus.CounterVec
	JobsCompleted   *prometheus.CounterVec
	JobWaitDuration prometheus.Histogram

	// Relay metrics
	RelayMessages *prometheus.CounterVec

	// Config metrics
	ConfigReloads prometheus.Counter
}

// New creates a collector with all metrics registered on reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "requests_total",
				Help:      "Total number of JustPaid API calls by operation and HTTP status",
			},
			[]string{"operation", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "request_duration_seconds",
				Help:      "JustPaid API call duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		SchemaDrift: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "schema_drift_total",
				Help:      "Successful responses that did not match the expected schema",
			},
			[]string{"operation"},
		),
		JobPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_polls_total",
				Help:      "Async job status polls by observed status",
			},
			[]string{"status"},
		),
		JobsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Waited-on async jobs by outcome",
			},
			[]string{"status"},
		),
		JobWaitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_wait_duration_seconds",
				Help:      "Time spent waiting for async jobs",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
			},
		),
		RelayMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "messages_total",
				Help:      "Relayed messages by result",
			},
			[]string{"result"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of configuration reloads",
			},
		),
	}
}

// ObserveRequest records one API call. A status of 0 is labelled "error".
func (c *Collector) ObserveRequest(operation string, status int, d time.Duration) {
	c.RequestsTotal.WithLabelValues(operation, statusLabel(status)).Inc()
	c.RequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncSchemaDrift counts a response that failed to parse.
func (c *Collector) IncSchemaDrift(operation string) {
	c.SchemaDrift.WithLabelValues(operation).Inc()
}

// IncJobPoll counts one status poll.
func (c *Collector) IncJobPoll(status usage.JobStatus) {
	c.JobPolls.WithLabelValues(string(status)).Inc()
}

// ObserveJobCompleted records the end of a wait.
func (c *Collector) ObserveJobCompleted(outcome string, d time.Duration) {
	c.JobsCompleted.WithLabelValues(outcome).Inc()
	c.JobWaitDuration.Observe(d.Seconds())
}

// IncRelayMessage counts a relayed message.
func (c *Collector) IncRelayMessage(result string) {
	c.RelayMessages.WithLabelValues(result).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}

var _ ports.Metrics = (*Collector)(nil)
