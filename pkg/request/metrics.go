package request

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sgl-project/objclient/pkg/connection"
	"github.com/sgl-project/objclient/pkg/storage"
)

// Metrics collects Prometheus metrics for request execution and transfers.
// A nil *Metrics records nothing.
type Metrics struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	resultsTotal    *prometheus.CounterVec

	uploadBytes     prometheus.Counter
	transfersTotal  *prometheus.CounterVec
	transfersActive prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "attempts_total",
				Help:      "Total number of request attempts by method and outcome (status code or failure kind)",
			},
			[]string{"method", "outcome"},
		),
		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "attempt_duration_seconds",
				Help:      "Duration of single request attempts in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "retries_total",
				Help:      "Total number of scheduled retries by method",
			},
			[]string{"method"},
		),
		resultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "results_total",
				Help:      "Total number of settled requests by method and result code",
			},
			[]string{"method", "code"},
		),
		uploadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "bytes_total",
				Help:      "Total bytes confirmed by the service for resumable uploads",
			},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "transfers_total",
				Help:      "Total number of resumable uploads by terminal state",
			},
			[]string{"state"},
		),
		transfersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "transfers_active",
				Help:      "Number of resumable uploads started and not yet settled",
			},
		),
	}
}

func (m *Metrics) observeAttempt(method string, out connection.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	outcome := out.Kind.String()
	if out.Kind == connection.KindCompleted {
		outcome = strconv.Itoa(out.Status)
	}
	m.attemptsTotal.WithLabelValues(method, outcome).Inc()
	m.attemptDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) observeRetry(method string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) observeResult(method string, err error) {
	if m == nil {
		return
	}
	code := "ok"
	if err != nil {
		code = string(storage.CodeOf(err))
	}
	m.resultsTotal.WithLabelValues(method, code).Inc()
}

// ObserveUploadedBytes records bytes confirmed by a chunk.
func (m *Metrics) ObserveUploadedBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadBytes.Add(float64(n))
}

// TransferStarted marks a resumable upload as active.
func (m *Metrics) TransferStarted() {
	if m == nil {
		return
	}
	m.transfersActive.Inc()
}

// TransferFinished records the terminal state of a resumable upload.
func (m *Metrics) TransferFinished(state string) {
	if m == nil {
		return
	}
	m.transfersActive.Dec()
	m.transfersTotal.WithLabelValues(state).Inc()
}
