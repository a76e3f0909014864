package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var queueDepthSource atomic.Pointer[func() int]

var (
	// JobsTotal counts executed jobs by outcome (ok, error).
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edged_jobs_total",
			Help: "Total number of statement units executed by workers",
		},
		[]string{"outcome"},
	)
	// JobDuration is the engine execution latency of one statement unit.
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edged_job_duration_seconds",
			Help:    "Statement unit execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	// TransactionsTotal counts interactive transactions by how they ended.
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edged_transactions_total",
			Help: "Total number of interactive transactions by result",
		},
		[]string{"result"},
	)
	OpenTransactions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edged_open_transactions",
			Help: "Interactive transactions currently pinned to a worker",
		},
	)
	BusyWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edged_busy_workers",
			Help: "Workers currently executing or holding a transaction",
		},
	)
	// QueueDepth reads the registered source at scrape time.
	QueueDepth = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "edged_queue_depth",
			Help: "Jobs waiting in the shared job queue",
		},
		func() float64 {
			if src := queueDepthSource.Load(); src != nil {
				return float64((*src)())
			}
			return 0
		},
	)
	// ErrorsTotal counts engine errors by classifier category.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edged_errors_total",
			Help: "Total number of engine errors by category",
		},
		[]string{"category"},
	)
	// SchedulerEvents counts routing events seen by the scheduler.
	SchedulerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edged_scheduler_events_total",
			Help: "Total number of scheduler events by type",
		},
		[]string{"event"},
	)
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"

	TxnCommitted  = "committed"
	TxnRolledBack = "rolled_back"
	TxnTimedOut   = "timeout"
)

func RecordJob(outcome string, d time.Duration) {
	JobsTotal.WithLabelValues(outcome).Inc()
	JobDuration.Observe(d.Seconds())
}

func RecordError(category string) {
	ErrorsTotal.WithLabelValues(category).Inc()
}

func RecordSchedulerEvent(event string) {
	SchedulerEvents.WithLabelValues(event).Inc()
}

// SetQueueDepthSource makes QueueDepth report src. It returns a function
// that unregisters src unless another source has replaced it since.
func SetQueueDepthSource(src func() int) (unset func()) {
	p := &src
	queueDepthSource.Store(p)
	return func() {
		queueDepthSource.CompareAndSwap(p, nil)
	}
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
