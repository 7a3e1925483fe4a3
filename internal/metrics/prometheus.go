package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tannybot/remindd/internal/domain"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal       prometheus.Counter
	tickErrorsTotal  prometheus.Counter
	jobsEmittedTotal prometheus.Counter
	tickDuration     prometheus.Histogram
	pendingJobs      prometheus.Gauge
	supersededTotal  prometheus.Counter

	// Dispatcher metrics
	sendsTotal    *prometheus.CounterVec
	sendDuration  prometheus.Histogram
	firesTotal    *prometheus.CounterVec
	firesInFlight prometheus.Gauge

	// Leader election metrics
	leaderStatus prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remindd_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remindd_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.jobsEmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remindd_scheduler_jobs_emitted_total",
		Help: "Total number of due reminder jobs handed to the dispatcher.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "remindd_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.pendingJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "remindd_scheduler_pending_jobs",
		Help: "Number of due pending jobs seen by the last tick.",
	})
	s.supersededTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remindd_scheduler_jobs_superseded_total",
		Help: "Total number of jobs superseded by event updates and deletes.",
	})

	s.register(reg, s.ticksTotal, "remindd_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "remindd_scheduler_tick_errors_total")
	s.register(reg, s.jobsEmittedTotal, "remindd_scheduler_jobs_emitted_total")
	s.register(reg, s.tickDuration, "remindd_scheduler_tick_duration_seconds")
	s.register(reg, s.pendingJobs, "remindd_scheduler_pending_jobs")
	s.register(reg, s.supersededTotal, "remindd_scheduler_jobs_superseded_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.sendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remindd_dispatcher_sends_total",
		Help: "Total number of per-recipient notification sends.",
	}, []string{"kind", "outcome"})

	s.sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "remindd_dispatcher_send_duration_seconds",
		Help:    "Notification send latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.firesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remindd_dispatcher_fires_total",
		Help: "Total number of fire dispatches by outcome.",
	}, []string{"outcome"})

	s.firesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "remindd_dispatcher_fires_in_flight",
		Help: "Number of fire events currently being dispatched.",
	})

	s.register(reg, s.sendsTotal, "remindd_dispatcher_sends_total")
	s.register(reg, s.sendDuration, "remindd_dispatcher_send_duration_seconds")
	s.register(reg, s.firesTotal, "remindd_dispatcher_fires_total")
	s.register(reg, s.firesInFlight, "remindd_dispatcher_fires_in_flight")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "remindd_leader_status",
		Help: "Whether this instance currently holds the leader lock (1) or not (0).",
	})
	s.register(reg, s.leaderStatus, "remindd_leader_status")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, jobsEmitted int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.jobsEmittedTotal.Add(float64(jobsEmitted))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) PendingJobsUpdate(count int) {
	s.pendingJobs.Set(float64(count))
}

func (s *PrometheusSink) JobsSuperseded(count int) {
	s.supersededTotal.Add(float64(count))
}

// Dispatcher metrics implementation

func (s *PrometheusSink) SendCompleted(kind domain.ReminderKind, outcome string, duration time.Duration) {
	s.sendsTotal.WithLabelValues(string(kind), outcome).Inc()
	s.sendDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) FireCompleted(outcome string) {
	s.firesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) FiresInFlightIncr() {
	s.firesInFlight.Inc()
}

func (s *PrometheusSink) FiresInFlightDecr() {
	s.firesInFlight.Dec()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}
