// Package metrics exposes delivery, scheduler and inbound update metrics in
// Prometheus format.
package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/daily-lessons/internal/application/delivery"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/scheduler"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/daily-lessons/pkg/circuitbreaker"
)

const namespace = "lessons"

// PrometheusRecorder implements delivery.Recorder and jobs.PassObserver and
// feeds scheduler hooks into Prometheus metrics.
type PrometheusRecorder struct {
	once sync.Once
	reg  *prom.Registry

	outcomes        *prom.CounterVec
	outcomeDuration *prom.HistogramVec
	conflicts       *prom.CounterVec
	passDuration    prom.Histogram
	passSubscribers *prom.GaugeVec
	lastPassTime    prom.Gauge
	jobRuns         *prom.CounterVec
	jobSkipped      *prom.CounterVec
	jobsInFlight    *prom.GaugeVec
	jobDuration     *prom.HistogramVec
	updates         *prom.CounterVec
	breakerState    *prom.GaugeVec
}

// NewPrometheusRecorder constructs and registers the metrics. A nil registry
// gets a fresh one with the Go and process collectors.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	pr := &PrometheusRecorder{reg: reg}
	pr.once.Do(func() {
		pr.outcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_outcomes_total",
			Help:      "Executed delivery actions by outcome",
		}, []string{"outcome"})
		pr.outcomeDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_execute_duration_seconds",
			Help:      "Duration of executing one delivery action",
			Buckets:   prom.DefBuckets,
		}, []string{"outcome"})
		pr.conflicts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_commit_conflicts_total",
			Help:      "Version conflicts on commit by resolution",
		}, []string{"resolution"})
		pr.passDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_pass_duration_seconds",
			Help:      "Duration of a full delivery pass",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		})
		pr.passSubscribers = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_pass_subscribers",
			Help:      "Subscribers per result in the last delivery pass",
		}, []string{"result"})
		pr.lastPassTime = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_last_pass_timestamp_seconds",
			Help:      "Completion time of the last delivery pass",
		})
		pr.jobRuns = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduler job runs by result",
		}, []string{"job", "result"})
		pr.jobSkipped = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_skipped_total",
			Help:      "Due runs skipped because the previous run was still in flight",
		}, []string{"job"})
		pr.jobsInFlight = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_jobs_in_flight",
			Help:      "Scheduler jobs currently running",
		}, []string{"job"})
		pr.jobDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_job_duration_seconds",
			Help:      "Scheduler job run duration",
			Buckets:   prom.DefBuckets,
		}, []string{"job"})
		pr.updates = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_updates_total",
			Help:      "Inbound Telegram updates by kind and result",
		}, []string{"kind", "result"})
		pr.breakerState = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"})
		reg.MustRegister(pr.outcomes, pr.outcomeDuration, pr.conflicts, pr.passDuration, pr.passSubscribers,
			pr.lastPassTime, pr.jobRuns, pr.jobSkipped, pr.jobsInFlight, pr.jobDuration, pr.updates, pr.breakerState)
	})
	return pr
}

// Registry returns the registry the metrics live in.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.reg }

// ObserveOutcome implements delivery.Recorder.
func (p *PrometheusRecorder) ObserveOutcome(kind delivery.OutcomeKind, elapsed time.Duration) {
	if p == nil || p.outcomes == nil {
		return
	}
	p.outcomes.WithLabelValues(string(kind)).Inc()
	p.outcomeDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// ObserveConflict implements delivery.Recorder.
func (p *PrometheusRecorder) ObserveConflict(resolved bool) {
	if p == nil || p.conflicts == nil {
		return
	}
	res := "gave_up"
	if resolved {
		res = "resolved"
	}
	p.conflicts.WithLabelValues(res).Inc()
}

// ObservePass implements jobs.PassObserver.
func (p *PrometheusRecorder) ObservePass(s jobs.PassStats) {
	if p == nil || p.passDuration == nil {
		return
	}
	p.passDuration.Observe(s.Duration.Seconds())
	p.lastPassTime.Set(float64(s.CompletedAt.Unix()))
	for result, n := range map[string]int{
		"total":              s.Total,
		"delivered":          s.Delivered,
		"completed":          s.Completed,
		"skipped":            s.Skipped,
		"permanent_failures": s.PermanentFailures,
		"transient_failures": s.TransientFailures,
		"superseded":         s.Superseded,
		"errors":             s.Errors,
	} {
		p.passSubscribers.WithLabelValues(result).Set(float64(n))
	}
}

// JobStarted marks a scheduler run in flight; wire it to Scheduler.OnJobStart.
func (p *PrometheusRecorder) JobStarted(job string) {
	if p == nil || p.jobsInFlight == nil {
		return
	}
	p.jobsInFlight.WithLabelValues(job).Inc()
}

// ObserveJob records a finished scheduler run; wire it to Scheduler.OnJobComplete.
func (p *PrometheusRecorder) ObserveJob(r scheduler.JobResult) {
	if p == nil || p.jobRuns == nil {
		return
	}
	p.jobsInFlight.WithLabelValues(r.JobName).Dec()
	res := "success"
	if !r.Success {
		res = "failed"
	}
	p.jobRuns.WithLabelValues(r.JobName, res).Inc()
	p.jobDuration.WithLabelValues(r.JobName).Observe(r.Duration.Seconds())
}

// IncJobSkipped records an overlapping run; wire it to Scheduler.OnJobSkipped.
func (p *PrometheusRecorder) IncJobSkipped(job string) {
	if p == nil || p.jobSkipped == nil {
		return
	}
	p.jobSkipped.WithLabelValues(job).Inc()
}

// IncUpdate records an inbound update.
func (p *PrometheusRecorder) IncUpdate(kind string, success bool) {
	if p == nil || p.updates == nil {
		return
	}
	res := "success"
	if !success {
		res = "failed"
	}
	p.updates.WithLabelValues(kind, res).Inc()
}

// SetBreakerState records a circuit breaker transition.
func (p *PrometheusRecorder) SetBreakerState(name string, state circuitbreaker.State) {
	if p == nil || p.breakerState == nil {
		return
	}
	p.breakerState.WithLabelValues(name).Set(float64(state))
}

// HTTPHandler returns an http.Handler that serves the recorder's registry.
func (p *PrometheusRecorder) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
