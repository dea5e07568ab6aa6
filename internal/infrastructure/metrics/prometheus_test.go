package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/internal/application/delivery"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/scheduler"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/daily-lessons/pkg/circuitbreaker"
)

func TestPrometheusRecorder(t *testing.T) {
	pr := NewPrometheusRecorder(prom.NewRegistry())

	pr.ObserveOutcome(delivery.OutcomeDelivered, 150*time.Millisecond)
	pr.ObserveOutcome(delivery.OutcomeDelivered, 50*time.Millisecond)
	pr.ObserveOutcome(delivery.OutcomeTransientFailure, time.Second)
	pr.ObserveConflict(true)
	pr.ObserveConflict(false)
	pr.ObservePass(jobs.PassStats{Total: 5, Delivered: 3, Skipped: 2, Duration: time.Second, CompletedAt: time.Unix(1700000000, 0)})
	pr.JobStarted(jobs.JobNameDailyDelivery)
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.jobsInFlight.WithLabelValues("daily_delivery")))
	pr.ObserveJob(scheduler.JobResult{JobName: jobs.JobNameDailyDelivery, Success: true, Duration: time.Second})
	pr.IncJobSkipped(jobs.JobNameDailyDelivery)
	pr.IncUpdate("callback", true)
	pr.SetBreakerState("telegram-api", circuitbreaker.StateOpen)

	assert.Equal(t, 2.0, testutil.ToFloat64(pr.outcomes.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.outcomes.WithLabelValues("transient_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.conflicts.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.conflicts.WithLabelValues("gave_up")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pr.passSubscribers.WithLabelValues("delivered")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(pr.lastPassTime))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.jobRuns.WithLabelValues("daily_delivery", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.jobSkipped.WithLabelValues("daily_delivery")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pr.jobsInFlight.WithLabelValues("daily_delivery")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.updates.WithLabelValues("callback", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.breakerState.WithLabelValues("telegram-api")))
}

func TestPrometheusRecorder_NilIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.ObserveOutcome(delivery.OutcomeDelivered, time.Second)
		pr.ObservePass(jobs.PassStats{})
		pr.IncUpdate("message", false)
		pr.JobStarted("x")
	})
}

func TestPrometheusRecorder_HTTPHandler(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	pr.ObserveOutcome(delivery.OutcomeCompleted, time.Millisecond)

	srv := httptest.NewServer(pr.HTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `lessons_delivery_outcomes_total{outcome="completed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
