// Package jobs contains the scheduled jobs of the lesson bot.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alem-hub/daily-lessons/internal/application/delivery"
	"github.com/alem-hub/daily-lessons/internal/domain/shared"
	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/pkg/logger"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY DELIVERY JOB
// ══════════════════════════════════════════════════════════════════════════════

// JobNameDailyDelivery is the registered name of the delivery pass.
const JobNameDailyDelivery = "daily_delivery"

// ErrPassInProgress is returned when a pass is requested while another runs.
var ErrPassInProgress = errors.New("jobs: delivery pass already in progress")

// SubscriberLister enumerates subscribers for a pass.
type SubscriberLister interface {
	List(ctx context.Context) ([]subscriber.ID, error)
}

// Deliverer runs one delivery cycle; implemented by delivery.Service.
type Deliverer interface {
	Deliver(ctx context.Context, id subscriber.ID, today timeutil.Date) (delivery.Report, error)
}

// PassObserver receives the stats of every finished pass.
type PassObserver interface {
	ObservePass(stats PassStats)
}

// DailyDeliveryConfig contains configuration for the daily delivery job.
type DailyDeliveryConfig struct {
	// Clock and Location determine "today" for a scheduled run.
	Clock    timeutil.Clock
	Location *time.Location

	// Observer is notified after each pass (optional).
	Observer PassObserver

	Logger *slog.Logger
}

// DefaultDailyDeliveryConfig returns sensible defaults.
func DefaultDailyDeliveryConfig() DailyDeliveryConfig {
	return DailyDeliveryConfig{
		Clock:    timeutil.SystemClock{},
		Location: time.UTC,
	}
}

// PassStats summarizes one pass over all subscribers.
type PassStats struct {
	Today       timeutil.Date
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	Total             int
	Delivered         int
	Completed         int
	Skipped           int
	PermanentFailures int
	TransientFailures int
	Superseded        int
	Conflicts         int
	Corrupt           int
	Errors            int
	Interrupted       bool

	SkippedReasons map[string]int
}

// DailyDeliveryJob runs the delivery cycle for every subscriber. It keeps no
// per-subscriber state between runs; everything comes from the store.
type DailyDeliveryJob struct {
	lister    SubscriberLister
	deliverer Deliverer
	clock     timeutil.Clock
	location  *time.Location
	observer  PassObserver
	logger    *slog.Logger

	inProgress atomic.Bool

	mu        sync.RWMutex
	lastStats *PassStats
}

// NewDailyDeliveryJob creates a new daily delivery job.
func NewDailyDeliveryJob(lister SubscriberLister, deliverer Deliverer, config DailyDeliveryConfig) *DailyDeliveryJob {
	def := DefaultDailyDeliveryConfig()
	if config.Clock == nil {
		config.Clock = def.Clock
	}
	if config.Location == nil {
		config.Location = def.Location
	}
	return &DailyDeliveryJob{
		lister:    lister,
		deliverer: deliverer,
		clock:     config.Clock,
		location:  config.Location,
		observer:  config.Observer,
		logger:    logger.OrDefault(config.Logger).With(logger.Component("daily_delivery")),
	}
}

// Name returns the job name.
func (j *DailyDeliveryJob) Name() string {
	return JobNameDailyDelivery
}

// Description returns a human-readable description.
func (j *DailyDeliveryJob) Description() string {
	return "Delivers the next lesson to every active subscriber once per calendar day"
}

// Run executes one pass for today's date in the configured zone.
func (j *DailyDeliveryJob) Run(ctx context.Context) error {
	_, err := j.Tick(ctx, timeutil.Today(j.clock, j.location))
	return err
}

// Tick executes one pass for the given date. Per-subscriber failures are
// counted and logged, never returned; an error means the pass could not run.
func (j *DailyDeliveryJob) Tick(ctx context.Context, today timeutil.Date) (PassStats, error) {
	if !j.inProgress.CompareAndSwap(false, true) {
		return PassStats{}, ErrPassInProgress
	}
	defer j.inProgress.Store(false)

	stats := PassStats{
		Today:          today,
		StartedAt:      j.clock.Now(),
		SkippedReasons: make(map[string]int),
	}
	log := j.logger.With(logger.Day(today.String()))

	ids, err := j.lister.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("jobs: list subscribers: %w", err)
	}
	stats.Total = len(ids)
	log.InfoContext(ctx, "delivery pass started", slog.Int("subscribers", stats.Total))

	for i, id := range ids {
		if ctx.Err() != nil {
			stats.Interrupted = true
			log.WarnContext(ctx, "delivery pass interrupted", slog.Int("remaining", len(ids)-i))
			break
		}
		j.deliverOne(ctx, id, today, &stats, log)
	}

	stats.CompletedAt = j.clock.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)

	j.mu.Lock()
	j.lastStats = &stats
	j.mu.Unlock()
	if j.observer != nil {
		j.observer.ObservePass(stats)
	}

	log.InfoContext(ctx, "delivery pass completed",
		logger.Latency(stats.Duration),
		slog.Int("total", stats.Total),
		slog.Int("delivered", stats.Delivered),
		slog.Int("completed", stats.Completed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("permanent_failures", stats.PermanentFailures),
		slog.Int("transient_failures", stats.TransientFailures),
		slog.Int("errors", stats.Errors),
	)
	return stats, nil
}

func (j *DailyDeliveryJob) deliverOne(ctx context.Context, id subscriber.ID, today timeutil.Date, stats *PassStats, log *slog.Logger) {
	report, err := j.deliverer.Deliver(ctx, id, today)
	if err != nil {
		stats.Errors++
		switch {
		case shared.IsConflict(err):
			stats.Conflicts++
			log.WarnContext(ctx, "delivery cycle skipped after repeated conflicts", logger.SubscriberID(id.String()), logger.Err(err))
		case errors.Is(err, subscriber.ErrCorruptRecord):
			stats.Corrupt++
			log.ErrorContext(ctx, "corrupt subscriber record", logger.SubscriberID(id.String()), logger.Err(err))
		default:
			log.ErrorContext(ctx, "delivery cycle failed", logger.SubscriberID(id.String()), logger.Err(err))
		}
		return
	}

	for _, step := range report.Steps {
		switch step.Outcome.Kind {
		case delivery.OutcomeDelivered:
			if step.Committed {
				stats.Delivered++
			} else {
				stats.Superseded++
			}
		case delivery.OutcomeCompleted:
			if step.Committed {
				stats.Completed++
			} else {
				stats.Superseded++
			}
		case delivery.OutcomeSkipped:
			stats.Skipped++
			stats.SkippedReasons[step.Outcome.Reason]++
		case delivery.OutcomePermanentFailure:
			stats.PermanentFailures++
		case delivery.OutcomeTransientFailure:
			stats.TransientFailures++
		}
	}
}

// LastStats returns the stats of the most recent pass, if any.
func (j *DailyDeliveryJob) LastStats() (PassStats, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.lastStats == nil {
		return PassStats{}, false
	}
	return *j.lastStats, true
}

// LastRunMetadata implements scheduler.MetadataReporter.
func (j *DailyDeliveryJob) LastRunMetadata() map[string]any {
	stats, ok := j.LastStats()
	if !ok {
		return nil
	}
	return map[string]any{
		"today":              stats.Today.String(),
		"total":              stats.Total,
		"delivered":          stats.Delivered,
		"completed":          stats.Completed,
		"skipped":            stats.Skipped,
		"permanent_failures": stats.PermanentFailures,
		"transient_failures": stats.TransientFailures,
		"errors":             stats.Errors,
	}
}
