package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/alem-hub/daily-lessons/config"
	"github.com/alem-hub/daily-lessons/internal/application/delivery"
	"github.com/alem-hub/daily-lessons/internal/domain/shared"
	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/assets"
	tgapi "github.com/alem-hub/daily-lessons/internal/infrastructure/external/telegram"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/service"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TICK
// ══════════════════════════════════════════════════════════════════════════════

// TickCmd implements the 'tick' command. The pass always runs for today in
// APP_TIMEZONE; other dates are only available to the dry-run commands.
type TickCmd struct{}

func (c *TickCmd) Run(ctx context.Context, g *Global) error {
	cfg, err := g.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	today := timeutil.Today(timeutil.SystemClock{}, cfg.App.Location)

	store, err := openStore(ctx, cfg, g.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	deliveries, err := newDeliveryService(cfg, store, g.Logger)
	if err != nil {
		return err
	}

	jobCfg := jobs.DefaultDailyDeliveryConfig()
	jobCfg.Location = cfg.App.Location
	jobCfg.Logger = g.Logger
	job := jobs.NewDailyDeliveryJob(store, deliveries, jobCfg)

	stats, err := job.Tick(ctx, today)
	printStats(g, stats)
	return err
}

func newDeliveryService(cfg *config.Config, store *persistence.Opened, log *slog.Logger) (*delivery.Service, error) {
	clientCfg := tgapi.DefaultClientConfig(cfg.Telegram.Token)
	clientCfg.Timeout = cfg.Telegram.RequestTimeout
	clientCfg.Logger = log
	client := tgapi.NewClient(clientCfg)

	notifierCfg := service.TelegramNotifierConfig{
		Breaker: service.NewTelegramBreaker(log),
		Logger:  log,
	}
	if store.Redis != nil {
		notifierCfg.Cache = redis.NewMediaCache(store.Redis)
	}
	notifier := service.NewTelegramNotifier(client, notifierCfg)

	resolver, err := assets.NewDirResolver(cfg.Course.AssetsDir, cfg.Course.AssetsPattern)
	if err != nil {
		return nil, err
	}

	phrases := delivery.DefaultPhrasebook()
	if cfg.Course.PhrasebookPath != "" {
		if phrases, err = delivery.LoadPhrasebook(cfg.Course.PhrasebookPath); err != nil {
			return nil, err
		}
	}

	executor := delivery.NewExecutor(notifier, resolver, delivery.ExecutorConfig{
		Phrases: phrases,
		Rand:    delivery.NewRand(cfg.Delivery.RandomSeed),
		Logger:  log,
	})
	return delivery.NewService(store, executor, delivery.ServiceConfig{
		TotalUnits:  cfg.Course.TotalUnits,
		SendTimeout: cfg.Delivery.SendTimeout,
		Logger:      log,
	}), nil
}

func printStats(g *Global, s jobs.PassStats) {
	fmt.Fprintf(g.Out, "pass %s: total=%d delivered=%d completed=%d skipped=%d permanent=%d transient=%d superseded=%d conflicts=%d corrupt=%d errors=%d duration=%s\n",
		s.Today, s.Total, s.Delivered, s.Completed, s.Skipped,
		s.PermanentFailures, s.TransientFailures, s.Superseded, s.Conflicts, s.Corrupt, s.Errors,
		s.Duration.Round(time.Millisecond),
	)
	if s.Interrupted {
		fmt.Fprintln(g.Out, "pass interrupted")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	ID   string `arg:"" help:"Subscriber id (Telegram chat id)"`
	Date string `help:"Date used for the decision (YYYY-MM-DD, default: today)"`
}

func (c *StatusCmd) Run(ctx context.Context, g *Global) error {
	cfg, err := g.LoadConfig()
	if err != nil {
		return err
	}
	today, err := resolveDate(c.Date, cfg)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, g.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sub, err := store.Get(ctx, subscriber.ID(c.ID))
	if shared.IsNotFound(err) {
		return fmt.Errorf("subscriber %s not found", c.ID)
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", sub.ID)
	fmt.Fprintf(tw, "state:\t%s\n", sub.State)
	fmt.Fprintf(tw, "attribute:\t%s\n", orDash(string(sub.Attribute)))
	fmt.Fprintf(tw, "next unit:\t%d of %d\n", sub.NextUnitIndex, cfg.Course.TotalUnits)
	fmt.Fprintf(tw, "last delivered:\t%s\n", dateOrDash(sub.LastDeliveredOn))
	fmt.Fprintf(tw, "version:\t%d\n", sub.Version)
	fmt.Fprintf(tw, "updated:\t%s\n", sub.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(tw, "decision %s:\t%s\n", today, subscriber.Decide(*sub, today, cfg.Course.TotalUnits))
	return tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// LIST
// ══════════════════════════════════════════════════════════════════════════════

// ListCmd implements the 'list' command.
type ListCmd struct{}

func (c *ListCmd) Run(ctx context.Context, g *Global) error {
	cfg, err := g.LoadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, g.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := sortedIDs(ctx, store)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tATTRIBUTE\tNEXT\tLAST DELIVERED\tVERSION")
	for _, id := range ids {
		sub, err := store.Get(ctx, id)
		if err != nil {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t-\n", id, errorLabel(err))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\n",
			sub.ID, sub.State, orDash(string(sub.Attribute)), sub.NextUnitIndex,
			dateOrDash(sub.LastDeliveredOn), sub.Version)
	}
	fmt.Fprintf(tw, "\n%d subscribers\n", len(ids))
	return tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// ADVANCE CHECK
// ══════════════════════════════════════════════════════════════════════════════

// AdvanceCheckCmd implements the 'advance-check' command.
type AdvanceCheckCmd struct {
	Date string `help:"Date to evaluate (YYYY-MM-DD, default: today)"`
}

func (c *AdvanceCheckCmd) Run(ctx context.Context, g *Global) error {
	cfg, err := g.LoadConfig()
	if err != nil {
		return err
	}
	today, err := resolveDate(c.Date, cfg)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, g.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := sortedIDs(ctx, store)
	if err != nil {
		return err
	}

	counts := make(map[subscriber.ActionKind]int)
	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tDECISION %s\n", today)
	for _, id := range ids {
		sub, err := store.Get(ctx, id)
		if err != nil {
			fmt.Fprintf(tw, "%s\t%s\n", id, errorLabel(err))
			continue
		}
		action := subscriber.Decide(*sub, today, cfg.Course.TotalUnits)
		counts[action.Kind]++
		fmt.Fprintf(tw, "%s\t%s\n", id, action)
	}
	fmt.Fprintf(tw, "\nsend=%d complete=%d noop=%d\n",
		counts[subscriber.ActionSendUnit], counts[subscriber.ActionMarkCompleted], counts[subscriber.ActionNoOp])
	return tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

// MigrateCmd implements the 'migrate' command.
type MigrateCmd struct {
	DatabaseURL string `name:"database-url" help:"Overrides DATABASE_URL"`
}

func (c *MigrateCmd) Run(ctx context.Context, g *Global) error {
	cfg, err := g.LoadConfig()
	if err != nil {
		return err
	}
	if c.DatabaseURL != "" {
		cfg.Database.URL = c.DatabaseURL
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	cfg.Storage.Driver = string(persistence.DriverPostgres)

	store, err := openStore(ctx, cfg, g.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	migrator := postgres.NewMigrator(store.Postgres)
	if err := migrator.Migrate(ctx); err != nil {
		return err
	}
	status, err := migrator.Status(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, m := range status {
		applied := "pending"
		if m.IsApplied {
			applied = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Version, m.Name, applied)
	}
	return tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*persistence.Opened, error) {
	driver, err := persistence.ParseDriver(cfg.Storage.Driver)
	if err != nil {
		return nil, err
	}

	pool := postgres.DefaultPoolConfig()
	pool.MaxConns = 2
	pool.MinConns = 0

	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	if cfg.Redis.Host != "" {
		rc.Host = cfg.Redis.Host
		rc.Port = cfg.Redis.Port
	}
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.Namespace = cfg.Redis.Namespace

	return persistence.Open(ctx, persistence.Config{
		Driver:      driver,
		Dir:         cfg.Storage.Dir,
		SQLitePath:  cfg.Storage.SQLitePath,
		DatabaseURL: cfg.Database.URL,
		Pool:        pool,
		Redis:       rc,
		Logger:      log,
	})
}

func resolveDate(s string, cfg *config.Config) (timeutil.Date, error) {
	if s != "" {
		return timeutil.ParseDate(s)
	}
	if cfg.App.Location == nil {
		return timeutil.Date{}, fmt.Errorf("APP_TIMEZONE %q is not a valid IANA zone", cfg.App.Timezone)
	}
	return timeutil.Today(timeutil.SystemClock{}, cfg.App.Location), nil
}

func sortedIDs(ctx context.Context, store subscriber.Store) ([]subscriber.ID, error) {
	ids, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func errorLabel(err error) string {
	if errors.Is(err, subscriber.ErrCorruptRecord) {
		return "corrupt"
	}
	return "error: " + err.Error()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func dateOrDash(d timeutil.Date) string {
	if d.IsZero() {
		return "-"
	}
	return d.String()
}
