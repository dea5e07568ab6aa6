// Package main - точка входа Telegram-бота с ежедневными уроками.
//
// Бот регистрирует подписчика через короткий диалог, сразу отправляет первый
// урок и дальше раз в день отправляет следующий, пока курс не закончится.
//
// Архитектура:
// - Domain: подписчик, чистая функция Decide
// - Application: доставка урока, диалог регистрации
// - Infrastructure: хранилища, Telegram Bot API, планировщик, метрики
// - Interface: Telegram handlers, HTTP endpoints
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/daily-lessons/config"

	// Application layer
	"github.com/alem-hub/daily-lessons/internal/application/delivery"
	"github.com/alem-hub/daily-lessons/internal/application/onboarding"

	// Infrastructure layer
	"github.com/alem-hub/daily-lessons/internal/infrastructure/assets"
	tgapi "github.com/alem-hub/daily-lessons/internal/infrastructure/external/telegram"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/metrics"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/scheduler"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/service"

	// Interface layer
	httpserver "github.com/alem-hub/daily-lessons/internal/interface/http"
	"github.com/alem-hub/daily-lessons/internal/interface/http/handlers"
	"github.com/alem-hub/daily-lessons/internal/interface/telegram"
	"github.com/alem-hub/daily-lessons/internal/interface/telegram/middleware"
	"github.com/alem-hub/daily-lessons/internal/interface/telegram/presenter"

	// Packages
	"github.com/alem-hub/daily-lessons/pkg/circuitbreaker"
	"github.com/alem-hub/daily-lessons/pkg/logger"
	"github.com/alem-hub/daily-lessons/pkg/retry"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Корневой контекст отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting daily lessons bot",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
		"total_units", cfg.Course.TotalUnits,
	)

	clock := timeutil.SystemClock{}
	startup := retry.Startup(func(attempt int, err error, delay time.Duration) {
		log.Warn("startup call failed, retrying", "attempt", attempt, "delay", delay.String(), logger.Err(err))
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 3. МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	var recorder *metrics.PrometheusRecorder
	if cfg.Observability.MetricsEnabled {
		recorder = metrics.NewPrometheusRecorder(nil)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ХРАНИЛИЩЕ ПОДПИСЧИКОВ
	// ─────────────────────────────────────────────────────────────────────────
	driver, err := persistence.ParseDriver(cfg.Storage.Driver)
	if err != nil {
		return err
	}

	log.Info("opening subscriber store...", "driver", driver)
	var store *persistence.Opened
	err = startup.Do(ctx, func(ctx context.Context) error {
		opened, err := persistence.Open(ctx, storageConfig(cfg, driver, log))
		if err != nil {
			return err
		}
		store = opened
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to open subscriber store: %w", err)
	}
	defer func() {
		log.Info("closing subscriber store...")
		if err := store.Close(); err != nil {
			log.Warn("failed to close subscriber store", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. КЕШ FILE_ID (Redis, опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var mediaCache service.MediaCache
	var redisCache *redis.Cache

	switch {
	case store.Redis != nil:
		redisCache = store.Redis
	case cfg.Redis.Configured():
		log.Info("connecting to Redis for media cache...")
		redisCache, err = redis.NewCache(ctx, redisConfig(cfg))
		if err != nil {
			log.Warn("failed to connect to Redis, media cache kept in memory", logger.Err(err))
			redisCache = nil
		} else {
			defer redisCache.Close()
		}
	}
	if redisCache != nil {
		mediaCache = redis.NewMediaCache(redisCache)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ВНЕШНИЕ КЛИЕНТЫ И КОНТЕНТ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing external clients...")

	clientCfg := tgapi.DefaultClientConfig(cfg.Telegram.Token)
	clientCfg.Timeout = cfg.Telegram.RequestTimeout
	clientCfg.PollTimeout = cfg.Telegram.PollingTimeout
	clientCfg.Debug = cfg.App.Debug
	clientCfg.Logger = log
	client := tgapi.NewClient(clientCfg)

	var breakerObservers []func(name string, from, to circuitbreaker.State)
	if recorder != nil {
		breakerObservers = append(breakerObservers, func(name string, _, to circuitbreaker.State) {
			recorder.SetBreakerState(name, to)
		})
	}
	notifier := service.NewTelegramNotifier(client, service.TelegramNotifierConfig{
		Breaker: service.NewTelegramBreaker(log, breakerObservers...),
		Cache:   mediaCache,
		Logger:  log,
	})

	resolver, err := assets.NewDirResolver(cfg.Course.AssetsDir, cfg.Course.AssetsPattern)
	if err != nil {
		return fmt.Errorf("failed to init lesson assets: %w", err)
	}
	if missing, err := resolver.Missing(ctx, cfg.Course.TotalUnits); err != nil {
		log.Warn("failed to check lesson files", logger.Err(err))
	} else if len(missing) > 0 {
		log.Warn("lesson files are missing, these units will be retried daily",
			"dir", resolver.Dir(),
			"units", missing,
		)
	}

	phrases := delivery.DefaultPhrasebook()
	if cfg.Course.PhrasebookPath != "" {
		phrases, err = delivery.LoadPhrasebook(cfg.Course.PhrasebookPath)
		if err != nil {
			return fmt.Errorf("failed to load phrasebook: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")

	executor := delivery.NewExecutor(notifier, resolver, delivery.ExecutorConfig{
		Phrases: phrases,
		Rand:    delivery.NewRand(cfg.Delivery.RandomSeed),
		Logger:  log,
	})

	serviceCfg := delivery.ServiceConfig{
		TotalUnits:  cfg.Course.TotalUnits,
		SendTimeout: cfg.Delivery.SendTimeout,
		Clock:       clock,
		Logger:      log,
	}
	if recorder != nil {
		serviceCfg.Recorder = recorder
	}
	deliveries := delivery.NewService(store, executor, serviceCfg)

	onboardingPresenter := presenter.NewOnboardingPresenter(client, log)
	dialogue := onboarding.NewDialogue(store, onboardingPresenter, deliveries, onboarding.Config{
		Clock:    clock,
		Location: cfg.App.Location,
		Logger:   log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 8. СОЗДАНИЕ TELEGRAM BOT
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing Telegram bot...")

	botConfig := telegram.DefaultBotConfig()
	botConfig.Mode = telegram.ModePolling
	if cfg.UseWebhook() {
		botConfig.Mode = telegram.ModeWebhook
	}
	botConfig.WebhookURL = cfg.Telegram.WebhookURL
	botConfig.WebhookSecret = cfg.Telegram.WebhookSecret
	botConfig.DropPendingUpdates = cfg.Telegram.DropPendingUpdates
	botConfig.MaxConcurrentUpdates = cfg.Telegram.MaxConcurrentUpdates
	botConfig.GracefulShutdownTimeout = cfg.App.ShutdownTimeout
	if floor := cfg.Delivery.SendTimeout + time.Minute; botConfig.UpdateTimeout < floor {
		botConfig.UpdateTimeout = floor
	}
	botConfig.RateLimit = middleware.DefaultRateLimitConfig()
	botConfig.RateLimit.RequestsPerMinute = cfg.Telegram.UserRateLimit
	botConfig.RateLimit.BurstSize = cfg.Telegram.UserRateBurst
	botConfig.Logger = log

	botDeps := telegram.BotDependencies{
		Client:    client,
		Dialogue:  dialogue,
		Presenter: onboardingPresenter,
	}
	if recorder != nil {
		botDeps.Metrics = recorder
	}

	bot, err := telegram.NewBot(botConfig, botDeps)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	err = startup.Do(ctx, func(ctx context.Context) error {
		if err := bot.Setup(ctx); err != nil {
			if tgapi.IsUnauthorized(err) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set up bot: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ЕЖЕДНЕВНАЯ РАССЫЛКА
	// ─────────────────────────────────────────────────────────────────────────
	jobCfg := jobs.DailyDeliveryConfig{
		Clock:    clock,
		Location: cfg.App.Location,
		Logger:   log,
	}
	if recorder != nil {
		jobCfg.Observer = recorder
	}
	dailyJob := jobs.NewDailyDeliveryJob(store, deliveries, jobCfg)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = newScheduler(cfg, dailyJob, recorder, log)
		if err != nil {
			return err
		}
	} else {
		log.Warn("scheduler disabled, lessons are only sent on registration")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. СОЗДАНИЕ HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpConfig.WebhookSecret = cfg.Telegram.WebhookSecret
	httpConfig.Version = cfg.App.Version

	health := handlers.NewCompositeHealthChecker(5 * time.Second)
	health.AddCheck("storage", handlers.NewPingCheck(store))
	if redisCache != nil && store.Redis == nil {
		health.AddCheck("redis", handlers.NewPingCheck(redisCache))
	}
	if sched != nil {
		health.AddCheck("scheduler", handlers.NewRunningCheck("scheduler", sched))
	}

	httpDeps := httpserver.Dependencies{
		HealthChecker: health,
		Logger:        log,
	}
	if sched != nil {
		httpDeps.Jobs = schedulerJobs{sched}
	}
	if cfg.UseWebhook() {
		httpDeps.WebhookHandler = bot
	}
	if recorder != nil {
		httpDeps.Metrics = recorder.HTTPHandler()
	}

	httpServer := httpserver.NewServer(httpConfig, httpDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 11. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting services...")

	g, gctx := errgroup.WithContext(ctx)

	// HTTP сервер
	g.Go(func() error {
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	// Telegram бот
	g.Go(func() error {
		if err := bot.Run(gctx); err != nil {
			return fmt.Errorf("telegram bot error: %w", err)
		}
		return nil
	})

	// Планировщик
	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		if cfg.Scheduler.RunOnStart {
			g.Go(func() error {
				if _, err := sched.RunNow(gctx, jobs.JobNameDailyDelivery); err != nil {
					log.Error("startup pass failed", logger.Err(err))
				}
				return nil
			})
		}
	}

	log.Info("daily lessons bot is running",
		"http_address", httpConfig.Address(),
		"telegram_mode", botConfig.Mode,
		"scheduler", cfg.Scheduler.Enabled,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 12. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		// 1. HTTP сервер перестаёт принимать webhook
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		}

		// 2. Бот дожидается обработки текущих обновлений
		if err := bot.Stop(shutdownCtx); err != nil {
			log.Error("failed to stop bot gracefully", logger.Err(err))
		}

		// 3. Планировщик дожидается текущего прохода
		if sched != nil {
			if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
				log.Error("failed to stop scheduler", logger.Err(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("service error", logger.Err(err))
		return err
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.Observability.LogFormat == string(logger.FormatJSON) {
		opts.Format = logger.FormatJSON
	}

	log := logger.New(opts)
	slog.SetDefault(log)

	return log
}

func storageConfig(cfg *config.Config, driver persistence.Driver, log *slog.Logger) persistence.Config {
	pool := postgres.DefaultPoolConfig()
	pool.MaxConns = int32(cfg.Database.MaxConns)
	pool.MinConns = int32(cfg.Database.MinConns)
	pool.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pool.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	return persistence.Config{
		Driver:      driver,
		Dir:         cfg.Storage.Dir,
		SQLitePath:  cfg.Storage.SQLitePath,
		DatabaseURL: cfg.Database.URL,
		Pool:        pool,
		Redis:       redisConfig(cfg),
		AutoMigrate: cfg.Storage.AutoMigrate,
		Logger:      log,
	}
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	if cfg.Redis.Host != "" {
		rc.Host = cfg.Redis.Host
		rc.Port = cfg.Redis.Port
	}
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.Namespace = cfg.Redis.Namespace
	rc.PoolSize = cfg.Redis.PoolSize
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}

// newScheduler регистрирует ежедневный проход по расписанию SCHEDULER_CADENCE.
func newScheduler(cfg *config.Config, job *jobs.DailyDeliveryJob, recorder *metrics.PrometheusRecorder, log *slog.Logger) (*scheduler.Scheduler, error) {
	schedule, err := scheduler.ParseSchedule(cfg.Scheduler.Cadence, cfg.App.Location)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_CADENCE: %w", err)
	}

	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = log
	schedCfg.Timezone = cfg.App.Location
	schedCfg.TickInterval = cfg.Scheduler.TickInterval

	sched := scheduler.NewScheduler(schedCfg)
	if err := sched.Register(job, schedule); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", job.Name(), err)
	}

	if recorder != nil {
		sched.OnJobStart(recorder.JobStarted)
		sched.OnJobComplete(recorder.ObserveJob)
		sched.OnJobSkipped(recorder.IncJobSkipped)
	}
	sched.OnJobError(func(jobName string, err error) {
		log.Error("scheduled job failed", "job", jobName, logger.Err(err))
	})

	log.Info("daily pass scheduled", "cadence", schedule.String(), "timezone", cfg.App.Timezone)
	return sched, nil
}

// schedulerJobs отдаёт состояние заданий планировщика для GET /jobs.
type schedulerJobs struct {
	sched *scheduler.Scheduler
}

func (j schedulerJobs) Jobs() []handlers.JobStatus {
	infos := j.sched.ListJobs()
	out := make([]handlers.JobStatus, 0, len(infos))
	for _, info := range infos {
		st := handlers.JobStatus{
			Name:        info.Name,
			Description: info.Description,
			Schedule:    info.Schedule,
			Running:     info.Running,
			RunCount:    info.RunCount,
			FailCount:   info.FailCount,
			SkipCount:   info.SkipCount,
		}
		if !info.LastRun.IsZero() {
			last := info.LastRun
			st.LastRun = &last
		}
		if !info.NextRun.IsZero() {
			next := info.NextRun
			st.NextRun = &next
		}
		if info.LastResult != nil && info.LastResult.Error != nil {
			st.LastError = info.LastResult.Error.Error()
		}
		out = append(out, st)
	}
	return out
}
