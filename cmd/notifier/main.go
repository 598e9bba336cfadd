package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"

	"github.com/habitflow/notifier/internal/api"
	"github.com/habitflow/notifier/internal/auth"
	"github.com/habitflow/notifier/internal/bot"
	"github.com/habitflow/notifier/internal/database"
	"github.com/habitflow/notifier/internal/directory"
	"github.com/habitflow/notifier/internal/dispatch"
	"github.com/habitflow/notifier/internal/domain"
	apperrors "github.com/habitflow/notifier/internal/errors"
	"github.com/habitflow/notifier/internal/health"
	"github.com/habitflow/notifier/internal/i18n"
	"github.com/habitflow/notifier/internal/idempotency"
	"github.com/habitflow/notifier/internal/jobs"
	jobhandlers "github.com/habitflow/notifier/internal/jobs/handlers"
	"github.com/habitflow/notifier/internal/lifecycle"
	"github.com/habitflow/notifier/internal/linking"
	"github.com/habitflow/notifier/internal/mail"
	"github.com/habitflow/notifier/internal/middleware"
	"github.com/habitflow/notifier/internal/ratelimit"
	"github.com/habitflow/notifier/internal/reaper"
	"github.com/habitflow/notifier/internal/repository"
	"github.com/habitflow/notifier/internal/state"
	"github.com/habitflow/notifier/internal/usercache"
	"github.com/habitflow/notifier/pkg/config"
	"github.com/habitflow/notifier/pkg/graceful"
	"github.com/habitflow/notifier/pkg/logger"
	"github.com/habitflow/notifier/pkg/metrics"
	"github.com/habitflow/notifier/pkg/redis"
)

const (
	userCacheSize        = 1024
	limiterSweepInterval = time.Minute
	limiterMaxIdle       = time.Hour
	collectorInterval    = time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("notifier stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return err
	}

	log, level := logger.NewWithLevel(*cfg)
	slog.SetDefault(log)
	config.Watch(v, func(raw string) {
		level.Set(logger.ParseLevel(raw))
		log.Info("log level changed", slog.String("level", raw))
	})

	flushSentry, err := logger.InitSentry(*cfg)
	if err != nil {
		return err
	}
	defer flushSentry()

	log.Info("starting notifier",
		slog.String("env", cfg.AppEnv),
		slog.String("http_port", cfg.Server.Port),
		slog.String("db_driver", cfg.Database.Driver),
		slog.Bool("bot_enabled", cfg.Bot.Enabled),
	)

	shutdown := lifecycle.NewShutdown(log)
	checker := health.NewChecker(log)
	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled)

	settingsRepo, habitRepo, db, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if db != nil {
		checker.AddCheck("postgres", health.NewDBChecker(db))
		shutdown.Register(lifecycle.StageStores, "postgres", func(context.Context) error { return db.Close() })
	}

	rdb, err := openRedis(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	if rdb != nil {
		checker.AddCheck("redis", health.NewRedisChecker(rdb))
		shutdown.Register(lifecycle.StageStores, "redis", func(context.Context) error { return rdb.Close() })
	}

	tokens, err := auth.NewTokens(cfg.Auth)
	if err != nil {
		return err
	}

	var userCache usercache.Cache = usercache.NewMemoryCache(userCacheSize, cfg.UserService.CacheTTL)
	if rdb != nil {
		userCache = usercache.NewRedisCache(rdb.Raw(), cfg.UserService.CacheTTL)
	}
	users, err := directory.New(cfg.UserService, tokens, log,
		directory.WithCache(userCache),
		directory.WithBreaker(apperrors.BreakerSettings{
			ErrorThreshold: 0.5,
			MinRequests:    5,
			OpenTimeout:    30 * time.Second,
			HalfOpenMax:    1,
		}),
	)
	if err != nil {
		return err
	}

	texts, err := i18n.Load("en")
	if err != nil {
		return err
	}

	var idemStore idempotency.Store = idempotency.NewMemoryStore()
	if rdb != nil {
		idemStore = idempotency.NewRedisStore(rdb.Raw(), log)
	}
	idem := idempotency.NewManager(idemStore, log)

	var wg sync.WaitGroup
	background := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	queue := linking.NewQueue(cfg.Linking.QueueSize)
	var chat dispatch.ChatSender = offlineChat{}
	if cfg.Bot.Enabled {
		tg, err := startBot(cfg, queue, texts, idem, rdb, errHandler, log, background)
		if err != nil {
			return err
		}
		chat = tg
		checker.AddCheck("telegram", tg)
		shutdown.Register(lifecycle.StageIngress, "telegram", func(context.Context) error {
			tg.Stop()
			return nil
		})

		linker := linking.NewLinker(settingsRepo, log)
		worker := linking.NewWorker(queue, linker, tg, texts, cfg.Linking.Workers, log)
		background(worker.Run)
	}

	machineOpts := state.Options{TokenTTL: cfg.Linking.TokenTTL}
	marker := state.NewMachine(settingsRepo, nil, log, nil, machineOpts)
	router := dispatch.NewRouter(users, settingsRepo, marker, mail.NewSender(cfg.Mail, log), chat, log)
	machine := state.NewMachine(settingsRepo, router, log, rdb.Raw(), machineOpts)

	if cfg.Reaper.Settings.Enabled {
		background(reaper.NewSettingsReaper(settingsRepo, users, cfg.Reaper.Settings, log).Run)
	}
	if cfg.Reaper.Habits.Enabled && habitRepo != nil {
		background(reaper.NewHabitReaper(habitRepo, users, cfg.Reaper.Habits, log).Run)
	}
	background(metrics.NewSettingsCollector(settingsRepo, collectorInterval, log).Run)

	if cfg.Reminders.Enabled {
		if err := startReminders(cfg, habitRepo, users, router, shutdown, log); err != nil {
			return err
		}
	}

	probes := lifecycle.NewProbes(checker, log)
	server := api.NewServer(api.Deps{
		Settings:       machine,
		Dispatcher:     router,
		Tokens:         tokens,
		Probes:         probes,
		Errors:         errHandler,
		Idempotency:    idem,
		IdempotencyTTL: cfg.Linking.DedupTTL,
	}, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		probes.MarkDraining()
	}()

	serveErr := graceful.NewServer(log, httpServer, cfg.Server.ShutdownTimeout).ListenAndServe(ctx)
	stop()

	shutdown.Register(lifecycle.StageWorkers, "background loops", func(hookCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-hookCtx.Done():
			return hookCtx.Err()
		}
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return errors.Join(serveErr, shutdown.Execute(shutdownCtx))
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (repository.SettingsRepository, repository.HabitRepository, *sql.DB, error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory settings store; data is lost on restart")
		return repository.NewMemorySettingsRepository(), nil, nil, nil
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	err = apperrors.WithRetry(ctx, func() error {
		if err := db.PingContext(ctx); err != nil {
			return apperrors.NewDatabaseError(err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if err := database.NewMigrator(db, log).Apply(ctx, database.Migrations()); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	return repository.NewSettingsRepository(db, log), repository.NewHabitRepository(db, log), db, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		log.Warn("redis disabled; falling back to in-process limiter, cache and idempotency store")
		return nil, nil
	}

	var client *redis.Client
	err := apperrors.WithRetry(ctx, func() error {
		c, err := redis.New(ctx, cfg)
		if err != nil {
			return apperrors.NewUpstreamUnavailableError("redis", err)
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	return client, nil
}

func startBot(
	cfg *config.Config,
	queue linking.Queue,
	texts *i18n.Manager,
	idem idempotency.Manager,
	rdb *redis.Client,
	errHandler *apperrors.Handler,
	log *slog.Logger,
	background func(func(context.Context)),
) (*bot.Bot, error) {
	memoryLimiter := ratelimit.NewMemoryLimiter()
	background(ratelimit.NewCleaner(memoryLimiter, log, limiterSweepInterval, limiterMaxIdle).Run)

	var limiter ratelimit.Limiter = memoryLimiter
	if rdb != nil {
		limiter = ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rdb.Raw(), log), memoryLimiter, log)
	}

	tg, err := bot.New(cfg.Bot, bot.Deps{
		Queue:       queue,
		Texts:       texts,
		Idempotency: idem,
		RateLimit:   middleware.NewRateLimitMiddleware(limiter, ratelimit.NewRules(cfg.RateLimit), texts, log),
		ErrHandler:  errHandler,
		DedupTTL:    cfg.Linking.DedupTTL,
	}, log)
	if err != nil {
		return nil, err
	}

	go tg.Start()
	return tg, nil
}

func startReminders(
	cfg *config.Config,
	habits repository.HabitRepository,
	users *directory.Client,
	router *dispatch.Router,
	shutdown *lifecycle.Shutdown,
	log *slog.Logger,
) error {
	if habits == nil || cfg.Redis.Addr == "" {
		log.Warn("habit reminders need postgres and redis; reminders disabled")
		return nil
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}

	scheduler, err := jobs.NewScheduler(redisOpt, cfg.Reminders, log)
	if err != nil {
		return err
	}
	if err := scheduler.RegisterTasks(); err != nil {
		return err
	}

	worker := jobs.NewWorker(redisOpt, log)
	worker.RegisterHandler(jobs.TaskTypeHabitReminders, jobhandlers.NewHabitReminderHandler(habits, users, router, log))

	if err := worker.Run(); err != nil {
		return fmt.Errorf("start jobs worker: %w", err)
	}
	if err := scheduler.Run(); err != nil {
		worker.Shutdown()
		return fmt.Errorf("start jobs scheduler: %w", err)
	}

	shutdown.Register(lifecycle.StageWorkers, "jobs", func(context.Context) error {
		scheduler.Shutdown()
		worker.Shutdown()
		return nil
	})

	return nil
}

// offlineChat stands in for the Telegram transport when the bot is disabled.
type offlineChat struct{}

func (offlineChat) Send(context.Context, domain.ChatID, string) error {
	return errors.New("telegram transport is disabled")
}
