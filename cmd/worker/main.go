// Package main is the entry point of the wager hub worker.
//
// The worker runs the admin HTTP API and the background jobs:
// - Periodic sync of wager totals from the affiliate API
// - Optional standalone ranking recalculation
//
// Several workers may run side by side; job locks in Redis keep a scheduled
// job from running on more than one of them at a time.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vip-wager/wager-hub/config"
	"github.com/vip-wager/wager-hub/internal/application/command"
	"github.com/vip-wager/wager-hub/internal/application/query"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
	"github.com/vip-wager/wager-hub/internal/infrastructure/external/goated"
	"github.com/vip-wager/wager-hub/internal/infrastructure/persistence/postgres"
	"github.com/vip-wager/wager-hub/internal/infrastructure/persistence/redis"
	"github.com/vip-wager/wager-hub/internal/infrastructure/scheduler"
	"github.com/vip-wager/wager-hub/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/vip-wager/wager-hub/internal/interface/http"
	"github.com/vip-wager/wager-hub/internal/interface/http/handlers"
	"github.com/vip-wager/wager-hub/pkg/circuitbreaker"
	"github.com/vip-wager/wager-hub/pkg/logger"
)

// statsCache is the cache surface shared by writers and the leaderboard reader.
type statsCache interface {
	wager.StatsCache
	wager.LeaderboardCache
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log, err := logger.New(logger.Options{
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("worker_id", cfg.App.WorkerID))

	log.Info("starting wager hub worker",
		zap.String("env", string(cfg.App.Environment)),
		zap.String("version", cfg.App.Version),
	)

	setPolicy, err := cfg.SetPolicy()
	if err != nil {
		return err
	}
	timeframes, err := cfg.SyncTimeframes()
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	poolOpts := postgres.DefaultPoolOptions()
	if cfg.Database.MaxConns > 0 {
		poolOpts.MaxConns = cfg.Database.MaxConns
	}
	if cfg.Database.MinConns > 0 {
		poolOpts.MinConns = cfg.Database.MinConns
	}
	if cfg.Database.MaxConnLifetime > 0 {
		poolOpts.MaxConnLifetime = cfg.Database.MaxConnLifetime
	}
	if cfg.Database.MaxConnIdleTime > 0 {
		poolOpts.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	}

	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, poolOpts)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if cfg.Database.AutoMigrate {
		applied, err := postgres.NewMigrator(dbConn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("migrations applied", zap.Int("count", applied))
	}

	store := postgres.NewStore(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. CACHE (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		cache  statsCache = redis.NoopCache{}
		locker scheduler.Locker
		health = handlers.NewHealthChecker(cfg.App.Version)
	)
	health.AddCheck("database", true, dbConn.Ping)

	if cfg.Redis.Disabled {
		log.Warn("redis disabled, running without cache")
	} else {
		redisCfg := redis.DefaultConfig()
		redisCfg.URL = cfg.Redis.URL
		if cfg.Redis.Addr != "" {
			redisCfg.Addr = cfg.Redis.Addr
		}
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		if cfg.Redis.PoolSize > 0 {
			redisCfg.PoolSize = cfg.Redis.PoolSize
		}

		redisCache, err := redis.NewCache(ctx, redisCfg)
		if err != nil {
			// The cache is an accelerator; the worker keeps serving from the database.
			log.Warn("failed to connect to redis, running without cache", zap.Error(err))
		} else {
			defer func() {
				log.Info("closing redis connection...")
				_ = redisCache.Close()
			}()
			cache = redis.NewStatsCache(redisCache, redis.StatsCacheConfig{
				StatsTTL:       cfg.Cache.StatsTTL,
				LeaderboardTTL: cfg.Cache.LeaderboardTTL,
				OpTimeout:      cfg.Cache.OpTimeout,
			}, log)
			locker = redisCache
			health.AddCheck("cache", false, redisCache.Ping)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. AFFILIATE API
	// ─────────────────────────────────────────────────────────────────────────
	breaker := circuitbreaker.New("goated_api",
		circuitbreaker.WithFailureThreshold(cfg.Goated.BreakerThreshold),
		circuitbreaker.WithCooldown(cfg.Goated.BreakerCooldown),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
	)

	clientCfg := goated.DefaultClientConfig(cfg.Goated.APIURL, cfg.Goated.APIToken)
	clientCfg.Timeout = cfg.Goated.Timeout
	if cfg.Goated.RequestsPerSecond > 0 {
		clientCfg.RequestsPerSecond = cfg.Goated.RequestsPerSecond
	}
	if cfg.Goated.Burst > 0 {
		clientCfg.Burst = cfg.Goated.Burst
	}
	clientCfg.Breaker = breaker
	clientCfg.Logger = log
	feed := goated.NewClient(clientCfg)
	health.AddCheck("goated_api", false, handlers.NewBreakerCheck(feed))

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	computer := command.NewStatsComputer(store, cache, command.StatsComputerConfig{SetPolicy: setPolicy}, log)
	rankings := command.NewRankingEngine(store, cache, log)
	ledger := command.NewAdjustmentLedger(store, cache, computer, log)
	orchestrator := command.NewSyncOrchestrator(store, cache, feed, computer, rankings, command.SyncConfig{
		PageSize:     cfg.Sync.PageSize,
		PageDelay:    cfg.Sync.PageDelay,
		UserPageSize: cfg.Sync.UserPageSize,
		MaxPages:     cfg.Sync.MaxPages,
	}, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = log
	schedCfg.Timezone = cfg.Location()
	schedCfg.Locker = locker
	schedCfg.Owner = cfg.App.WorkerID
	if cfg.Scheduler.LockTTL > 0 {
		schedCfg.LockTTL = cfg.Scheduler.LockTTL
	}
	sched := scheduler.NewScheduler(schedCfg)

	syncJob := jobs.NewSyncWagersJob(orchestrator, jobs.SyncWagersConfig{
		Timeframes: timeframes,
		Timeout:    cfg.Scheduler.SyncTimeout,
	}, log)
	if err := sched.Register(syncJob, cfg.Scheduler.SyncCron); err != nil {
		return fmt.Errorf("failed to register sync job: %w", err)
	}
	if cfg.Scheduler.RankingCron != "" {
		rankJob := jobs.NewRecalculateRankingsJob(rankings, cfg.Scheduler.SyncTimeout, log)
		if err := sched.Register(rankJob, cfg.Scheduler.RankingCron); err != nil {
			return fmt.Errorf("failed to register ranking job: %w", err)
		}
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		log.Info("scheduler started",
			zap.String("sync_cron", cfg.Scheduler.SyncCron),
			zap.String("ranking_cron", cfg.Scheduler.RankingCron),
		)
	} else {
		log.Info("scheduler disabled, jobs run only on demand")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Addr = cfg.HTTP.Addr
	if cfg.HTTP.ReadTimeout > 0 {
		httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	}
	if cfg.HTTP.WriteTimeout > 0 {
		httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	}

	server := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		Ledger:               ledger,
		Sync:                 orchestrator,
		Rankings:             rankings,
		ComputedStats:        query.NewGetComputedStatsHandler(store.Users(), store.Computed(), cache, log),
		Leaderboard:          query.NewGetLeaderboardHandler(store.Computed(), cache),
		SearchAdjustments:    query.NewSearchAdjustmentsHandler(store.Adjustments()),
		UserAdjustments:      query.NewGetUserAdjustmentsHandler(store.Users(), store.Adjustments()),
		AdjustmentStatistics: query.NewGetAdjustmentStatisticsHandler(store.Users(), store.Adjustments()),
		SyncLogs:             query.NewListSyncLogsHandler(store.SyncLogs()),
		Jobs:                 sched,
		Health:               health,
		Logger:               log,
	})
	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = err
			log.Error("http server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", zap.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		log.Error("scheduler shutdown failed", zap.Error(err))
	}

	log.Info("shutdown completed")
	return runErr
}
