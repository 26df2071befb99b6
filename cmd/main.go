// jobmate-market-service
//
// Job-market ingestion and analytics.
//   - Collects postings from the TheirStack job search API on a cron
//     schedule, for configured roles or for the roles users are targeting
//   - Normalizes technology tags into canonical skills and upserts postings
//   - Serves trending skills, locations, salaries and per-role skill gaps
//     over REST, and grpc.health.v1 for the platform
//
// Publishes EVENT_JOBS_COLLECTED to Redis after every collection run when
// REDIS_URL is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rcrowley/go-metrics"
	"github.com/redis/go-redis/v9"

	"jobmate/market-service/internal/analytics"
	"jobmate/market-service/internal/cache"
	"jobmate/market-service/internal/collector"
	"jobmate/market-service/internal/config"
	"jobmate/market-service/internal/db"
	"jobmate/market-service/internal/demand"
	"jobmate/market-service/internal/grpcserver"
	"jobmate/market-service/internal/httpapi"
	"jobmate/market-service/internal/scheduler"
	"jobmate/market-service/internal/skills"
	"jobmate/market-service/internal/store"
	"jobmate/market-service/internal/theirstack"
)

func main() {
	renormalize := flag.Bool("renormalize", false, "recompute stored skills from technology slugs and exit")
	flag.Parse()

	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Store ───────────────────────────────────────────────────────────────
	norm := skills.NewNormalizer()
	st, closeStore, err := openStore(ctx, cfg, norm, logger)
	if err != nil {
		fatal(logger, "store", err)
	}
	defer closeStore()

	// ── Redis (optional) ────────────────────────────────────────────────────
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		logger.Info("connecting to redis")
		if rdb, err = db.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			fatal(logger, "redis", err)
		}
		defer rdb.Close()
		logger.Info("redis connected")
	}

	// ── Components ──────────────────────────────────────────────────────────
	registry := metrics.DefaultRegistry
	client := theirstack.NewClient(theirstack.Options{
		BaseURL:     cfg.TheirStackBaseURL,
		APIKey:      cfg.TheirStackAPIKey,
		Timeout:     cfg.TheirStackTimeout,
		MaxAttempts: cfg.TheirStackRetries,
		MaxLimit:    cfg.MaxJobsPerSearch,
		Logger:      logger,
		Metrics:     registry,
	})
	defer client.Close()

	collOpts := collector.Options{Logger: logger, Metrics: registry, RedFlags: cfg.RedFlags}
	if rdb != nil {
		collOpts.Events = collector.NewRedisPublisher(rdb)
	}
	coll := collector.New(client, st, norm, collOpts)

	if *renormalize {
		start := time.Now()
		n, err := coll.RenormalizeSkills(ctx)
		if err != nil {
			fatal(logger, "renormalize", err)
		}
		logger.Info("skills renormalized", "updated", humanize.Comma(int64(n)), "took", time.Since(start).Round(time.Millisecond))
		return
	}

	dc := demand.New(st, coll, cfg.CollectionLocations, logger)
	sched := scheduler.New(scheduler.Config{
		CollectionSchedule: cfg.CollectionSchedule,
		Roles:              cfg.CollectionRoles,
		Locations:          cfg.CollectionLocations,
		UseUserRoles:       cfg.UseUserRoles,
		RetentionDays:      cfg.RetentionDays,
		MaxJobsPerSearch:   cfg.MaxJobsPerSearch,
		Logger:             logger,
	}, coll, dc)

	policy, err := cache.New(cfg.AnalyticsCache, cfg.AnalyticsCacheTTL, rdb)
	if err != nil {
		fatal(logger, "analytics cache", err)
	}
	engine := analytics.New(st, norm, analytics.Options{Cache: policy, Logger: logger, Metrics: registry})
	logger.Info("analytics cache ready", "policy", policy.Name(), "ttl", cfg.AnalyticsCacheTTL)

	if err := sched.Start(ctx); err != nil {
		fatal(logger, "scheduler", err)
	}

	// ── gRPC health ─────────────────────────────────────────────────────────
	grpcSrv := grpcserver.NewServer(sched, logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		fatal(logger, "grpc listen", err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	go grpcSrv.Watch(ctx, 15*time.Second)

	// ── HTTP server ─────────────────────────────────────────────────────────
	api := httpapi.Server{
		Analytics: engine,
		Stats:     coll,
		Scheduler: sched,
		Demand:    dc,
		Users:     st,
		Metrics:   registry,
		Logger:    logger,
	}
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     api.Router(),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http listening", "addr", srv.Addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "http server", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}
	grpcSrv.Stop()
	logger.Info("stopped")
}

// openStore connects the configured backend and applies its schema.
func openStore(ctx context.Context, cfg *config.Config, norm *skills.Normalizer, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		logger.Info("opening sqlite", "path", cfg.SQLitePath)
		st, err := store.OpenSQLite(cfg.SQLitePath, norm)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	default:
		logger.Info("connecting to postgres")
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := store.NewPostgres(pool, norm)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("postgres connected")
		return st, pool.Close, nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})).
		With("service", "market-service")
}

func fatal(logger *slog.Logger, what string, err error) {
	logger.Error(what+" failed", "err", err)
	os.Exit(1)
}
