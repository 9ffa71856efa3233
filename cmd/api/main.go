package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Krish-Gupta07/Litmus-AI/internal/analysis"
	"github.com/Krish-Gupta07/Litmus-AI/internal/api"
	"github.com/Krish-Gupta07/Litmus-AI/internal/config"
	"github.com/Krish-Gupta07/Litmus-AI/internal/health"
	"github.com/Krish-Gupta07/Litmus-AI/internal/metrics"
	"github.com/Krish-Gupta07/Litmus-AI/internal/queue"
	"github.com/Krish-Gupta07/Litmus-AI/internal/storage"
	"github.com/Krish-Gupta07/Litmus-AI/internal/worker"
)

func newLogger(env string) *zap.Logger {
	if env == "production" {
		log, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return log
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return log
}

func main() {
	cfg := config.Load()
	log := newLogger(cfg.AppEnv)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := storage.Migrate(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}
	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connection failed", zap.Error(err))
	}
	defer db.Close()
	store := storage.New(db)

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	broker := queue.NewRedis(rdb)

	monitor := health.NewMonitor(broker, cfg.BreakerThreshold, cfg.BreakerCooldown, cfg.ProbeInterval, log.Named("health"))
	m := metrics.New()

	q := queue.New(broker, monitor, store, m, queue.Options{
		MaxQueueSize: cfg.MaxQueueSize,
		MaxAttempts:  cfg.MaxAttempts,
	}, log.Named("queue"))

	collab := analysis.NewClient(analysis.Endpoints{
		Scraper:     cfg.ScraperURL,
		Transformer: cfg.TransformerURL,
		Retriever:   cfg.RetrieverURL,
		Generator:   cfg.GeneratorURL,
		Scorer:      cfg.ScorerURL,
		Notifier:    cfg.NotifierURL,
	})
	pool := worker.NewPool(broker, store, worker.Collaborators{
		Scraper:     collab,
		Transformer: collab,
		Retriever:   collab,
		Generator:   collab,
		Scorer:      collab,
		Notifier:    collab,
	}, m, worker.Options{
		Concurrency:    cfg.Concurrency,
		MaxConcurrency: cfg.MaxConcurrency,
		JobTimeout:     cfg.JobTimeout,
		LeaseTTL:       cfg.LeaseTTL,
		BackoffBase:    cfg.BackoffBase,
	}, log.Named("worker"))

	scaler := metrics.NewScaler(pool, q, monitor, m, cfg.ScaleInterval, cfg.MonitorInterval, log.Named("scaler"))

	pool.Start()
	handlers := api.New(q, pool, monitor, store, log.Named("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		scaler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return api.Serve(gctx, cfg.APIAddr, handlers.Router(), log)
	})

	<-ctx.Done()
	log.Info("shutdown signal received")

	// Drain order: stop intake first, then let active jobs finish.
	shutdownCtx := context.Background()
	if err := q.Pause(shutdownCtx); err != nil {
		log.Warn("pause on shutdown failed", zap.Error(err))
	}
	pool.Shutdown(shutdownCtx)
	if err := q.Resume(shutdownCtx); err != nil {
		log.Warn("resume on shutdown failed", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		log.Warn("shutdown finished with error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
