package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Krish-Gupta07/Litmus-AI/internal/analysis"
	"github.com/Krish-Gupta07/Litmus-AI/internal/config"
	"github.com/Krish-Gupta07/Litmus-AI/internal/health"
	"github.com/Krish-Gupta07/Litmus-AI/internal/metrics"
	"github.com/Krish-Gupta07/Litmus-AI/internal/queue"
	"github.com/Krish-Gupta07/Litmus-AI/internal/storage"
	"github.com/Krish-Gupta07/Litmus-AI/internal/worker"
)

// Standalone worker-pool process: claims and executes jobs without
// exposing the HTTP surface. Useful for scaling execution separately from
// the API.
func main() {
	cfg := config.Load()
	log, err := zap.NewProduction()
	if cfg.AppEnv != "production" {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connection failed", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	broker := queue.NewRedis(rdb)

	monitor := health.NewMonitor(broker, cfg.BreakerThreshold, cfg.BreakerCooldown, cfg.ProbeInterval, log.Named("health"))
	go monitor.Run(ctx)

	collab := analysis.NewClient(analysis.Endpoints{
		Scraper:     cfg.ScraperURL,
		Transformer: cfg.TransformerURL,
		Retriever:   cfg.RetrieverURL,
		Generator:   cfg.GeneratorURL,
		Scorer:      cfg.ScorerURL,
		Notifier:    cfg.NotifierURL,
	})
	pool := worker.NewPool(broker, storage.New(db), worker.Collaborators{
		Scraper:     collab,
		Transformer: collab,
		Retriever:   collab,
		Generator:   collab,
		Scorer:      collab,
		Notifier:    collab,
	}, metrics.New(), worker.Options{
		Concurrency:    cfg.Concurrency,
		MaxConcurrency: cfg.MaxConcurrency,
		JobTimeout:     cfg.JobTimeout,
		LeaseTTL:       cfg.LeaseTTL,
		BackoffBase:    cfg.BackoffBase,
	}, log.Named("worker"))

	pool.Start()
	log.Info("worker ready")

	<-ctx.Done()
	log.Info("shutdown signal received")
	pool.Shutdown(context.Background())
	log.Info("shutdown complete")
}
