// cmd/notifierd/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notification-engine/internal/archive"
	"notification-engine/internal/catalog"
	"notification-engine/internal/common/config"
	"notification-engine/internal/common/database"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/observability"
	"notification-engine/internal/delivery"
	"notification-engine/internal/delivery/mailer"
	"notification-engine/internal/delivery/queue"
	"notification-engine/internal/descriptor"
	"notification-engine/internal/engine"
)

// promoterInterval is how often delayed retry jobs are checked for promotion.
const promoterInterval = 1 * time.Second

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting notification engine...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	store := catalog.NewStore(pg.DB)

	// --- Catalog sync ---
	if cfg.Catalog.SyncOnStart {
		doc, err := catalog.LoadDocument(cfg.Catalog.DocumentPath)
		if err != nil {
			zapLog.Fatal("catalog document load failed", zap.Error(err))
		}
		if err := catalog.Sync(ctx, store, doc); err != nil {
			zapLog.Fatal("catalog sync failed", zap.Error(err))
		}
		zapLog.Info("Catalog synchronized", zap.String("document", cfg.Catalog.DocumentPath))
	}

	// --- Descriptor registry ---
	registry := descriptor.NewRegistry()

	// --- Delivery queue + dispatcher ---
	dq := queue.New(rdb.Client, cfg.Delivery.QueueName, log)
	dispatcher := engine.NewDispatcher(store, registry, dq, log)

	// --- Fire archiver (optional) ---
	if cfg.Archive.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")

		dispatcher.WithArchiver(archive.NewIndexer(esClient.Client, cfg.Archive.Index, log))
	}

	// --- Fire intake ---
	intake := queue.NewFireIntake(rdb.Client, cfg.Engine.FireQueueName, log)
	go func() {
		for req := range intake.Consume(ctx) {
			start := time.Now()
			status := "ok"
			result, err := dispatcher.FireEvent(ctx, req.Event, req.Params)
			switch {
			case err != nil:
				status = "error"
				zapLog.Error("event fire failed",
					zap.String("event", req.Event),
					zap.Error(err))
			case len(result.Failed()) > 0:
				status = "partial"
				zapLog.Warn("event fired with config failures",
					zap.String("event", req.Event),
					zap.Int("failed_configs", len(result.Failed())))
			}
			obs.RecordFireProcessed(ctx, req.Event, status)
			obs.RecordFireDuration(ctx, time.Since(start), status)
		}
	}()
	zapLog.Info("Fire intake started", zap.String("queue", cfg.Engine.FireQueueName))

	// --- Mail transport ---
	var send mailer.Mailer
	switch cfg.Delivery.Provider {
	case "ses":
		send, err = mailer.NewSESMailer(ctx, cfg.Delivery.SES.Region, cfg.Delivery.SES.From)
		if err != nil {
			zapLog.Fatal("ses mailer init failed", zap.Error(err))
		}
	default:
		send = mailer.NewSMTPMailer(cfg.Delivery.SMTP)
	}

	// --- Orphaned pending rows (enqueue failed after the fan-out committed,
	// or a job was lost with Redis) ---
	recoverer := delivery.NewRecoverer(store, dq, log)
	if n, err := recoverer.Sweep(ctx, cfg.Delivery.RecoverAfter); err != nil {
		zapLog.Warn("pending notification recovery failed", zap.Error(err))
	} else if n > 0 {
		zapLog.Info("Requeued orphaned pending notifications", zap.Int("count", n))
	}

	// --- Delivery workers ---
	worker := delivery.NewWorker(store, dq, send, cfg.Delivery, log)
	go dq.RunPromoter(ctx, promoterInterval)
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		worker.Run(ctx)
	}()
	zapLog.Info("Delivery workers started", zap.Int("workers", cfg.Delivery.Workers))

	// --- Metrics / health endpoint ---
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := pg.Ping(r.Context()); err != nil {
				http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		zapLog.Info("Metrics server listening", zap.String("addr", cfg.App.MetricsAddr))
		if err := http.ListenAndServe(cfg.App.MetricsAddr, nil); err != nil {
			zapLog.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	cancel()

	select {
	case <-workersDone:
	case <-time.After(10 * time.Second):
		zapLog.Warn("workers did not drain in time")
	}
	zapLog.Info("Shutdown complete")
}
