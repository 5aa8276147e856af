package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"changetrail/internal/changelog/handler"
	"changetrail/internal/changelog/models"
	"changetrail/internal/changelog/queue"
	"changetrail/internal/changelog/retention"
	"changetrail/internal/changelog/service"
	"changetrail/internal/changelog/store/memory"
	pgstore "changetrail/internal/changelog/store/postgres"
	"changetrail/internal/changelog/writer"
	"changetrail/internal/platform/config"
	"changetrail/internal/platform/httpserver"
	"changetrail/internal/platform/logger"
	"changetrail/internal/platform/metrics"
	"changetrail/internal/platform/postgres"
	redisplatform "changetrail/internal/platform/redis"
	"changetrail/pkg/platform/middleware/metadata"
	"changetrail/pkg/platform/middleware/requestid"
	"changetrail/pkg/platform/middleware/requestlog"
)

// dataStore is the full persistence surface the server wires together. Both
// the Postgres and the in-memory store satisfy it.
type dataStore interface {
	Insert(ctx context.Context, rec *models.Record) error
	Query(ctx context.Context, f models.Filter) ([]models.Record, error)
	Count(ctx context.Context, f models.Filter) (int64, error)
	CountByAction(ctx context.Context, f models.Filter) (map[models.Action]int64, error)
	CountByActor(ctx context.Context, f models.Filter) (map[string]int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteRange(ctx context.Context, start, end time.Time) (int64, error)
}

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store dataStore
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = pgstore.New(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		store = memory.New()
	}

	writerOpts := []writer.Option{writer.WithMetrics(m)}
	if cfg.Queue.Enabled {
		q, err := buildQueue(ctx, cfg, store, m, log)
		if err != nil {
			log.Error("start queue", "error", err)
			os.Exit(1)
		}
		writerOpts = append(writerOpts, writer.WithQueue(q))
	}

	wr := writer.New(store, log, writerOpts...)
	svc := service.New(wr, store, cfg.Capture, log,
		service.WithMetrics(m),
		service.WithDefaultLimit(cfg.Limit),
	)
	engine := retention.New(store, cfg.Retention, log, retention.WithMetrics(m))

	if cfg.Retention.Enabled && cfg.Retention.Schedule != "" {
		sched := cron.New()
		_, err := sched.AddFunc(cfg.Retention.Schedule, func() {
			if _, err := engine.Cleanup(context.Background(), 0, false); err != nil {
				log.Error("scheduled cleanup failed", "error", err)
			}
		})
		if err != nil {
			log.Error("invalid retention schedule", "schedule", cfg.Retention.Schedule, "error", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	r := chi.NewRouter()
	r.Use(requestid.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requestlog.Logger(log))
	r.Use(requestlog.Latency(m))

	handler.New(svc, engine, log).Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if db != nil {
			pingCtx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(pingCtx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := httpserver.New(cfg.Addr, r)

	log.Info("starting changetrail", "addr", cfg.Addr, "queue", cfg.Queue.Enabled, "retention", cfg.Retention.Enabled)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// buildQueue starts the configured deferred-persistence backing and returns
// the submit side for the writer. Workers run until ctx is cancelled.
func buildQueue(ctx context.Context, cfg config.Config, store dataStore, m *metrics.Metrics, log *slog.Logger) (writer.Queue, error) {
	policy := queue.Policy{Attempts: cfg.Queue.Attempts, Timeout: cfg.Queue.Timeout}

	switch cfg.Queue.Kind {
	case "redis":
		rc, err := redisplatform.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if rc == nil {
			return nil, errors.New("queue kind redis requires REDIS_URL")
		}
		q := queue.NewRedis(rc.Client, cfg.Queue.Destination, store, log,
			queue.WithRedisPolicy(policy),
			queue.WithRedisMetrics(m),
		)
		go func() {
			if err := q.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis queue worker stopped", "error", err)
			}
		}()
		return q, nil

	case "kafka":
		producer, err := queue.NewKafka(cfg.KafkaBrokers, cfg.Queue.Destination)
		if err != nil {
			return nil, err
		}
		worker, err := queue.NewKafkaWorker(cfg.KafkaBrokers, cfg.Queue.Destination, cfg.Queue.Group, store, log,
			queue.WithKafkaPolicy(policy),
			queue.WithKafkaMetrics(m),
		)
		if err != nil {
			producer.Close()
			return nil, err
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("kafka queue worker stopped", "error", err)
			}
		}()
		return producer, nil

	default:
		w := queue.NewWorker(store, cfg.Queue.Buffer, log,
			queue.WithWorkerPolicy(policy),
			queue.WithWorkerMetrics(m),
		)
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("queue worker stopped", "error", err)
			}
		}()
		return w, nil
	}
}
