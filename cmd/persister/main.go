package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketchat/internal/broker"
	"marketchat/internal/config"
	"marketchat/internal/observability"
	"marketchat/internal/persister"
	"marketchat/internal/storage"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load("persister-service")

	observability.InitLogger(cfg.ServiceName)
	log := observability.Log

	if cfg.TracingEnabled {
		tp, err := observability.InitTracer(cfg.ServiceName, cfg.JaegerURL)
		if err != nil {
			log.Fatal("failed to initialize tracer", zap.Error(err))
		}
		defer tp.Shutdown(context.Background())
	}

	ctx, cancel := setupSignalHandler(log)
	defer cancel()

	db := initPostgres(ctx, cfg.PostgresDSN, log)
	defer db.Close()

	messageLog := storage.NewMessageLog(db)
	worker := persister.NewWorker(messageLog, cfg.FlushInterval, cfg.MaxBatchSize)

	consumer := initConsumer(ctx, cfg, worker, log)
	defer consumer.Close()

	obsSrv := initObservabilityServer(cfg)
	go func() {
		log.Info("starting observability server", zap.String("addr", obsSrv.Addr))
		if err := obsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("observability server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	performGracefulShutdown(obsSrv, consumer, worker, log)
}

func setupSignalHandler(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, initiating shutdown", zap.String("signal", sig.String()))
		cancel()
	}()
	return ctx, cancel
}

func initPostgres(ctx context.Context, dsn string, log *zap.Logger) *sql.DB {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("failed to open postgres", zap.Error(err))
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	return db
}

func initConsumer(ctx context.Context, cfg *config.Config, worker *persister.Worker, log *zap.Logger) *broker.Consumer {
	consumer, err := broker.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, "persister-group", worker)
	if err != nil {
		log.Fatal("failed to create kafka consumer", zap.Error(err))
	}
	consumer.Start(ctx)
	return consumer
}

func initObservabilityServer(cfg *config.Config) *http.Server {
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/health/live", observability.HealthLiveHandler)
	mux.Get("/health/ready", observability.HealthReadyHandler())
	return &http.Server{Addr: cfg.ObsHTTPAddr, Handler: mux}
}

func performGracefulShutdown(obs *http.Server, consumer *broker.Consumer, worker *persister.Worker, log *zap.Logger) {
	log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	consumer.Close()
	worker.Stop(ctx)
	if err := obs.Shutdown(ctx); err != nil {
		log.Error("error during observability server shutdown", zap.Error(err))
	}
	log.Info("shutdown complete, exiting")
}
