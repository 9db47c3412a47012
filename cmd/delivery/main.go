package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketchat/internal/broker"
	"marketchat/internal/config"
	"marketchat/internal/gateway"
	"marketchat/internal/observability"
	"marketchat/internal/presence"
	"marketchat/internal/server"
	"marketchat/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load("delivery-service")

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

	redisClient := initRedis(ctx, cfg.RedisAddr, log)
	presenceStore := presence.New(redisClient, cfg.PresenceTTL)

	producer := initProducer(cfg, log)
	defer producer.Close()

	registry := ws.NewRegistry()
	gw := gateway.New(registry, presenceStore, producer)
	wsHandler := gateway.NewHandler(gw)

	obsSrv := initObservabilityServer(cfg)
	wsSrv := server.New(cfg.HTTPPort, initMainRouter(wsHandler))

	startServers(obsSrv, wsSrv, log)

	<-ctx.Done()
	performGracefulShutdown(obsSrv, wsSrv, registry, log)
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

func initRedis(ctx context.Context, addr string, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	return client
}

func initProducer(cfg *config.Config, log *zap.Logger) *broker.Producer {
	producer, err := broker.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		log.Fatal("failed to create kafka producer", zap.Error(err))
	}
	return producer
}

func initObservabilityServer(cfg *config.Config) *http.Server {
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/health/live", observability.HealthLiveHandler)
	mux.Get("/health/ready", observability.HealthReadyHandler())
	return &http.Server{Addr: cfg.ObsHTTPAddr, Handler: mux}
}

func initMainRouter(wsHandler *gateway.Handler) http.Handler {
	mux := chi.NewRouter()
	mux.Handle("/ws", wsHandler)
	return mux
}

func startServers(obsSrv *http.Server, wsSrv *server.Server, log *zap.Logger) {
	go func() {
		log.Info("starting observability server", zap.String("addr", obsSrv.Addr))
		if err := obsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("observability server error", zap.Error(err))
		}
	}()
	go func() {
		if err := wsSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()
}

func performGracefulShutdown(obs *http.Server, wsSrv *server.Server, registry *ws.Registry, log *zap.Logger) {
	log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := wsSrv.Shutdown(ctx); err != nil {
		log.Error("error during main server shutdown", zap.Error(err))
	}
	if err := obs.Shutdown(ctx); err != nil {
		log.Error("error during observability server shutdown", zap.Error(err))
	}
	registry.CloseAll()
	log.Info("shutdown complete, exiting")
}
