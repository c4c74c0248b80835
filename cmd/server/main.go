package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prop-ie/realtime/internal/config"
	"github.com/prop-ie/realtime/internal/events"
	"github.com/prop-ie/realtime/internal/ingest"
	"github.com/prop-ie/realtime/internal/platform/logging"
	"github.com/prop-ie/realtime/internal/realtime"
	"github.com/prop-ie/realtime/internal/redis"
	"github.com/prop-ie/realtime/internal/server"
	goredis "github.com/redis/go-redis/v9"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, hub *realtime.Hub, cancelIngest context.CancelFunc, redisClient *goredis.Client) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		// Stop accepting new connections before draining the hub, so
		// every active client gets its going-away close frame.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancelIngest()
		hub.Stop()

		if redisClient != nil {
			_ = redisClient.Close()
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient = setupRedis(context.Background(), cfg)
	}

	hub := realtime.NewHub(clock, realtime.Options{
		PingInterval:   cfg.PingInterval,
		EvictAfter:     cfg.EvictAfter,
		SendBufferSize: cfg.SendBufferSize,
		PublishRate:    cfg.BroadcastRate,
		PublishBurst:   cfg.BroadcastBurst,
	})

	adapter := events.NewAdapter(hub)

	ingestCtx, cancelIngest := context.WithCancel(context.Background())
	if redisClient != nil {
		subscriber := ingest.NewSubscriber(redisClient, adapter, cfg.EventsChannel)
		go subscriber.Start(ingestCtx)
	}

	srv := server.NewServer(cfg, hub, adapter, redisClient, clock)

	done := runGracefulShutdown(srv, hub, cancelIngest, redisClient)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
