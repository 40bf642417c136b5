// Command booking-api runs the hotel booking API server: cached hotel
// listings, coalesced price lookups, cache admin endpoints and
// health/metrics probes.
//
// Configuration via environment:
//
//	PORT           HTTP listen port (default 8080)
//	REDIS_URL      Redis connection URL (default redis://localhost:6379/0)
//	UPSTREAM_URL   Hotel pricing API base URL (required)
//	UPSTREAM_KEY   Bearer token for the upstream API (optional)
//	CACHE_TTL      Response cache TTL (default 600s)
//	WAIT_TIMEOUT   Coalescing follower wait bound (default 5s)
//	SWEEP_INTERVAL Cache sweeper interval (default 1m)
//	LOG_LEVEL      debug, info, warn, error (default info)
//	LOG_PRETTY     Human-readable log output (default false)
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tripdeck/booking-api/internal/server"
	"github.com/tripdeck/booking-api/pkg/logging"
	"github.com/tripdeck/booking-api/pkg/upstream"
)

func main() {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "false") == "true",
		Output: os.Stderr,
	})
	logger := logging.NewLogger("main")

	upstreamURL := os.Getenv("UPSTREAM_URL")
	if upstreamURL == "" {
		logger.Fatal().Msg("UPSTREAM_URL is required")
	}

	redisOptions, err := redis.ParseURL(getEnv("REDIS_URL", "redis://localhost:6379/0"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid REDIS_URL")
	}
	redisClient := redis.NewClient(redisOptions)
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", redisOptions.Addr).Msg("Redis is not reachable")
	}

	upstreamConfig := upstream.DefaultConfig(redisClient, upstreamURL)
	upstreamConfig.APIKey = os.Getenv("UPSTREAM_KEY")
	upstreamClient, err := upstream.New(upstreamConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create upstream client")
	}

	serverConfig := server.DefaultConfig()
	serverConfig.CacheTTL = getEnvDuration("CACHE_TTL", serverConfig.CacheTTL)
	serverConfig.WaitTimeout = getEnvDuration("WAIT_TIMEOUT", serverConfig.WaitTimeout)
	serverConfig.SweepInterval = getEnvDuration("SWEEP_INTERVAL", serverConfig.SweepInterval)

	srv := server.New(upstreamClient, redisClient, serverConfig)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              ":" + getEnv("PORT", "8080"),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", httpServer.Addr).
			Dur("cache_ttl", serverConfig.CacheTTL).
			Dur("wait_timeout", serverConfig.WaitTimeout).
			Msg("Booking API listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Shutdown complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
