package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/teeban10/kasagi-main/internal/v1/config"
	"github.com/teeban10/kasagi-main/internal/v1/coordinator"
	"github.com/teeban10/kasagi-main/internal/v1/debug"
	"github.com/teeban10/kasagi-main/internal/v1/dispatcher"
	"github.com/teeban10/kasagi-main/internal/v1/health"
	"github.com/teeban10/kasagi-main/internal/v1/logging"
	"github.com/teeban10/kasagi-main/internal/v1/middleware"
	"github.com/teeban10/kasagi-main/internal/v1/ratelimit"
	"github.com/teeban10/kasagi-main/internal/v1/registry"
	"github.com/teeban10/kasagi-main/internal/v1/remotesync"
	"github.com/teeban10/kasagi-main/internal/v1/transport"
	"github.com/teeban10/kasagi-main/internal/v1/types"
)

func main() {
	// Load .env for local development, trying the same fallback paths the
	// teacher tries depending on how the binary is invoked.
	for _, path := range []string{".env", "../../.env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment file", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.NodeEnv != "production"); err != nil {
		slog.Error("failed to initialize structured logger", "error", err)
		os.Exit(1)
	}

	coord, redisClient, err := buildCoordinator(cfg)
	if err != nil {
		slog.Error("failed to build coordinator", "error", err)
		os.Exit(1)
	}

	reg := registry.New(coord, types.InstanceIDType(cfg.InstanceID))
	reg.Configure(0, cfg.SnapshotInterval)

	syncer := remotesync.New(coord, reg, types.InstanceIDType(cfg.InstanceID))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := syncer.Start(ctx); err != nil {
		slog.Error("failed to start remote sync subscription", "error", err)
		os.Exit(1)
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("failed to build rate limiter", "error", err)
		os.Exit(1)
	}

	d := dispatcher.New(reg)
	wsServer := transport.NewServer(d, rateLimiter, cfg.AllowedOrigins)
	healthHandler := health.NewHandler(coord)
	debugHandler := debug.NewHandler(reg)

	router := gin.Default()
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = cfg.AllowedOrigins == ""
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = splitCSV(cfg.AllowedOrigins)
	}
	router.Use(cors.New(corsConfig))

	router.GET("/ws/room/:roomId", wsServer.ServeWS)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/debug/rooms", debugHandler.ServeHTTP)

	srv := &http.Server{
		Addr:    ":" + cfg.WSPort,
		Handler: router,
	}

	go func() {
		slog.Info("kasagi server starting", "port", cfg.WSPort, "instance_id", cfg.InstanceID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped unexpectedly", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server forced to shutdown", "error", err)
	}

	reg.SaveAllSnapshots(shutdownCtx)
	cancel()

	if err := coord.Close(); err != nil {
		slog.Error("coordinator close failed", "error", err)
	}

	slog.Info("kasagi server exited")
}

// buildCoordinator selects Sentinel-backed production Redis or a plain
// single-instance client, per §2's required-dependency split. It also
// returns a standalone *redis.Client pointed at the same Redis, since
// RateLimiter builds its own store independently of the Coordinator.
func buildCoordinator(cfg *config.Config) (coordinator.Coordinator, *redis.Client, error) {
	rcCfg := coordinator.RedisConfig{
		SentinelAddrs: cfg.SentinelAddrs,
		MasterName:    cfg.RedisMasterName,
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
	}

	coord, err := coordinator.NewRedisCoordinator(rcCfg)
	if err != nil {
		return nil, nil, err
	}

	var redisClient *redis.Client
	if len(cfg.SentinelAddrs) > 0 {
		redisClient = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.RedisMasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.RedisPassword,
		})
	} else {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	}

	return coord, redisClient, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
