package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Config holds validated environment configuration for one Kasagi instance.
type Config struct {
	// Optional variables with defaults
	WSPort string // defaults to "8080", per §6

	// Redis / Coordinator: either Sentinel mode (SentinelAddrs + RedisMasterName)
	// or single-instance dev mode (RedisAddr). Sentinel mode wins if configured.
	SentinelAddrs   []string
	RedisMasterName string
	RedisAddr       string
	RedisPassword   string

	InstanceID       string
	NodeEnv          string
	LogLevel         string
	SnapshotInterval uint64 // ticks between automatic snapshot flushes, per §5
	AllowedOrigins   string

	// Rate limit
	RateLimitWSConnect string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns an error if any required variable is missing or
// invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Optional: WS_PORT (defaults to 8080, per §6)
	cfg.WSPort = getEnvOrDefault("WS_PORT", "8080")
	port, err := strconv.Atoi(cfg.WSPort)
	if err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("WS_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.WSPort))
	}

	// Redis connectivity: Sentinel mode if any SENTINEL_n is set, else a plain
	// REDIS_ADDR for single-instance development.
	for _, key := range []string{"SENTINEL_1", "SENTINEL_2", "SENTINEL_3"} {
		addr := os.Getenv(key)
		if addr == "" {
			continue
		}
		if !isValidHostPort(addr) {
			errors = append(errors, fmt.Sprintf("%s must be in format 'host:port' (got '%s')", key, addr))
			continue
		}
		cfg.SentinelAddrs = append(cfg.SentinelAddrs, addr)
	}

	if len(cfg.SentinelAddrs) > 0 {
		cfg.RedisMasterName = os.Getenv("REDIS_MASTER_NAME")
		if cfg.RedisMasterName == "" {
			cfg.RedisMasterName = "kasagi-master"
		}
	} else {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set and no SENTINEL_n configured, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Optional: INSTANCE_ID (defaults to the first 8 hex chars of a
	// generated uuid, matching the teacher's short-id convention)
	cfg.InstanceID = os.Getenv("INSTANCE_ID")
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()[:8]
	}

	// Optional: NODE_ENV (defaults to "production")
	cfg.NodeEnv = os.Getenv("NODE_ENV")
	if cfg.NodeEnv == "" {
		cfg.NodeEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Optional: SNAPSHOT_INTERVAL, ticks between snapshot flushes (defaults
	// to 100, per §5's recommended resource bound)
	cfg.SnapshotInterval = 100
	if raw := os.Getenv("SNAPSHOT_INTERVAL"); raw != "" {
		ticks, err := strconv.Atoi(raw)
		if err != nil || ticks < 1 {
			errors = append(errors, fmt.Sprintf("SNAPSHOT_INTERVAL must be a positive integer number of ticks (got '%s')", raw))
		} else {
			cfg.SnapshotInterval = uint64(ticks)
		}
	}

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.RateLimitWSConnect = getEnvOrDefault("RATE_LIMIT_WS_CONNECT", "20-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"ws_port", cfg.WSPort,
		"sentinel_count", len(cfg.SentinelAddrs),
		"redis_master_name", cfg.RedisMasterName,
		"redis_addr", cfg.RedisAddr,
		"node_env", cfg.NodeEnv,
		"log_level", cfg.LogLevel,
		"snapshot_interval", cfg.SnapshotInterval,
		"instance_id", cfg.InstanceID,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
