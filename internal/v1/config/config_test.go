package config

import (
	"os"
	"strings"
	"testing"
)

var managedVars = []string{
	"WS_PORT", "SENTINEL_1", "SENTINEL_2", "SENTINEL_3", "REDIS_MASTER_NAME",
	"REDIS_ADDR", "REDIS_PASSWORD", "INSTANCE_ID", "NODE_ENV", "LOG_LEVEL",
	"SNAPSHOT_INTERVAL", "ALLOWED_ORIGINS", "RATE_LIMIT_WS_CONNECT",
}

// setupTestEnv clears and saves every env var ValidateEnv reads, restoring
// them after the test.
func setupTestEnv(t *testing.T) func() {
	orig := make(map[string]string, len(managedVars))
	for _, key := range managedVars {
		orig[key] = os.Getenv(key)
		os.Unsetenv(key)
	}

	return func() {
		for key, val := range orig {
			if val != "" {
				os.Setenv(key, val)
			} else {
				os.Unsetenv(key)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration_DevMode(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("WS_PORT", "8080")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.WSPort != "8080" {
		t.Errorf("Expected WS_PORT to be '8080', got '%s'", cfg.WSPort)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
	if cfg.NodeEnv != "production" {
		t.Errorf("Expected NODE_ENV to default to 'production', got '%s'", cfg.NodeEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.SnapshotInterval != 100 {
		t.Errorf("Expected SNAPSHOT_INTERVAL to default to 100 ticks, got %v", cfg.SnapshotInterval)
	}
}

func TestValidateEnv_MissingWSPort_DefaultsTo8080(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.WSPort != "8080" {
		t.Errorf("Expected WS_PORT to default to '8080', got '%s'", cfg.WSPort)
	}
}

func TestValidateEnv_InvalidWSPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("WS_PORT", "99999")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid WS_PORT, got nil")
	}
	if !strings.Contains(err.Error(), "WS_PORT must be a valid port number") {
		t.Errorf("Expected error message about invalid WS_PORT, got: %v", err)
	}
}

func TestValidateEnv_SentinelMode(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("WS_PORT", "8080")
	os.Setenv("SENTINEL_1", "sentinel-1:26379")
	os.Setenv("SENTINEL_2", "sentinel-2:26379")
	os.Setenv("REDIS_MASTER_NAME", "mymaster")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(cfg.SentinelAddrs) != 2 {
		t.Fatalf("Expected 2 sentinel addrs, got %d", len(cfg.SentinelAddrs))
	}
	if cfg.RedisMasterName != "mymaster" {
		t.Errorf("Expected REDIS_MASTER_NAME to be 'mymaster', got '%s'", cfg.RedisMasterName)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("Expected RedisAddr to stay empty in sentinel mode, got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_SentinelMode_MissingMasterNameDefaultsToKasagiMaster(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("WS_PORT", "8080")
	os.Setenv("SENTINEL_1", "sentinel-1:26379")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.RedisMasterName != "kasagi-master" {
		t.Errorf("Expected REDIS_MASTER_NAME to default to 'kasagi-master', got '%s'", cfg.RedisMasterName)
	}
}

func TestValidateEnv_InvalidSentinelAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("WS_PORT", "8080")
	os.Setenv("SENTINEL_1", "no-port-here")
	os.Setenv("REDIS_MASTER_NAME", "mymaster")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid SENTINEL_1, got nil")
	}
	if !strings.Contains(err.Error(), "SENTINEL_1 must be in format 'host:port'") {
		t.Errorf("Expected error message about SENTINEL_1 format, got: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("WS_PORT", "8080")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("Expected error message about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_InvalidSnapshotInterval(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("WS_PORT", "8080")
	os.Setenv("SNAPSHOT_INTERVAL", "not-a-number")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid SNAPSHOT_INTERVAL, got nil")
	}
	if !strings.Contains(err.Error(), "SNAPSHOT_INTERVAL must be a positive integer number of ticks") {
		t.Errorf("Expected error message about SNAPSHOT_INTERVAL, got: %v", err)
	}
}

func TestValidateEnv_RateLimitDefault(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("WS_PORT", "8080")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.RateLimitWSConnect != "20-M" {
		t.Errorf("Expected RATE_LIMIT_WS_CONNECT to default to '20-M', got '%s'", cfg.RateLimitWSConnect)
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"Valid localhost", "localhost:8080", true},
		{"Valid IP", "127.0.0.1:3000", true},
		{"Valid hostname", "example.com:443", true},
		{"Missing port", "localhost", false},
		{"Missing host", ":8080", false},
		{"Invalid port", "localhost:99999", false},
		{"Non-numeric port", "localhost:abc", false},
		{"Multiple colons", "localhost:8080:9090", false},
		{"Empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidHostPort(tt.addr)
			if result != tt.expected {
				t.Errorf("isValidHostPort('%s') = %v, expected %v", tt.addr, result, tt.expected)
			}
		})
	}
}
