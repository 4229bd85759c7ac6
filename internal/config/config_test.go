package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "FREE_AI_QUERIES_PER_DAY")
	unsetEnvWithCleanup(t, "FREE_TESTS_PER_DAY")
	unsetEnvWithCleanup(t, "COUNTER_TIMEOUT_MS")
	unsetEnvWithCleanup(t, "REDIS_USAGE_PREFIX")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8084" {
		t.Fatalf("expected default server port 8084, got %q", cfg.ServerPort)
	}
	if cfg.FreeAIQueriesPerDay != 5 {
		t.Fatalf("expected default free ai-query limit 5, got %d", cfg.FreeAIQueriesPerDay)
	}
	if cfg.FreeTestsPerDay != 3 {
		t.Fatalf("expected default free test limit 3, got %d", cfg.FreeTestsPerDay)
	}
	if cfg.RedisUsagePrefix != "tutorhub:usage" {
		t.Fatalf("expected default counter key prefix, got %q", cfg.RedisUsagePrefix)
	}
	if cfg.CounterTimeout() != 500*time.Millisecond {
		t.Fatalf("expected default counter timeout 500ms, got %v", cfg.CounterTimeout())
	}
	if cfg.LedgerTimeout() != 3*time.Second {
		t.Fatalf("expected default ledger timeout 3s, got %v", cfg.LedgerTimeout())
	}
	if cfg.LedgerMaxRetries != 3 {
		t.Fatalf("expected default ledger retries 3, got %d", cfg.LedgerMaxRetries)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "FREE_AI_QUERIES_PER_DAY", "20")
	setEnvWithCleanup(t, "FREE_TESTS_PER_DAY", "10")
	setEnvWithCleanup(t, "SERVER_PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.FreeAIQueriesPerDay != 20 {
		t.Fatalf("expected FREE_AI_QUERIES_PER_DAY override, got %d", cfg.FreeAIQueriesPerDay)
	}
	if cfg.FreeTestsPerDay != 10 {
		t.Fatalf("expected FREE_TESTS_PER_DAY override, got %d", cfg.FreeTestsPerDay)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected SERVER_PORT override, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_UsesUsageServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "USAGE_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "USAGE_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_UsesUsageRedisURLAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "REDIS_URL")
	setEnvWithCleanup(t, "USAGE_REDIS_URL", "redis://localhost:6380/1")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6380/1" {
		t.Fatalf("expected RedisURL from alias env var, got %q", cfg.RedisURL)
	}
}

func TestLoadConfig_CoercesOutOfRangeValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "FREE_AI_QUERIES_PER_DAY", "-2")
	setEnvWithCleanup(t, "FREE_TESTS_PER_DAY", "-1")
	setEnvWithCleanup(t, "COUNTER_TIMEOUT_MS", "5000")
	setEnvWithCleanup(t, "LEDGER_MAX_RETRIES", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.FreeAIQueriesPerDay != 0 {
		t.Fatalf("expected negative ai-query limit coerced to 0, got %d", cfg.FreeAIQueriesPerDay)
	}
	if cfg.FreeTestsPerDay != 0 {
		t.Fatalf("expected negative test limit coerced to 0, got %d", cfg.FreeTestsPerDay)
	}
	if cfg.CounterTimeoutMs != 1000 {
		t.Fatalf("expected counter timeout capped at 1000ms, got %d", cfg.CounterTimeoutMs)
	}
	if cfg.LedgerMaxRetries != 3 {
		t.Fatalf("expected zero ledger retries to fall back to 3, got %d", cfg.LedgerMaxRetries)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
