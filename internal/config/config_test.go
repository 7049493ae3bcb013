package config

import (
	"os"
	"testing"
	"time"
)

var allEnvVars = []string{
	"ADDR", "LOG_LEVEL", "REDIS_URL", "DATABASE_URL", "OTLP_ENDPOINT",
	"AWS_REGION", "ENCRYPTION_KEY", "ADMIN_AUTH_ENABLED", "USE_DISTRIBUTED_CB",
	"RECORDER_CAPACITY", "RECORDER_BATCH_SIZE", "RECORDER_FLUSH_INTERVAL",
	"RECORDER_FULL_CAPTURE", "SQS_OVERFLOW_QUEUE_URL", "SESSION_SWEEP_INTERVAL",
	"BUDGET_USD", "BUDGET_WARNING_PCT", "BUDGET_CRITICAL_PCT",
	"SNS_BUDGET_TOPIC_ARN", "USE_SECRETS_MANAGER", "HEALTH_TIMEOUT",
	"SHUTDOWN_TIMEOUT", "DRAIN_TIMEOUT",
}

func clearEnv() {
	for _, v := range allEnvVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.RedisURL != "" || cfg.DatabaseURL != "" || cfg.SNSBudgetTopicARN != "" {
		t.Error("external-service URLs should default empty")
	}
	if cfg.AdminAuthEnabled {
		t.Error("AdminAuthEnabled should default to false")
	}
	if cfg.UseSecretsManager {
		t.Error("UseSecretsManager should default to false")
	}
	if cfg.RecorderCapacity != 1024 {
		t.Errorf("RecorderCapacity = %d, want 1024", cfg.RecorderCapacity)
	}
	if cfg.RecorderBatchSize != 50 {
		t.Errorf("RecorderBatchSize = %d, want 50", cfg.RecorderBatchSize)
	}
	if cfg.RecorderFlushInterval != 2*time.Second {
		t.Errorf("RecorderFlushInterval = %v, want 2s", cfg.RecorderFlushInterval)
	}
	if cfg.SessionSweepInterval != time.Minute {
		t.Errorf("SessionSweepInterval = %v, want 1m", cfg.SessionSweepInterval)
	}
	if cfg.BudgetUSD != 0 {
		t.Errorf("BudgetUSD = %v, want 0 (disabled)", cfg.BudgetUSD)
	}
	if cfg.BudgetWarningPct != 0.8 || cfg.BudgetCriticalPct != 0.95 {
		t.Errorf("budget thresholds = %v/%v, want 0.8/0.95", cfg.BudgetWarningPct, cfg.BudgetCriticalPct)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv()
	os.Setenv("ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("REDIS_URL", "redis://localhost:6379")
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("AWS_REGION", "us-east-1")
	os.Setenv("ENCRYPTION_KEY", "my-secret-key")
	os.Setenv("ADMIN_AUTH_ENABLED", "true")
	os.Setenv("USE_SECRETS_MANAGER", "true")
	os.Setenv("RECORDER_CAPACITY", "2048")
	os.Setenv("BUDGET_USD", "100.50")
	os.Setenv("BUDGET_WARNING_PCT", "0.5")
	defer clearEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.DatabaseURL != "postgres://localhost/test" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if !cfg.AdminAuthEnabled {
		t.Error("AdminAuthEnabled should be true")
	}
	if !cfg.UseSecretsManager {
		t.Error("UseSecretsManager should be true")
	}
	if cfg.RecorderCapacity != 2048 {
		t.Errorf("RecorderCapacity = %d, want 2048", cfg.RecorderCapacity)
	}
	if cfg.BudgetUSD != 100.50 {
		t.Errorf("BudgetUSD = %v, want 100.50", cfg.BudgetUSD)
	}
	if cfg.BudgetWarningPct != 0.5 {
		t.Errorf("BudgetWarningPct = %v, want 0.5", cfg.BudgetWarningPct)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		envValue     string
		defaultValue string
		expected     string
	}{
		{"env set", "TEST_VAR", "custom", "default", "custom"},
		{"env not set", "TEST_VAR_UNSET", "", "default", "default"},
		{"env empty", "TEST_VAR_EMPTY", "", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.expected {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.expected)
			}
		})
	}
}

func TestGetIntEnv(t *testing.T) {
	os.Setenv("TEST_INT", "42")
	defer os.Unsetenv("TEST_INT")

	if got := getIntEnv("TEST_INT", 7); got != 42 {
		t.Errorf("getIntEnv = %d, want 42", got)
	}
	if got := getIntEnv("TEST_INT_UNSET", 7); got != 7 {
		t.Errorf("getIntEnv default = %d, want 7", got)
	}
}

func TestGetFloatEnv(t *testing.T) {
	os.Setenv("TEST_FLOAT", "3.14")
	defer os.Unsetenv("TEST_FLOAT")

	if got := getFloatEnv("TEST_FLOAT", 1.0); got != 3.14 {
		t.Errorf("getFloatEnv = %v, want 3.14", got)
	}
	if got := getFloatEnv("TEST_FLOAT_UNSET", 1.0); got != 1.0 {
		t.Errorf("getFloatEnv default = %v, want 1.0", got)
	}
}

func TestAdminAuthEnabled_FalseValues(t *testing.T) {
	falseValues := []string{"false", "0", "no", "FALSE", ""}

	for _, v := range falseValues {
		t.Run("value="+v, func(t *testing.T) {
			if v != "" {
				os.Setenv("ADMIN_AUTH_ENABLED", v)
				defer os.Unsetenv("ADMIN_AUTH_ENABLED")
			}

			cfg, _ := Load()
			if cfg.AdminAuthEnabled {
				t.Errorf("AdminAuthEnabled should be false for value %q", v)
			}
		})
	}
}
