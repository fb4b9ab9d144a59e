package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// setupTestEnv sets up environment variables for testing
func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"PORT", "APP_REGISTRY_ADDR", "REDIS_ENABLED", "REDIS_ADDR",
		"GO_ENV", "LOG_LEVEL", "ROOM_CODE_LENGTH", "RECONNECTION_WINDOW_SECONDS",
	}
	orig := make(map[string]string, len(keys))
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}

	return func() {
		for k, v := range orig {
			if v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("APP_REGISTRY_ADDR", "localhost:50051")
	os.Setenv("REDIS_ENABLED", "false")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected PORT to be '8080', got '%s'", cfg.Port)
	}
	if cfg.AppRegistryAddr != "localhost:50051" {
		t.Errorf("expected APP_REGISTRY_ADDR to be 'localhost:50051', got '%s'", cfg.AppRegistryAddr)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
}

func TestValidateEnv_MissingPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("APP_REGISTRY_ADDR", "localhost:50051")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT is required") {
		t.Errorf("expected error message about PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "99999")
	os.Setenv("APP_REGISTRY_ADDR", "localhost:50051")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("expected error message about invalid PORT, got: %v", err)
	}
}

func TestValidateEnv_MissingAppRegistryAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing APP_REGISTRY_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "APP_REGISTRY_ADDR is required") {
		t.Errorf("expected error message about APP_REGISTRY_ADDR, got: %v", err)
	}
}

func TestValidateEnv_InvalidAppRegistryAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("APP_REGISTRY_ADDR", "no-port-here")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid APP_REGISTRY_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "APP_REGISTRY_ADDR must be in format 'host:port'") {
		t.Errorf("expected error message about APP_REGISTRY_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("APP_REGISTRY_ADDR", "localhost:50051")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("expected error message about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("APP_REGISTRY_ADDR", "localhost:50051")
	os.Setenv("REDIS_ENABLED", "true")
	// REDIS_ADDR intentionally unset

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_RoomTuningDefaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("APP_REGISTRY_ADDR", "localhost:50051")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.RoomCodeLength != 6 {
		t.Errorf("expected default room code length 6, got %d", cfg.RoomCodeLength)
	}
	if cfg.ReconnectionWindow != 30*time.Second {
		t.Errorf("expected default reconnection window 30s, got %v", cfg.ReconnectionWindow)
	}
	if cfg.DefaultMaxPlayers != 8 {
		t.Errorf("expected default max players 8, got %d", cfg.DefaultMaxPlayers)
	}
}

func TestValidateEnv_RoomTuningOverride(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("APP_REGISTRY_ADDR", "localhost:50051")
	os.Setenv("ROOM_CODE_LENGTH", "8")
	os.Setenv("RECONNECTION_WINDOW_SECONDS", "45")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.RoomCodeLength != 8 {
		t.Errorf("expected room code length 8, got %d", cfg.RoomCodeLength)
	}
	if cfg.ReconnectionWindow != 45*time.Second {
		t.Errorf("expected reconnection window 45s, got %v", cfg.ReconnectionWindow)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"short secret", "short", "***"},
		{"exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactSecret(tt.secret)
			if result != tt.expected {
				t.Errorf("expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"valid localhost", "localhost:8080", true},
		{"valid IP", "127.0.0.1:3000", true},
		{"valid hostname", "example.com:443", true},
		{"missing port", "localhost", false},
		{"missing host", ":8080", false},
		{"invalid port", "localhost:99999", false},
		{"non-numeric port", "localhost:abc", false},
		{"multiple colons", "localhost:8080:9090", false},
		{"empty string", "", false},
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
