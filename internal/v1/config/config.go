package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the signaling server.
type Config struct {
	// Required variables
	Port            string
	AppRegistryAddr string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	AllowedOrigins string

	// Room tuning
	RoomCodeLength             int
	DefaultMaxPlayers          int
	DefaultEventBufferCapacity int
	ReconnectionWindow         time.Duration
	EmptyRoomTimeout           time.Duration
	InactiveRoomTimeout        time.Duration
	RoomCleanupInterval        time.Duration
	MaxRoomsPerGame            int
	DefaultMaxSpectators       int
	SpectatingAllowedDefault   bool

	// Rate limits
	RateLimitWsIP      string
	RateLimitWsApp     string
	RateLimitAPIPublic string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: APP_REGISTRY_ADDR (format: host:port)
	cfg.AppRegistryAddr = os.Getenv("APP_REGISTRY_ADDR")
	if cfg.AppRegistryAddr == "" {
		errors = append(errors, "APP_REGISTRY_ADDR is required")
	} else if !isValidHostPort(cfg.AppRegistryAddr) {
		errors = append(errors, fmt.Sprintf("APP_REGISTRY_ADDR must be in format 'host:port' (got '%s')", cfg.AppRegistryAddr))
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Room tuning, all optional with sane multiplayer-lobby defaults.
	cfg.RoomCodeLength = getEnvOrDefaultInt("ROOM_CODE_LENGTH", 6, &errors)
	cfg.DefaultMaxPlayers = getEnvOrDefaultInt("DEFAULT_MAX_PLAYERS", 8, &errors)
	cfg.DefaultEventBufferCapacity = getEnvOrDefaultInt("DEFAULT_EVENT_BUFFER_CAPACITY", 100, &errors)
	cfg.ReconnectionWindow = getEnvOrDefaultSeconds("RECONNECTION_WINDOW_SECONDS", 30*time.Second, &errors)
	cfg.EmptyRoomTimeout = getEnvOrDefaultSeconds("EMPTY_ROOM_TIMEOUT_SECONDS", 60*time.Second, &errors)
	cfg.InactiveRoomTimeout = getEnvOrDefaultSeconds("INACTIVE_ROOM_TIMEOUT_SECONDS", 3600*time.Second, &errors)
	cfg.RoomCleanupInterval = getEnvOrDefaultSeconds("ROOM_CLEANUP_INTERVAL_SECONDS", 15*time.Second, &errors)
	cfg.MaxRoomsPerGame = getEnvOrDefaultInt("MAX_ROOMS_PER_GAME", 0, &errors) // 0 == unbounded
	cfg.DefaultMaxSpectators = getEnvOrDefaultInt("DEFAULT_MAX_SPECTATORS", 0, &errors) // 0 == unbounded
	cfg.SpectatingAllowedDefault = getEnvOrDefault("SPECTATING_ALLOWED_DEFAULT", "true") == "true"

	// Rate limits (ulule/limiter formatted-rate strings, e.g. "100-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsApp = getEnvOrDefault("RATE_LIMIT_WS_APP", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")

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

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated successfully")
	slog.Info("configuration",
		"port", cfg.Port,
		"app_registry_addr", cfg.AppRegistryAddr,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"redis_password", redactSecret(cfg.RedisPassword),
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"room_code_length", cfg.RoomCodeLength,
		"default_max_players", cfg.DefaultMaxPlayers,
		"default_max_spectators", cfg.DefaultMaxSpectators,
		"spectating_allowed_default", cfg.SpectatingAllowedDefault,
		"reconnection_window", cfg.ReconnectionWindow,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int, errors *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a non-negative integer (got '%s')", key, raw))
		return defaultValue
	}
	return n
}

func getEnvOrDefaultSeconds(key string, defaultValue time.Duration, errors *[]string) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a positive integer number of seconds (got '%s')", key, raw))
		return defaultValue
	}
	return time.Duration(n) * time.Second
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
