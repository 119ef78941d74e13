package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all coordination-layer configuration
type Config struct {
	// API configuration (REST collaborator)
	API APIConfig

	// Realtime configuration (push channel)
	Realtime RealtimeConfig

	// Poll configuration (fallback fetch)
	Poll PollConfig

	// Toast configuration
	Toast ToastConfig

	// Cache configuration
	Cache CacheConfig

	// Logging configuration
	Logging LoggingConfig

	// Application metadata
	App AppConfig
}

// APIConfig holds REST collaborator configuration
type APIConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	MutationRPS    float64
	MutationBurst  int
}

// RealtimeConfig holds push channel configuration
type RealtimeConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// PollConfig holds fallback poll configuration
type PollConfig struct {
	Interval time.Duration
}

// ToastConfig holds alerting configuration
type ToastConfig struct {
	BacklogThreshold int
}

// CacheConfig holds local snapshot cache configuration
type CacheConfig struct {
	Path string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string
	Version     string
	Environment string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL:        os.Getenv("DESK_API_URL"),
			RequestTimeout: getDurationOrDefault("DESK_API_TIMEOUT", 10*time.Second),
			MutationRPS:    getFloatOrDefault("DESK_API_MUTATION_RPS", 5),
			MutationBurst:  getIntOrDefault("DESK_API_MUTATION_BURST", 10),
		},
		Realtime: RealtimeConfig{
			URL:              os.Getenv("DESK_REALTIME_URL"),
			HandshakeTimeout: getDurationOrDefault("DESK_WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteWait:        getDurationOrDefault("DESK_WS_WRITE_WAIT", 10*time.Second),
			PongWait:         getDurationOrDefault("DESK_WS_PONG_WAIT", 60*time.Second),
			ReconnectInitial: getDurationOrDefault("DESK_WS_RECONNECT_INITIAL", time.Second),
			ReconnectMax:     getDurationOrDefault("DESK_WS_RECONNECT_MAX", 30*time.Second),
		},
		Poll: PollConfig{
			Interval: getDurationOrDefault("DESK_POLL_INTERVAL", 30*time.Second),
		},
		Toast: ToastConfig{
			BacklogThreshold: getIntOrDefault("DESK_TOAST_BACKLOG_THRESHOLD", 5),
		},
		Cache: CacheConfig{
			Path: getEnvOrDefault("DESK_CACHE_PATH", defaultCachePath()),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		App: AppConfig{
			Name:        getEnvOrDefault("APP_NAME", "service-desk-realtime"),
			Version:     getEnvOrDefault("APP_VERSION", "dev"),
			Environment: getEnvOrDefault("APP_ENV", "development"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	if c.API.BaseURL == "" {
		errs = append(errs, "DESK_API_URL is required")
	}
	if c.Realtime.URL == "" {
		errs = append(errs, "DESK_REALTIME_URL is required")
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, "DESK_POLL_INTERVAL must be positive")
	}
	if c.Realtime.ReconnectInitial > c.Realtime.ReconnectMax {
		errs = append(errs, "DESK_WS_RECONNECT_INITIAL cannot exceed DESK_WS_RECONNECT_MAX")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return dir + string(os.PathSeparator) + "service-desk-realtime" + string(os.PathSeparator) + "feed.db"
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
