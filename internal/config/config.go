package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Data    DataConfig
	API     APIConfig
	Daemon  DaemonConfig
	Logging LoggingConfig
}

// DataConfig locates the on-disk layout: raw and clean article files,
// checkpoints, and the run ledger.
type DataConfig struct {
	Dir        string
	TopicsFile string
	RunDB      string
}

// APIConfig holds search API connection parameters. Key is resolved from
// MEDIACLOUD_API_KEY, MC_API_KEY, or MY_API_KEY, first set wins.
type APIConfig struct {
	BaseURL           string
	Key               string
	PageSize          int
	RequestsPerSecond float64
}

// DaemonConfig holds HTTP server and schedule parameters for minad.
type DaemonConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RunTimes        []string
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

const (
	defaultDataDir    = "data"
	defaultTopicsFile = "topics.yaml"

	defaultAPIBaseURL = "https://search.mediacloud.org/api"
	defaultPageSize   = 100

	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultRunTime         = "06:30"

	defaultLogFormat = "json"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	dataDir := getEnv("MINA_DATA_DIR", defaultDataDir)

	cfg := Config{
		Data: DataConfig{
			Dir:        dataDir,
			TopicsFile: getEnv("MINA_TOPICS_FILE", defaultTopicsFile),
			RunDB:      getEnv("MINA_RUN_DB", filepath.Join(dataDir, "runs.db")),
		},
		API: APIConfig{
			BaseURL:  getEnv("MINA_API_BASE_URL", defaultAPIBaseURL),
			Key:      apiKeyFromEnv(),
			PageSize: defaultPageSize,
		},
		Daemon: DaemonConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
			RunTimes:        []string{defaultRunTime},
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
	}

	if v := os.Getenv("MINA_API_PAGE_SIZE"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MINA_API_PAGE_SIZE: %w", err)
		}
		cfg.API.PageSize = n
	}

	if v := os.Getenv("MINA_API_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return Config{}, fmt.Errorf("invalid MINA_API_RPS: must be a non-negative number")
		}
		cfg.API.RequestsPerSecond = rps
	}

	if v := os.Getenv("MINA_SCHEDULE"); v != "" {
		times, err := parseRunTimes(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MINA_SCHEDULE: %w", err)
		}
		cfg.Daemon.RunTimes = times
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Daemon.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Daemon.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Daemon.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

// apiKeyFromEnv resolves the search API key. Older deployments exported the
// key under different names; the fallback order is fixed.
func apiKeyFromEnv() string {
	for _, name := range []string{"MEDIACLOUD_API_KEY", "MC_API_KEY", "MY_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func parseRunTimes(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	times := make([]string, 0, len(parts))
	for _, part := range parts {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}
		if _, err := time.Parse("15:04", entry); err != nil {
			return nil, fmt.Errorf("%q is not a valid HH:MM time", entry)
		}
		times = append(times, entry)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("no run times configured")
	}
	return times, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
