package util

import (
	"errors"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

//nolint:gochecknoglobals // here its ok
var once sync.Once

func init() {
	once.Do(func() {
		if err := godotenv.Load(".env"); err != nil {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	})
}

const (
	defaultServerAddr      = "localhost:8080"
	defaultWriteTimeout    = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultGracefulTimeout = 5 * time.Second

	defaultAPIBaseURL = "http://localhost:8080"
	defaultAPITimeout = 15 * time.Second

	// Session lifecycle defaults. The buffer is how far ahead of absolute
	// expiry a token already counts as expiring; the minimum delay keeps a
	// skewed clock or a near-zero token lifetime from arming a refresh storm.
	defaultExpiryBuffer       = 60 * time.Second
	defaultMinRefreshDelay    = 10 * time.Second
	defaultBackoffBase        = 1 * time.Second
	defaultMaxRefreshAttempts = 3

	defaultStubAccessTTL = 15 * time.Minute
)

type ServerConfig struct {
	ServerAddr      string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
	AccessTTL       time.Duration
}

func NewServerConfig() *ServerConfig {
	addr := os.Getenv("SERVER_ADDRESS")
	if addr == "" {
		addr = defaultServerAddr
	}

	return &ServerConfig{
		ServerAddr:      addr,
		WriteTimeout:    parseDurationOrDefault("WRITE_TIMEOUT", defaultWriteTimeout),
		ReadTimeout:     parseDurationOrDefault("READ_TIMEOUT", defaultReadTimeout),
		IdleTimeout:     parseDurationOrDefault("IDLE_TIMEOUT", defaultIdleTimeout),
		GracefulTimeout: parseDurationOrDefault("GRACEFUL_TIMEOUT", defaultGracefulTimeout),
		AccessTTL:       parseDurationOrDefault("STUB_ACCESS_TTL", defaultStubAccessTTL),
	}
}

// SessionConfig tunes the refresh lifecycle. Tests shrink BackoffBase to keep
// the doubling retry progression without real-time waits.
type SessionConfig struct {
	ExpiryBuffer       time.Duration
	MinRefreshDelay    time.Duration
	BackoffBase        time.Duration
	MaxRefreshAttempts int
}

func NewSessionConfig() *SessionConfig {
	return &SessionConfig{
		ExpiryBuffer:       parseDurationOrDefault("SESSION_EXPIRY_BUFFER", defaultExpiryBuffer),
		MinRefreshDelay:    parseDurationOrDefault("SESSION_MIN_REFRESH_DELAY", defaultMinRefreshDelay),
		BackoffBase:        parseDurationOrDefault("SESSION_BACKOFF_BASE", defaultBackoffBase),
		MaxRefreshAttempts: parseIntOrDefault("SESSION_MAX_REFRESH_ATTEMPTS", defaultMaxRefreshAttempts),
	}
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

func NewAPIConfig() *APIConfig {
	baseURL := os.Getenv("API_BASE_URL")
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}

	return &APIConfig{
		BaseURL: baseURL,
		Timeout: parseDurationOrDefault("API_TIMEOUT", defaultAPITimeout),
	}
}

// DBConfig locates the postgres database backing the key-value store. There
// is no sensible default: a missing DSN is a configuration error.
type DBConfig struct {
	DSN string
}

func NewDBConfig() (*DBConfig, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return &DBConfig{DSN: dsn}, nil
}

type RedisConfig struct {
	Addr string
}

func NewRedisConfig() (*RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil, errors.New("REDIS_ADDR is not set")
	}
	return &RedisConfig{Addr: addr}, nil
}

func parseDurationOrDefault(varName string, def time.Duration) time.Duration {
	if v := os.Getenv(varName); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration in %s: %s, using default %s", varName, v, def)
	}
	return def
}

func parseIntOrDefault(varName string, def int) int {
	if v := os.Getenv(varName); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid integer in %s: %s, using default %d", varName, v, def)
	}
	return def
}
