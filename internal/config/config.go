package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/optimal"
	"github.com/reelhub/publish-queue/internal/ratelimiter"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL is required unless
// QUEUE_STORE=memory.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Queue store: "postgres" or "memory"
	QueueStore  string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Scheduler
	TickInterval      time.Duration
	DefaultMaxRetries int
	RetryBaseDelay    time.Duration

	// Rate limiting: "memory" or "redis"
	RateLimitBackend  string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisKeyPrefix    string
	DefaultMaxPerHour int
	DefaultMaxPerDay  int

	// Artifacts: "dir" or "s3"
	ArtifactBackend string
	ArtifactDir     string
	ArtifactBucket  string
	ArtifactPrefix  string
	S3Endpoint      string

	// Publishers
	PublisherBaseURL string
	PublisherTimeout time.Duration
	PlatformsFile    string

	// Platforms is the merged result of the built-in defaults and
	// PlatformsFile.
	Platforms map[domain.Platform]PlatformConfig
}

const (
	defaultPublisherBaseURL = "http://localhost:9090"
	defaultPublisherTimeout = 2 * time.Minute
)

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		QueueStore:  strings.ToLower(getEnv("QUEUE_STORE", "postgres")),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 2)),

		TickInterval:      getDuration("TICK_INTERVAL", 30*time.Second),
		DefaultMaxRetries: getInt("DEFAULT_MAX_RETRIES", domain.DefaultMaxRetries),
		RetryBaseDelay:    getDuration("RETRY_BASE_DELAY", time.Minute),

		RateLimitBackend:  strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		RedisKeyPrefix:    getEnv("REDIS_KEY_PREFIX", "publishq:ratelimit"),
		DefaultMaxPerHour: getInt("DEFAULT_MAX_PER_HOUR", 5),
		DefaultMaxPerDay:  getInt("DEFAULT_MAX_PER_DAY", 50),

		ArtifactBackend: strings.ToLower(getEnv("ARTIFACT_BACKEND", "dir")),
		ArtifactDir:     getEnv("ARTIFACT_DIR", "./artifacts"),
		ArtifactBucket:  os.Getenv("ARTIFACT_BUCKET"),
		ArtifactPrefix:  getEnv("ARTIFACT_PREFIX", "videos/"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),

		PublisherBaseURL: getEnv("PUBLISHER_BASE_URL", defaultPublisherBaseURL),
		PublisherTimeout: getDuration("PUBLISHER_TIMEOUT", defaultPublisherTimeout),
		PlatformsFile:    os.Getenv("PLATFORMS_FILE"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	platforms, err := mergePlatforms(cfg.PublisherBaseURL, cfg.PublisherTimeout, cfg.PlatformsFile)
	if err != nil {
		return nil, err
	}
	cfg.Platforms = platforms

	return cfg, nil
}

// LoadPlatforms resolves only the platform table. Commands that never touch
// the queue use it to skip the store and backend checks of Load.
func LoadPlatforms() (map[domain.Platform]PlatformConfig, error) {
	return mergePlatforms(
		getEnv("PUBLISHER_BASE_URL", defaultPublisherBaseURL),
		getDuration("PUBLISHER_TIMEOUT", defaultPublisherTimeout),
		os.Getenv("PLATFORMS_FILE"),
	)
}

func mergePlatforms(baseURL string, timeout time.Duration, path string) (map[domain.Platform]PlatformConfig, error) {
	platforms := DefaultPlatforms(baseURL, timeout)
	if path == "" {
		return platforms, nil
	}
	file, err := LoadPlatformsFile(path)
	if err != nil {
		return nil, err
	}
	for p, pc := range file {
		merged := pc.withDefaults(platforms[p], timeout)
		if merged.Endpoint == "" {
			return nil, fmt.Errorf("platform %s: endpoint is required", p)
		}
		platforms[p] = merged
	}
	return platforms, nil
}

func (c *Config) validate() error {
	switch c.QueueStore {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return fmt.Errorf("QUEUE_STORE must be postgres or memory, got %q", c.QueueStore)
	}
	switch c.RateLimitBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimitBackend)
	}
	switch c.ArtifactBackend {
	case "dir":
	case "s3":
		if c.ArtifactBucket == "" {
			return fmt.Errorf("ARTIFACT_BUCKET is required when ARTIFACT_BACKEND=s3")
		}
	default:
		return fmt.Errorf("ARTIFACT_BACKEND must be dir or s3, got %q", c.ArtifactBackend)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}
	if c.DefaultMaxRetries < 0 || c.DefaultMaxRetries > 10 {
		return fmt.Errorf("DEFAULT_MAX_RETRIES: %w", domain.ErrInvalidMaxRetries)
	}
	return nil
}

// DefaultLimits returns the caps applied to platforms without their own.
func (c *Config) DefaultLimits() ratelimiter.Limits {
	return ratelimiter.Limits{MaxPerHour: c.DefaultMaxPerHour, MaxPerDay: c.DefaultMaxPerDay}
}

// PlatformLimits returns the configured caps keyed by platform.
func (c *Config) PlatformLimits() map[domain.Platform]ratelimiter.Limits {
	out := make(map[domain.Platform]ratelimiter.Limits, len(c.Platforms))
	for p, pc := range c.Platforms {
		if pc.Limits != nil {
			out[p] = *pc.Limits
		}
	}
	return out
}

// OptimalRules returns the optimal-time rule of every configured platform.
func (c *Config) OptimalRules() map[domain.Platform]optimal.RuleSpec {
	out := make(map[domain.Platform]optimal.RuleSpec, len(c.Platforms))
	for p, pc := range c.Platforms {
		if pc.Optimal != nil {
			out[p] = *pc.Optimal
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
