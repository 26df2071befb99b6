// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, the process
// exits with an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all runtime configuration for the market service.
type Config struct {
	Port     string
	GRPCPort string
	LogLevel string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string // optional; enables the redis cache and run events

	TheirStackAPIKey  string
	TheirStackBaseURL string
	TheirStackTimeout time.Duration
	TheirStackRetries int
	MaxJobsPerSearch  int

	CollectionSchedule  string
	CollectionRoles     []string
	CollectionLocations []string
	RetentionDays       int
	UseUserRoles        bool
	RedFlags            []string // postings mentioning any of these are discarded

	AnalyticsCache    string // memory | redis | none
	AnalyticsCacheTTL time.Duration
}

// Load reads environment variables and returns a validated Config. A .env
// file in the working directory or one of its parents is applied first;
// variables already set in the environment win.
func Load() (*Config, error) {
	LoadDotEnv()

	apiKey := strings.TrimSpace(os.Getenv("THEIR_STACK_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("THEIR_STACK_API_KEY is required")
	}

	driver := strings.ToLower(getenv("STORE_DRIVER", DriverPostgres))
	dbURL := os.Getenv("DATABASE_URL")
	switch driver {
	case DriverPostgres:
		if dbURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, driver)
	}

	timeout, err := positiveInt("THEIR_STACK_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	retries, err := positiveInt("THEIR_STACK_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	maxJobs, err := positiveInt("MAX_JOBS_PER_SEARCH", 100)
	if err != nil {
		return nil, err
	}
	retention, err := positiveInt("JOB_DATA_RETENTION_DAYS", 90)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := nonNegativeInt("ANALYTICS_CACHE_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}

	useUserRoles := true
	if s := os.Getenv("USE_USER_ROLES"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("USE_USER_ROLES must be a boolean, got %q", s)
		}
		useUserRoles = v
	}

	redisURL := os.Getenv("REDIS_URL")
	cacheKind := strings.ToLower(getenv("ANALYTICS_CACHE", "memory"))
	if cacheTTL == 0 {
		cacheKind = "none"
	}
	if cacheKind == "redis" && redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required when ANALYTICS_CACHE=redis")
	}

	return &Config{
		Port:     getenv("MARKET_PORT", "8083"),
		GRPCPort: getenv("MARKET_GRPC_PORT", "9093"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		StoreDriver: driver,
		DatabaseURL: dbURL,
		SQLitePath:  getenv("SQLITE_PATH", "market.db"),
		RedisURL:    redisURL,

		TheirStackAPIKey:  apiKey,
		TheirStackBaseURL: getenv("THEIR_STACK_BASE_URL", "https://api.theirstack.com"),
		TheirStackTimeout: time.Duration(timeout) * time.Second,
		TheirStackRetries: retries,
		MaxJobsPerSearch:  maxJobs,

		CollectionSchedule:  getenv("JOB_COLLECTION_SCHEDULE", "0 2 * * *"),
		CollectionRoles:     splitList(os.Getenv("JOB_COLLECTION_ROLES")),
		CollectionLocations: splitList(os.Getenv("JOB_COLLECTION_LOCATIONS")),
		RetentionDays:       retention,
		UseUserRoles:        useUserRoles,
		RedFlags:            splitList(os.Getenv("JOB_RED_FLAGS")),

		AnalyticsCache:    cacheKind,
		AnalyticsCacheTTL: time.Duration(cacheTTL) * time.Second,
	}, nil
}

// LoadDotEnv applies the nearest .env file, searching up to five parent
// directories. A missing file is not an error.
func LoadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func getenv(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func positiveInt(name string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return v, nil
}

// nonNegativeInt is positiveInt that also accepts 0.
func nonNegativeInt(name string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, s)
	}
	return v, nil
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
