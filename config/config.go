package config

import (
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration loaded from environment variables or .env file.
//
// It is composed of smaller structs that represent different concerns of the system:
// the HTTP server, the Postgres sink, the archive crawler, the ingest pipeline and the read cache.
//
// Example ENV equivalent:
//
//	SERVER_PORT=8080
//	POSTGRES_HOST=localhost
//	POSTGRES_DB=spimex
//	CRAWLER_BASE_URL=https://spimex.com/markets/oil_products/trades/results/
//	CRAWLER_CUTOFF_YEAR=2023
//	DATA_DIR=./data/files
//	CACHE_REFRESH_AT=14:11
type Config struct {
	Server   ServerConfig   // HTTP server configuration
	Postgres PostgresConfig // PostgreSQL connection settings
	Crawler  CrawlerConfig  // Remote archive crawl settings
	Ingest   IngestConfig   // Spreadsheet ingest settings
	Cache    CacheConfig    // Read-side cache settings
}

// ServerConfig holds HTTP server settings such as the port to listen on.
type ServerConfig struct {
	Port string // The TCP port the HTTP server will listen on (e.g., "8080")
}

// PostgresConfig defines connection details for PostgreSQL.
//
// Fields:
//   - Host: hostname of the database server.
//   - Port: port number of the database server (default 5432).
//   - User: username for authentication.
//   - Password: password for authentication.
//   - DBName: target database name.
//   - SSLMode: SSL mode (e.g., "disable", "require").
//   - URL: computed DSN used by database/sql to connect.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	URL      string
}

// CrawlerConfig controls pagination, fetch retries and the global concurrency cap.
type CrawlerConfig struct {
	BaseURL        string        // Paginated index page of the archive
	CutoffYear     int           // Documents published before this year stop the crawl
	Concurrency    int           // Max simultaneous outbound requests for the whole run
	MaxRetries     int           // Fetch attempts on connection-level failures
	Backoff        time.Duration // Sleep between attempts; 0 disables sleeping
	RequestTimeout time.Duration // Transport timeout for a single request
	MaxDownloads   int           // Download quota per run; 0 means unlimited
	MaxPages       int           // Pagination bound; 0 means unlimited
	UserAgent      string
	DataDir        string // Local directory for downloaded documents
}

// IngestConfig controls the spreadsheet parse pool and the writer.
type IngestConfig struct {
	Workers   int    // Parse worker pool size
	BatchSize int    // Rows per COPY flush inside the run transaction
	DedupMode string // "descriptive" or "daily"
}

// CacheConfig controls the daily recompute gate of the read API.
type CacheConfig struct {
	RefreshAt string // HH:MM local time after which cached values are recomputed
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 12_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.4 Safari/605.1.15"

// AppConfig is the globally accessible configuration instance.
//
// It is populated once via LoadConfig() and used throughout the application.
// All services should import this package and read from AppConfig instead of
// reloading environment variables directly.
var AppConfig Config

// LoadConfig initializes the global AppConfig by reading from .env file
// or directly from environment variables.
//
// Precedence (from lowest to highest):
//  1. Defaults set in this function.
//  2. Values from .env file (if present).
//  3. Environment variables.
//
// Fatal exit:
//   - If required variables are missing or malformed, validateConfig() will terminate the app
//     with a descriptive log message.
func LoadConfig() {
	// Default values
	viper.SetDefault("SERVER_PORT", "8080")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "postgres")
	viper.SetDefault("POSTGRES_PASSWORD", "postgres")
	viper.SetDefault("POSTGRES_DB", "spimex")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")

	viper.SetDefault("CRAWLER_BASE_URL", "https://spimex.com/markets/oil_products/trades/results/")
	viper.SetDefault("CRAWLER_CUTOFF_YEAR", 2023)
	viper.SetDefault("CRAWLER_CONCURRENCY", 100)
	viper.SetDefault("CRAWLER_MAX_RETRIES", 3)
	viper.SetDefault("CRAWLER_BACKOFF", "2s")
	viper.SetDefault("CRAWLER_REQUEST_TIMEOUT", "30s")
	viper.SetDefault("CRAWLER_MAX_DOWNLOADS", 0)
	viper.SetDefault("CRAWLER_MAX_PAGES", 0)
	viper.SetDefault("CRAWLER_USER_AGENT", defaultUserAgent)
	viper.SetDefault("DATA_DIR", "./data/files")

	viper.SetDefault("INGEST_WORKERS", runtime.NumCPU())
	viper.SetDefault("INGEST_BATCH_SIZE", 1000)
	viper.SetDefault("INGEST_DEDUP_MODE", "descriptive")

	viper.SetDefault("CACHE_REFRESH_AT", "14:11")

	// Optionally read from .env if present (common in local dev)
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig() // ignore error if no .env

	// Read environment variables automatically
	viper.AutomaticEnv()

	// Populate global config instance
	AppConfig = Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("POSTGRES_HOST"),
			Port:     viper.GetInt("POSTGRES_PORT"),
			User:     viper.GetString("POSTGRES_USER"),
			Password: viper.GetString("POSTGRES_PASSWORD"),
			DBName:   viper.GetString("POSTGRES_DB"),
			SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		},
		Crawler: CrawlerConfig{
			BaseURL:        viper.GetString("CRAWLER_BASE_URL"),
			CutoffYear:     viper.GetInt("CRAWLER_CUTOFF_YEAR"),
			Concurrency:    viper.GetInt("CRAWLER_CONCURRENCY"),
			MaxRetries:     viper.GetInt("CRAWLER_MAX_RETRIES"),
			Backoff:        viper.GetDuration("CRAWLER_BACKOFF"),
			RequestTimeout: viper.GetDuration("CRAWLER_REQUEST_TIMEOUT"),
			MaxDownloads:   viper.GetInt("CRAWLER_MAX_DOWNLOADS"),
			MaxPages:       viper.GetInt("CRAWLER_MAX_PAGES"),
			UserAgent:      viper.GetString("CRAWLER_USER_AGENT"),
			DataDir:        viper.GetString("DATA_DIR"),
		},
		Ingest: IngestConfig{
			Workers:   viper.GetInt("INGEST_WORKERS"),
			BatchSize: viper.GetInt("INGEST_BATCH_SIZE"),
			DedupMode: viper.GetString("INGEST_DEDUP_MODE"),
		},
		Cache: CacheConfig{
			RefreshAt: viper.GetString("CACHE_REFRESH_AT"),
		},
	}

	// Construct Postgres DSN (used by database/sql)
	AppConfig.Postgres.URL = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		AppConfig.Postgres.User,
		AppConfig.Postgres.Password,
		AppConfig.Postgres.Host,
		AppConfig.Postgres.Port,
		AppConfig.Postgres.DBName,
		AppConfig.Postgres.SSLMode,
	)

	// Validate critical fields
	validateConfig()
}

// ParseClock parses an "HH:MM" string into hour and minute.
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q, expected HH:MM: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// problems returns the list of missing or malformed keys of cfg.
func problems(cfg Config) []string {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if cfg.Postgres.Host == "" {
		missing = append(missing, "POSTGRES_HOST")
	}
	if cfg.Postgres.Port == 0 {
		missing = append(missing, "POSTGRES_PORT")
	}
	if cfg.Postgres.User == "" {
		missing = append(missing, "POSTGRES_USER")
	}
	if cfg.Postgres.Password == "" {
		missing = append(missing, "POSTGRES_PASSWORD")
	}
	if cfg.Postgres.DBName == "" {
		missing = append(missing, "POSTGRES_DB")
	}
	if cfg.Crawler.BaseURL == "" {
		missing = append(missing, "CRAWLER_BASE_URL")
	}
	if cfg.Crawler.Concurrency <= 0 {
		missing = append(missing, "CRAWLER_CONCURRENCY")
	}
	if cfg.Crawler.RequestTimeout <= 0 {
		missing = append(missing, "CRAWLER_REQUEST_TIMEOUT")
	}
	if cfg.Crawler.DataDir == "" {
		missing = append(missing, "DATA_DIR")
	}
	switch cfg.Ingest.DedupMode {
	case "descriptive", "daily":
	default:
		missing = append(missing, "INGEST_DEDUP_MODE")
	}
	if _, _, err := ParseClock(cfg.Cache.RefreshAt); err != nil {
		missing = append(missing, "CACHE_REFRESH_AT")
	}

	return missing
}

// validateConfig ensures required variables are present and terminates
// the application if they are missing.
func validateConfig() {
	if missing := problems(AppConfig); len(missing) > 0 {
		log.Fatalf("missing or invalid environment variables: %v\n", missing)
	}
}
