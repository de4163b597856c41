package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Archive sources.
const (
	SourceHTTP = "http"
	SourceS3   = "s3"
)

// Run modes.
const (
	ModeOnce     = "once"
	ModeSchedule = "schedule"
)

// Ledger drivers.
const (
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "pgx"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	ArchiveSource string
	ArchiveURL    string
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	S3Endpoint    string

	Product string
	// Region selects members of multi-region hourly archives.
	Region     string
	TimeWindow time.Duration
	// TargetTime is zero when the run should target the current time.
	TargetTime time.Time

	FetchConcurrency int
	FetchTimeout     time.Duration
	StagingDir       string

	StorePath    string
	LedgerDriver string
	LedgerDSN    string
	GroupWorkers int

	RunMode        string
	IngestInterval time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	ManifestDir  string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// NotifyEnabled reports whether commit notifications are published.
func (c *Config) NotifyEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	window, err := parsePositiveDuration("TIME_WINDOW", "300s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	interval, err := parsePositiveDuration("INGEST_INTERVAL", "2m")
	if err != nil {
		return nil, err
	}
	concurrency, err := parseIntInRange("FETCH_CONCURRENCY", 5, 1, 64)
	if err != nil {
		return nil, err
	}
	workers, err := parseIntInRange("GROUP_WORKERS", 2, 1, 32)
	if err != nil {
		return nil, err
	}

	var target time.Time
	if s := sharedcfg.EnvOrDefault("TARGET_TIME", ""); s != "" {
		target, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid TARGET_TIME %q: %w", s, err)
		}
		target = target.UTC()
	}

	storePath := sharedcfg.EnvOrDefault("STORE_PATH", "data/mrms.zarr")
	s3Prefix := sharedcfg.EnvOrDefault("S3_PREFIX", "CONUS/")
	var brokers []string
	if s := sharedcfg.EnvOrDefault("KAFKA_BROKERS", ""); s != "" {
		brokers = sharedcfg.ParseBrokers(s)
	}

	cfg := &Config{
		ArchiveSource:    sharedcfg.EnvOrDefault("ARCHIVE_SOURCE", SourceHTTP),
		ArchiveURL:       sharedcfg.EnvOrDefault("ARCHIVE_URL", "https://mrms.ncep.noaa.gov/data/3DRefl/"),
		S3Bucket:         sharedcfg.EnvOrDefault("S3_BUCKET", "noaa-mrms-pds"),
		S3Region:         sharedcfg.EnvOrDefault("S3_REGION", "us-east-1"),
		S3Prefix:         s3Prefix,
		S3Endpoint:       sharedcfg.EnvOrDefault("S3_ENDPOINT", ""),
		Product:          sharedcfg.EnvOrDefault("PRODUCT", "MergedReflectivityQC"),
		Region:           sharedcfg.EnvOrDefault("REGION", regionOf(s3Prefix)),
		TimeWindow:       window,
		TargetTime:       target,
		FetchConcurrency: concurrency,
		FetchTimeout:     fetchTimeout,
		StagingDir:       sharedcfg.EnvOrDefault("STAGING_DIR", ""),
		StorePath:        storePath,
		LedgerDriver:     sharedcfg.EnvOrDefault("LEDGER_DRIVER", LedgerSQLite),
		LedgerDSN:        sharedcfg.EnvOrDefault("LEDGER_DSN", filepath.Join(storePath, ".commits.sqlite")),
		GroupWorkers:     workers,
		RunMode:          sharedcfg.EnvOrDefault("RUN_MODE", ModeOnce),
		IngestInterval:   interval,
		KafkaBrokers:     brokers,
		KafkaTopic:       sharedcfg.EnvOrDefault("KAFKA_TOPIC", "mosaic-commits"),
		ManifestDir:      sharedcfg.EnvOrDefault("MANIFEST_DIR", ""),
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
	}

	switch cfg.ArchiveSource {
	case SourceHTTP:
		u, err := url.Parse(cfg.ArchiveURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid ARCHIVE_URL %q", cfg.ArchiveURL)
		}
	case SourceS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("S3_BUCKET is required when ARCHIVE_SOURCE is s3")
		}
	default:
		return nil, fmt.Errorf("invalid ARCHIVE_SOURCE %q: want http or s3", cfg.ArchiveSource)
	}
	if cfg.Product == "" {
		return nil, errors.New("PRODUCT is required")
	}
	if cfg.StorePath == "" {
		return nil, errors.New("STORE_PATH is required")
	}
	if cfg.LedgerDriver != LedgerSQLite && cfg.LedgerDriver != LedgerPostgres {
		return nil, fmt.Errorf("invalid LEDGER_DRIVER %q: want sqlite or pgx", cfg.LedgerDriver)
	}
	if cfg.RunMode != ModeOnce && cfg.RunMode != ModeSchedule {
		return nil, fmt.Errorf("invalid RUN_MODE %q: want once or schedule", cfg.RunMode)
	}
	if cfg.NotifyEnabled() && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// regionOf returns the first path segment of an archive prefix.
func regionOf(prefix string) string {
	first, _, _ := strings.Cut(strings.Trim(prefix, "/"), "/")
	return first
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}

func parseIntInRange(key string, def, lo, hi int) (int, error) {
	s := sharedcfg.EnvOrDefault(key, strconv.Itoa(def))
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s %q: want an integer in [%d, %d]", key, s, lo, hi)
	}
	return n, nil
}
