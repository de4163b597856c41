// Command mosaic-etl ingests MRMS 3-D reflectivity mosaics into a Zarr store.
//
// With no arguments it crawls the configured archive once around TARGET_TIME
// (or now), or repeatedly when RUN_MODE=schedule. Arguments are treated as
// local archives (files, zips or directories) and ingested instead of
// crawling.
//
// Usage:
//
//	mosaic-etl [archive ...]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/radar-mosaic-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/radar-mosaic-etl/internal/adapter/kafka"
	"github.com/couchcryptid/radar-mosaic-etl/internal/adapter/listing"
	parquetadapter "github.com/couchcryptid/radar-mosaic-etl/internal/adapter/parquet"
	"github.com/couchcryptid/radar-mosaic-etl/internal/adapter/s3listing"
	"github.com/couchcryptid/radar-mosaic-etl/internal/config"
	"github.com/couchcryptid/radar-mosaic-etl/internal/decode"
	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
	"github.com/couchcryptid/radar-mosaic-etl/internal/fetch"
	"github.com/couchcryptid/radar-mosaic-etl/internal/observability"
	"github.com/couchcryptid/radar-mosaic-etl/internal/pipeline"
	"github.com/couchcryptid/radar-mosaic-etl/internal/staging"
	"github.com/couchcryptid/radar-mosaic-etl/internal/store"
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := run(ctx, cfg, logger, metrics, flag.Args())
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, archives []string) int {
	ledger, err := store.OpenLedger(ctx, cfg.LedgerDriver, cfg.LedgerDSN)
	if err != nil {
		logger.Error("open commit ledger", "error", err)
		return 1
	}
	defer ledger.Close()

	st, err := store.Open(ctx, cfg.StorePath, ledger)
	if err != nil {
		logger.Error("open store", "path", cfg.StorePath, "error", err)
		return 1
	}

	client := &http.Client{Timeout: cfg.FetchTimeout}
	crawler, err := newCrawler(ctx, cfg, client, logger)
	if err != nil {
		logger.Error("create archive crawler", "error", err)
		return 1
	}
	filter := staging.MemberFilter(staging.ProductFilter(cfg.Product), staging.RegionFilter(cfg.Region))

	opts := []pipeline.Option{
		pipeline.WithWindow(cfg.TimeWindow),
		pipeline.WithInterval(cfg.IngestInterval),
		pipeline.WithStagingDir(cfg.StagingDir),
		pipeline.WithGroupWorkers(cfg.GroupWorkers),
		pipeline.WithFilter(filter),
	}
	if cfg.NotifyEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		opts = append(opts, pipeline.WithNotifier(writer))
		logger.Info("commit notifications enabled", "topic", cfg.KafkaTopic)
	}
	if cfg.ManifestDir != "" {
		manifest, err := parquetadapter.NewWriter(cfg.ManifestDir)
		if err != nil {
			logger.Error("create manifest writer", "error", err)
			return 1
		}
		opts = append(opts, pipeline.WithManifest(manifest))
	}

	p := pipeline.New(crawler,
		fetch.New(client, cfg.FetchConcurrency, filter, logger, metrics),
		decode.New(logger),
		st, logger, metrics, opts...)

	switch {
	case len(archives) > 0:
		report, err := p.RunLocal(ctx, archives...)
		return exitCode(logger, report, err)
	case cfg.RunMode == config.ModeSchedule:
		return serve(ctx, cfg, p, logger)
	default:
		target := cfg.TargetTime
		if target.IsZero() {
			target = domain.Now()
		}
		report, err := p.RunOnce(ctx, target)
		return exitCode(logger, report, err)
	}
}

func newCrawler(ctx context.Context, cfg *config.Config, client *http.Client, logger *slog.Logger) (pipeline.Crawler, error) {
	if cfg.ArchiveSource == config.SourceS3 {
		return s3listing.New(ctx, s3listing.Options{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Prefix:   cfg.S3Prefix,
			Endpoint: cfg.S3Endpoint,
			Product:  cfg.Product,
		}, logger)
	}
	return listing.New(client, cfg.ArchiveURL, cfg.Product, logger)
}

// serve runs the scheduled pipeline alongside the health server until the
// context is cancelled.
func serve(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, logger *slog.Logger) int {
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := p.Run(ctx); err != nil {
		logger.Error("pipeline error", "error", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return 0
}

// exitCode prints the run summary and fails only when nothing was committed.
// A run interrupted after committing some groups still succeeds.
func exitCode(logger *slog.Logger, report domain.Report, err error) int {
	if err != nil {
		logger.Error("ingest run failed", "run_id", report.RunID, "committed", report.Committed(), "error", err)
		if report.Committed() == 0 {
			return 1
		}
	}
	fmt.Printf("files discovered: %d, staged: %d\n", report.FilesDiscovered, report.FilesStaged)
	for _, g := range report.Groups {
		line := fmt.Sprintf("  %-10s %s", g.Status, g.Key)
		if g.Error != "" {
			line += ": " + g.Error
		}
		fmt.Println(line)
	}
	if report.Committed() == 0 {
		logger.Error("no group committed", "run_id", report.RunID, "groups", len(report.Groups))
		return 1
	}
	return 0
}
