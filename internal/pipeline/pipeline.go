package pipeline

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
	"github.com/couchcryptid/radar-mosaic-etl/internal/fetch"
	"github.com/couchcryptid/radar-mosaic-etl/internal/observability"
	"github.com/couchcryptid/radar-mosaic-etl/internal/store"
)

// Crawler lists the archive entries inside a time window.
type Crawler interface {
	Crawl(ctx context.Context, w domain.Window) iter.Seq2[domain.ArchiveEntry, error]
}

// Fetcher stages archive entries into a directory.
type Fetcher interface {
	Fetch(ctx context.Context, entries iter.Seq[domain.ArchiveEntry], dir string) []fetch.Result
}

// Decoder turns a staged file into a tile.
type Decoder interface {
	Resolve(path string) domain.Format
	DecodeAs(f domain.Format, path string) (*domain.Tile, error)
}

// Committer persists a merged time-group.
type Committer interface {
	Commit(ctx context.Context, ds domain.Dataset) (store.CommitResult, error)
}

// Notifier announces committed groups.
type Notifier interface {
	Notify(ctx context.Context, events []domain.CommitEvent) error
}

// Manifest records a run's outcome.
type Manifest interface {
	Write(report domain.Report) error
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline orchestrates crawl, fetch, group, decode, merge and commit.
type Pipeline struct {
	crawler   Crawler
	fetcher   Fetcher
	decoder   Decoder
	committer Committer
	notifier  Notifier
	manifest  Manifest
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock

	window     time.Duration
	interval   time.Duration
	stagingDir string
	workers    int
	filter     func(string) bool

	ready atomic.Bool
	mu    sync.Mutex
	last  *domain.Report
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithWindow sets the half-width of the crawl window around the target time.
func WithWindow(d time.Duration) Option { return func(p *Pipeline) { p.window = d } }

// WithInterval sets the period between scheduled runs.
func WithInterval(d time.Duration) Option { return func(p *Pipeline) { p.interval = d } }

// WithStagingDir sets the parent directory of per-run staging directories.
func WithStagingDir(dir string) Option { return func(p *Pipeline) { p.stagingDir = dir } }

// WithGroupWorkers bounds how many time-groups are decoded in parallel.
func WithGroupWorkers(n int) Option { return func(p *Pipeline) { p.workers = n } }

// WithFilter selects which local archive members are staged by RunLocal.
func WithFilter(f func(string) bool) Option { return func(p *Pipeline) { p.filter = f } }

// WithNotifier publishes an event per committed group.
func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

// WithManifest records each run's report.
func WithManifest(m Manifest) Option { return func(p *Pipeline) { p.manifest = m } }

// WithClock replaces the wall clock used for scheduling.
func WithClock(c clockwork.Clock) Option { return func(p *Pipeline) { p.clock = c } }

// New creates a Pipeline with the given stages and observability.
func New(c Crawler, f Fetcher, d Decoder, s Committer, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		crawler:   c,
		fetcher:   f,
		decoder:   d,
		committer: s,
		logger:    logger,
		metrics:   metrics,
		clock:     domain.Clock(),
		window:    5 * time.Minute,
		interval:  2 * time.Minute,
		workers:   2,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers <= 0 {
		p.workers = 1
	}
	return p
}

// CheckReadiness returns nil once a run has committed at least one group.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not committed any group yet")
	}
	return nil
}

// LastReport returns the report of the most recent completed run.
func (p *Pipeline) LastReport() (domain.Report, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return domain.Report{}, false
	}
	return *p.last, true
}

func (p *Pipeline) setLastReport(r domain.Report) {
	p.mu.Lock()
	p.last = &r
	p.mu.Unlock()
}

// Run repeats RunOnce every interval with the current time as target until
// the context is cancelled. Failed runs are retried with exponential backoff.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "interval", p.interval, "window", p.window)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	backoff := initialBackoff
	for {
		if _, err := p.RunOnce(ctx, p.clock.Now().UTC()); err != nil {
			if ctx.Err() != nil {
				p.logger.Info("pipeline stopping", "reason", ctx.Err())
				return nil
			}
			p.logger.Error("ingest run failed", "error", err, "retry_in", backoff)
			if !p.sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = initialBackoff

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (p *Pipeline) sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
