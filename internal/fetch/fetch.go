// Package fetch downloads archive entries into a staging directory with a
// fixed number of concurrent requests.
package fetch

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
	"github.com/couchcryptid/radar-mosaic-etl/internal/observability"
	"github.com/couchcryptid/radar-mosaic-etl/internal/staging"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the number of downloads allowed in flight.
const DefaultConcurrency = 5

// Result is the outcome of one download. Paths holds the staged files, more
// than one when the body was a zip archive.
type Result struct {
	Entry domain.ArchiveEntry
	Paths []string
	Err   error

	seq int
}

// Fetcher downloads archive entries through a bounded pool of slots.
type Fetcher struct {
	client  *http.Client
	slots   *semaphore.Weighted
	filter  func(string) bool
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Fetcher allowing limit concurrent downloads. filter selects
// zip members to stage; nil stages all of them.
func New(client *http.Client, limit int, filter func(string) bool, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Fetcher{
		client:  client,
		slots:   semaphore.NewWeighted(int64(limit)),
		filter:  filter,
		logger:  logger,
		metrics: metrics,
	}
}

// Fetch downloads every entry into dir and returns one result per entry in
// input order. A failed download does not cancel the others; only context
// cancellation stops new downloads from starting.
func (f *Fetcher) Fetch(ctx context.Context, entries iter.Seq[domain.ArchiveEntry], dir string) []Result {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []Result
		seq     int
	)
	record := func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	for entry := range entries {
		i := seq
		seq++
		if err := f.slots.Acquire(ctx, 1); err != nil {
			record(Result{Entry: entry, Err: err, seq: i})
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer f.slots.Release(1)
			paths, err := f.fetchOne(ctx, entry, dir)
			record(Result{Entry: entry, Paths: paths, Err: err, seq: i})
		}()
	}
	wg.Wait()

	slices.SortFunc(results, func(a, b Result) int { return a.seq - b.seq })
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, entry domain.ArchiveEntry, dir string) ([]string, error) {
	f.metrics.FetchesInFlight.Inc()
	defer f.metrics.FetchesInFlight.Dec()
	start := time.Now()

	paths, err := f.download(ctx, entry, dir)
	if err != nil {
		f.metrics.FetchFailures.Inc()
		f.logger.Warn("fetch failed", "url", entry.URL, "error", err)
		return nil, err
	}
	f.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	f.metrics.FilesStaged.Add(float64(len(paths)))
	f.logger.Debug("fetched", "url", entry.URL, "files", len(paths))
	return paths, nil
}

func (f *Fetcher) download(ctx context.Context, entry domain.ArchiveEntry, dir string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return nil, &domain.NetworkError{URL: entry.URL, Err: err}
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{URL: entry.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &domain.NetworkError{URL: entry.URL, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.NetworkError{URL: entry.URL, StatusCode: resp.StatusCode, Err: err}
	}

	members, err := staging.Unwrap(entry.Name(), body, f.filter)
	if err != nil {
		return nil, fmt.Errorf("unwrap %s: %w", entry.URL, err)
	}
	return staging.WriteMembers(dir, members)
}
