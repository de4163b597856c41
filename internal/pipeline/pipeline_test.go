package pipeline_test

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
	"github.com/couchcryptid/radar-mosaic-etl/internal/fetch"
	"github.com/couchcryptid/radar-mosaic-etl/internal/observability"
	"github.com/couchcryptid/radar-mosaic-etl/internal/pipeline"
	"github.com/couchcryptid/radar-mosaic-etl/internal/store"
)

// --- mocks ---

type mockCrawler struct {
	entries []domain.ArchiveEntry
	err     error
	calls   atomic.Int64
}

func (m *mockCrawler) Crawl(_ context.Context, _ domain.Window) iter.Seq2[domain.ArchiveEntry, error] {
	m.calls.Add(1)
	return func(yield func(domain.ArchiveEntry, error) bool) {
		if m.err != nil {
			yield(domain.ArchiveEntry{}, m.err)
			return
		}
		for _, e := range m.entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// mockFetcher stages each entry as a file named after the URL.
type mockFetcher struct {
	failures map[string]error
}

func (m *mockFetcher) Fetch(_ context.Context, entries iter.Seq[domain.ArchiveEntry], dir string) []fetch.Result {
	var out []fetch.Result
	for e := range entries {
		if err := m.failures[e.URL]; err != nil {
			out = append(out, fetch.Result{Entry: e, Err: err})
			continue
		}
		out = append(out, fetch.Result{Entry: e, Paths: []string{filepath.Join(dir, e.Name())}})
	}
	return out
}

type mockDecoder struct {
	errs map[string]error
}

func (m *mockDecoder) Resolve(string) domain.Format { return domain.FormatArrayV2 }

func (m *mockDecoder) DecodeAs(_ domain.Format, path string) (*domain.Tile, error) {
	name := filepath.Base(path)
	if err := m.errs[name]; err != nil {
		return nil, err
	}
	vt, ok := domain.ParseValidTime(name)
	if !ok {
		return nil, &domain.FormatError{File: path, Err: errors.New("no time")}
	}
	return testTile(path, vt, 1.0), nil
}

type mockCommitter struct {
	mu        sync.Mutex
	committed []domain.Dataset
	err       error
	// afterCommit runs after each successful commit.
	afterCommit func()
}

func (m *mockCommitter) Commit(_ context.Context, ds domain.Dataset) (store.CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return store.CommitResult{}, m.err
	}
	m.committed = append(m.committed, ds)
	if m.afterCommit != nil {
		m.afterCommit()
	}
	return store.CommitResult{Key: ds.Key(), Group: ds.Name, Created: len(m.committed) == 1, TimeIndex: len(m.committed) - 1}, nil
}

type mockNotifier struct {
	events []domain.CommitEvent
}

func (m *mockNotifier) Notify(_ context.Context, events []domain.CommitEvent) error {
	m.events = append(m.events, events...)
	return nil
}

type mockManifest struct {
	reports []domain.Report
}

func (m *mockManifest) Write(r domain.Report) error {
	m.reports = append(m.reports, r)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

// --- helpers ---

var target = time.Date(2022, time.June, 1, 12, 1, 0, 0, time.UTC)

func testTile(source string, vt time.Time, height float64) *domain.Tile {
	tile := domain.NewTile(domain.FormatArrayV2)
	tile.Name = "MREFL"
	tile.Source = source
	tile.Grid = domain.NewGrid([]float64{30, 29.99}, []float64{-100, -99.99})
	tile.Heights = []float64{height}
	tile.Volume = []float32{10, 20, 30, 40}
	tile.ValidTime = vt
	return tile
}

func entry(name string) domain.ArchiveEntry {
	vt, _ := domain.ParseValidTime(name)
	return domain.ArchiveEntry{URL: "https://archive.test/" + name, ValidTime: vt, Product: "MergedReflectivityQC"}
}

func newPipeline(t *testing.T, c pipeline.Crawler, f pipeline.Fetcher, d pipeline.Decoder, s pipeline.Committer, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	opts = append([]pipeline.Option{pipeline.WithStagingDir(t.TempDir())}, opts...)
	return pipeline.New(c, f, d, s, discardLogger(), newTestMetrics(), opts...)
}

// --- tests ---

func TestRunOnce_CommitsGroupsInTimeOrder(t *testing.T) {
	crawler := &mockCrawler{entries: []domain.ArchiveEntry{
		entry("MRMS_MergedReflectivityQC_00.50_20220601-120239.grib2"),
		entry("MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2"),
	}}
	committer := &mockCommitter{}
	notifier := &mockNotifier{}
	manifest := &mockManifest{}
	p := newPipeline(t, crawler, &mockFetcher{}, &mockDecoder{}, committer,
		pipeline.WithNotifier(notifier), pipeline.WithManifest(manifest))

	report, err := p.RunOnce(context.Background(), target)
	require.NoError(t, err)

	assert.Equal(t, 2, report.FilesDiscovered)
	assert.Equal(t, 2, report.FilesStaged)
	require.Len(t, report.Groups, 2)
	assert.Equal(t, 2, report.Committed())
	require.Len(t, committer.committed, 2)
	assert.True(t, committer.committed[0].ValidTime.Before(committer.committed[1].ValidTime))
	assert.True(t, report.Groups[0].Created)
	require.NotNil(t, report.Groups[0].Summary)
	assert.InDelta(t, 40.0, report.Groups[0].Summary.Max, 1e-9)

	require.Len(t, notifier.events, 2)
	assert.Equal(t, report.RunID, notifier.events[0].RunID)
	assert.Equal(t, []string{"MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2"}, notifier.events[0].Sources)
	require.Len(t, manifest.reports, 1)
	assert.Equal(t, report.RunID, manifest.reports[0].RunID)

	require.NoError(t, p.CheckReadiness(context.Background()))
	last, ok := p.LastReport()
	require.True(t, ok)
	assert.Equal(t, report.RunID, last.RunID)
}

func TestRunOnce_TopLevelCrawlFailureAborts(t *testing.T) {
	committer := &mockCommitter{}
	p := newPipeline(t, &mockCrawler{err: errors.New("listing unavailable")}, &mockFetcher{}, &mockDecoder{}, committer)

	_, err := p.RunOnce(context.Background(), target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing unavailable")
	assert.Empty(t, committer.committed)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestRunOnce_FailedDownloadLeavesGroupUncommitted(t *testing.T) {
	low := entry("MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2")
	high := entry("MRMS_MergedReflectivityQC_01.00_20220601-120039.grib2")
	other := entry("MRMS_MergedReflectivityQC_00.50_20220601-120239.grib2")
	fetcher := &mockFetcher{failures: map[string]error{
		high.URL: &domain.NetworkError{URL: high.URL, StatusCode: 404},
	}}
	committer := &mockCommitter{}
	p := newPipeline(t, &mockCrawler{entries: []domain.ArchiveEntry{low, high, other}}, fetcher, &mockDecoder{}, committer)

	report, err := p.RunOnce(context.Background(), target)
	require.NoError(t, err)

	assert.Equal(t, 3, report.FilesDiscovered)
	assert.Equal(t, 2, report.FilesStaged)
	assert.Equal(t, 1, report.FetchFailures)
	require.Len(t, report.Groups, 2)
	assert.Equal(t, domain.StatusIncomplete, report.Groups[0].Status)
	assert.Contains(t, report.Groups[0].Error, "404")
	assert.Equal(t, domain.StatusCommitted, report.Groups[1].Status)
	require.Len(t, committer.committed, 1)
	assert.Equal(t, other.ValidTime, committer.committed[0].ValidTime)
}

func TestRunOnce_FormatErrorDropsOnlyTheFile(t *testing.T) {
	good := entry("MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2")
	bad := entry("MRMS_MergedReflectivityQC_01.00_20220601-120039.grib2")
	decoder := &mockDecoder{errs: map[string]error{
		bad.Name(): &domain.FormatError{File: bad.Name(), Err: errors.New("truncated message")},
	}}
	committer := &mockCommitter{}
	p := newPipeline(t, &mockCrawler{entries: []domain.ArchiveEntry{good, bad}}, &mockFetcher{}, decoder, committer)

	report, err := p.RunOnce(context.Background(), target)
	require.NoError(t, err)

	require.Len(t, report.Groups, 1)
	assert.Equal(t, domain.StatusCommitted, report.Groups[0].Status)
	assert.Equal(t, []string{bad.Name()}, report.Groups[0].Dropped)
	require.Len(t, committer.committed, 1)
	assert.Equal(t, []string{good.Name()}, committer.committed[0].Sources)
}

func TestRunOnce_VariableCountErrorFailsGroup(t *testing.T) {
	good := entry("MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2")
	bad := entry("MRMS_MergedReflectivityQC_01.00_20220601-120039.grib2")
	decoder := &mockDecoder{errs: map[string]error{
		bad.Name(): &domain.VariableCountError{File: bad.Name(), Variables: []string{"refd", "refc"}},
	}}
	committer := &mockCommitter{}
	notifier := &mockNotifier{}
	p := newPipeline(t, &mockCrawler{entries: []domain.ArchiveEntry{good, bad}}, &mockFetcher{}, decoder, committer,
		pipeline.WithNotifier(notifier))

	report, err := p.RunOnce(context.Background(), target)
	require.NoError(t, err)

	require.Len(t, report.Groups, 1)
	assert.Equal(t, domain.StatusFailed, report.Groups[0].Status)
	assert.Contains(t, report.Groups[0].Error, "refd, refc")
	assert.Empty(t, committer.committed)
	assert.Empty(t, notifier.events)
	assert.Zero(t, report.Committed())
}

func TestRunOnce_ConflictIsReported(t *testing.T) {
	committer := &mockCommitter{err: &domain.StoreConflictError{Key: "MREFL/20220601-120039/abc"}}
	p := newPipeline(t, &mockCrawler{entries: []domain.ArchiveEntry{
		entry("MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2"),
	}}, &mockFetcher{}, &mockDecoder{}, committer)

	report, err := p.RunOnce(context.Background(), target)
	require.NoError(t, err)

	require.Len(t, report.Groups, 1)
	assert.Equal(t, domain.StatusConflict, report.Groups[0].Status)
	assert.Zero(t, report.Committed())
}

func TestRunOnce_CancelledContext(t *testing.T) {
	committer := &mockCommitter{}
	p := newPipeline(t, &mockCrawler{entries: []domain.ArchiveEntry{
		entry("MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2"),
	}}, &mockFetcher{}, &mockDecoder{}, committer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.RunOnce(ctx, target)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, committer.committed)
}

func TestRunOnce_CancelledMidCommitKeepsCommittedGroups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	committer := &mockCommitter{afterCommit: cancel}
	p := newPipeline(t, &mockCrawler{entries: []domain.ArchiveEntry{
		entry("MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2"),
		entry("MRMS_MergedReflectivityQC_00.50_20220601-120239.grib2"),
	}}, &mockFetcher{}, &mockDecoder{}, committer)

	report, err := p.RunOnce(ctx, target)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, committer.committed, 1)
	assert.Equal(t, 1, report.Committed())
}

func TestRun_RepeatsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClockAt(target)
	crawler := &mockCrawler{}
	p := newPipeline(t, crawler, &mockFetcher{}, &mockDecoder{}, &mockCommitter{},
		pipeline.WithClock(clock), pipeline.WithInterval(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return crawler.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return crawler.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRun_BacksOffAfterFailedRun(t *testing.T) {
	clock := clockwork.NewFakeClockAt(target)
	crawler := &mockCrawler{err: errors.New("listing unavailable")}
	p := newPipeline(t, crawler, &mockFetcher{}, &mockDecoder{}, &mockCommitter{},
		pipeline.WithClock(clock), pipeline.WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return crawler.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// The ticker and the backoff timer.
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(200 * time.Millisecond)
	require.Eventually(t, func() bool { return crawler.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
