package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
	"github.com/couchcryptid/radar-mosaic-etl/internal/staging"
)

// RunOnce crawls the window around target, stages the files and commits each
// complete time-group. Per-file and per-group failures are recorded in the
// report; the error is non-nil only when the top-level listing fails, staging
// cannot be set up or the context is cancelled.
func (p *Pipeline) RunOnce(ctx context.Context, target time.Time) (domain.Report, error) {
	report := p.newReport(target)
	run, err := staging.NewRunDir(p.stagingDir)
	if err != nil {
		return report, err
	}
	defer p.closeRunDir(run)

	w := domain.Window{Target: target, Delta: p.window}
	var entries []domain.ArchiveEntry
	for entry, err := range p.crawler.Crawl(ctx, w) {
		if err != nil {
			if entry.URL == "" {
				return report, fmt.Errorf("crawl: %w", err)
			}
			report.ListingErrors = append(report.ListingErrors, err.Error())
			continue
		}
		entries = append(entries, entry)
	}
	report.FilesDiscovered = len(entries)
	p.metrics.FilesDiscovered.Add(float64(len(entries)))
	p.logger.Info("crawl complete", "run_id", report.RunID, "target", target, "files", len(entries))

	results := p.fetcher.Fetch(ctx, slices.Values(entries), run.Path)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	incomplete := map[time.Time][]string{}
	var paths []string
	for _, r := range results {
		if r.Err != nil {
			report.FetchFailures++
			if !r.Entry.ValidTime.IsZero() {
				vt := r.Entry.ValidTime.UTC()
				incomplete[vt] = append(incomplete[vt], r.Err.Error())
			}
			continue
		}
		paths = append(paths, r.Paths...)
	}
	report.FilesStaged = len(paths)

	if err := p.ingest(ctx, &report, paths, incomplete); err != nil {
		return report, err
	}
	return report, nil
}

// RunLocal ingests local archives (files, zips or directories) through the
// same staging, grouping and commit steps as RunOnce.
func (p *Pipeline) RunLocal(ctx context.Context, inputs ...string) (domain.Report, error) {
	report := p.newReport(time.Time{})
	run, err := staging.NewRunDir(p.stagingDir)
	if err != nil {
		return report, err
	}
	defer p.closeRunDir(run)

	paths, err := staging.StageLocal(run.Path, p.filter, inputs...)
	if err != nil {
		return report, err
	}
	report.FilesDiscovered = len(paths)
	report.FilesStaged = len(paths)
	p.metrics.FilesDiscovered.Add(float64(len(paths)))
	p.metrics.FilesStaged.Add(float64(len(paths)))

	if err := p.ingest(ctx, &report, paths, nil); err != nil {
		return report, err
	}
	return report, nil
}

func (p *Pipeline) newReport(target time.Time) domain.Report {
	return domain.Report{RunID: uuid.NewString(), Target: target, StartedAt: domain.Now()}
}

func (p *Pipeline) closeRunDir(run *staging.RunDir) {
	if err := run.Close(); err != nil {
		p.logger.Warn("remove staging directory failed", "path", run.Path, "error", err)
	}
}

// ingest groups staged files by valid time, prepares groups in parallel and
// commits them one at a time in valid-time order.
func (p *Pipeline) ingest(ctx context.Context, report *domain.Report, paths []string, incomplete map[time.Time][]string) error {
	groups, skipped := staging.GroupByValidTime(paths)
	for _, s := range skipped {
		p.logger.Warn("no valid time in file name, skipping", "file", s)
		report.Skipped = append(report.Skipped, filepath.Base(s))
	}

	prepared := make([]preparedGroup, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, grp := range groups {
		if reasons, ok := incomplete[grp.ValidTime]; ok {
			prepared[i] = preparedGroup{outcome: newOutcome(grp)}
			prepared[i].fail(domain.StatusIncomplete, errors.New(reasons[0]))
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			prepared[i] = p.prepare(grp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var events []domain.CommitEvent
	for i := range prepared {
		if event, ok := p.commit(ctx, report.RunID, &prepared[i]); ok {
			events = append(events, event)
		}
		report.Groups = append(report.Groups, prepared[i].outcome)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	report.FinishedAt = domain.Now()

	p.publish(ctx, *report, events)
	p.recordRun(*report)
	return nil
}

func (p *Pipeline) publish(ctx context.Context, report domain.Report, events []domain.CommitEvent) {
	if p.notifier != nil && len(events) > 0 {
		if err := p.notifier.Notify(ctx, events); err != nil {
			p.logger.Error("publish commit events failed", "run_id", report.RunID, "error", err)
		}
	}
	if p.manifest != nil {
		if err := p.manifest.Write(report); err != nil {
			p.logger.Error("write manifest failed", "run_id", report.RunID, "error", err)
		}
	}
}

func (p *Pipeline) recordRun(report domain.Report) {
	committed := report.Committed()
	if committed > 0 {
		p.ready.Store(true)
		p.metrics.LastSuccessfulAt.SetToCurrentTime()
	}
	p.setLastReport(report)
	p.logger.Info("run complete",
		"run_id", report.RunID,
		"files_discovered", report.FilesDiscovered,
		"files_staged", report.FilesStaged,
		"groups", len(report.Groups),
		"committed", committed,
	)
}
