package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
	"github.com/couchcryptid/radar-mosaic-etl/internal/staging"
)

// preparedGroup is a time-group after decode and merge. ds is nil when the
// group cannot be committed.
type preparedGroup struct {
	outcome domain.GroupOutcome
	ds      *domain.Dataset
	reason  string
}

func newOutcome(grp staging.Group) domain.GroupOutcome {
	files := make([]string, len(grp.Files))
	for i, f := range grp.Files {
		files[i] = filepath.Base(f)
	}
	return domain.GroupOutcome{
		Key:       grp.Key(),
		Product:   grp.Product,
		ValidTime: grp.ValidTime,
		Files:     files,
	}
}

func (g *preparedGroup) fail(status string, err error) {
	g.ds = nil
	g.outcome.Status = status
	g.outcome.Error = err.Error()
	switch status {
	case domain.StatusIncomplete:
		g.reason = "incomplete"
	case domain.StatusConflict:
		g.reason = "conflict"
	default:
		if g.reason == "" {
			g.reason = "store"
		}
	}
}

// prepare decodes every file of the group and merges the tiles. Format
// errors drop the file; any other decode or merge error fails the group.
func (p *Pipeline) prepare(grp staging.Group) preparedGroup {
	g := preparedGroup{outcome: newOutcome(grp)}

	var tiles []*domain.Tile
	for _, path := range grp.Files {
		f := p.decoder.Resolve(path)
		tile, err := p.decoder.DecodeAs(f, path)
		if err == nil {
			tiles = append(tiles, tile)
			continue
		}
		p.metrics.DecodeFailures.WithLabelValues(f.String()).Inc()
		if !domain.IsGroupFatal(err) {
			p.logger.Warn("decode failed, dropping file", "group", grp.Key(), "file", path, "format", f.String(), "error", err)
			g.outcome.Dropped = append(g.outcome.Dropped, filepath.Base(path))
			continue
		}
		p.logger.Error("decode failed, dropping group", "group", grp.Key(), "file", path, "format", f.String(), "error", err)
		g.reason = "decode"
		g.fail(domain.StatusFailed, err)
		return g
	}
	if len(tiles) == 0 {
		g.reason = "decode"
		g.fail(domain.StatusFailed, fmt.Errorf("no decodable files in group %s", grp.Key()))
		return g
	}

	ds, err := domain.Merge(tiles)
	if err != nil {
		p.logger.Error("merge failed, dropping group", "group", grp.Key(), "error", err)
		g.reason = "merge"
		g.fail(domain.StatusFailed, err)
		return g
	}
	for i, s := range ds.Sources {
		ds.Sources[i] = filepath.Base(s)
	}
	g.ds = &ds
	g.outcome.Key = ds.Key()
	g.outcome.Product = ds.Name
	g.outcome.Format = ds.Format.String()
	return g
}

// commit writes a prepared group to the store and returns the notification
// for it.
func (p *Pipeline) commit(ctx context.Context, runID string, g *preparedGroup) (domain.CommitEvent, bool) {
	if g.ds == nil {
		p.metrics.GroupsFailed.WithLabelValues(g.reason).Inc()
		return domain.CommitEvent{}, false
	}
	ds := *g.ds

	start := time.Now()
	res, err := p.committer.Commit(ctx, ds)
	if err != nil {
		var conflict *domain.StoreConflictError
		if errors.As(err, &conflict) {
			p.logger.Error("group already committed", "group", ds.Key(), "error", err)
			g.fail(domain.StatusConflict, err)
		} else {
			p.logger.Error("commit failed", "group", ds.Key(), "error", err)
			g.fail(domain.StatusFailed, err)
		}
		p.metrics.GroupsFailed.WithLabelValues(g.reason).Inc()
		return domain.CommitEvent{}, false
	}
	p.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	p.metrics.GroupsCommitted.WithLabelValues(ds.Name).Inc()

	summary, err := domain.Summarize(ds.Volume)
	if err != nil {
		p.logger.Warn("summarize volume failed", "group", ds.Key(), "error", err)
	}
	g.outcome.Status = domain.StatusCommitted
	g.outcome.Created = res.Created
	g.outcome.Summary = &summary
	p.logger.Info("group committed",
		"group", res.Key,
		"created", res.Created,
		"time_index", res.TimeIndex,
		"levels", len(ds.Heights),
		"max_dbz", summary.Max,
	)
	return domain.NewCommitEvent(runID, ds, res.Created, summary), true
}
