// Package parquet writes per-run ingestion manifests as Parquet files, one row
// per processed time-group.
package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

// ManifestRow is one group outcome in Parquet form.
type ManifestRow struct {
	RunID       string  `parquet:"run_id,zstd"`
	Key         string  `parquet:"key,zstd"`
	Product     string  `parquet:"product,zstd"`
	Format      string  `parquet:"format,optional,zstd"`
	ValidTimeMs int64   `parquet:"valid_time_ms"`
	Files       string  `parquet:"files,zstd"`
	Dropped     string  `parquet:"dropped,optional,zstd"`
	Status      string  `parquet:"status,zstd"`
	Error       string  `parquet:"error,optional,zstd"`
	Created     bool    `parquet:"created_group"`
	Cells       int64   `parquet:"cells"`
	Missing     int64   `parquet:"missing"`
	MaxDBZ      float64 `parquet:"max_dbz"`
	P50DBZ      float64 `parquet:"p50_dbz"`
	P90DBZ      float64 `parquet:"p90_dbz"`
	P99DBZ      float64 `parquet:"p99_dbz"`
}

// OutcomeToRow flattens a group outcome. File lists are joined with ';'.
func OutcomeToRow(runID string, g domain.GroupOutcome) ManifestRow {
	row := ManifestRow{
		RunID:       runID,
		Key:         g.Key,
		Product:     g.Product,
		Format:      g.Format,
		ValidTimeMs: g.ValidTime.UnixMilli(),
		Files:       strings.Join(g.Files, ";"),
		Dropped:     strings.Join(g.Dropped, ";"),
		Status:      g.Status,
		Error:       g.Error,
		Created:     g.Created,
	}
	if g.Summary != nil {
		row.Cells = int64(g.Summary.Cells)
		row.Missing = int64(g.Summary.Missing)
		row.MaxDBZ = g.Summary.Max
		row.P50DBZ = g.Summary.P50
		row.P90DBZ = g.Summary.P90
		row.P99DBZ = g.Summary.P99
	}
	return row
}

// Writer emits one manifest file per run into a directory.
// It implements pipeline.Manifest.
type Writer struct {
	dir string
}

// NewWriter creates the manifest directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Path returns the manifest location for a run.
func (w *Writer) Path(runID string) string {
	return filepath.Join(w.dir, "manifest-"+runID+".parquet")
}

// Write stores the report's group outcomes. Runs with no groups write nothing.
func (w *Writer) Write(report domain.Report) error {
	if len(report.Groups) == 0 {
		return nil
	}
	rows := make([]ManifestRow, len(report.Groups))
	for i, g := range report.Groups {
		rows[i] = OutcomeToRow(report.RunID, g)
	}

	path := w.Path(report.RunID)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	writer := parquet.NewGenericWriter[ManifestRow](f, parquet.Compression(&parquet.Zstd))
	if _, err := writer.Write(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write manifest rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush manifest: %w", err)
	}
	return f.Close()
}

// ReadManifest loads every row of a manifest file.
func ReadManifest(path string) ([]ManifestRow, error) {
	rows, err := parquet.ReadFile[ManifestRow](path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return rows, nil
}
