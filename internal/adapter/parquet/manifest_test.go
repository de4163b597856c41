package parquet

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

func TestWriter_WriteAndRead(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	vt := time.Date(2013, time.July, 30, 0, 0, 0, 0, time.UTC)
	report := domain.Report{
		RunID: "abc",
		Groups: []domain.GroupOutcome{
			{
				Key:       "MREFL/20130730-000000/aa",
				Product:   "MREFL",
				Format:    "ArrayV2",
				ValidTime: vt,
				Files:     []string{"a.netcdf", "b.netcdf"},
				Status:    domain.StatusCommitted,
				Created:   true,
				Summary:   &domain.Summary{Cells: 4, Missing: 1, Max: 50, P50: 20},
			},
			{
				Product:   "MREFL",
				ValidTime: vt.Add(2 * time.Minute),
				Files:     []string{"c.netcdf"},
				Status:    domain.StatusIncomplete,
				Error:     "request https://example/c.netcdf: status 404",
			},
		},
	}
	require.NoError(t, w.Write(report))

	rows, err := ReadManifest(w.Path("abc"))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "abc", rows[0].RunID)
	assert.Equal(t, "a.netcdf;b.netcdf", rows[0].Files)
	assert.Equal(t, vt.UnixMilli(), rows[0].ValidTimeMs)
	assert.True(t, rows[0].Created)
	assert.Equal(t, int64(4), rows[0].Cells)
	assert.InDelta(t, 50.0, rows[0].MaxDBZ, 1e-9)

	assert.Equal(t, domain.StatusIncomplete, rows[1].Status)
	assert.Contains(t, rows[1].Error, "404")
	assert.Zero(t, rows[1].Cells)
}

func TestWriter_EmptyReportWritesNothing(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, w.Write(domain.Report{RunID: "empty"}))
	_, err = os.Stat(w.Path("empty"))
	assert.True(t, os.IsNotExist(err))
}
