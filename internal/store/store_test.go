package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

var t0 = time.Date(2022, time.June, 1, 12, 0, 39, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	root := filepath.Join(t.TempDir(), "mrms.zarr")
	ledger, err := OpenLedger(context.Background(), DriverSQLite, filepath.Join(root, ".commits.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	s, err := Open(context.Background(), root, ledger)
	require.NoError(t, err)
	return s
}

func dataset(name string, vt time.Time, heights []float64) domain.Dataset {
	grid := domain.NewGrid([]float64{55, 54.99}, []float64{-130, -129.99, -129.98})
	vol := make([]float32, len(heights)*grid.Rows*grid.Cols)
	for i := range vol {
		vol[i] = float32(i)
	}
	vol[1] = float32(math.NaN())
	return domain.Dataset{
		Name:      name,
		Format:    domain.FormatArrayV2,
		Duration:  domain.V2Duration,
		ValidTime: vt,
		Grid:      grid,
		Heights:   heights,
		Volume:    vol,
	}
}

// treeDigest hashes every file under dir keyed by relative path.
func treeDigest(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		sum := sha256.Sum256(data)
		out[rel] = hex.EncodeToString(sum[:])
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestCommit_CreatesGroup(t *testing.T) {
	s := openStore(t)
	ds := dataset("MREFL", t0, []float64{0.5, 0.75})

	res, err := s.Commit(context.Background(), ds)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 0, res.TimeIndex)
	assert.Equal(t, ds.Key(), res.Key)

	snap, err := s.ReadGroup("MREFL")
	require.NoError(t, err)
	assert.Equal(t, "MREFL", snap.Variable)
	assert.Equal(t, domain.FormatArrayV2, snap.Format)
	assert.Equal(t, []time.Time{t0}, snap.ValidTimes)
	assert.Equal(t, []time.Duration{120 * time.Second}, snap.Durations)
	assert.Equal(t, []float64{0.5, 0.75}, snap.Heights)
	assert.True(t, snap.Grid.Equal(ds.Grid))
	assert.Equal(t, []int{1, 2, 2, 3}, snap.Shape)

	vol, err := s.ReadVolume("MREFL", 0)
	require.NoError(t, err)
	require.Len(t, vol, 12)
	assert.True(t, math.IsNaN(float64(vol[1])))
	assert.Equal(t, float32(11), vol[11])

	for _, f := range []string{".zgroup", "MREFL/.zgroup", "MREFL/.zattrs", "MREFL/MREFL/.zarray", "MREFL/MREFL/0.1.0.0", "MREFL/latitude/0.0"} {
		_, err := os.Stat(filepath.Join(s.Root(), f))
		assert.NoError(t, err, f)
	}
}

func TestCommit_AppendsAlongTime(t *testing.T) {
	s := openStore(t)
	heights := []float64{0.5, 0.75}

	_, err := s.Commit(context.Background(), dataset("MREFL", t0, heights))
	require.NoError(t, err)
	res, err := s.Commit(context.Background(), dataset("MREFL", t0.Add(2*time.Minute), heights))
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, 1, res.TimeIndex)
	snap, err := s.ReadGroup("MREFL")
	require.NoError(t, err)
	if diff := cmp.Diff([]time.Time{t0, t0.Add(2 * time.Minute)}, snap.ValidTimes); diff != "" {
		t.Errorf("valid times mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{2, 2, 2, 3}, snap.Shape)
	assert.Len(t, snap.Durations, 2)

	entries, err := s.Ledger().Entries(context.Background(), "MREFL")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCommit_SecondCommitConflictsAndLeavesGroupUnchanged(t *testing.T) {
	s := openStore(t)
	ds := dataset("MREFL", t0, []float64{0.5})

	_, err := s.Commit(context.Background(), ds)
	require.NoError(t, err)
	before := treeDigest(t, filepath.Join(s.Root(), "MREFL"))

	_, err = s.Commit(context.Background(), ds)

	var conflict *domain.StoreConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ds.Key(), conflict.Key)
	assert.Equal(t, before, treeDigest(t, filepath.Join(s.Root(), "MREFL")))
}

func TestCommit_ExistingTimeWithDifferentLevelsConflicts(t *testing.T) {
	s := openStore(t)
	_, err := s.Commit(context.Background(), dataset("MREFL", t0, []float64{0.5}))
	require.NoError(t, err)

	// A different level set yields a new ledger key, but the time step exists.
	_, err = s.Commit(context.Background(), dataset("MREFL", t0, []float64{0.75}))

	var conflict *domain.StoreConflictError
	require.ErrorAs(t, err, &conflict)
	entries, err := s.Ledger().Entries(context.Background(), "MREFL")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "rolled back claim is not recorded")
}

func TestCommit_LevelMismatchIsSchemaError(t *testing.T) {
	s := openStore(t)
	_, err := s.Commit(context.Background(), dataset("MREFL", t0, []float64{0.5, 0.75}))
	require.NoError(t, err)
	before := treeDigest(t, filepath.Join(s.Root(), "MREFL"))

	_, err = s.Commit(context.Background(), dataset("MREFL", t0.Add(2*time.Minute), []float64{0.5}))

	var se *domain.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, HeightVar, se.Key)
	assert.Equal(t, before, treeDigest(t, filepath.Join(s.Root(), "MREFL")))
}

func TestCommit_GridMismatchIsSchemaError(t *testing.T) {
	s := openStore(t)
	_, err := s.Commit(context.Background(), dataset("MREFL", t0, []float64{0.5}))
	require.NoError(t, err)

	moved := dataset("MREFL", t0.Add(2*time.Minute), []float64{0.5})
	moved.Grid = domain.NewGrid([]float64{50, 49.99}, []float64{-100, -99.99, -99.98})
	_, err = s.Commit(context.Background(), moved)

	var se *domain.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "grid", se.Key)
}

func TestCommit_SecondDataVariableIsRejected(t *testing.T) {
	s := openStore(t)
	_, err := s.Commit(context.Background(), dataset("MREFL", t0, []float64{0.5}))
	require.NoError(t, err)
	extra := filepath.Join(s.Root(), "MREFL", "precip")
	require.NoError(t, writeArray(extra, newArrayMeta("<f4", []int{1}, []int{1}, "NaN"), map[string]any{}, nil))

	_, err = s.Commit(context.Background(), dataset("MREFL", t0.Add(2*time.Minute), []float64{0.5}))

	var vce *domain.VariableCountError
	require.ErrorAs(t, err, &vce)
	assert.ElementsMatch(t, []string{"MREFL", "precip"}, vce.Variables)
}

func TestCommit_ConcurrentAppendsSerialize(t *testing.T) {
	s := openStore(t)
	heights := []float64{0.5}
	_, err := s.Commit(context.Background(), dataset("MREFL", t0, heights))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Commit(context.Background(), dataset("MREFL", t0.Add(time.Duration(i+1)*2*time.Minute), heights))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	snap, err := s.ReadGroup("MREFL")
	require.NoError(t, err)
	assert.Len(t, snap.ValidTimes, 7)
	assert.Equal(t, 7, snap.Shape[0])
	seen := map[time.Time]bool{}
	for _, vt := range snap.ValidTimes {
		assert.False(t, seen[vt], "duplicate %s", vt)
		seen[vt] = true
	}
}

func TestCommit_ConcurrentDuplicateCommitsOnce(t *testing.T) {
	s := openStore(t)
	ds := dataset("MREFL", t0, []float64{0.5})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Commit(context.Background(), ds)
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		var conflict *domain.StoreConflictError
		switch {
		case err == nil:
			ok++
		case assert.ErrorAs(t, err, &conflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, conflicts)
}

func TestGroups(t *testing.T) {
	s := openStore(t)
	_, err := s.Commit(context.Background(), dataset("MREFL", t0, []float64{0.5}))
	require.NoError(t, err)
	_, err = s.Commit(context.Background(), dataset("mrefl_mosaic", t0, []float64{0.5}))
	require.NoError(t, err)

	groups, err := s.Groups()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"MREFL", "mrefl_mosaic"}, groups)
}

func TestLedger_Rebind(t *testing.T) {
	l := &Ledger{driver: DriverPostgres}
	assert.Equal(t, "SELECT $1, $2", l.rebind("SELECT ?, ?"))
	l.driver = DriverSQLite
	assert.Equal(t, "SELECT ?", l.rebind("SELECT ?"))
}
