// Package store persists merged datasets in a Zarr v2 directory store with
// one group per product. A group's time axis is created on first write and
// only appended to afterwards; its coordinates never change.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

// Array names inside a group.
const (
	TimeVar     = "validTime"
	DurationVar = "duration"
	HeightVar   = "heightAboveSea"
	LatVar      = "latitude"
	LonVar      = "longitude"
)

var coordinateVars = []string{TimeVar, DurationVar, HeightVar, LatVar, LonVar}

// Store is a Zarr directory store guarded by a commit ledger.
type Store struct {
	root   string
	ledger *Ledger
	locks  *keyedMutex
}

// CommitResult describes a successful commit.
type CommitResult struct {
	Key     string
	Group   string
	Created bool
	// TimeIndex is the position of the new entry on the group's time axis.
	TimeIndex int
}

// Open prepares the store root and checks the ledger connection.
func Open(ctx context.Context, path string, ledger *Ledger) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	ok, err := exists(filepath.Join(path, groupMeta))
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := writeJSON(filepath.Join(path, groupMeta), map[string]int{"zarr_format": 2}); err != nil {
			return nil, fmt.Errorf("write root group: %w", err)
		}
	}
	if err := ledger.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	return &Store{root: path, ledger: ledger, locks: newKeyedMutex()}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Ledger returns the commit ledger.
func (s *Store) Ledger() *Ledger { return s.ledger }

// Commit writes ds as a new group or appends it along the group's time axis.
// The existence check, the write and the ledger insert run as one unit per
// group; a key committed before yields *domain.StoreConflictError and leaves
// the store untouched.
func (s *Store) Commit(ctx context.Context, ds domain.Dataset) (CommitResult, error) {
	if ds.Name == "" {
		return CommitResult{}, &domain.SchemaError{Key: "name", Detail: "dataset has no variable name"}
	}
	cells := ds.Grid.Rows * ds.Grid.Cols
	if len(ds.Heights) == 0 || len(ds.Volume) != len(ds.Heights)*cells {
		return CommitResult{}, &domain.SchemaError{Key: ds.Name,
			Detail: fmt.Sprintf("volume length %d for %d levels of %dx%d", len(ds.Volume), len(ds.Heights), ds.Grid.Rows, ds.Grid.Cols)}
	}

	unlock := s.locks.Lock(ds.Name)
	defer unlock()

	claim, err := s.ledger.Claim(ctx, ds)
	if err != nil {
		return CommitResult{}, err
	}

	groupDir := filepath.Join(s.root, ds.Name)
	present, err := exists(filepath.Join(groupDir, groupMeta))
	res := CommitResult{Key: ds.Key(), Group: ds.Name, Created: !present}
	var revert func() error
	if err == nil {
		if present {
			res.TimeIndex, revert, err = s.append(groupDir, ds)
		} else {
			revert, err = s.create(groupDir, ds)
		}
	}
	if err != nil {
		claim.Rollback()
		return CommitResult{}, err
	}
	if err := claim.Commit(); err != nil {
		if rerr := revert(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("revert %s: %w", ds.Name, rerr))
		}
		return CommitResult{}, fmt.Errorf("commit ledger: %w", err)
	}
	return res, nil
}

// create builds the whole group in a hidden directory and renames it into
// place.
func (s *Store) create(groupDir string, ds domain.Dataset) (func() error, error) {
	tmp := filepath.Join(s.root, "."+ds.Name+".tmp-"+uuid.NewString())
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, err
	}
	cleanup := func() { os.RemoveAll(tmp) }

	z, y, x := len(ds.Heights), ds.Grid.Rows, ds.Grid.Cols
	if err := writeJSON(filepath.Join(tmp, groupMeta), map[string]int{"zarr_format": 2}); err != nil {
		cleanup()
		return nil, err
	}
	attrs := map[string]any{
		"product":       ds.Name,
		"source_format": ds.Format.String(),
	}
	if err := writeJSON(filepath.Join(tmp, attrsMeta), attrs); err != nil {
		cleanup()
		return nil, err
	}

	dataChunks := make(map[string][]byte, z)
	for k := 0; k < z; k++ {
		dataChunks[chunkKey(0, k, 0, 0)] = encodeFloat32(ds.Volume[k*y*x : (k+1)*y*x])
	}
	arrays := []struct {
		name   string
		meta   ArrayMeta
		attrs  map[string]any
		chunks map[string][]byte
	}{
		{TimeVar, newArrayMeta("<i8", []int{1}, []int{1}, nil),
			map[string]any{dimensionsAttr: []string{TimeVar}, "units": "seconds since 1970-01-01 00:00:00", "calendar": "proleptic_gregorian"},
			map[string][]byte{"0": encodeInt64(ds.ValidTime.Unix())}},
		{DurationVar, newArrayMeta("<i8", []int{1}, []int{1}, nil),
			map[string]any{dimensionsAttr: []string{TimeVar}, "units": "seconds"},
			map[string][]byte{"0": encodeInt64(int64(ds.Duration / time.Second))}},
		{HeightVar, newArrayMeta("<f8", []int{z}, []int{z}, "NaN"),
			map[string]any{dimensionsAttr: []string{HeightVar}, "units": "km", "positive": "up"},
			map[string][]byte{"0": encodeFloat64(ds.Heights)}},
		{LatVar, newArrayMeta("<f8", []int{y, x}, []int{y, x}, "NaN"),
			map[string]any{dimensionsAttr: []string{"y", "x"}, "units": "degrees_north"},
			map[string][]byte{"0.0": encodeFloat64(ds.Grid.Lat)}},
		{LonVar, newArrayMeta("<f8", []int{y, x}, []int{y, x}, "NaN"),
			map[string]any{dimensionsAttr: []string{"y", "x"}, "units": "degrees_east"},
			map[string][]byte{"0.0": encodeFloat64(ds.Grid.Lon)}},
		{ds.Name, newArrayMeta("<f4", []int{1, z, y, x}, []int{1, 1, y, x}, "NaN"),
			map[string]any{dimensionsAttr: []string{TimeVar, HeightVar, "y", "x"}, "units": "dBZ", "coordinates": "latitude longitude"},
			dataChunks},
	}
	for _, a := range arrays {
		if err := writeArray(filepath.Join(tmp, a.name), a.meta, a.attrs, a.chunks); err != nil {
			cleanup()
			return nil, fmt.Errorf("write %s: %w", a.name, err)
		}
	}
	if err := os.Rename(tmp, groupDir); err != nil {
		cleanup()
		return nil, fmt.Errorf("publish group %s: %w", ds.Name, err)
	}
	return func() error { return os.RemoveAll(groupDir) }, nil
}

// append writes the new time step's chunks, then grows the time axis by
// rewriting the array metadata. validTime is rewritten last and is the
// authoritative length.
func (s *Store) append(groupDir string, ds domain.Dataset) (int, func() error, error) {
	vars, err := dataVars(groupDir)
	if err != nil {
		return 0, nil, err
	}
	if len(vars) > 1 {
		return 0, nil, &domain.VariableCountError{File: groupDir, Variables: vars}
	}
	if len(vars) == 0 || vars[0] != ds.Name {
		return 0, nil, &domain.SchemaError{File: groupDir, Key: ds.Name, Detail: fmt.Sprintf("group holds %v", vars)}
	}

	times, err := readTimes(groupDir)
	if err != nil {
		return 0, nil, err
	}
	if slices.ContainsFunc(times, ds.ValidTime.Equal) {
		return 0, nil, &domain.StoreConflictError{Key: ds.Key()}
	}
	heights, err := readFloat64Array(filepath.Join(groupDir, HeightVar), "0")
	if err != nil {
		return 0, nil, err
	}
	if !slices.Equal(heights, ds.Heights) {
		return 0, nil, &domain.SchemaError{File: groupDir, Key: HeightVar,
			Detail: fmt.Sprintf("stored levels %v, incoming %v", heights, ds.Heights)}
	}
	grid, err := readGrid(groupDir)
	if err != nil {
		return 0, nil, err
	}
	if !grid.Equal(ds.Grid) {
		return 0, nil, &domain.SchemaError{File: groupDir, Key: "grid", Detail: "incoming grid differs from stored coordinates"}
	}

	t := len(times)
	y, x := ds.Grid.Rows, ds.Grid.Cols
	var written []string
	removeWritten := func() {
		for _, p := range written {
			os.Remove(p)
		}
	}
	write := func(array, key string, raw []byte) error {
		dir := filepath.Join(groupDir, array)
		if err := writeChunk(dir, key, raw); err != nil {
			return err
		}
		written = append(written, filepath.Join(dir, key))
		return nil
	}
	for k := range ds.Heights {
		if err := write(ds.Name, chunkKey(t, k, 0, 0), encodeFloat32(ds.Volume[k*y*x:(k+1)*y*x])); err != nil {
			removeWritten()
			return 0, nil, err
		}
	}
	if err := write(DurationVar, chunkKey(t), encodeInt64(int64(ds.Duration/time.Second))); err != nil {
		removeWritten()
		return 0, nil, err
	}
	if err := write(TimeVar, chunkKey(t), encodeInt64(ds.ValidTime.Unix())); err != nil {
		removeWritten()
		return 0, nil, err
	}

	resize := func(n int) error {
		for _, array := range []string{ds.Name, DurationVar, TimeVar} {
			dir := filepath.Join(groupDir, array)
			meta, err := readArrayMeta(dir)
			if err != nil {
				return err
			}
			meta.Shape[0] = n
			if err := writeJSON(filepath.Join(dir, arrayMeta), meta); err != nil {
				return err
			}
		}
		return nil
	}
	if err := resize(t + 1); err != nil {
		if rerr := resize(t); rerr != nil {
			err = errors.Join(err, rerr)
		}
		removeWritten()
		return 0, nil, fmt.Errorf("grow time axis of %s: %w", ds.Name, err)
	}
	revert := func() error {
		err := resize(t)
		removeWritten()
		return err
	}
	return t, revert, nil
}

// Groups lists the product groups in the store.
func (s *Store) Groups() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ok, err := exists(filepath.Join(s.root, e.Name(), groupMeta))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// dataVars lists the non-coordinate arrays of a group.
func dataVars(groupDir string) ([]string, error) {
	entries, err := os.ReadDir(groupDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || slices.Contains(coordinateVars, e.Name()) {
			continue
		}
		ok, err := exists(filepath.Join(groupDir, e.Name(), arrayMeta))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
