package store

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

// GroupSnapshot is the metadata and coordinates of one stored group.
type GroupSnapshot struct {
	Name       string
	Variable   string
	Format     domain.Format
	Attrs      map[string]any
	ValidTimes []time.Time
	Durations  []time.Duration
	Heights    []float64
	Grid       domain.Grid
	// Shape of the data variable: (time, height, y, x).
	Shape []int
}

// ReadGroup loads a group's coordinates and layout.
func (s *Store) ReadGroup(name string) (*GroupSnapshot, error) {
	groupDir := filepath.Join(s.root, name)
	vars, err := dataVars(groupDir)
	if err != nil {
		return nil, err
	}
	if len(vars) != 1 {
		return nil, &domain.VariableCountError{File: groupDir, Variables: vars}
	}
	snap := &GroupSnapshot{Name: name, Variable: vars[0], Attrs: map[string]any{}}
	if err := readJSON(filepath.Join(groupDir, attrsMeta), &snap.Attrs); err != nil {
		return nil, err
	}
	if f, ok := snap.Attrs["source_format"].(string); ok {
		snap.Format = domain.ParseFormat(f)
	}

	if snap.ValidTimes, err = readTimes(groupDir); err != nil {
		return nil, err
	}
	secs, err := readInt64Series(filepath.Join(groupDir, DurationVar), len(snap.ValidTimes))
	if err != nil {
		return nil, err
	}
	for _, v := range secs {
		snap.Durations = append(snap.Durations, time.Duration(v)*time.Second)
	}
	if snap.Heights, err = readFloat64Array(filepath.Join(groupDir, HeightVar), "0"); err != nil {
		return nil, err
	}
	if snap.Grid, err = readGrid(groupDir); err != nil {
		return nil, err
	}
	meta, err := readArrayMeta(filepath.Join(groupDir, snap.Variable))
	if err != nil {
		return nil, err
	}
	snap.Shape = meta.Shape
	return snap, nil
}

// ReadVolume returns the (height, y, x) volume at time index t.
func (s *Store) ReadVolume(name string, t int) ([]float32, error) {
	snap, err := s.ReadGroup(name)
	if err != nil {
		return nil, err
	}
	if t < 0 || t >= snap.Shape[0] {
		return nil, fmt.Errorf("time index %d out of range [0, %d)", t, snap.Shape[0])
	}
	dir := filepath.Join(s.root, name, snap.Variable)
	out := make([]float32, 0, snap.Shape[1]*snap.Shape[2]*snap.Shape[3])
	for k := 0; k < snap.Shape[1]; k++ {
		raw, err := readChunk(dir, chunkKey(t, k, 0, 0))
		if err != nil {
			return nil, err
		}
		out = append(out, decodeFloat32(raw)...)
	}
	return out, nil
}

// readTimes reads the time axis. Its .zarray shape is the authoritative
// length of the group.
func readTimes(groupDir string) ([]time.Time, error) {
	dir := filepath.Join(groupDir, TimeVar)
	meta, err := readArrayMeta(dir)
	if err != nil {
		return nil, err
	}
	secs, err := readInt64Series(dir, meta.Shape[0])
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(secs))
	for i, v := range secs {
		out[i] = time.Unix(v, 0).UTC()
	}
	return out, nil
}

// readInt64Series reads n single-element chunks of a 1-D int64 array.
func readInt64Series(dir string, n int) ([]int64, error) {
	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		raw, err := readChunk(dir, chunkKey(i))
		if err != nil {
			return nil, fmt.Errorf("read %s[%d]: %w", filepath.Base(dir), i, err)
		}
		v := decodeInt64(raw)
		if len(v) != 1 {
			return nil, fmt.Errorf("read %s[%d]: chunk holds %d values", filepath.Base(dir), i, len(v))
		}
		out = append(out, v[0])
	}
	return out, nil
}

func readFloat64Array(dir, key string) ([]float64, error) {
	raw, err := readChunk(dir, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(dir), err)
	}
	return decodeFloat64(raw), nil
}

func readGrid(groupDir string) (domain.Grid, error) {
	meta, err := readArrayMeta(filepath.Join(groupDir, LatVar))
	if err != nil {
		return domain.Grid{}, err
	}
	if len(meta.Shape) != 2 {
		return domain.Grid{}, &domain.SchemaError{File: groupDir, Key: LatVar, Detail: fmt.Sprintf("shape %v", meta.Shape)}
	}
	lat, err := readFloat64Array(filepath.Join(groupDir, LatVar), "0.0")
	if err != nil {
		return domain.Grid{}, err
	}
	lon, err := readFloat64Array(filepath.Join(groupDir, LonVar), "0.0")
	if err != nil {
		return domain.Grid{}, err
	}
	return domain.Grid{Rows: meta.Shape[0], Cols: meta.Shape[1], Lat: lat, Lon: lon}, nil
}
