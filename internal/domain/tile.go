package domain

import (
	"fmt"
	"time"
)

// Grid holds 2-D latitude and longitude arrays in meshgrid form, row-major
// with shape (Rows, Cols).
type Grid struct {
	Rows int
	Cols int
	Lat  []float64
	Lon  []float64
}

// NewGrid expands 1-D latitude (rows) and longitude (columns) vectors into
// meshgrid arrays.
func NewGrid(lat, lon []float64) Grid {
	g := Grid{
		Rows: len(lat),
		Cols: len(lon),
		Lat:  make([]float64, len(lat)*len(lon)),
		Lon:  make([]float64, len(lat)*len(lon)),
	}
	for i, la := range lat {
		row := i * len(lon)
		for j, lo := range lon {
			g.Lat[row+j] = la
			g.Lon[row+j] = lo
		}
	}
	return g
}

// At returns the coordinate at grid index (i, j).
func (g Grid) At(i, j int) (lat, lon float64) {
	k := i*g.Cols + j
	return g.Lat[k], g.Lon[k]
}

// Equal reports whether two grids have the same shape and coordinates.
func (g Grid) Equal(o Grid) bool {
	if g.Rows != o.Rows || g.Cols != o.Cols || len(g.Lat) != len(o.Lat) {
		return false
	}
	for k := range g.Lat {
		if g.Lat[k] != o.Lat[k] || g.Lon[k] != o.Lon[k] {
			return false
		}
	}
	return true
}

// Tile is one decoded archive file.
type Tile struct {
	// Name is the physical variable the volume holds.
	Name string
	// Source is the staged file the tile was decoded from.
	Source string
	Grid   Grid
	// Heights in kilometers, one per volume layer.
	Heights []float64
	// Volume is dBZ, shape (len(Heights), Grid.Rows, Grid.Cols), NaN where
	// masked or missing.
	Volume    []float32
	ValidTime time.Time
	Duration  time.Duration
	format    Format
}

// NewTile stamps a tile with the decoder that produced it. The format cannot
// be changed afterwards.
func NewTile(f Format) *Tile {
	return &Tile{format: f, Duration: f.Duration()}
}

// Format returns the tag of the decoder that produced the tile.
func (t *Tile) Format() Format { return t.format }

// Levels is the number of 3-D layers.
func (t *Tile) Levels() int { return len(t.Heights) }

// Validate checks the shape invariants between heights, grid and volume.
func (t *Tile) Validate() error {
	if t.Grid.Rows <= 0 || t.Grid.Cols <= 0 {
		return &SchemaError{File: t.Source, Key: "grid", Detail: "empty grid"}
	}
	cells := t.Grid.Rows * t.Grid.Cols
	if len(t.Grid.Lat) != cells || len(t.Grid.Lon) != cells {
		return &SchemaError{File: t.Source, Key: "grid",
			Detail: fmt.Sprintf("coordinate length %d/%d, want %d", len(t.Grid.Lat), len(t.Grid.Lon), cells)}
	}
	if len(t.Heights) == 0 {
		return &SchemaError{File: t.Source, Key: "heights", Detail: "no levels"}
	}
	if len(t.Volume) != len(t.Heights)*cells {
		return &SchemaError{File: t.Source, Key: "volume",
			Detail: fmt.Sprintf("volume length %d, want %d x %d x %d", len(t.Volume), len(t.Heights), t.Grid.Rows, t.Grid.Cols)}
	}
	if t.ValidTime.IsZero() {
		return &SchemaError{File: t.Source, Key: "validTime", Detail: "missing valid time"}
	}
	return nil
}

// Layer returns the slice of the volume for height index k.
func (t *Tile) Layer(k int) []float32 {
	n := t.Grid.Rows * t.Grid.Cols
	return t.Volume[k*n : (k+1)*n]
}
