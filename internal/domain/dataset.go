package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Dataset is one time-group's tiles merged into a single volume, ready to be
// committed as one time step of a store group.
type Dataset struct {
	Name      string
	Format    Format
	Duration  time.Duration
	ValidTime time.Time
	Grid      Grid
	Heights   []float64
	Volume    []float32
	Sources   []string
}

// Key identifies the dataset in the commit ledger: product, valid time and a
// digest of the height levels.
func (d Dataset) Key() string {
	return fmt.Sprintf("%s/%s/%s", d.Name, d.ValidTime.UTC().Format(ValidTimeLayout), levelsDigest(d.Heights))
}

func levelsDigest(heights []float64) string {
	parts := make([]string, len(heights))
	for i, h := range heights {
		parts[i] = strconv.FormatFloat(h, 'f', -1, 64)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:6])
}

// Merge concatenates a group's tiles along the height axis. Tiles must share
// the variable, format, valid time and grid. Layers are ordered by height. A
// height repeated with bit-identical data collapses to its first occurrence;
// repeated with different data it is a SchemaError. Sources lists only the
// tiles that contribute a layer.
func Merge(tiles []*Tile) (Dataset, error) {
	if len(tiles) == 0 {
		return Dataset{}, &SchemaError{Key: "tiles", Detail: "empty group"}
	}
	first := tiles[0]

	var names []string
	for _, t := range tiles {
		if !slices.Contains(names, t.Name) {
			names = append(names, t.Name)
		}
	}
	if len(names) > 1 {
		return Dataset{}, &VariableCountError{File: first.Source, Variables: names}
	}

	type layer struct {
		height float64
		tile   *Tile
		index  int
	}
	var layers []layer
	for _, t := range tiles {
		if err := t.Validate(); err != nil {
			return Dataset{}, err
		}
		if t.Format() != first.Format() {
			return Dataset{}, &SchemaError{File: t.Source, Key: "format",
				Detail: fmt.Sprintf("%s mixed with %s", t.Format(), first.Format())}
		}
		if !t.ValidTime.Equal(first.ValidTime) {
			return Dataset{}, &SchemaError{File: t.Source, Key: "validTime",
				Detail: fmt.Sprintf("%s differs from %s", t.ValidTime, first.ValidTime)}
		}
		if !t.Grid.Equal(first.Grid) {
			return Dataset{}, &SchemaError{File: t.Source, Key: "grid", Detail: "grid differs within group"}
		}
		for k, h := range t.Heights {
			layers = append(layers, layer{height: h, tile: t, index: k})
		}
	}
	slices.SortStableFunc(layers, func(a, b layer) int {
		switch {
		case a.height < b.height:
			return -1
		case a.height > b.height:
			return 1
		}
		return 0
	})
	kept := layers[:0]
	for _, l := range layers {
		if n := len(kept); n > 0 && kept[n-1].height == l.height {
			prev := kept[n-1]
			if !sameBits(prev.tile.Layer(prev.index), l.tile.Layer(l.index)) {
				return Dataset{}, &SchemaError{File: l.tile.Source, Key: "height",
					Detail: fmt.Sprintf("level %g conflicts with %s", l.height, prev.tile.Source)}
			}
			continue
		}
		kept = append(kept, l)
	}
	layers = kept

	cells := first.Grid.Rows * first.Grid.Cols
	ds := Dataset{
		Name:      first.Name,
		Format:    first.Format(),
		Duration:  first.Duration,
		ValidTime: first.ValidTime.UTC(),
		Grid:      first.Grid,
		Heights:   make([]float64, len(layers)),
		Volume:    make([]float32, 0, len(layers)*cells),
	}
	for i, l := range layers {
		ds.Heights[i] = l.height
		ds.Volume = append(ds.Volume, l.tile.Layer(l.index)...)
	}
	for _, t := range tiles {
		if slices.ContainsFunc(layers, func(l layer) bool { return l.tile == t }) {
			ds.Sources = append(ds.Sources, t.Source)
		}
	}
	return ds, nil
}

func sameBits(a, b []float32) bool {
	return slices.EqualFunc(a, b, func(x, y float32) bool {
		return math.Float32bits(x) == math.Float32bits(y)
	})
}
