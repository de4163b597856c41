package decode

import (
	"errors"
	"fmt"
	"slices"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

// decodeGridded reads a GRIB2 file. All messages must carry the same
// parameter; a file exposing a second one fails rather than guessing which is
// the mosaic field. Parameters without a WMO name are renamed from the file
// path.
func (d *Decoder) decodeGridded(path string) (*domain.Tile, error) {
	fields, err := d.readGrib(path)
	if err != nil {
		return nil, &domain.FormatError{File: path, Err: err}
	}
	if len(fields) == 0 {
		return nil, &domain.FormatError{File: path, Err: errors.New("no grib messages")}
	}

	var names []string
	for _, f := range fields {
		if n := f.Name(); !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	if len(names) > 1 {
		return nil, &domain.VariableCountError{File: path, Variables: names}
	}

	slices.SortStableFunc(fields, func(a, b GribField) int {
		switch {
		case a.Height < b.Height:
			return -1
		case a.Height > b.Height:
			return 1
		}
		return 0
	})

	first := fields[0]
	cells := len(first.Lat) * len(first.Lon)
	tile := domain.NewTile(domain.FormatGriddedBinary)
	tile.Name = domain.ResolveName(first.Name(), path)
	tile.Source = path
	tile.Grid = domain.NewGrid(first.Lat, first.Lon)
	tile.ValidTime = first.RefTime
	tile.Volume = make([]float32, 0, cells*len(fields))
	for _, f := range fields {
		if !slices.Equal(f.Lat, first.Lat) || !slices.Equal(f.Lon, first.Lon) {
			return nil, &domain.SchemaError{File: path, Key: "grid", Detail: "messages use different grids"}
		}
		if !f.RefTime.Equal(first.RefTime) {
			return nil, &domain.SchemaError{File: path, Key: "validTime",
				Detail: fmt.Sprintf("messages at %s and %s", first.RefTime, f.RefTime)}
		}
		if len(f.Values) != cells {
			return nil, &domain.SchemaError{File: path, Key: "values",
				Detail: fmt.Sprintf("%d values for %dx%d grid", len(f.Values), len(first.Lat), len(first.Lon))}
		}
		tile.Heights = append(tile.Heights, f.Height)
		tile.Volume = append(tile.Volume, toVolume(f.Values, gribMissing, 0)...)
	}
	return tile, nil
}
