package decode

import (
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

// decodeArrayV1 reads the original NetCDF schema. The horizontal grid is
// reconstructed from start coordinates and spacings: latitude decreases with
// row index while longitude increases with column index.
func (d *Decoder) decodeArrayV1(path string) (*domain.Tile, error) {
	c, err := d.open(path)
	if err != nil {
		return nil, &domain.FormatError{File: path, Err: err}
	}
	defer c.Close()

	refl, err := requireArray(c, path, domain.ArrayV1Label)
	if err != nil {
		return nil, err
	}
	nz, ny, nx, err := volumeShape(refl, path, domain.ArrayV1Label)
	if err != nil {
		return nil, err
	}
	height, err := requireArray(c, path, "Height")
	if err != nil {
		return nil, err
	}
	if len(height.Values) != nz {
		return nil, &domain.SchemaError{File: path, Key: "Height",
			Detail: fmt.Sprintf("%d levels for %d volume layers", len(height.Values), nz)}
	}

	var attrs [5]float64
	for i, key := range []string{"Latitude", "Longitude", "LatGridSpacing", "LonGridSpacing", "Time"} {
		v, ok := globalFloat(c, key)
		if !ok {
			return nil, &domain.SchemaError{File: path, Key: key}
		}
		attrs[i] = v
	}
	startLat, startLon, latSpacing, lonSpacing, epoch := attrs[0], attrs[1], attrs[2], attrs[3], attrs[4]

	scale, ok := refl.AttrFloat("Scale")
	if !ok || scale == 0 {
		return nil, &domain.SchemaError{File: path, Key: "Scale", Detail: "missing or zero scale factor"}
	}

	lat := make([]float64, ny)
	for i := range lat {
		lat[i] = startLat - float64(i)*latSpacing
	}
	lon := make([]float64, nx)
	for j := range lon {
		lon[j] = startLon + float64(j)*lonSpacing
	}

	tile := domain.NewTile(domain.FormatArrayV1)
	tile.Name = domain.ArrayV1Label
	tile.Source = path
	tile.Grid = domain.NewGrid(lat, lon)
	tile.Heights = toKilometers(height.Values)
	tile.Volume = toVolume(refl.Values, refl.missingMarkers(), scale)
	tile.ValidTime = time.Unix(int64(epoch), 0).UTC()
	return tile, nil
}

// decodeArrayV2 reads the revised NetCDF schema with explicit Ht, Lat and Lon
// variables. Volume values are already physical.
func (d *Decoder) decodeArrayV2(path string) (*domain.Tile, error) {
	c, err := d.open(path)
	if err != nil {
		return nil, &domain.FormatError{File: path, Err: err}
	}
	defer c.Close()

	refl, err := requireArray(c, path, domain.ArrayV2Label)
	if err != nil {
		return nil, err
	}
	nz, ny, nx, err := volumeShape(refl, path, domain.ArrayV2Label)
	if err != nil {
		return nil, err
	}

	coords := map[string]int{"Ht": nz, "Lat": ny, "Lon": nx}
	arrays := make(map[string]*Array, len(coords))
	for _, key := range []string{"Ht", "Lat", "Lon"} {
		arr, err := requireArray(c, path, key)
		if err != nil {
			return nil, err
		}
		if len(arr.Values) != coords[key] {
			return nil, &domain.SchemaError{File: path, Key: key,
				Detail: fmt.Sprintf("length %d, want %d", len(arr.Values), coords[key])}
		}
		arrays[key] = arr
	}
	tv, err := requireArray(c, path, "time")
	if err != nil {
		return nil, err
	}
	if len(tv.Values) == 0 {
		return nil, &domain.SchemaError{File: path, Key: "time", Detail: "empty"}
	}

	tile := domain.NewTile(domain.FormatArrayV2)
	tile.Name = domain.ArrayV2Label
	tile.Source = path
	tile.Grid = domain.NewGrid(arrays["Lat"].Values, arrays["Lon"].Values)
	tile.Heights = toKilometers(arrays["Ht"].Values)
	tile.Volume = toVolume(refl.Values, refl.missingMarkers(), 0)
	tile.ValidTime = time.Unix(int64(tv.Values[0]), 0).UTC()
	return tile, nil
}

func requireArray(c Container, path, name string) (*Array, error) {
	if !slices.Contains(c.Variables(), name) {
		return nil, &domain.SchemaError{File: path, Key: name}
	}
	arr, err := c.Array(name)
	if err != nil {
		return nil, &domain.FormatError{File: path, Err: fmt.Errorf("read %s: %w", name, err)}
	}
	return arr, nil
}

// volumeShape returns the (height, lat, lon) extents of a reflectivity
// variable, ignoring a leading singleton time axis.
func volumeShape(a *Array, path, name string) (nz, ny, nx int, err error) {
	a.squeezeLeading(3)
	if len(a.Shape) != 3 {
		return 0, 0, 0, &domain.SchemaError{File: path, Key: name,
			Detail: fmt.Sprintf("shape %v, want (height, lat, lon)", a.Shape)}
	}
	if a.Len() != len(a.Values) {
		return 0, 0, 0, &domain.SchemaError{File: path, Key: name,
			Detail: fmt.Sprintf("%d values for shape %v", len(a.Values), a.Shape)}
	}
	return a.Shape[0], a.Shape[1], a.Shape[2], nil
}

func toKilometers(meters []float64) []float64 {
	out := make([]float64, len(meters))
	for i, m := range meters {
		out[i] = m / domain.AltitudeScaleFactor
	}
	return out
}
