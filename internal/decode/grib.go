package decode

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
	"github.com/nilsmagnus/grib/griblib"
)

// GribField is one decoded GRIB2 message on a regular lat/lon grid.
type GribField struct {
	Discipline int
	Category   int
	Number     int
	// Height of the first fixed surface in kilometers.
	Height float64
	// Lat holds one value per row, Lon one value per column, degrees east in
	// [-180, 180).
	Lat    []float64
	Lon    []float64
	Values []float64
	// RefTime is the analysis time of the message.
	RefTime time.Time
}

// GribReader reads every message of a GRIB2 file.
type GribReader func(path string) ([]GribField, error)

// gribMissing are the MRMS sentinels for "no coverage" and "missing".
var gribMissing = []float64{-999, -99}

// wmoParameters names the GRIB2 parameters the WMO tables define for
// reflectivity (discipline 0, category 16). MRMS local parameters are absent
// and decode as unknown.
var wmoParameters = map[[3]int]string{
	{0, 16, 195}: "refd",
	{0, 16, 196}: "refc",
}

// Name returns the short parameter name or domain.UnknownVariable.
func (f GribField) Name() string {
	if n, ok := wmoParameters[[3]int{f.Discipline, f.Category, f.Number}]; ok {
		return n
	}
	return domain.UnknownVariable
}

// ReadGrib is the default GribReader, backed by griblib.
func ReadGrib(path string) ([]GribField, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	messages, err := griblib.ReadMessages(file)
	if err != nil {
		return nil, fmt.Errorf("read grib messages: %w", err)
	}
	fields := make([]GribField, 0, len(messages))
	for i, m := range messages {
		f, err := fieldFromMessage(m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func fieldFromMessage(m *griblib.Message) (GribField, error) {
	var g griblib.Grid0
	switch d := m.Section3.Definition.(type) {
	case *griblib.Grid0:
		g = *d
	case griblib.Grid0:
		g = d
	default:
		return GribField{}, fmt.Errorf("unsupported grid definition %T", d)
	}

	pdt := m.Section4.ProductDefinitionTemplate
	surface := pdt.FirstSurface
	height := float64(surface.Value) / math.Pow(10, float64(surface.Scale)) / 1000

	rows, cols := int(g.Nj), int(g.Ni)
	lat := make([]float64, rows)
	lon := make([]float64, cols)
	la1, lo1 := float64(g.La1)/1e6, float64(g.Lo1)/1e6
	dj, di := float64(g.Dj)/1e6, float64(g.Di)/1e6
	// Bit 2 of the scanning mode set means rows run south to north.
	if g.ScanningMode&0x40 == 0 {
		dj = -dj
	}
	for i := range lat {
		lat[i] = la1 + float64(i)*dj
	}
	for j := range lon {
		lon[j] = normalizeLongitude(lo1 + float64(j)*di)
	}

	rt := m.Section1.ReferenceTime
	return GribField{
		Discipline: int(m.Section0.Discipline),
		Category:   int(pdt.ParameterCategory),
		Number:     int(pdt.ParameterNumber),
		Height:     height,
		Lat:        lat,
		Lon:        lon,
		Values:     m.Data(),
		RefTime: time.Date(int(rt.Year), time.Month(rt.Month), int(rt.Day),
			int(rt.Hour), int(rt.Minute), int(rt.Second), 0, time.UTC),
	}, nil
}

func normalizeLongitude(lon float64) float64 {
	if lon >= 180 {
		return lon - 360
	}
	return lon
}
