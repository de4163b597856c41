package domain

import "time"

// Format tags the source encoding a tile was decoded from.
type Format int

const (
	FormatUnknown Format = iota
	FormatLegacyBinary
	FormatArrayV1
	FormatArrayV2
	FormatGriddedBinary
)

const (
	// AltitudeScaleFactor converts source heights in meters to kilometers.
	AltitudeScaleFactor = 1000.0

	// V1Duration and V2Duration are the nominal scan periods of the two
	// NetCDF schema versions.
	V1Duration = 300 * time.Second
	V2Duration = 120 * time.Second

	// V1ToV2Changeover is the epoch second after which only v2 files exist.
	V1ToV2Changeover int64 = 1375200000

	// ArrayV1Label and ArrayV2Label are the reflectivity variable names that
	// distinguish the two NetCDF schemas.
	ArrayV1Label = "mrefl_mosaic"
	ArrayV2Label = "MREFL"
)

func (f Format) String() string {
	switch f {
	case FormatLegacyBinary:
		return "LegacyBinary"
	case FormatArrayV1:
		return "ArrayV1"
	case FormatArrayV2:
		return "ArrayV2"
	case FormatGriddedBinary:
		return "GriddedBinary"
	default:
		return "Unknown"
	}
}

// Duration returns the nominal accumulation period for the format. GRIB and
// legacy products carry no fixed period and return zero.
func (f Format) Duration() time.Duration {
	switch f {
	case FormatArrayV1:
		return V1Duration
	case FormatArrayV2:
		return V2Duration
	default:
		return 0
	}
}

// ParseFormat is the inverse of Format.String.
func ParseFormat(s string) Format {
	for _, f := range []Format{FormatLegacyBinary, FormatArrayV1, FormatArrayV2, FormatGriddedBinary} {
		if f.String() == s {
			return f
		}
	}
	return FormatUnknown
}
