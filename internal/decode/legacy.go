package decode

import (
	"fmt"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

// Packed record layout of the legacy MRMS binary mosaic. Values, grid spacing
// and heights are stored as native-endian int32 scaled by the factors below,
// followed by fixed-width ASCII name and unit fields.
const (
	legacyValueScale = 10
	legacyDXYScale   = 100000
	legacyZScale     = 1
	legacyMapScale   = 1000
	legacyMissing    = -99
	legacyNameWidth  = 20
	legacyUnitWidth  = 6
)

// decodeLegacy rejects legacy binary files. The layout above has never been
// checked against a real sample, so nothing is decoded rather than risk
// committing a misread volume.
// TODO: add characterization tests against an archived mosaic_*.dat.gz file
// and implement the record reader.
func decodeLegacy(path string) error {
	return &domain.FormatError{
		File: path,
		Err: fmt.Errorf("legacy binary (%d-byte name, %d-byte unit, value scale %d): %w",
			legacyNameWidth, legacyUnitWidth, legacyValueScale, domain.ErrUnsupportedFormat),
	}
}
