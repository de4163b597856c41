// Package decode turns staged archive files into domain tiles. A Resolver
// tags each file with its encoding and the Decoder dispatches to one decode
// function per format.
package decode

import (
	"errors"
	"log/slog"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

var errUnrecognized = errors.New("unrecognized encoding")

// Decoder decodes staged files of any supported format.
type Decoder struct {
	resolver *Resolver
	open     OpenFunc
	readGrib GribReader
	logger   *slog.Logger
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithOpener replaces the NetCDF container opener.
func WithOpener(open OpenFunc) Option {
	return func(d *Decoder) { d.open = open }
}

// WithGribReader replaces the GRIB2 message reader.
func WithGribReader(read GribReader) Option {
	return func(d *Decoder) { d.readGrib = read }
}

// New creates a Decoder backed by go-native-netcdf and griblib unless
// overridden by options.
func New(logger *slog.Logger, opts ...Option) *Decoder {
	d := &Decoder{open: OpenNetCDF, readGrib: ReadGrib, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	d.resolver = NewResolver(d.open, logger)
	return d
}

// Resolver returns the resolver used by Decode.
func (d *Decoder) Resolver() *Resolver { return d.resolver }

// Resolve returns the format Decode would use for path.
func (d *Decoder) Resolve(path string) domain.Format { return d.resolver.Resolve(path) }

// Decode resolves the file's format and decodes it into a tile.
func (d *Decoder) Decode(path string) (*domain.Tile, error) {
	return d.DecodeAs(d.resolver.Resolve(path), path)
}

// DecodeAs decodes path with the decoder for f.
func (d *Decoder) DecodeAs(f domain.Format, path string) (*domain.Tile, error) {
	var (
		tile *domain.Tile
		err  error
	)
	switch f {
	case domain.FormatArrayV1:
		tile, err = d.decodeArrayV1(path)
	case domain.FormatArrayV2:
		tile, err = d.decodeArrayV2(path)
	case domain.FormatGriddedBinary:
		tile, err = d.decodeGridded(path)
	case domain.FormatLegacyBinary:
		err = decodeLegacy(path)
	default:
		err = &domain.FormatError{File: path, Err: errUnrecognized}
	}
	if err != nil {
		return nil, err
	}
	if err := tile.Validate(); err != nil {
		return nil, err
	}
	d.logger.Debug("decoded tile", "file", path, "format", f.String(),
		"variable", tile.Name, "levels", tile.Levels(), "valid_time", tile.ValidTime)
	return tile, nil
}
