package decode

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

var (
	magicGRIB = []byte("GRIB")
	magicCDF1 = []byte("CDF\x01")
	magicCDF2 = []byte("CDF\x02")
	magicHDF5 = []byte("\x89HDF")
)

// Resolver selects the decoder for a staged file.
type Resolver struct {
	open   OpenFunc
	logger *slog.Logger
}

// NewResolver creates a Resolver that opens self-describing containers with
// open to look for the known variable labels.
func NewResolver(open OpenFunc, logger *slog.Logger) *Resolver {
	return &Resolver{open: open, logger: logger}
}

// Resolve inspects the file name, leading bytes and, for NetCDF files, the
// variable names. Files with no recognizable token fall back to
// FormatLegacyBinary. FormatUnknown is returned for unreadable files and for
// NetCDF files carrying neither reflectivity label; the caller decides
// whether that drops the file or the group.
func (r *Resolver) Resolve(path string) domain.Format {
	name := strings.ToLower(filepath.Base(path))
	if strings.Contains(name, "grib") {
		return domain.FormatGriddedBinary
	}

	magic := readMagic(path)
	switch {
	case bytes.HasPrefix(magic, magicGRIB):
		return domain.FormatGriddedBinary
	case isNetCDFName(name) || isNetCDFMagic(magic):
		return r.resolveArray(path)
	case magic == nil:
		return domain.FormatUnknown
	}

	r.logger.Warn("no format token found, assuming legacy binary", "file", path)
	return domain.FormatLegacyBinary
}

func (r *Resolver) resolveArray(path string) domain.Format {
	c, err := r.open(path)
	if err != nil {
		r.logger.Warn("open container failed", "file", path, "error", err)
		return domain.FormatUnknown
	}
	defer c.Close()

	vars := c.Variables()
	hasV1 := slices.Contains(vars, domain.ArrayV1Label)
	hasV2 := slices.Contains(vars, domain.ArrayV2Label)
	switch {
	case hasV1 && hasV2:
		if t, ok := containerTime(c); ok && t.Unix() < domain.V1ToV2Changeover {
			return domain.FormatArrayV1
		}
		return domain.FormatArrayV2
	case hasV1:
		return domain.FormatArrayV1
	case hasV2:
		return domain.FormatArrayV2
	}
	r.logger.Warn("netcdf file has no known reflectivity variable", "file", path, "variables", vars)
	return domain.FormatUnknown
}

// containerTime reads the valid time from the V1 global attribute or the V2
// time variable.
func containerTime(c Container) (time.Time, bool) {
	if v, ok := globalFloat(c, "Time"); ok {
		return time.Unix(int64(v), 0).UTC(), true
	}
	if !slices.Contains(c.Variables(), "time") {
		return time.Time{}, false
	}
	arr, err := c.Array("time")
	if err != nil || len(arr.Values) == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(arr.Values[0]), 0).UTC(), true
}

func isNetCDFName(name string) bool {
	return strings.Contains(name, "netcdf") || strings.HasSuffix(name, ".nc") || strings.HasSuffix(name, ".nc4")
}

func isNetCDFMagic(magic []byte) bool {
	return bytes.HasPrefix(magic, magicCDF1) || bytes.HasPrefix(magic, magicCDF2) || bytes.HasPrefix(magic, magicHDF5)
}

// readMagic returns up to the first 8 bytes of the file, or nil when the file
// cannot be read.
func readMagic(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, 8)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil
	}
	return buf[:n]
}
