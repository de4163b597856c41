// Package staging owns the per-run scratch directory and the unwrap step that
// turns downloaded or local archives into plain files ready for decoding.
package staging

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zipMagic  = []byte("PK\x03\x04")
)

// RunDir is a staging directory exclusive to one pipeline run.
type RunDir struct {
	ID   string
	Path string
}

// NewRunDir creates a uniquely named directory under base, or under the OS
// temp directory when base is empty.
func NewRunDir(base string) (*RunDir, error) {
	if base == "" {
		base = os.TempDir()
	}
	id := uuid.NewString()
	dir := filepath.Join(base, "mosaic-etl-"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &RunDir{ID: id, Path: dir}, nil
}

// Close removes the directory and everything staged in it.
func (d *RunDir) Close() error {
	return os.RemoveAll(d.Path)
}

// Member is one decompressed file extracted from an archive.
type Member struct {
	Name string
	Data []byte
}

// Unwrap decompresses a downloaded body. Gzip bodies yield one member named
// without the .gz suffix. Zip bodies yield every regular member accepted by
// filter (nil accepts all), each gunzipped when compressed. Anything else is
// returned unchanged.
func Unwrap(name string, data []byte, filter func(string) bool) ([]Member, error) {
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return unzip(data, filter)
	case bytes.HasPrefix(data, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gunzip %s: %w", name, err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gunzip %s: %w", name, err)
		}
		return []Member{{Name: strings.TrimSuffix(name, ".gz"), Data: out}}, nil
	default:
		return []Member{{Name: strings.TrimSuffix(name, ".gz"), Data: data}}, nil
	}
}

func unzip(data []byte, filter func(string) bool) ([]Member, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	var members []Member
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || (filter != nil && !filter(f.Name)) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip member %s: %w", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read zip member %s: %w", f.Name, err)
		}
		inner, err := Unwrap(path.Base(f.Name), body, nil)
		if err != nil {
			return nil, err
		}
		members = append(members, inner...)
	}
	return members, nil
}

// WriteMembers writes members into dir and returns their paths. A member
// whose file name is already staged in dir is an error wrapping
// fs.ErrExist; staged files are never overwritten.
func WriteMembers(dir string, members []Member) ([]string, error) {
	paths := make([]string, 0, len(members))
	for _, m := range members {
		p := filepath.Join(dir, filepath.Base(m.Name))
		if err := writeExclusive(p, m.Data); err != nil {
			return nil, fmt.Errorf("stage %s: %w", m.Name, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func writeExclusive(p string, data []byte) error {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// StageLocal unwraps local files, zips and directories (walked recursively)
// into dir. filter selects zip members and directory entries; explicitly named
// files are always staged.
func StageLocal(dir string, filter func(string) bool, paths ...string) ([]string, error) {
	var staged []string
	stage := func(p string) error {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		members, err := Unwrap(filepath.Base(p), data, filter)
		if err != nil {
			return err
		}
		out, err := WriteMembers(dir, members)
		if err != nil {
			return err
		}
		staged = append(staged, out...)
		return nil
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if err := stage(p); err != nil {
				return nil, err
			}
			continue
		}
		err = filepath.WalkDir(p, func(fp string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || (filter != nil && !isZip(fp) && !filter(fp)) {
				return nil
			}
			return stage(fp)
		})
		if err != nil {
			return nil, err
		}
	}
	return staged, nil
}

func isZip(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

// ProductFilter accepts archive paths mentioning the product token.
func ProductFilter(product string) func(string) bool {
	return func(name string) bool {
		return strings.Contains(name, product)
	}
}

// Regions are the MRMS domains an hourly archive may carry side by side.
var Regions = []string{"CONUS", "ALASKA", "HAWAII", "CARIB", "GUAM"}

// RegionFilter rejects archive paths that sit under a region directory other
// than region. Paths naming no region directory are accepted. An empty region
// accepts everything.
func RegionFilter(region string) func(string) bool {
	return func(name string) bool {
		if region == "" {
			return true
		}
		dirs := strings.Split(path.Dir(filepath.ToSlash(name)), "/")
		for _, d := range dirs {
			for _, r := range Regions {
				if strings.EqualFold(d, r) {
					return strings.EqualFold(d, region)
				}
			}
		}
		return true
	}
}

// MemberFilter accepts archive paths that pass every non-nil filter.
func MemberFilter(filters ...func(string) bool) func(string) bool {
	return func(name string) bool {
		for _, f := range filters {
			if f != nil && !f(name) {
				return false
			}
		}
		return true
	}
}
