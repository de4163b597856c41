package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Zarr v2 metadata file names.
const (
	groupMeta = ".zgroup"
	arrayMeta = ".zarray"
	attrsMeta = ".zattrs"
)

// dimensionsAttr names the dimensions of an array the way xarray expects.
const dimensionsAttr = "_ARRAY_DIMENSIONS"

// Compressor is the numcodecs configuration stored in .zarray.
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// ArrayMeta is the Zarr v2 .zarray document.
type ArrayMeta struct {
	ZarrFormat         int         `json:"zarr_format"`
	Shape              []int       `json:"shape"`
	Chunks             []int       `json:"chunks"`
	DType              string      `json:"dtype"`
	Compressor         *Compressor `json:"compressor"`
	FillValue          any         `json:"fill_value"`
	Order              string      `json:"order"`
	Filters            []any       `json:"filters"`
	DimensionSeparator string      `json:"dimension_separator"`
}

func newArrayMeta(dtype string, shape, chunks []int, fill any) ArrayMeta {
	return ArrayMeta{
		ZarrFormat:         2,
		Shape:              shape,
		Chunks:             chunks,
		DType:              dtype,
		Compressor:         &Compressor{ID: "zstd", Level: 3},
		FillValue:          fill,
		Order:              "C",
		DimensionSeparator: ".",
	}
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

// chunkKey joins chunk indices with the "." separator.
func chunkKey(idx ...int) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

func writeChunk(arrayDir, key string, raw []byte) error {
	enc, _, err := codec()
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(arrayDir, key), enc.EncodeAll(raw, nil))
}

func readChunk(arrayDir, key string) ([]byte, error) {
	_, dec, err := codec()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(arrayDir, key))
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data, nil)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeFileAtomic replaces path through a rename so readers never observe a
// partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// writeArray creates an array directory with metadata, attributes and
// chunks.
func writeArray(dir string, meta ArrayMeta, attrs map[string]any, chunks map[string][]byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for key, raw := range chunks {
		if err := writeChunk(dir, key, raw); err != nil {
			return fmt.Errorf("write chunk %s/%s: %w", filepath.Base(dir), key, err)
		}
	}
	if err := writeJSON(filepath.Join(dir, attrsMeta), attrs); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, arrayMeta), meta)
}

func readArrayMeta(dir string) (ArrayMeta, error) {
	var m ArrayMeta
	err := readJSON(filepath.Join(dir, arrayMeta), &m)
	return m, err
}

func encodeFloat32(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

func decodeFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func encodeFloat64(v []float64) []byte {
	out := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(f))
	}
	return out
}

func decodeFloat64(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out
}

func encodeInt64(v ...int64) []byte {
	out := make([]byte, 8*len(v))
	for i, n := range v {
		binary.LittleEndian.PutUint64(out[8*i:], uint64(n))
	}
	return out
}

func decodeInt64(b []byte) []int64 {
	out := make([]int64, len(b)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out
}
