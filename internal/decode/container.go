package decode

import (
	"fmt"
	"math"
	"reflect"
)

// Container is an opened self-describing array file (NetCDF classic or
// NetCDF-4/HDF5).
type Container interface {
	// Variables lists the variable names in file order.
	Variables() []string
	// Attr returns a global attribute.
	Attr(name string) (any, bool)
	// Array reads a variable fully into memory.
	Array(name string) (*Array, error)
	Close() error
}

// OpenFunc opens a staged file as a Container.
type OpenFunc func(path string) (Container, error)

// Array is a variable flattened in row-major order.
type Array struct {
	Shape  []int
	Values []float64
	Attrs  map[string]any
}

// Len is the number of elements implied by Shape.
func (a *Array) Len() int {
	n := 1
	for _, s := range a.Shape {
		n *= s
	}
	return n
}

// AttrFloat returns a numeric variable attribute.
func (a *Array) AttrFloat(name string) (float64, bool) {
	v, ok := a.Attrs[name]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// squeezeLeading drops leading axes of length one until the array has at most
// want dimensions. NetCDF files commonly carry a singleton time axis.
func (a *Array) squeezeLeading(want int) {
	for len(a.Shape) > want && a.Shape[0] == 1 {
		a.Shape = a.Shape[1:]
	}
}

// missingMarkers collects the raw values flagged as missing in the variable
// attributes.
func (a *Array) missingMarkers() []float64 {
	var out []float64
	for _, key := range []string{"MissingData", "_FillValue", "missing_value"} {
		if v, ok := a.AttrFloat(key); ok {
			out = append(out, v)
		}
	}
	return out
}

func globalFloat(c Container, name string) (float64, bool) {
	v, ok := c.Attr(name)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// toFloat converts numeric attribute values, including single-element
// slices, to float64.
func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return 0, false
		}
		return toFloat(rv.Index(0).Interface())
	default:
		return 0, false
	}
}

// flatten walks nested numeric slices, as returned by NetCDF readers for
// multi-dimensional variables, into a shape and a row-major value slice.
func flatten(v any) ([]int, []float64, error) {
	rv := reflect.ValueOf(v)
	var shape []int
	for cur := rv; cur.Kind() == reflect.Slice || cur.Kind() == reflect.Array; {
		shape = append(shape, cur.Len())
		if cur.Len() == 0 {
			break
		}
		cur = cur.Index(0)
	}
	out := make([]float64, 0, product(shape))
	var walk func(reflect.Value, int) error
	walk = func(cur reflect.Value, depth int) error {
		if cur.Kind() == reflect.Slice || cur.Kind() == reflect.Array {
			if depth >= len(shape) || cur.Len() != shape[depth] {
				return fmt.Errorf("ragged array at depth %d", depth)
			}
			for i := 0; i < cur.Len(); i++ {
				if err := walk(cur.Index(i), depth+1); err != nil {
					return err
				}
			}
			return nil
		}
		f, ok := toFloat(cur.Interface())
		if !ok {
			return fmt.Errorf("non-numeric element of kind %s", cur.Kind())
		}
		out = append(out, f)
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return shape, out, nil
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// toVolume converts raw values to float32 dBZ, masking missing markers and
// dividing by scale when it is non-zero.
func toVolume(raw []float64, missing []float64, scale float64) []float32 {
	out := make([]float32, len(raw))
	nan := float32(math.NaN())
	for i, v := range raw {
		if math.IsNaN(v) || isMissing(v, missing) {
			out[i] = nan
			continue
		}
		if scale != 0 {
			v /= scale
		}
		out[i] = float32(v)
	}
	return out
}

func isMissing(v float64, markers []float64) bool {
	for _, m := range markers {
		if v == m {
			return true
		}
	}
	return false
}
