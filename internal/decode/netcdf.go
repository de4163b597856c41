package decode

import (
	"fmt"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// netcdfContainer adapts a go-native-netcdf group, which reads both CDF
// classic and HDF5-based NetCDF-4 files.
type netcdfContainer struct {
	group api.Group
}

// OpenNetCDF is the default OpenFunc.
func OpenNetCDF(path string) (Container, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open netcdf %s: %w", path, err)
	}
	return &netcdfContainer{group: g}, nil
}

func (c *netcdfContainer) Variables() []string {
	return c.group.ListVariables()
}

func (c *netcdfContainer) Attr(name string) (any, bool) {
	attrs := c.group.Attributes()
	if attrs == nil {
		return nil, false
	}
	return attrs.Get(name)
}

func (c *netcdfContainer) Array(name string) (*Array, error) {
	v, err := c.group.GetVariable(name)
	if err != nil {
		return nil, err
	}
	shape, values, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	arr := &Array{Shape: shape, Values: values, Attrs: map[string]any{}}
	if v.Attributes != nil {
		for _, k := range v.Attributes.Keys() {
			if val, ok := v.Attributes.Get(k); ok {
				arr.Attrs[k] = val
			}
		}
	}
	return arr, nil
}

func (c *netcdfContainer) Close() error {
	c.group.Close()
	return nil
}
