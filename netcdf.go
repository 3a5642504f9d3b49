/*
Copyright © 2021 the ebudget authors.
This file is part of ebudget.

ebudget is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

ebudget is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with ebudget.  If not, see <http://www.gnu.org/licenses/>.
*/

package ebudget

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/cenkalti/backoff"
	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Loader reads archive files into cubes.
type Loader struct {
	Fs afero.Fs

	// Retries is the number of times opening a file is retried after
	// the first attempt fails. Zero means a single attempt.
	Retries int

	Log logrus.FieldLogger
}

// Load reads variable from each of paths, in order.
func (l *Loader) Load(ctx context.Context, variable string, paths []string) ([]*Cube, error) {
	cubes := make([]*Cube, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := l.LoadFile(ctx, variable, path)
		if err != nil {
			return nil, err
		}
		cubes = append(cubes, c)
	}
	return cubes, nil
}

var (
	cdfMagic  = []byte("CDF")
	hdf5Magic = []byte("\x89HDF")
)

// LoadFile reads variable from the NetCDF file at path. Both the classic
// and the NetCDF-4 (HDF5) formats are supported.
func (l *Loader) LoadFile(ctx context.Context, variable, path string) (*Cube, error) {
	f, err := l.open(ctx, path)
	if err != nil {
		return nil, err
	}

	magic := make([]byte, 4)
	if _, err := f.ReadAt(magic, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("ebudget: reading %s: %v", path, err)
	}
	var ds dataset
	var format string
	switch {
	case bytes.HasPrefix(magic, cdfMagic):
		format = "classic"
		ds, err = openCDF(f)
	case bytes.Equal(magic, hdf5Magic):
		format = "netcdf4"
		ds, err = openHDF5(f)
	default:
		f.Close()
		return nil, fmt.Errorf("ebudget: %s is not a NetCDF file", path)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ebudget: opening %s: %v", path, err)
	}
	defer ds.close()

	c, err := buildCube(ds, variable)
	if err != nil {
		return nil, fmt.Errorf("ebudget: reading %s: %w", path, err)
	}
	c.Sources = []string{path}
	if l.Log != nil {
		nt, ny, nx := c.Shape()
		l.Log.WithFields(logrus.Fields{
			"file":   path,
			"format": format,
			"shape":  fmt.Sprintf("%dx%dx%d", nt, ny, nx),
		}).Debug("loaded file")
	}
	return c, nil
}

// retry runs op until it succeeds, l.Retries retries have failed, or ctx
// is done. Missing files are not retried.
func (l *Loader) retry(ctx context.Context, op func() error, path string) error {
	permanent := func() error {
		err := op()
		if err != nil && os.IsNotExist(err) {
			return &backoff.PermanentError{Err: err}
		}
		return err
	}
	if l.Retries <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return op()
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(l.Retries)), ctx)
	return backoff.RetryNotify(permanent, b, func(err error, d time.Duration) {
		if l.Log != nil {
			l.Log.WithField("file", path).Warnf("%v: retrying in %v", err, d)
		}
	})
}

func (l *Loader) open(ctx context.Context, path string) (afero.File, error) {
	var f afero.File
	err := l.retry(ctx, func() error {
		var err error
		f, err = l.Fs.Open(path)
		return err
	}, path)
	if err != nil {
		return nil, fmt.Errorf("ebudget: opening %s: %v", path, err)
	}
	return f, nil
}

// openHDF5 reads the NetCDF-4 file f.
func openHDF5(f afero.File) (dataset, error) {
	g, err := netcdf.New(f)
	if err != nil {
		return nil, err
	}
	return &hdfDataset{g: g, vars: make(map[string]*api.Variable)}, nil
}

// dataset is the part of a NetCDF file needed to build a cube.
type dataset interface {
	variables() []string
	// dims returns nil if v does not exist.
	dims(v string) []string
	// attrs returns the global attributes if v is empty.
	attrs(v string) Attributes
	values(v string) ([]float64, Kind, error)
	// fillValues are the raw values that mark missing data.
	fillValues(v string) []float64
	// close releases the file the dataset was read from.
	close() error
}

type cdfDataset struct {
	file afero.File
	f    *cdf.File
	nrec int
}

func openCDF(f afero.File) (*cdfDataset, error) {
	ff, err := cdf.Open(f)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &cdfDataset{file: f, f: ff, nrec: int(ff.Header.NumRecs(fi.Size()))}, nil
}

func (d *cdfDataset) variables() []string { return d.f.Header.Variables() }

func (d *cdfDataset) dims(v string) []string {
	if v == "" {
		return nil
	}
	return d.f.Header.Dimensions(v)
}

func (d *cdfDataset) attrs(v string) Attributes {
	names := d.f.Header.Attributes(v)
	a := make(Attributes, len(names))
	for _, n := range names {
		a[n] = copyValue(d.f.Header.GetAttribute(v, n))
	}
	return a
}

func (d *cdfDataset) values(v string) ([]float64, Kind, error) {
	h := d.f.Header
	lengths := append([]int(nil), h.Lengths(v)...)
	if h.Dimensions(v) == nil {
		return nil, Float, fmt.Errorf("variable %s not in file", v)
	}
	record := h.IsRecordVariable(v)
	if record {
		lengths[0] = d.nrec
	}
	n := 1
	for _, l := range lengths {
		n *= l
	}
	var begin, end []int
	if record {
		begin, end = make([]int, len(lengths)), make([]int, len(lengths))
		for i, l := range lengths {
			end[i] = l - 1
		}
	}
	if n == 0 {
		vals, kind := flatten(h.ZeroValue(v, 0))
		return vals, kind, nil
	}
	r := d.f.Reader(v, begin, end)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, Float, fmt.Errorf("reading variable %s: %v", v, err)
	}
	vals, kind := flatten(buf)
	return vals, kind, nil
}

func (d *cdfDataset) fillValues(v string) []float64 {
	var fills []float64
	if fv, ok := scalar(d.f.Header.FillValue(v)); ok {
		fills = append(fills, fv)
	}
	if mv, ok := scalar(d.f.Header.GetAttribute(v, "missing_value")); ok {
		fills = append(fills, mv)
	}
	return fills
}

func (d *cdfDataset) close() error { return d.file.Close() }

type hdfDataset struct {
	g    api.Group
	vars map[string]*api.Variable
}

func (d *hdfDataset) variable(v string) *api.Variable {
	if vr, ok := d.vars[v]; ok {
		return vr
	}
	vr, err := d.g.GetVariable(v)
	if err != nil {
		vr = nil
	}
	d.vars[v] = vr
	return vr
}

func (d *hdfDataset) variables() []string { return d.g.ListVariables() }

func (d *hdfDataset) dims(v string) []string {
	vr := d.variable(v)
	if vr == nil {
		return nil
	}
	return vr.Dimensions
}

func fromAttributeMap(m api.AttributeMap) Attributes {
	a := make(Attributes)
	if m == nil {
		return a
	}
	for _, k := range m.Keys() {
		if val, ok := m.Get(k); ok {
			a[k] = copyValue(val)
		}
	}
	return a
}

func (d *hdfDataset) attrs(v string) Attributes {
	if v == "" {
		return fromAttributeMap(d.g.Attributes())
	}
	vr := d.variable(v)
	if vr == nil {
		return Attributes{}
	}
	return fromAttributeMap(vr.Attributes)
}

func (d *hdfDataset) values(v string) ([]float64, Kind, error) {
	vr := d.variable(v)
	if vr == nil {
		return nil, Float, fmt.Errorf("variable %s not in file", v)
	}
	vals, kind := flatten(vr.Values)
	return vals, kind, nil
}

func (d *hdfDataset) fillValues(v string) []float64 {
	a := d.attrs(v)
	var fills []float64
	for _, k := range []string{"_FillValue", "missing_value"} {
		if f, ok := scalar(a[k]); ok {
			fills = append(fills, f)
		}
	}
	return fills
}

func (d *hdfDataset) close() error {
	d.g.Close()
	return nil
}

// copyValue copies slice attribute values so they are not shared with
// the reader.
func copyValue(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return v
	}
	o := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(o, rv)
	return o.Interface()
}

// flatten converts a possibly nested slice of numbers into a flat
// []float64 in row-major order. Byte slices are NetCDF signed bytes.
func flatten(v interface{}) ([]float64, Kind) {
	if b, ok := v.([]uint8); ok {
		o := make([]float64, len(b))
		for i, x := range b {
			o[i] = float64(int8(x))
		}
		return o, Integer
	}
	var out []float64
	kind := Float
	var walk func(rv reflect.Value)
	walk = func(rv reflect.Value) {
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				walk(rv.Index(i))
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			kind = Integer
			out = append(out, float64(rv.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			kind = Integer
			out = append(out, float64(rv.Uint()))
		case reflect.Float32, reflect.Float64:
			out = append(out, rv.Float())
		case reflect.Interface, reflect.Ptr:
			if !rv.IsNil() {
				walk(rv.Elem())
			}
		}
	}
	if v != nil {
		walk(reflect.ValueOf(v))
	}
	return out, kind
}

// scalar returns the first numeric value of an attribute or fill value.
func scalar(v interface{}) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if _, ok := v.(string); ok {
		return 0, false
	}
	vals, _ := flatten(v)
	if len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func hasVariable(ds dataset, v string) bool {
	for _, n := range ds.variables() {
		if n == v {
			return true
		}
	}
	return false
}

// buildCube reads variable and its coordinates from ds.
func buildCube(ds dataset, variable string) (*Cube, error) {
	if !hasVariable(ds, variable) {
		return nil, fmt.Errorf("variable %s not in file", variable)
	}
	dims := ds.dims(variable)
	if len(dims) != 3 {
		return nil, fmt.Errorf("variable %s has dimensions %v; want (time, latitude, longitude)", variable, dims)
	}
	coords := make([]*Coord, 3)
	for i, dim := range dims {
		c, err := readCoord(ds, dim)
		if err != nil {
			return nil, err
		}
		coords[i] = c
	}
	if !isTime(coords[0]) || !isLatitude(coords[1]) || !isLongitude(coords[2]) {
		return nil, fmt.Errorf("variable %s has dimensions %v; want (time, latitude, longitude)", variable, dims)
	}

	data, _, err := ds.values(variable)
	if err != nil {
		return nil, err
	}
	attrs := ds.attrs(variable)
	fills := ds.fillValues(variable)
	scale, hasScale := scalar(attrs["scale_factor"])
	offset, hasOffset := scalar(attrs["add_offset"])
	for i, v := range data {
		for _, f := range fills {
			if v == f {
				v = math.NaN()
				break
			}
		}
		if hasScale {
			v *= scale
		}
		if hasOffset {
			v += offset
		}
		data[i] = v
	}

	c := &Cube{
		Name:       variable,
		Units:      attrs.String("units"),
		Time:       coords[0],
		Lat:        coords[1],
		Lon:        coords[2],
		Data:       data,
		Attributes: ds.attrs(""),
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return c, nil
}

// coordAttributes are stored in Coord fields rather than in
// Coord.Attributes.
var coordAttributes = map[string]bool{
	"standard_name": true,
	"long_name":     true,
	"units":         true,
	"calendar":      true,
	"bounds":        true,
	"_FillValue":    true,
}

func readCoord(ds dataset, name string) (*Coord, error) {
	if ds.dims(name) == nil {
		return nil, fmt.Errorf("no coordinate variable for dimension %s", name)
	}
	pts, kind, err := ds.values(name)
	if err != nil {
		return nil, err
	}
	attrs := ds.attrs(name)
	c := &Coord{
		Name:         name,
		StandardName: attrs.String("standard_name"),
		LongName:     attrs.String("long_name"),
		Units:        attrs.String("units"),
		Calendar:     attrs.String("calendar"),
		Points:       pts,
		PointKind:    kind,
		Attributes:   make(Attributes),
	}
	for k, v := range attrs {
		if !coordAttributes[k] {
			c.Attributes[k] = v
		}
	}
	if b := attrs.String("bounds"); b != "" && hasVariable(ds, b) {
		vals, bkind, err := ds.values(b)
		if err != nil {
			return nil, err
		}
		if len(vals) != 2*len(pts) {
			return nil, fmt.Errorf("bounds %s of %s have %d values for %d points", b, name, len(vals), len(pts))
		}
		c.Bounds = make([][2]float64, len(pts))
		for i := range c.Bounds {
			c.Bounds[i] = [2]float64{vals[2*i], vals[2*i+1]}
		}
		c.BoundsKind = bkind
	}
	return c, nil
}

func isTime(c *Coord) bool {
	return strings.Contains(c.Units, " since ") ||
		c.StandardName == "time" || c.Attributes.String("axis") == "T"
}

func isLatitude(c *Coord) bool {
	switch {
	case c.StandardName == "latitude", c.Attributes.String("axis") == "Y":
		return true
	case c.Name == "lat", c.Name == "latitude":
		return true
	}
	switch c.Units {
	case "degrees_north", "degree_north", "degree_N", "degrees_N", "degreeN", "degreesN":
		return true
	}
	return false
}

func isLongitude(c *Coord) bool {
	switch {
	case c.StandardName == "longitude", c.Attributes.String("axis") == "X":
		return true
	case c.Name == "lon", c.Name == "longitude":
		return true
	}
	switch c.Units {
	case "degrees_east", "degree_east", "degree_E", "degrees_E", "degreeE", "degreesE":
		return true
	}
	return false
}
