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
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/spatialmodel/ebudget/cftime"
)

// Kind is the numeric storage kind of coordinate values in a file.
type Kind int

// Numeric kinds.
const (
	Float Kind = iota
	Integer
)

func (k Kind) String() string {
	if k == Integer {
		return "integer"
	}
	return "float"
}

// Attributes hold NetCDF attribute values keyed by name. Values are
// strings or numeric slices as read from the file.
type Attributes map[string]interface{}

// Clone returns a copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	o := make(Attributes, len(a))
	for k, v := range a {
		o[k] = v
	}
	return o
}

// Keys returns the sorted attribute names.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether a and b hold the same names and values.
func (a Attributes) Equal(b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !reflect.DeepEqual(v, w) {
			return false
		}
	}
	return true
}

// String returns the string value of attribute k, or "" if it is absent
// or not a string.
func (a Attributes) String(k string) string {
	s, _ := a[k].(string)
	return strings.TrimRight(s, "\x00")
}

// Coord is a one-dimensional coordinate.
type Coord struct {
	Name         string
	StandardName string
	LongName     string
	Units        string

	// Calendar is the raw calendar attribute of a time coordinate.
	Calendar string

	Points []float64
	Bounds [][2]float64 // nil when the coordinate has no bounds

	PointKind  Kind
	BoundsKind Kind

	// Attributes holds the remaining coordinate attributes.
	Attributes Attributes
}

// HasBounds reports whether the coordinate has cell bounds.
func (c *Coord) HasBounds() bool { return c.Bounds != nil }

// Clone returns a deep copy of c.
func (c *Coord) Clone() *Coord {
	o := *c
	o.Points = append([]float64(nil), c.Points...)
	if c.Bounds != nil {
		o.Bounds = append([][2]float64(nil), c.Bounds...)
	}
	o.Attributes = c.Attributes.Clone()
	return &o
}

// TimeUnits parses the units and calendar of a time coordinate.
func (c *Coord) TimeUnits() (*cftime.Units, error) {
	cal, err := cftime.ParseCalendar(c.Calendar)
	if err != nil {
		return nil, err
	}
	return cftime.ParseUnits(c.Units, cal)
}

// Cube is one variable on a (time, latitude, longitude) grid.
type Cube struct {
	Name  string
	Units string

	Time, Lat, Lon *Coord

	// Data holds the values in time-major order. Masked cells are NaN.
	Data []float64

	// Attributes are the global attributes of the source file.
	Attributes Attributes

	// Sources are the files the cube was read from.
	Sources []string
}

// Shape returns the lengths of the time, latitude and longitude axes.
func (c *Cube) Shape() (nt, ny, nx int) {
	return len(c.Time.Points), len(c.Lat.Points), len(c.Lon.Points)
}

// At returns the value at time index t, latitude index j and longitude
// index i.
func (c *Cube) At(t, j, i int) float64 {
	_, ny, nx := c.Shape()
	return c.Data[(t*ny+j)*nx+i]
}

// Slice returns the horizontal field at time index t.
func (c *Cube) Slice(t int) []float64 {
	_, ny, nx := c.Shape()
	return c.Data[t*ny*nx : (t+1)*ny*nx]
}

// Clone returns a deep copy of c.
func (c *Cube) Clone() *Cube {
	return &Cube{
		Name:       c.Name,
		Units:      c.Units,
		Time:       c.Time.Clone(),
		Lat:        c.Lat.Clone(),
		Lon:        c.Lon.Clone(),
		Data:       append([]float64(nil), c.Data...),
		Attributes: c.Attributes.Clone(),
		Sources:    append([]string(nil), c.Sources...),
	}
}

// Check returns an error if the data length does not match the
// coordinates or if any bounds are the wrong length.
func (c *Cube) Check() error {
	nt, ny, nx := c.Shape()
	if len(c.Data) != nt*ny*nx {
		return fmt.Errorf("ebudget: %s has %d values for a %dx%dx%d grid", c.Name, len(c.Data), nt, ny, nx)
	}
	for _, crd := range []*Coord{c.Time, c.Lat, c.Lon} {
		if crd.Bounds != nil && len(crd.Bounds) != len(crd.Points) {
			return fmt.Errorf("ebudget: %s coordinate %s has %d bounds for %d points",
				c.Name, crd.Name, len(crd.Bounds), len(crd.Points))
		}
	}
	return nil
}

func sameFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] && !(math.IsNaN(v) && math.IsNaN(b[i])) {
			return false
		}
	}
	return true
}

func sameBounds(a, b [][2]float64) bool {
	if (a == nil) != (b == nil) || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
