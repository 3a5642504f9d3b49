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

	"github.com/spatialmodel/ebudget/cftime"
)

// UnifyTimeUnits returns copies of cubes whose time points and bounds
// are expressed in the units of the first cube with the same calendar.
func UnifyTimeUnits(cubes []*Cube) ([]*Cube, error) {
	ref := make(map[cftime.Calendar]*Coord)
	refUnits := make(map[cftime.Calendar]*cftime.Units)
	out := make([]*Cube, len(cubes))
	for i, c := range cubes {
		u, err := c.Time.TimeUnits()
		if err != nil {
			return nil, fmt.Errorf("ebudget: %s time units: %v", c.Name, err)
		}
		o := withCoords(c)
		out[i] = o
		r, ok := refUnits[u.Calendar]
		if !ok {
			ref[u.Calendar], refUnits[u.Calendar] = c.Time, u
			continue
		}
		o.Time.Units, o.Time.Calendar = ref[u.Calendar].Units, ref[u.Calendar].Calendar
		if u.Equal(r) {
			continue
		}
		integral := true
		for j, p := range o.Time.Points {
			if o.Time.Points[j], err = u.Convert(p, r); err != nil {
				return nil, err
			}
			integral = integral && o.Time.Points[j] == math.Trunc(o.Time.Points[j])
		}
		if !integral {
			o.Time.PointKind = Float
		}
		integral = true
		for j, b := range o.Time.Bounds {
			for k := range b {
				if o.Time.Bounds[j][k], err = u.Convert(b[k], r); err != nil {
					return nil, err
				}
				integral = integral && o.Time.Bounds[j][k] == math.Trunc(o.Time.Bounds[j][k])
			}
		}
		if !integral {
			o.Time.BoundsKind = Float
		}
	}
	return out, nil
}

// EqualiseAttributes returns copies of cubes from which every global
// attribute that is not identical in all cubes has been removed.
func EqualiseAttributes(cubes []*Cube) []*Cube {
	out := make([]*Cube, len(cubes))
	if len(cubes) == 0 {
		return out
	}
	common := cubes[0].Attributes.Clone()
	for _, c := range cubes[1:] {
		for k, v := range common {
			if w, ok := c.Attributes[k]; !ok || !reflect.DeepEqual(v, w) {
				delete(common, k)
			}
		}
	}
	for i, c := range cubes {
		o := *c
		o.Attributes = common.Clone()
		out[i] = &o
	}
	return out
}

// coordDiff describes the first metadata difference between a and b, or
// returns "" if there is none.
func coordDiff(a, b *Coord) string {
	switch {
	case a.Name != b.Name:
		return fmt.Sprintf("coordinate names %s and %s differ", a.Name, b.Name)
	case a.StandardName != b.StandardName:
		return fmt.Sprintf("%s standard names %q and %q differ", a.Name, a.StandardName, b.StandardName)
	case a.LongName != b.LongName:
		return fmt.Sprintf("%s long names %q and %q differ", a.Name, a.LongName, b.LongName)
	case a.Units != b.Units:
		return fmt.Sprintf("%s units %q and %q differ", a.Name, a.Units, b.Units)
	case a.Calendar != b.Calendar:
		return fmt.Sprintf("%s calendars %q and %q differ", a.Name, a.Calendar, b.Calendar)
	case a.PointKind != b.PointKind:
		return fmt.Sprintf("%s points are %s and %s", a.Name, a.PointKind, b.PointKind)
	case a.HasBounds() != b.HasBounds():
		return fmt.Sprintf("%s bounds are present in only some files", a.Name)
	case a.HasBounds() && a.BoundsKind != b.BoundsKind:
		return fmt.Sprintf("%s bounds are %s and %s", a.Name, a.BoundsKind, b.BoundsKind)
	case !a.Attributes.Equal(b.Attributes):
		return fmt.Sprintf("%s attributes differ", a.Name)
	}
	return ""
}

// Concatenate joins cubes along time into one cube. The cubes are
// ordered by their first time point and must share metadata and grid,
// must not overlap and, if they have time bounds, must not leave gaps.
func Concatenate(cubes []*Cube) (*Cube, error) {
	if len(cubes) == 0 {
		return nil, &ConcatError{Reason: "no cubes"}
	}
	variable := cubes[0].Name
	fail := func(format string, args ...interface{}) error {
		return &ConcatError{Variable: variable, Reason: fmt.Sprintf(format, args...)}
	}
	sorted := make([]*Cube, len(cubes))
	for i, c := range cubes {
		if err := c.Check(); err != nil {
			return nil, err
		}
		if len(c.Time.Points) == 0 {
			return nil, fail("%v has no time points", c.Sources)
		}
		for j := 1; j < len(c.Time.Points); j++ {
			if c.Time.Points[j] <= c.Time.Points[j-1] {
				return nil, fail("time points of %v are not increasing", c.Sources)
			}
		}
		sorted[i] = c
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Points[0] < sorted[j].Time.Points[0]
	})

	first := sorted[0]
	for _, c := range sorted[1:] {
		switch {
		case c.Name != first.Name:
			return nil, fail("variables %s and %s differ", first.Name, c.Name)
		case c.Units != first.Units:
			return nil, fail("units %q and %q differ", first.Units, c.Units)
		case !c.Attributes.Equal(first.Attributes):
			return nil, fail("global attributes differ")
		}
		for _, pair := range [][2]*Coord{{first.Time, c.Time}, {first.Lat, c.Lat}, {first.Lon, c.Lon}} {
			if d := coordDiff(pair[0], pair[1]); d != "" {
				return nil, fail("%s", d)
			}
		}
		if !sameFloats(first.Lat.Points, c.Lat.Points) || !sameBounds(first.Lat.Bounds, c.Lat.Bounds) {
			return nil, fail("latitudes of %v and %v differ", first.Sources, c.Sources)
		}
		if !sameFloats(first.Lon.Points, c.Lon.Points) || !sameBounds(first.Lon.Bounds, c.Lon.Bounds) {
			return nil, fail("longitudes of %v and %v differ", first.Sources, c.Sources)
		}
	}

	out := withCoords(first)
	out.Time.Points = nil
	if first.Time.HasBounds() {
		out.Time.Bounds = [][2]float64{}
	}
	out.Data = nil
	out.Sources = nil
	for i, c := range sorted {
		if i > 0 {
			prev := sorted[i-1]
			last := prev.Time.Points[len(prev.Time.Points)-1]
			if c.Time.Points[0] <= last {
				return nil, fail("%v overlaps %v", c.Sources, prev.Sources)
			}
			if c.Time.HasBounds() {
				upper := prev.Time.Bounds[len(prev.Time.Bounds)-1][1]
				lower := c.Time.Bounds[0][0]
				if lower > upper {
					return nil, fail("gap between %v and %v", prev.Sources, c.Sources)
				} else if lower < upper {
					return nil, fail("%v overlaps %v", c.Sources, prev.Sources)
				}
			}
		}
		out.Time.Points = append(out.Time.Points, c.Time.Points...)
		if c.Time.HasBounds() {
			out.Time.Bounds = append(out.Time.Bounds, c.Time.Bounds...)
		}
		out.Data = append(out.Data, c.Data...)
		out.Sources = append(out.Sources, c.Sources...)
	}
	return out, nil
}
