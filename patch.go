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

import "math"

// Patch is a fix for a known metadata defect, applied to every file of a
// variable before the files are joined. Apply must not modify its
// argument.
type Patch struct {
	Name  string
	Apply func(*Cube) *Cube
}

// withCoords returns a copy of c with copied coordinates and attributes
// that shares the data of c.
func withCoords(c *Cube) *Cube {
	o := *c
	o.Time = c.Time.Clone()
	o.Lat = c.Lat.Clone()
	o.Lon = c.Lon.Clone()
	o.Attributes = c.Attributes.Clone()
	o.Sources = append([]string(nil), c.Sources...)
	return &o
}

// The available patches.
var (
	// IntegralTimeBounds truncates the time bounds to integers.
	IntegralTimeBounds = Patch{Name: "IntegralTimeBounds", Apply: func(c *Cube) *Cube {
		o := withCoords(c)
		if o.Time.Bounds != nil {
			for i, b := range o.Time.Bounds {
				o.Time.Bounds[i] = [2]float64{math.Trunc(b[0]), math.Trunc(b[1])}
			}
			o.Time.BoundsKind = Integer
		}
		return o
	}}

	// IntegralTimePoints truncates the time points to integers.
	IntegralTimePoints = Patch{Name: "IntegralTimePoints", Apply: func(c *Cube) *Cube {
		o := withCoords(c)
		for i, p := range o.Time.Points {
			o.Time.Points[i] = math.Trunc(p)
		}
		o.Time.PointKind = Integer
		return o
	}}

	// ClearTimeAttributes removes the attributes of the time coordinate.
	ClearTimeAttributes = Patch{Name: "ClearTimeAttributes", Apply: func(c *Cube) *Cube {
		o := withCoords(c)
		o.Time.Attributes = Attributes{}
		return o
	}}

	// DropHorizontalBounds removes the latitude and longitude bounds.
	DropHorizontalBounds = Patch{Name: "DropHorizontalBounds", Apply: func(c *Cube) *Cube {
		o := withCoords(c)
		o.Lat.Bounds, o.Lon.Bounds = nil, nil
		o.Lat.BoundsKind, o.Lon.BoundsKind = Float, Float
		return o
	}}

	// RenameLatitude sets the long name of the latitude coordinate to
	// "latitude".
	RenameLatitude = Patch{Name: "RenameLatitude", Apply: func(c *Cube) *Cube {
		o := withCoords(c)
		o.Lat.LongName = "latitude"
		return o
	}}
)

// PatchTable holds the patches for each model.
type PatchTable struct {
	// All is applied to every model, before any model patches.
	All []Patch

	Models map[string][]Patch
}

// For returns the patches for model, in order.
func (t PatchTable) For(model string) []Patch {
	p := append([]Patch(nil), t.All...)
	return append(p, t.Models[model]...)
}

// Apply returns the patched copies of cubes.
func (t PatchTable) Apply(model string, cubes []*Cube) []*Cube {
	patches := t.For(model)
	out := make([]*Cube, len(cubes))
	for i, c := range cubes {
		for _, p := range patches {
			c = p.Apply(c)
		}
		out[i] = c
	}
	return out
}

// DefaultPatches returns the patches needed for the models known to
// have defective metadata in experiment e.
func DefaultPatches(e Experiment) PatchTable {
	if e.HistoricalFixes {
		return PatchTable{All: []Patch{RenameLatitude, ClearTimeAttributes}}
	}
	return PatchTable{Models: map[string][]Patch{
		"CAMS-CSM1-0":  {IntegralTimeBounds, ClearTimeAttributes},
		"IPSL-CM6A-LR": {IntegralTimeBounds, ClearTimeAttributes},
		"KACE-1-0-G":   {IntegralTimeBounds, IntegralTimePoints, ClearTimeAttributes},
		"NorESM2-LM":   {DropHorizontalBounds},
	}}
}
