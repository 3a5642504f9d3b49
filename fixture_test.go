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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/cdf"
)

// fixture describes a NetCDF file holding one variable on a
// (time, lat, lon) grid.
type fixture struct {
	variable string
	units    string // time units
	calendar string

	times      []float64
	timeBounds [][2]float64

	lats, lons           []float64
	latBounds, lonBounds [][2]float64

	// value returns the value at time, latitude and longitude indices.
	value func(t, j, i int) float64

	attrs map[string]string
}

const fixtureFill = 1e20

var monthDays = []float64{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// monthly returns n monthly time points and bounds in "days since
// <year>-01-01" in the noleap calendar, starting at month first.
func monthly(first, n int) ([]float64, [][2]float64) {
	pts := make([]float64, n)
	bnds := make([][2]float64, n)
	for k := 0; k < n; k++ {
		m := first + k
		lower := 365 * float64(m/12)
		for _, d := range monthDays[:m%12] {
			lower += d
		}
		upper := lower + monthDays[m%12]
		pts[k] = (lower + upper) / 2
		bnds[k] = [2]float64{lower, upper}
	}
	return pts, bnds
}

// grid returns the cell centres and edges of a regular global grid.
func grid(ny, nx int) (lats, lons []float64, latb, lonb [][2]float64) {
	dy, dx := 180/float64(ny), 360/float64(nx)
	for j := 0; j < ny; j++ {
		lats = append(lats, -90+dy*(float64(j)+0.5))
		latb = append(latb, [2]float64{-90 + dy*float64(j), -90 + dy*float64(j+1)})
	}
	for i := 0; i < nx; i++ {
		lons = append(lons, dx*(float64(i)+0.5))
		lonb = append(lonb, [2]float64{dx * float64(i), dx * float64(i+1)})
	}
	return
}

func newFixture(variable string, firstMonth, months int, value func(t, j, i int) float64) *fixture {
	times, tb := monthly(firstMonth, months)
	lats, lons, latb, lonb := grid(4, 8)
	return &fixture{
		variable:   variable,
		units:      "days since 1850-01-01 00:00:00",
		calendar:   "365_day",
		times:      times,
		timeBounds: tb,
		lats:       lats,
		lons:       lons,
		latBounds:  latb,
		lonBounds:  lonb,
		value:      value,
		attrs:      map[string]string{"source_id": "CanESM5", "variable_id": variable},
	}
}

func flattenBounds(b [][2]float64) []float64 {
	o := make([]float64, 0, 2*len(b))
	for _, v := range b {
		o = append(o, v[0], v[1])
	}
	return o
}

// write writes fx as a classic NetCDF file at path, creating its
// directory.
func (fx *fixture) write(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		t.Fatal(err)
	}
	nt, ny, nx := len(fx.times), len(fx.lats), len(fx.lons)
	h := cdf.NewHeader([]string{"time", "lat", "lon", "bnds"}, []int{0, ny, nx, 2})
	for k, v := range fx.attrs {
		h.AddAttribute("", k, v)
	}
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "standard_name", "time")
	h.AddAttribute("time", "units", fx.units)
	h.AddAttribute("time", "calendar", fx.calendar)
	h.AddAttribute("time", "axis", "T")
	if fx.timeBounds != nil {
		h.AddAttribute("time", "bounds", "time_bnds")
		h.AddVariable("time_bnds", []string{"time", "bnds"}, []float64{0})
	}
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", "standard_name", "latitude")
	h.AddAttribute("lat", "units", "degrees_north")
	if fx.latBounds != nil {
		h.AddAttribute("lat", "bounds", "lat_bnds")
		h.AddVariable("lat_bnds", []string{"lat", "bnds"}, []float64{0})
	}
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", "standard_name", "longitude")
	h.AddAttribute("lon", "units", "degrees_east")
	if fx.lonBounds != nil {
		h.AddAttribute("lon", "bounds", "lon_bnds")
		h.AddVariable("lon_bnds", []string{"lon", "bnds"}, []float64{0})
	}
	h.AddVariable(fx.variable, []string{"time", "lat", "lon"}, []float32{0})
	h.AddAttribute(fx.variable, "units", "W m-2")
	h.AddAttribute(fx.variable, "_FillValue", []float32{fixtureFill})
	h.Define()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	ff, err := cdf.Create(f, h)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]float32, 0, nt*ny*nx)
	for k := 0; k < nt; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				v := fx.value(k, j, i)
				if math.IsNaN(v) {
					v = fixtureFill
				}
				data = append(data, float32(v))
			}
		}
	}
	type ncVar struct {
		name string
		data interface{}
	}
	vars := []ncVar{
		{"lat", fx.lats},
		{"lon", fx.lons},
		{"time", fx.times},
		{fx.variable, data},
	}
	if fx.latBounds != nil {
		vars = append(vars, ncVar{"lat_bnds", flattenBounds(fx.latBounds)})
	}
	if fx.lonBounds != nil {
		vars = append(vars, ncVar{"lon_bnds", flattenBounds(fx.lonBounds)})
	}
	if fx.timeBounds != nil {
		vars = append(vars, ncVar{"time_bnds", flattenBounds(fx.timeBounds)})
	}
	for _, v := range vars {
		var start, end []int
		if !h.IsRecordVariable(v.name) {
			end = h.Lengths(v.name)
			start = make([]int, len(end))
		}
		if _, err := ff.Writer(v.name, start, end).Write(v.data); err != nil {
			t.Fatalf("writing %s: %v", v.name, err)
		}
	}
	if err := cdf.UpdateNumRecs(f); err != nil {
		t.Fatal(err)
	}
}

// archivePath returns the path of a file in an archive below root.
func archivePath(root, model, experiment, run, variable, file string) string {
	return filepath.Join(root, model, experiment, run, "Amon", variable, "gn", file)
}
