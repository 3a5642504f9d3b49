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
	"strconv"

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/stat"
)

// GuessBounds returns cell bounds for c halfway between neighbouring
// points, with the outer cells extended by half the neighbouring
// spacing. Latitude bounds are clipped to [-90, 90] when every point is
// within that range.
func GuessBounds(c *Coord, latitude bool) ([][2]float64, error) {
	n := len(c.Points)
	if n < 2 {
		return nil, fmt.Errorf("ebudget: cannot guess bounds of %s with %d points", c.Name, n)
	}
	b := make([][2]float64, n)
	for i := 0; i < n-1; i++ {
		mid := c.Points[i] + (c.Points[i+1]-c.Points[i])/2
		b[i][1] = mid
		b[i+1][0] = mid
	}
	b[0][0] = c.Points[0] - (c.Points[1]-c.Points[0])/2
	b[n-1][1] = c.Points[n-1] + (c.Points[n-1]-c.Points[n-2])/2
	if latitude {
		inRange := true
		for _, p := range c.Points {
			inRange = inRange && p >= -90 && p <= 90
		}
		if inRange {
			for i := range b {
				b[i][0] = math.Max(-90, math.Min(90, b[i][0]))
				b[i][1] = math.Max(-90, math.Min(90, b[i][1]))
			}
		}
	}
	return b, nil
}

// EnsureHorizontalBounds returns a copy of c whose latitude and
// longitude have bounds, guessing them where they are absent.
func EnsureHorizontalBounds(c *Cube) (*Cube, error) {
	o := withCoords(c)
	var err error
	if !o.Lon.HasBounds() {
		if o.Lon.Bounds, err = GuessBounds(o.Lon, false); err != nil {
			return nil, err
		}
		o.Lon.BoundsKind = Float
	}
	if !o.Lat.HasBounds() {
		if o.Lat.Bounds, err = GuessBounds(o.Lat, true); err != nil {
			return nil, err
		}
		o.Lat.BoundsKind = Float
	}
	return o, nil
}

// AreaWeights returns, for each horizontal cell in latitude-major order,
// the fraction of the sphere's surface the cell covers. Cells are
// projected to a cylindrical equal-area plane (longitude in radians
// against the sine of latitude), where area is proportional to surface
// area. Latitude and longitude must have bounds in degrees.
func AreaWeights(c *Cube) ([]float64, error) {
	if !c.Lat.HasBounds() || !c.Lon.HasBounds() {
		return nil, fmt.Errorf("ebudget: area weights of %s need latitude and longitude bounds", c.Name)
	}
	const deg = math.Pi / 180
	ny, nx := len(c.Lat.Points), len(c.Lon.Points)
	w := make([]float64, ny*nx)
	for j, lb := range c.Lat.Bounds {
		y0, y1 := math.Sin(lb[0]*deg), math.Sin(lb[1]*deg)
		for i, xb := range c.Lon.Bounds {
			x0, x1 := xb[0]*deg, xb[1]*deg
			cell := geom.Polygon{{
				{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1},
			}}
			w[j*nx+i] = cell.Area() / (4 * math.Pi)
		}
	}
	return w, nil
}

// SpatialMean returns the weighted mean over the horizontal grid at each
// time. Missing cells are excluded. The mean is taken about the first
// valid value so that a uniform field returns that value exactly.
func SpatialMean(c *Cube, weights []float64) ([]float64, error) {
	nt, ny, nx := c.Shape()
	if len(weights) != ny*nx {
		return nil, fmt.Errorf("ebudget: %d weights for %d cells", len(weights), ny*nx)
	}
	means := make([]float64, nt)
	x := make([]float64, 0, ny*nx)
	w := make([]float64, 0, ny*nx)
	for t := range means {
		x, w = x[:0], w[:0]
		for i, v := range c.Slice(t) {
			if math.IsNaN(v) {
				continue
			}
			x = append(x, v)
			w = append(w, weights[i])
		}
		if len(x) == 0 {
			means[t] = math.NaN()
			continue
		}
		x0 := x[0]
		for i := range x {
			x[i] -= x0
		}
		means[t] = x0 + stat.Mean(x, w)
	}
	return means, nil
}

// Point is one annual value.
type Point struct {
	Year  int
	Label string
	Value float64

	// Time is the midpoint of Bounds, in the units of the series.
	Time   float64
	Bounds [2]float64
}

// Series is the annual time series of one variable.
type Series struct {
	Variable string

	// TimeUnits and Calendar describe Point.Time.
	TimeUnits string
	Calendar  string

	Points []Point
}

// Years returns the year of each point.
func (s *Series) Years() []int {
	y := make([]int, len(s.Points))
	for i, p := range s.Points {
		y[i] = p.Year
	}
	return y
}

// Values returns the value of each point.
func (s *Series) Values() []float64 {
	v := make([]float64, len(s.Points))
	for i, p := range s.Points {
		v[i] = p.Value
	}
	return v
}

// Coord returns the time coordinate of s.
func (s *Series) Coord() *Coord {
	c := &Coord{Name: "time", StandardName: "time", Units: s.TimeUnits, Calendar: s.Calendar}
	c.Points = make([]float64, len(s.Points))
	c.Bounds = make([][2]float64, len(s.Points))
	for i, p := range s.Points {
		c.Points[i] = p.Time
		c.Bounds[i] = p.Bounds
	}
	return c
}

// AnnualMean groups values by the calendar year of their time point
// and returns the unweighted mean of each year. If dropPartial is true,
// years with fewer values than the most common number per year are
// left out.
func AnnualMean(variable string, time *Coord, values []float64, label TimeLabel, dropPartial bool) (*Series, error) {
	if len(values) != len(time.Points) {
		return nil, fmt.Errorf("ebudget: %s has %d values for %d times", variable, len(values), len(time.Points))
	}
	u, err := time.TimeUnits()
	if err != nil {
		return nil, fmt.Errorf("ebudget: %s time units: %v", variable, err)
	}
	s := &Series{Variable: variable, TimeUnits: time.Units, Calendar: time.Calendar}
	type group struct {
		year       int
		start, end int
	}
	var groups []group
	for i, p := range time.Points {
		y := u.Year(p)
		if len(groups) > 0 && groups[len(groups)-1].year == y {
			groups[len(groups)-1].end = i + 1
			continue
		}
		for _, g := range groups {
			if g.year == y {
				return nil, fmt.Errorf("ebudget: %s time points are not in order", variable)
			}
		}
		groups = append(groups, group{year: y, start: i, end: i + 1})
	}

	minCount := 0
	if dropPartial {
		counts := make(map[int]int)
		mode := 0
		for _, g := range groups {
			n := g.end - g.start
			counts[n]++
			if counts[n] > counts[mode] || (counts[n] == counts[mode] && n > mode) {
				mode = n
			}
		}
		minCount = mode
	}

	for _, g := range groups {
		if g.end-g.start < minCount {
			continue
		}
		var b [2]float64
		if time.HasBounds() {
			b = [2]float64{time.Bounds[g.start][0], time.Bounds[g.end-1][1]}
		} else {
			b = [2]float64{time.Points[g.start], time.Points[g.end-1]}
		}
		mid := b[0] + (b[1]-b[0])/2
		p := Point{
			Year:   g.year,
			Value:  stat.Mean(values[g.start:g.end], nil),
			Time:   mid,
			Bounds: b,
		}
		if label == DateLabel {
			p.Label = u.Date(mid).String()
		} else {
			p.Label = strconv.Itoa(g.year)
		}
		s.Points = append(s.Points, p)
	}
	return s, nil
}
