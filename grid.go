/*
Copyright © 2020 the no2obs authors.
This file is part of no2obs.

no2obs is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

no2obs is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with no2obs.  If not, see <http://www.gnu.org/licenses/>.
*/

package no2obs

import (
	"fmt"
	"math"
	"sort"
)

type axisOrder int

const (
	unordered axisOrder = iota
	ascending
	descending
)

// Axis holds the cell-center coordinates along one grid dimension,
// in degrees.
type Axis struct {
	Values []float64
	order  axisOrder
}

// NewAxis creates an axis from the given cell centers.
func NewAxis(values []float64) Axis {
	a := Axis{Values: values}
	up, down := true, true
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			up = false
		}
		if values[i] > values[i-1] {
			down = false
		}
	}
	switch {
	case up:
		a.order = ascending
	case down:
		a.order = descending
	}
	return a
}

// Len returns the number of cells along the axis.
func (a Axis) Len() int { return len(a.Values) }

// Nearest returns the index of the cell center closest to v.
// When v is exactly half way between two centers the lower index
// is returned, and values outside of the axis map to the closest
// end cell. Longitudes are not wrapped. Nearest returns -1 if v is NaN
// or the axis is empty.
func (a Axis) Nearest(v float64) int {
	n := len(a.Values)
	if n == 0 || math.IsNaN(v) {
		return -1
	}
	var i int
	switch a.order {
	case ascending:
		i = sort.SearchFloat64s(a.Values, v)
		switch {
		case i == 0:
		case i == n:
			i = n - 1
		case v-a.Values[i-1] <= a.Values[i]-v:
			i--
		}
	case descending:
		i = sort.Search(n, func(k int) bool { return a.Values[k] <= v })
		switch {
		case i == 0:
		case i == n:
			i = n - 1
		case a.Values[i-1]-v <= v-a.Values[i]:
			i--
		}
	default:
		best := math.Inf(1)
		for k, c := range a.Values {
			if d := math.Abs(c - v); d < best {
				best, i = d, k
			}
		}
		return i
	}
	// Repeated centers resolve to the first occurrence.
	for i > 0 && a.Values[i-1] == a.Values[i] {
		i--
	}
	return i
}

// spacing returns the absolute distance between the first two centers.
func (a Axis) spacing() float64 {
	if len(a.Values) < 2 {
		return 0
	}
	return math.Abs(a.Values[1] - a.Values[0])
}

// Grid is a regular or irregular latitude-longitude grid. Cells are
// numbered in row-major order with latitude as the outer dimension,
// so cell c = j*Nx + i for longitude index i and latitude index j.
type Grid struct {
	Lon, Lat Axis
}

// NewGrid creates a grid from longitude and latitude cell centers.
func NewGrid(lon, lat []float64) (*Grid, error) {
	if len(lon) == 0 || len(lat) == 0 {
		return nil, fmt.Errorf("no2obs: grid needs at least one longitude and latitude (have %d and %d)",
			len(lon), len(lat))
	}
	return &Grid{Lon: NewAxis(lon), Lat: NewAxis(lat)}, nil
}

// Nx returns the number of longitude cells.
func (g *Grid) Nx() int { return g.Lon.Len() }

// Ny returns the number of latitude cells.
func (g *Grid) Ny() int { return g.Lat.Len() }

// Len returns the total number of cells.
func (g *Grid) Len() int { return g.Nx() * g.Ny() }

// CellIndex returns the index of the cell whose center is nearest to
// the given location. ok is false if either coordinate is NaN.
func (g *Grid) CellIndex(lon, lat float64) (c int, ok bool) {
	i := g.Lon.Nearest(lon)
	j := g.Lat.Nearest(lat)
	if i < 0 || j < 0 {
		return -1, false
	}
	return j*g.Nx() + i, true
}

// Split returns the longitude and latitude indices of cell c.
func (g *Grid) Split(c int) (i, j int) {
	return c % g.Nx(), c / g.Nx()
}

// Center returns the coordinates of the center of cell c.
func (g *Grid) Center(c int) (lon, lat float64) {
	i, j := g.Split(c)
	return g.Lon.Values[i], g.Lat.Values[j]
}

// Spacing returns the longitude and latitude cell sizes, taken from
// the first two centers of each axis.
func (g *Grid) Spacing() (dlon, dlat float64) {
	return g.Lon.spacing(), g.Lat.spacing()
}

// SameShape returns an error if g and g2 do not have the same
// number of cells in each direction.
func (g *Grid) SameShape(g2 *Grid) error {
	if g.Nx() != g2.Nx() || g.Ny() != g2.Ny() {
		return fmt.Errorf("no2obs: grid shapes differ: %dx%d != %dx%d",
			g.Ny(), g.Nx(), g2.Ny(), g2.Nx())
	}
	return nil
}
