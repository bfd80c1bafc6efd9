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
)

// Pixel is a single satellite observation.
type Pixel struct {
	Lon, Lat float64
	Value    float64
}

// Bins accumulates pixel values by nearest grid cell.
type Bins struct {
	Grid *Grid

	// Sum and Count hold the sum of the values and the number of
	// pixels assigned to each cell.
	Sum, Count []float64
}

// NewBins returns an empty accumulator for grid g.
func NewBins(g *Grid) *Bins {
	return &Bins{
		Grid:  g,
		Sum:   make([]float64, g.Len()),
		Count: make([]float64, g.Len()),
	}
}

// Add assigns p to its nearest cell. Pixels with a NaN coordinate
// or value are ignored and Add returns false.
func (b *Bins) Add(p Pixel) bool {
	if math.IsNaN(p.Value) {
		return false
	}
	c, ok := b.Grid.CellIndex(p.Lon, p.Lat)
	if !ok {
		return false
	}
	b.Sum[c] += p.Value
	b.Count[c]++
	return true
}

// Bin assigns each of the pixels to its nearest cell of g.
func Bin(g *Grid, pixels []Pixel) *Bins {
	b := NewBins(g)
	for _, p := range pixels {
		b.Add(p)
	}
	return b
}

// BinByClass bins the pixels separately for each class, where class
// returns a number in [0, nclass) for each pixel. Pixels whose class
// is out of range are ignored.
func BinByClass(g *Grid, pixels []Pixel, nclass int, class func(Pixel) int) []*Bins {
	o := make([]*Bins, nclass)
	for k := range o {
		o[k] = NewBins(g)
	}
	for _, p := range pixels {
		k := class(p)
		if k < 0 || k >= nclass {
			continue
		}
		o[k].Add(p)
	}
	return o
}

// Cells returns the indices of the cells that hold at least one pixel,
// in ascending order.
func (b *Bins) Cells() []int {
	var o []int
	for c, n := range b.Count {
		if n > 0 {
			o = append(o, c)
		}
	}
	return o
}

// Mean returns the mean pixel value in each cell, or NaN for cells
// without pixels.
func (b *Bins) Mean() []float64 {
	o := make([]float64, len(b.Sum))
	for c, n := range b.Count {
		if n > 0 {
			o[c] = b.Sum[c] / n
		} else {
			o[c] = math.NaN()
		}
	}
	return o
}

// Total returns the number of pixels that have been binned.
func (b *Bins) Total() float64 {
	var t float64
	for _, n := range b.Count {
		t += n
	}
	return t
}

// Merge adds the contents of b2 to b.
func (b *Bins) Merge(b2 *Bins) error {
	if err := b.Grid.SameShape(b2.Grid); err != nil {
		return fmt.Errorf("no2obs: merging bins: %v", err)
	}
	for c := range b.Sum {
		b.Sum[c] += b2.Sum[c]
		b.Count[c] += b2.Count[c]
	}
	return nil
}
