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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	// Output formats.
	_ "gonum.org/v1/plot/vg/vgimg"
	_ "gonum.org/v1/plot/vg/vgpdf"
	_ "gonum.org/v1/plot/vg/vgsvg"
)

// Scale factor maps are colored over this range, with values outside
// of it drawn in the end colors.
const (
	ColorMin = 0.0
	ColorMax = 2.0
)

const colorBarHeight = 0.6 * vg.Inch

// fieldGrid presents a gridded field as a plotter.GridXYZ, with the
// columns and rows sorted so that longitude and latitude increase.
type fieldGrid struct {
	g      *Grid
	vals   []float64
	xi, yj []int
}

func newFieldGrid(g *Grid, vals []float64) *fieldGrid {
	return &fieldGrid{
		g:    g,
		vals: vals,
		xi:   increasingOrder(g.Lon.Values),
		yj:   increasingOrder(g.Lat.Values),
	}
}

func increasingOrder(v []float64) []int {
	o := make([]int, len(v))
	for i := range o {
		o[i] = i
	}
	sort.SliceStable(o, func(a, b int) bool { return v[o[a]] < v[o[b]] })
	return o
}

func (f *fieldGrid) Dims() (c, r int) { return len(f.xi), len(f.yj) }
func (f *fieldGrid) Z(c, r int) float64 {
	return f.vals[f.yj[r]*f.g.Nx()+f.xi[c]]
}
func (f *fieldGrid) X(c int) float64 { return f.g.Lon.Values[f.xi[c]] }
func (f *fieldGrid) Y(r int) float64 { return f.g.Lat.Values[f.yj[r]] }

// scaleColors returns the blue-white-red color map used for scale
// factors.
func scaleColors() palette.ColorMap {
	cm := moreland.SmoothBlueRed()
	cm.SetMin(ColorMin)
	cm.SetMax(ColorMax)
	return cm
}

// MapPlot returns a plot showing vals, which are on grid g, as a heat
// map. NaN values are not drawn.
func MapPlot(title string, g *Grid, vals []float64) (*plot.Plot, error) {
	if len(vals) != g.Len() {
		return nil, fmt.Errorf("no2obs: plotting %d values on a grid with %d cells", len(vals), g.Len())
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"
	pal := scaleColors().Palette(255)
	colors := pal.Colors()
	h := plotter.NewHeatMap(newFieldGrid(g, vals), pal)
	h.Min, h.Max = ColorMin, ColorMax
	h.Underflow = colors[0]
	h.Overflow = colors[len(colors)-1]
	p.Add(h)
	return p, nil
}

// ColorBarPlot returns a horizontal color bar for the scale factor
// color map.
func ColorBarPlot(label string) *plot.Plot {
	p := plot.New()
	p.HideY()
	p.X.Label.Text = label
	p.Add(colorSteps{cm: scaleColors(), n: 64})
	return p
}

// colorSteps draws a color map as a row of filled rectangles. Unlike
// plotter.ColorBar it draws no image, so it can be written to any
// output format.
type colorSteps struct {
	cm palette.ColorMap
	n  int
}

func (s colorSteps) Plot(c draw.Canvas, p *plot.Plot) {
	trX, trY := p.Transforms(&c)
	d := (s.cm.Max() - s.cm.Min()) / float64(s.n)
	for i := 0; i < s.n; i++ {
		x0 := s.cm.Min() + float64(i)*d
		x1 := x0 + d
		col, err := s.cm.At(x0 + d/2)
		if err != nil {
			continue
		}
		pts := []vg.Point{
			{X: trX(x0), Y: trY(0)},
			{X: trX(x1), Y: trY(0)},
			{X: trX(x1), Y: trY(1)},
			{X: trX(x0), Y: trY(1)},
		}
		c.FillPolygon(col, c.ClipPolygonXY(pts))
	}
}

func (s colorSteps) DataRange() (xmin, xmax, ymin, ymax float64) {
	return s.cm.Min(), s.cm.Max(), 0, 1
}

// SavePanels arranges the panels in rows of ncol, adds a color bar
// below them and a title above, and writes the figure to file. The
// file format is chosen by the file extension. Nil panels are left
// blank.
func SavePanels(file, title string, panels []*plot.Plot, ncol int, colorBar *plot.Plot, w, h vg.Length) error {
	if ncol <= 0 {
		return fmt.Errorf("no2obs: invalid number of panel columns %d", ncol)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(file)), ".")
	c, err := draw.NewFormattedCanvas(w, h, format)
	if err != nil {
		return fmt.Errorf("no2obs: saving %s: %v", file, err)
	}
	dc := draw.New(c)

	var titleHeight vg.Length
	if title != "" {
		sty := plot.New().Title.TextStyle
		sty.Font.Size = 16
		titleHeight = sty.Height(title) + 0.1*vg.Inch
		dc.FillText(sty, vg.Point{X: dc.Center().X, Y: dc.Max.Y}, title)
	}
	var barHeight vg.Length
	if colorBar != nil {
		barHeight = colorBarHeight
		colorBar.Draw(draw.Crop(dc, w/4, -w/4, 0, barHeight-h))
	}

	nrow := (len(panels) + ncol - 1) / ncol
	if nrow > 0 {
		rows := make([][]*plot.Plot, nrow)
		for j := range rows {
			rows[j] = make([]*plot.Plot, ncol)
			for i := range rows[j] {
				if k := j*ncol + i; k < len(panels) {
					rows[j][i] = panels[k]
				}
			}
		}
		tiles := draw.Tiles{
			Rows: nrow,
			Cols: ncol,
			PadX: 0.1 * vg.Inch,
			PadY: 0.1 * vg.Inch,
		}
		canvases := plot.Align(rows, tiles, draw.Crop(dc, 0, 0, barHeight, -titleHeight))
		for j := range rows {
			for i, p := range rows[j] {
				if p != nil {
					p.Draw(canvases[j][i])
				}
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return err
	}
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("no2obs: saving figure: %v", err)
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("no2obs: saving %s: %v", file, err)
	}
	return f.Close()
}

// PlotScaleFactorMap writes a map of the first time step of the named
// variable in ds to file.
func PlotScaleFactorMap(ds *Dataset, variable string, date time.Time, file string) error {
	_, g, err := ds.GridVar(variable)
	if err != nil {
		return err
	}
	vals, err := ds.Field2D(variable, 0, 0)
	if err != nil {
		return err
	}
	p, err := MapPlot("", g, vals)
	if err != nil {
		return err
	}
	return SavePanels(file, date.Format("2006-01-02"), []*plot.Plot{p}, 1,
		ColorBarPlot("Emission scale factor"), 6*vg.Inch, 3.5*vg.Inch)
}
