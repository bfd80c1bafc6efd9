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
	"context"
	"encoding/csv"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Region is an area over which scale factors are averaged.
// West, East, South and North are the edges of the area in degrees.
// If West equals East or South equals North, the region is a point
// and the value of the nearest grid cell is used. If Polygon is set,
// it names a GeoJSON file holding a polygon, and the region is made
// up of the grid cells whose centers are within the polygon.
type Region struct {
	Name                     string
	West, East, South, North float64
	Polygon                  string

	poly geom.Polygon
}

// DefaultRegions returns the cities plotted when no region file is
// given.
func DefaultRegions() []Region {
	return []Region{
		{Name: "Wuhan, China", West: 114.24, East: 114.25, South: 30.6, North: 30.6},
		{Name: "Paris, France", West: 2.35, East: 2.35, South: 48.8, North: 48.8},
		{Name: "Washington DC, USA", West: -77, East: -77, South: 38.9, North: 38.9},
	}
}

// LoadRegions reads regions from a TOML file with one [[Region]]
// table per region.
func LoadRegions(path string) ([]Region, error) {
	var f struct {
		Region []Region
	}
	if _, err := toml.DecodeFile(os.ExpandEnv(path), &f); err != nil {
		return nil, fmt.Errorf("no2obs: reading region file: %v", err)
	}
	if len(f.Region) == 0 {
		return nil, fmt.Errorf("no2obs: no regions in %s", path)
	}
	for i := range f.Region {
		r := &f.Region[i]
		if r.Name == "" {
			return nil, fmt.Errorf("no2obs: region %d in %s has no name", i, path)
		}
		if r.Polygon == "" {
			continue
		}
		p := r.Polygon
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(path), p)
		}
		poly, err := parsePolygon(p)
		if err != nil {
			return nil, fmt.Errorf("no2obs: region %s: %v", r.Name, err)
		}
		r.poly = poly
	}
	return f.Region, nil
}

// parsePolygon reads a polygon or multipolygon from a GeoJSON file.
func parsePolygon(path string) (geom.Polygon, error) {
	b, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("reading polygon file: %w", err)
	}
	j, err := geojson.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("decoding polygon file %s: %w", path, err)
	}
	switch p := j.(type) {
	case geom.Polygon:
		return p, nil
	case geom.MultiPolygon:
		var o geom.Polygon
		for _, pp := range p {
			o = append(o, pp...)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("invalid polygon geometry type %T in %s", j, path)
	}
}

// Value returns the value of the region for field vals on grid g.
// For areas it is the mean of the cells in the region, ignoring NaN
// values. It is NaN if no cell has a value.
func (r *Region) Value(g *Grid, vals []float64) float64 {
	if r.poly == nil && (r.West == r.East || r.South == r.North) {
		c, ok := g.CellIndex(r.West, r.South)
		if !ok {
			return math.NaN()
		}
		return vals[c]
	}
	w, e := math.Min(r.West, r.East), math.Max(r.West, r.East)
	s, n := math.Min(r.South, r.North), math.Max(r.South, r.North)
	if r.poly != nil {
		b := r.poly.Bounds()
		w, e, s, n = b.Min.X, b.Max.X, b.Min.Y, b.Max.Y
	}
	var in []float64
	for c, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		lon, lat := g.Center(c)
		if lon < w || lon > e || lat < s || lat > n {
			continue
		}
		if r.poly != nil && (geom.Point{X: lon, Y: lat}).Within(r.poly) == geom.Outside {
			continue
		}
		in = append(in, v)
	}
	if len(in) == 0 {
		return math.NaN()
	}
	return stat.Mean(in, nil)
}

// TrendSeries holds daily region values. Values[i][k] is the value
// of region i on date k.
type TrendSeries struct {
	Names  []string
	Dates  []time.Time
	Values [][]float64
}

// TrendConfig holds the settings for scale factor time series.
type TrendConfig struct {
	// Input is the date template for the scale factor files.
	Input    string
	Variable string

	// Series start on January 1 of Year1 and end on December 31 of
	// Year2.
	Year1, Year2 int

	// Resample is the number of days averaged together in the
	// plot. Zero or one means no averaging.
	Resample int

	Regions []Region

	Log logrus.FieldLogger
}

// DefaultTrendConfig returns the default time series settings.
func DefaultTrendConfig() *TrendConfig {
	return &TrendConfig{
		Input:    "nc/%Y/omiscal_2x2.5_%Y%m%d.nc",
		Variable: "scal",
		Year1:    2018,
		Year2:    2020,
		Resample: 14,
		Regions:  DefaultRegions(),
	}
}

// ParseResample parses a resampling period such as "14D" or "7" into
// a number of days. An empty string or "none" means no resampling.
func ParseResample(s string) (int, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "NONE" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, "D"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("no2obs: invalid resampling period %q: need a number of days like 14D", s)
	}
	return n, nil
}

// ReadTrend reads the daily scale factor files and returns the value
// of each region on each day that has a file.
func ReadTrend(ctx context.Context, cfg *TrendConfig) (*TrendSeries, error) {
	log := logger(cfg.Log)
	s := &TrendSeries{Values: make([][]float64, len(cfg.Regions))}
	for _, r := range cfg.Regions {
		s.Names = append(s.Names, r.Name)
	}
	start := time.Date(cfg.Year1, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(cfg.Year2+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	for _, d := range days(start, end) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ifile, err := DatePath(cfg.Input, d)
		if err != nil {
			return nil, err
		}
		if !fileExists(ifile) {
			log.WithField("file", ifile).Debug("file does not exist, skipping")
			continue
		}
		log.WithField("file", ifile).Info("reading")
		ds, err := ReadDataset(ifile)
		if err != nil {
			return nil, err
		}
		_, g, err := ds.GridVar(cfg.Variable)
		if err != nil {
			return nil, fmt.Errorf("no2obs: %s: %v", ifile, err)
		}
		vals, err := ds.Field2D(cfg.Variable, 0, 0)
		if err != nil {
			return nil, err
		}
		s.Dates = append(s.Dates, d)
		for i := range cfg.Regions {
			s.Values[i] = append(s.Values[i], cfg.Regions[i].Value(g, vals))
		}
	}
	return s, nil
}

// Resample returns a series of means over consecutive periods of n
// days, starting at the first date. Each period is labelled with its
// first day. Periods without values are NaN.
func (s *TrendSeries) Resample(n int) *TrendSeries {
	if n <= 1 || len(s.Dates) == 0 {
		return s
	}
	o := &TrendSeries{
		Names:  s.Names,
		Values: make([][]float64, len(s.Values)),
	}
	first := s.Dates[0]
	last := s.Dates[len(s.Dates)-1]
	nbins := int(last.Sub(first).Hours()/24)/n + 1
	sum := make([][]float64, len(s.Values))
	cnt := make([][]float64, len(s.Values))
	for i := range s.Values {
		sum[i] = make([]float64, nbins)
		cnt[i] = make([]float64, nbins)
	}
	for k, d := range s.Dates {
		b := int(d.Sub(first).Hours()/24) / n
		for i := range s.Values {
			if v := s.Values[i][k]; !math.IsNaN(v) {
				sum[i][b] += v
				cnt[i][b]++
			}
		}
	}
	for b := 0; b < nbins; b++ {
		o.Dates = append(o.Dates, first.AddDate(0, 0, b*n))
	}
	for i := range s.Values {
		o.Values[i] = make([]float64, nbins)
		for b := range o.Values[i] {
			if cnt[i][b] > 0 {
				o.Values[i][b] = sum[i][b] / cnt[i][b]
			} else {
				o.Values[i][b] = math.NaN()
			}
		}
	}
	return o
}

var trendColors = []color.Color{
	color.RGBA{R: 255, G: 165, A: 255}, // orange
	color.RGBA{B: 255, A: 255},
	color.RGBA{R: 255, A: 255},
}

// Plot draws one line per region and a dotted reference line at one,
// and saves the figure to file. The format is chosen from the file
// extension.
func (s *TrendSeries) Plot(file, title string) error {
	if len(s.Dates) == 0 {
		return fmt.Errorf("no2obs: no data to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "Scale factor"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01"}
	p.Legend.Top = true
	for i, name := range s.Names {
		var xys plotter.XYs
		for k, d := range s.Dates {
			if v := s.Values[i][k]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				xys = append(xys, plotter.XY{X: float64(d.Unix()), Y: v})
			}
		}
		if len(xys) == 0 {
			continue
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return err
		}
		if i < len(trendColors) {
			l.Color = trendColors[i]
		} else {
			l.Color = plotutil.Color(i)
		}
		p.Add(l)
		p.Legend.Add(name, l)
	}
	ref := plotter.NewFunction(func(float64) float64 { return 1 })
	ref.Color = color.Black
	ref.Width = vg.Points(1)
	ref.Dashes = []vg.Length{vg.Points(1), vg.Points(2)}
	p.Add(ref)

	first, last := s.Dates[0], s.Dates[len(s.Dates)-1]
	p.X.Min = float64(time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, time.UTC).Unix())
	p.X.Max = float64(time.Date(last.Year(), last.Month()+1, 1, 0, 0, 0, 0, time.UTC).Unix())

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return err
	}
	return p.Save(12*vg.Inch, 4*vg.Inch, file)
}

// WriteCSV writes the series as comma-separated values with a date
// column and one column per region.
func (s *TrendSeries) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"date"}, s.Names...)); err != nil {
		return err
	}
	for k, d := range s.Dates {
		row := []string{d.Format("2006-01-02")}
		for i := range s.Names {
			row = append(row, strconv.FormatFloat(s.Values[i][k], 'g', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// PlotTrend reads the scale factor time series for the configured
// regions and plots it to file.
func PlotTrend(ctx context.Context, cfg *TrendConfig, file string) (*TrendSeries, error) {
	s, err := ReadTrend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	title := "Emissions scale factor"
	if cfg.Resample > 1 {
		s = s.Resample(cfg.Resample)
		title = fmt.Sprintf("Emissions scale factor (%dD moving average)", cfg.Resample)
	}
	if err := s.Plot(file, title); err != nil {
		return nil, err
	}
	logger(cfg.Log).WithField("file", file).Info("figure saved")
	return s, nil
}
