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
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Methods for combining the gridded values of several swath files.
const (
	// CombineSum adds the cell means of each file together.
	CombineSum = "sum"
	// CombineMean averages the cell means of the files that
	// observed each cell.
	CombineMean = "mean"
)

// SwathFields holds the variable names read from a swath file.
type SwathFields struct {
	NO2, Flag, Albedo string
	Lat, Lon          string
}

// Map2GridConfig holds the settings for gridding one day of DOMINO
// swath files.
type Map2GridConfig struct {
	// Date is the analysis date.
	Date time.Time

	// Template is a gridded file that sets the output grid and
	// holds the output variable.
	Template string

	// Variable is the name of the output variable in Template.
	Variable string

	// Input is a strftime glob pattern matching the swath files
	// for Date.
	Input string

	// RowsSkip is the number of across-track rows to drop at the
	// first edge of the swath. One fewer row is dropped at the other
	// edge.
	RowsSkip int

	// Combine is CombineSum or CombineMean.
	Combine string

	// DataGroup and GeoGroup are the HDF5 groups holding the data
	// and geolocation fields.
	DataGroup, GeoGroup string

	Fields SwathFields

	// Pixels are kept when their albedo times AlbedoScale is less
	// than MaxAlbedo.
	AlbedoScale, MaxAlbedo float64

	// Concurrency is the maximum number of files read at once.
	// Zero means the number of CPUs.
	Concurrency int

	Log     logrus.FieldLogger
	Metrics *Metrics
}

// DefaultMap2GridConfig returns the settings for DOMINO v2 files.
func DefaultMap2GridConfig() *Map2GridConfig {
	return &Map2GridConfig{
		Variable:  "TroposphericNO2",
		Input:     "he5/%Y/%Y%m%d/*.he5",
		Combine:   CombineSum,
		DataGroup: "HDFEOS/SWATHS/DominoNO2/Data Fields",
		GeoGroup:  "HDFEOS/SWATHS/DominoNO2/Geolocation Fields",
		Fields: SwathFields{
			NO2:    "TroposphericVerticalColumn",
			Flag:   "TroposphericColumnFlag",
			Albedo: "SurfaceAlbedo",
			Lat:    "Latitude",
			Lon:    "Longitude",
		},
		AlbedoScale: 1.0e-4,
		MaxAlbedo:   0.3,
	}
}

// Map2Grid grids the swath files for one day onto the template grid.
// Each file contributes the mean of its valid pixels in every cell it
// observes. Files that cannot be read are skipped with a warning.
func Map2Grid(ctx context.Context, cfg *Map2GridConfig) (*Dataset, error) {
	log := logger(cfg.Log)
	if cfg.Combine != CombineSum && cfg.Combine != CombineMean {
		return nil, fmt.Errorf("no2obs: invalid combine method %q; valid methods are %q and %q",
			cfg.Combine, CombineSum, CombineMean)
	}
	tmpl, err := ReadDataset(cfg.Template)
	if err != nil {
		return nil, err
	}
	out := tmpl.Clone()
	v, grid, err := out.GridVar(cfg.Variable)
	if err != nil {
		return nil, fmt.Errorf("no2obs: template %s: %v", cfg.Template, err)
	}
	for i := range v.Data.Elements {
		v.Data.Elements[i] = 0
	}

	files, err := DateGlob(cfg.Input, cfg.Date)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		log.WithField("pattern", cfg.Input).Warn("no swath files found")
	}

	bins := make([]*Bins, len(files))
	g, ctx := errgroup.WithContext(ctx)
	n := cfg.Concurrency
	if n <= 0 {
		n = runtime.GOMAXPROCS(-1)
	}
	g.SetLimit(n)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			log.WithField("file", f).Info("reading swath file")
			pixels, total, err := cfg.ReadPixels(f)
			if err != nil {
				log.WithError(err).WithField("file", f).Warn("skipping swath file")
				cfg.Metrics.fileSkipped()
				return nil
			}
			log.WithFields(logrus.Fields{
				"file":  f,
				"valid": len(pixels),
				"total": total,
			}).Debug("filtered pixels")
			cfg.Metrics.fileRead()
			cfg.Metrics.pixels(total, len(pixels))
			bins[i] = Bin(grid, pixels)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	field := combineFiles(bins, grid.Len(), cfg.Combine)
	filled := 0
	for _, val := range field {
		if val != 0 {
			filled++
		}
	}
	cfg.Metrics.cellsFilled(filled)
	if err := v.SetSlab(field); err != nil {
		return nil, err
	}
	if err := out.SetTime(0, "hours since "+cfg.Date.Format("2006-01-02 15:04:05")); err != nil {
		return nil, err
	}
	out.Attrs["History"] = history("map2grid")
	out.Attrs["history"] = ""
	out.Attrs["Author"] = Author
	return out, nil
}

// combineFiles folds the per-file cell means together in file order.
func combineFiles(bins []*Bins, n int, method string) []float64 {
	field := make([]float64, n)
	nfiles := make([]float64, n)
	for _, b := range bins {
		if b == nil {
			continue
		}
		mean := b.Mean()
		for _, c := range b.Cells() {
			field[c] += mean[c]
			nfiles[c]++
		}
	}
	if method == CombineMean {
		for c, k := range nfiles {
			if k > 0 {
				field[c] /= k
			}
		}
	}
	return field
}

// ReadPixels reads a swath file and returns the pixels that pass the
// quality filters, along with the number of pixels considered.
// A pixel is kept when its tropospheric column flag is zero, its
// scaled surface albedo is below the limit (missing albedo counts as
// zero), and its NO2 column is positive.
func (cfg *Map2GridConfig) ReadPixels(path string) (pixels []Pixel, total int, err error) {
	src, err := openFields(path)
	if err != nil {
		return nil, 0, err
	}
	defer src.Close()

	var flds [5]*Field
	for i, r := range []struct{ group, name string }{
		{cfg.DataGroup, cfg.Fields.NO2},
		{cfg.DataGroup, cfg.Fields.Flag},
		{cfg.DataGroup, cfg.Fields.Albedo},
		{cfg.GeoGroup, cfg.Fields.Lat},
		{cfg.GeoGroup, cfg.Fields.Lon},
	} {
		flds[i], err = src.Field(r.group, r.name)
		if err != nil {
			return nil, 0, fmt.Errorf("no2obs: reading %s: %v", path, err)
		}
	}
	no2, flag, albedo, lat, lon := flds[0], flds[1], flds[2], flds[3], flds[4]
	if len(no2.Shape) != 2 {
		return nil, 0, fmt.Errorf("no2obs: %s in %s has shape %v; need [scanline, row]",
			cfg.Fields.NO2, path, no2.Shape)
	}
	for _, f := range flds[1:] {
		if f.Len() != no2.Len() {
			return nil, 0, fmt.Errorf("no2obs: swath fields in %s have different sizes", path)
		}
	}
	nscan, nrows := no2.Shape[0], no2.Shape[1]
	// RowsSkip rows are dropped at the start of each scan line but one
	// fewer at the end.
	last := nrows - cfg.RowsSkip + 1
	if last > nrows {
		last = nrows
	}
	for s := 0; s < nscan; s++ {
		for r := cfg.RowsSkip; r < last; r++ {
			k := s*nrows + r
			total++
			a := albedo.Values[k]
			if math.IsNaN(a) {
				a = 0
			}
			if flag.Values[k] != 0 || a*cfg.AlbedoScale >= cfg.MaxAlbedo {
				continue
			}
			if !(no2.Values[k] > 0) {
				continue
			}
			pixels = append(pixels, Pixel{Lon: lon.Values[k], Lat: lat.Values[k], Value: no2.Values[k]})
		}
	}
	return pixels, total, nil
}
