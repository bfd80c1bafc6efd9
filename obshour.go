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
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/sirupsen/logrus"
)

// ObsFields holds the names of the variables in a preprocessed
// satellite observation file.
type ObsFields struct {
	NO2, Lat, Lon, Hour, Minute string
}

// ObsHourConfig holds the settings for mapping the observation hour
// of each analysis increment.
type ObsHourConfig struct {
	// Date is the analysis time.
	Date time.Time

	// AnaFile, BkgFile and SatFile are date templates for the
	// analysis, background and satellite observation files.
	AnaFile, BkgFile, SatFile string

	// Variable is the analysed species in the analysis and
	// background files.
	Variable string

	Fields ObsFields

	Log     logrus.FieldLogger
	Metrics *Metrics
}

// DefaultObsHourConfig returns the default observation hour settings.
func DefaultObsHourConfig() *ObsHourConfig {
	return &ObsHourConfig{
		AnaFile:  "omno2.ana.eta.%Y%m%d_%Hz.nc4",
		BkgFile:  "omno2.cbkg.eta.%Y%m%d_%Hz.nc4",
		SatFile:  "omno2.%Y%m%d.t%Hz.nc",
		Variable: "NO2",
		Fields: ObsFields{
			NO2:    "ColumnAmountNO2Trop",
			Lat:    "Latitude",
			Lon:    "Longitude",
			Hour:   "Hour",
			Minute: "Minute",
		},
	}
}

// RoundHour returns the hour nearest to hour:minute, wrapping hour 24
// around to zero.
func RoundHour(hour, minute float64) int {
	h := int(hour)
	if minute >= 30 {
		h++
	}
	if h >= 24 {
		h = 0
	}
	return h
}

// ReadObservations reads a satellite observation file and returns its
// valid observations, with the rounded observation hour as the pixel
// value. total is the number of observations in the file.
func (cfg *ObsHourConfig) ReadObservations(path string) (obs []Pixel, total int, err error) {
	src, err := openFields(path)
	if err != nil {
		return nil, 0, err
	}
	defer src.Close()
	names := []string{cfg.Fields.NO2, cfg.Fields.Lat, cfg.Fields.Lon, cfg.Fields.Hour, cfg.Fields.Minute}
	flds := make([]*Field, len(names))
	for i, n := range names {
		if flds[i], err = src.Field("", n); err != nil {
			return nil, 0, fmt.Errorf("no2obs: reading %s: %v", path, err)
		}
		if flds[i].Len() != flds[0].Len() {
			return nil, 0, fmt.Errorf("no2obs: %s and %s in %s have different lengths", n, names[0], path)
		}
	}
	no2, lat, lon, hour, minute := flds[0], flds[1], flds[2], flds[3], flds[4]
	total = no2.Len()
	for i, v := range no2.Values {
		if math.IsNaN(v) {
			continue
		}
		obs = append(obs, Pixel{
			Lon:   lon.Values[i],
			Lat:   lat.Values[i],
			Value: float64(RoundHour(hour.Values[i], minute.Values[i])),
		})
	}
	return obs, total, nil
}

// ObservationHours counts the observations in each grid cell by
// rounded hour and returns the hour with the most observations in
// each cell. When more than one hour has the most observations, the
// earliest is used. Cells without observations are NaN.
func ObservationHours(g *Grid, obs []Pixel) []float64 {
	byHour := BinByClass(g, obs, 24, func(p Pixel) int { return int(p.Value) })
	o := nanFill(g.Len())
	for c := range o {
		var best float64
		for h, b := range byHour {
			if b.Count[c] > best {
				best = b.Count[c]
				o[c] = float64(h)
			}
		}
	}
	return o
}

// obsCell is a grid cell with an observation hour.
type obsCell struct {
	geom.Point
	c    int
	hour float64
}

// NearestHours returns, for each cell where active is true, the
// observation hour of the nearest cell that has one. Distance is
// measured in degrees and ties go to the cell that comes first in
// row-major order. All other cells are NaN.
func NearestHours(g *Grid, hours []float64, active []bool) []float64 {
	o := nanFill(g.Len())
	tree := rtree.NewTree(25, 50)
	n := 0
	for c, h := range hours {
		if math.IsNaN(h) {
			continue
		}
		lon, lat := g.Center(c)
		tree.Insert(&obsCell{Point: geom.Point{X: lon, Y: lat}, c: c, hour: h})
		n++
	}
	if n == 0 {
		return o
	}
	dlon, dlat := g.Spacing()
	w0 := math.Max(dlon, dlat)
	if w0 == 0 {
		w0 = 1
	}
	for c, a := range active {
		if !a {
			continue
		}
		lon, lat := g.Center(c)
		if best := nearestObs(tree, geom.Point{X: lon, Y: lat}, w0); best != nil {
			o[c] = best.hour
		}
	}
	return o
}

// nearestObs searches boxes of increasing size around p until it
// finds the closest observed cell. A candidate at distance d is only
// accepted once the search box extends at least d from p, so that no
// closer cell can be outside of the box.
func nearestObs(tree *rtree.Rtree, p geom.Point, w float64) *obsCell {
	for {
		box := &geom.Bounds{
			Min: geom.Point{X: p.X - w, Y: p.Y - w},
			Max: geom.Point{X: p.X + w, Y: p.Y + w},
		}
		var best *obsCell
		bestD := math.Inf(1)
		for _, item := range tree.SearchIntersect(box) {
			oc := item.(*obsCell)
			dx, dy := oc.X-p.X, oc.Y-p.Y
			d := dx*dx + dy*dy
			if d < bestD || (best != nil && d == bestD && oc.c < best.c) {
				best, bestD = oc, d
			}
		}
		switch {
		case best == nil:
			w *= 2
		case math.Sqrt(bestD) <= w:
			return best
		default:
			w = math.Sqrt(bestD)
		}
		if math.IsInf(w, 1) {
			return best
		}
	}
}

// ObsHour creates a map of the nearest observation hour for each grid
// cell that has a non-zero analysis increment in any level.
func ObsHour(ctx context.Context, cfg *ObsHourConfig) (*Dataset, error) {
	log := logger(cfg.Log)
	ana, err := readDated(cfg.AnaFile, cfg.Date, log)
	if err != nil {
		return nil, fmt.Errorf("no2obs: reading analysis: %v", err)
	}
	bkg, err := readDated(cfg.BkgFile, cfg.Date, log)
	if err != nil {
		return nil, fmt.Errorf("no2obs: reading background: %v", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inc, err := Increment(ana, bkg, cfg.Variable)
	if err != nil {
		return nil, err
	}
	_, g, err := ana.GridVar(cfg.Variable)
	if err != nil {
		return nil, err
	}

	hours := nanFill(g.Len())
	satfile, err := DatePath(cfg.SatFile, cfg.Date)
	if err != nil {
		return nil, err
	}
	if !fileExists(satfile) {
		log.WithField("file", satfile).Error("satellite file not found")
		cfg.Metrics.fileSkipped()
	} else {
		log.WithField("file", satfile).Info("reading satellite observations")
		obs, total, err := cfg.ReadObservations(satfile)
		if err != nil {
			return nil, err
		}
		cfg.Metrics.fileRead()
		cfg.Metrics.pixels(total, len(obs))
		log.WithFields(logrus.Fields{"valid": len(obs), "total": total}).Info("found observations")
		hours = ObservationHours(g, obs)
	}

	active := NonZeroColumns(inc)
	nactive, nobs := 0, 0
	for c := range active {
		if active[c] {
			nactive++
		}
		if !math.IsNaN(hours[c]) {
			nobs++
		}
	}
	anaHour := nanFill(g.Len())
	switch {
	case nactive == 0:
		log.Warn("no increments found, analysis hour map is empty")
	case nobs == 0:
		log.Warn("no observations found, analysis hour map is empty")
	default:
		anaHour = NearestHours(g, hours, active)
	}
	cfg.Metrics.cellsFilled(nactive)

	out := NewDataset()
	h := float64(cfg.Date.Hour()) + float64(cfg.Date.Minute())/60
	if err := out.SetTime(h, "hours since "+cfg.Date.Format("2006-01-02")); err != nil {
		return nil, err
	}
	latName, _ := ana.coordAlias(latNames)
	lonName, _ := ana.coordAlias(lonNames)
	if err := out.SetCoord("lat", g.Lat.Values, ana.Coords[latName].Units); err != nil {
		return nil, err
	}
	if err := out.SetCoord("lon", g.Lon.Values, ana.Coords[lonName].Units); err != nil {
		return nil, err
	}
	v, err := out.AddVar("ana_hour", []string{"time", "lat", "lon"}, "hour", "analysis_nearest_hour")
	if err != nil {
		return nil, err
	}
	if err := v.SetSlab(anaHour); err != nil {
		return nil, err
	}
	out.Attrs["description"] = "Nearest observation hour for analysis"
	out.Attrs["History"] = history("obshour")
	out.Attrs["Author"] = Author
	return out, nil
}

// readDated reads the file that template gives for date t.
func readDated(template string, t time.Time, log logrus.FieldLogger) (*Dataset, error) {
	path, err := DatePath(template, t)
	if err != nil {
		return nil, err
	}
	if !fileExists(path) {
		return nil, fmt.Errorf("file does not exist: %s", path)
	}
	log.WithField("file", path).Info("reading")
	return ReadDataset(path)
}
