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

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// Lengths of the averaging windows, in days.
const (
	backgroundBefore = 14
	backgroundAfter  = 7
	currentDays      = 7
)

// ScaleFactorConfig holds the settings for calculating NO2 emission
// scale factors from gridded NO2 columns.
type ScaleFactorConfig struct {
	// Date is the analysis date. If it is the zero time, today's
	// date is used.
	Date time.Time

	// Res is the grid resolution, which replaces $res in the file
	// templates.
	Res string

	// Template is the file holding the output grid and the Scale
	// variable.
	Template string
	Scale    string

	// Input is the date template for the gridded NO2 files and
	// Variable the name of the NO2 column variable in them.
	Input    string
	Variable string

	// NO2Threshold is the smallest NO2 column included in the
	// averages.
	NO2Threshold float64

	// Cells whose value of MaskVar in MaskFile is not greater than
	// MaskValue are excluded from the averages.
	MaskFile  string
	MaskVar   string
	MaskValue float64

	// Cells nearest to a fire in the daily FireFile (where FireVar is
	// greater than FireThreshold) are excluded from the averages.
	FireFile      string
	FireVar       string
	FireThreshold float64

	// MinVal and MaxVal limit the scale factors.
	MinVal, MaxVal float64

	// The background is the average over NYears years, counting
	// back from RefYear.
	NYears  int
	RefYear int

	Log     logrus.FieldLogger
	Metrics *Metrics
}

// DefaultScaleFactorConfig returns the default scale factor settings.
func DefaultScaleFactorConfig() *ScaleFactorConfig {
	return &ScaleFactorConfig{
		Res:           "5x5",
		Template:      "templates/omiscal_template_$res.nc",
		Scale:         "scal",
		Input:         "nc_$res/%Y/OMI-Aura_L2-OMDOMINO_$res_%Y%m%d.nc",
		Variable:      "TroposphericNO2",
		MaskFile:      "templates/HTAP_NO_mean.$res.nc",
		MaskVar:       "emi_no",
		MaskValue:     5.0e-13,
		FireFile:      "qfed2.emis_no.006.%Y%m%d.nc4",
		FireVar:       "biomass",
		FireThreshold: 1.0e-9,
		MinVal:        0.1,
		MaxVal:        1.5,
		NYears:        1,
		RefYear:       2017,
	}
}

// ScaleFactor calculates scale factors for the analysis date as the
// ratio of the recent NO2 columns to the columns around the same date
// in the reference years. The result is a copy of the template file
// with the scale factors in the first time step of the Scale variable.
func ScaleFactor(ctx context.Context, cfg *ScaleFactorConfig) (*Dataset, error) {
	log := logger(cfg.Log)
	date := cfg.Date
	if date.IsZero() {
		date = Today()
	}
	tmpl, err := ReadDataset(WithResolution(cfg.Template, cfg.Res))
	if err != nil {
		return nil, err
	}
	out := tmpl.Clone()
	v, grid, err := out.GridVar(cfg.Scale)
	if err != nil {
		return nil, fmt.Errorf("no2obs: scale factor template: %v", err)
	}

	a, err := cfg.newAverager()
	if err != nil {
		return nil, err
	}
	if err := grid.SameShape(a.grid); err != nil {
		return nil, fmt.Errorf("no2obs: template and mask file: %v", err)
	}
	bg, err := a.background(ctx, date)
	if err != nil {
		return nil, err
	}
	cur, err := a.average(ctx, date.AddDate(0, 0, -currentDays), date)
	if err != nil {
		return nil, err
	}
	for i, c := range cur {
		if math.IsNaN(c) {
			cur[i] = 0
		}
	}
	scal := ScaleFactors(cur, bg, cfg.MinVal, cfg.MaxVal)
	filled := 0
	for i := range scal {
		if cur[i] > 0 && bg[i] > 0 {
			filled++
		}
	}
	cfg.Metrics.cellsFilled(filled)
	log.WithFields(logrus.Fields{
		"date":  date.Format("2006-01-02"),
		"cells": filled,
		"min":   floats.Min(scal),
		"max":   floats.Max(scal),
	}).Info("calculated scale factors")

	// All time steps start at one, only the first is calculated.
	for i := range v.Data.Elements {
		v.Data.Elements[i] = 1
	}
	if err := v.SetSlab(scal); err != nil {
		return nil, err
	}
	if err := out.SetTime(0, "hours since "+date.Format("2006-01-02 15:04:05")); err != nil {
		return nil, err
	}
	out.Attrs["History"] = history("scalefactor")
	out.Attrs["history"] = ""
	out.Attrs["Author"] = Author
	return out, nil
}

// ScaleFactors returns cur/bg in each cell where both are positive
// and one elsewhere, limited to the range [min, max].
func ScaleFactors(cur, bg []float64, min, max float64) []float64 {
	o := make([]float64, len(cur))
	for i := range o {
		s := 1.0
		if cur[i] > 0 && bg[i] > 0 {
			s = cur[i] / bg[i]
		}
		if s < min {
			s = min
		}
		if s > max {
			s = max
		}
		o[i] = s
	}
	return o
}

// Average returns the mean gridded NO2 column for the dates in
// [start, end), on the grid of the mask file. Cells without valid
// observations are NaN.
func (cfg *ScaleFactorConfig) Average(ctx context.Context, start, end time.Time) ([]float64, error) {
	a, err := cfg.newAverager()
	if err != nil {
		return nil, err
	}
	return a.average(ctx, start, end)
}

// averager holds the mask, which is the same for every date.
type averager struct {
	cfg  *ScaleFactorConfig
	log  logrus.FieldLogger
	grid *Grid
	mask []float64
}

func (cfg *ScaleFactorConfig) newAverager() (*averager, error) {
	log := logger(cfg.Log)
	mfile := WithResolution(cfg.MaskFile, cfg.Res)
	log.WithField("file", mfile).Info("reading mask file")
	md, err := ReadDataset(mfile)
	if err != nil {
		return nil, err
	}
	_, grid, err := md.GridVar(cfg.MaskVar)
	if err != nil {
		return nil, fmt.Errorf("no2obs: mask file %s: %v", mfile, err)
	}
	mask, err := md.Field2D(cfg.MaskVar, 0, 0)
	if err != nil {
		return nil, err
	}
	for i, m := range mask {
		if math.IsNaN(m) {
			mask[i] = 0
		}
	}
	return &averager{cfg: cfg, log: log, grid: grid, mask: mask}, nil
}

// background averages the NO2 columns in the window around the
// analysis day and month in each of the reference years. Years
// without observations in a cell are left out of its average, and
// cells without any observations are zero.
func (a *averager) background(ctx context.Context, date time.Time) ([]float64, error) {
	sum := make([]float64, a.grid.Len())
	cnt := make([]float64, a.grid.Len())
	for i := 0; i < a.cfg.NYears; i++ {
		year := a.cfg.RefYear - i
		day := date.Day()
		if n := daysIn(year, date.Month()); day > n {
			day = n
		}
		ref := time.Date(year, date.Month(), day, 0, 0, 0, 0, time.UTC)
		avg, err := a.average(ctx, ref.AddDate(0, 0, -backgroundBefore), ref.AddDate(0, 0, backgroundAfter))
		if err != nil {
			return nil, err
		}
		for c, v := range avg {
			if !math.IsNaN(v) {
				sum[c] += v
				cnt[c]++
			}
		}
	}
	for c := range sum {
		if cnt[c] > 0 {
			sum[c] /= cnt[c]
		}
	}
	return sum, nil
}

func (a *averager) average(ctx context.Context, start, end time.Time) ([]float64, error) {
	n := a.grid.Len()
	sum := make([]float64, n)
	cnt := make([]float64, n)
	for _, d := range days(start, end) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ifile, err := DatePath(WithResolution(a.cfg.Input, a.cfg.Res), d)
		if err != nil {
			return nil, err
		}
		if !fileExists(ifile) {
			a.log.WithField("file", ifile).Warn("file does not exist, skipping")
			a.cfg.Metrics.fileSkipped()
			continue
		}
		a.log.WithField("file", ifile).Info("reading gridded NO2")
		ids, err := ReadDataset(ifile)
		if err != nil {
			return nil, err
		}
		no2, err := ids.Field2D(a.cfg.Variable, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("no2obs: %s: %v", ifile, err)
		}
		if len(no2) != n {
			return nil, fmt.Errorf("no2obs: %s has %d grid cells but the mask file has %d", ifile, len(no2), n)
		}
		a.cfg.Metrics.fileRead()
		fire, err := a.fireMask(d)
		if err != nil {
			return nil, err
		}
		for c, v := range no2 {
			if v > a.cfg.NO2Threshold && !fire[c] && a.mask[c] > a.cfg.MaskValue {
				sum[c] += v
				cnt[c]++
			}
		}
	}
	for c := range sum {
		if cnt[c] > 0 {
			sum[c] /= cnt[c]
		} else {
			sum[c] = math.NaN()
		}
	}
	return sum, nil
}

// fireMask returns the cells that are nearest to a fire on date d.
// If there is no fire file for the date, no cells are masked.
func (a *averager) fireMask(d time.Time) ([]bool, error) {
	fire := make([]bool, a.grid.Len())
	ffile, err := DatePath(WithResolution(a.cfg.FireFile, a.cfg.Res), d)
	if err != nil {
		return nil, err
	}
	if !fileExists(ffile) {
		a.log.WithField("file", ffile).Warn("fire file does not exist, no cells masked")
		return fire, nil
	}
	a.log.WithField("file", ffile).Info("reading fire emissions")
	fd, err := ReadDataset(ffile)
	if err != nil {
		return nil, err
	}
	_, fg, err := fd.GridVar(a.cfg.FireVar)
	if err != nil {
		return nil, fmt.Errorf("no2obs: fire file %s: %v", ffile, err)
	}
	vals, err := fd.Field2D(a.cfg.FireVar, 0, 0)
	if err != nil {
		return nil, err
	}
	for c, v := range vals {
		if !(v > a.cfg.FireThreshold) {
			continue
		}
		lon, lat := fg.Center(c)
		if k, ok := a.grid.CellIndex(lon, lat); ok {
			fire[k] = true
		}
	}
	return fire, nil
}
