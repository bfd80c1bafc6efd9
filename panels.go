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
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
)

// DailyPlotConfig holds the settings for plotting daily scale factor
// maps, one figure per month.
type DailyPlotConfig struct {
	// Year and Month give the first month to plot, and NMonths the
	// number of months.
	Year    int
	Month   time.Month
	NMonths int

	// Input and Output are date templates for the scale factor files
	// and the figures.
	Input, Output string

	Variable string

	Log logrus.FieldLogger
}

// DefaultDailyPlotConfig returns the default daily plot settings.
func DefaultDailyPlotConfig() *DailyPlotConfig {
	return &DailyPlotConfig{
		Year:     2020,
		Month:    time.January,
		NMonths:  1,
		Input:    "nc/%Y/omiscal_2x2.5_%Y%m%d.nc",
		Output:   "png/%Y/omiscal_%Y%m.png",
		Variable: "scal",
	}
}

// PlotDaily draws a panel for every day of each month that has a
// scale factor file and returns the names of the figures written.
func PlotDaily(ctx context.Context, cfg *DailyPlotConfig) ([]string, error) {
	log := logger(cfg.Log)
	var files []string
	first := time.Date(cfg.Year, cfg.Month, 1, 0, 0, 0, 0, time.UTC)
	for m := 0; m < cfg.NMonths; m++ {
		month := first.AddDate(0, m, 0)
		panels, err := cfg.monthPanels(ctx, month, log)
		if err != nil {
			return files, err
		}
		out, err := DatePath(cfg.Output, month)
		if err != nil {
			return files, err
		}
		err = SavePanels(out, month.Format("January 2006"), panels, 4,
			ColorBarPlot("Emission scale factor"), 20*vg.Inch, 15*vg.Inch)
		if err != nil {
			return files, err
		}
		log.WithField("file", out).Info("figure saved")
		files = append(files, out)
	}
	return files, nil
}

// monthPanels returns one panel per calendar day of month, with nil
// for days that have no file.
func (cfg *DailyPlotConfig) monthPanels(ctx context.Context, month time.Time, log logrus.FieldLogger) ([]*plot.Plot, error) {
	panels := make([]*plot.Plot, daysIn(month.Year(), month.Month()))
	for i := range panels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := time.Date(month.Year(), month.Month(), i+1, 0, 0, 0, 0, time.UTC)
		p, err := cfg.dayPanel(d, log)
		if err != nil {
			return nil, err
		}
		panels[i] = p
	}
	return panels, nil
}

// dayPanel returns the panel for date d, or nil if there is no file
// for that date.
func (cfg *DailyPlotConfig) dayPanel(d time.Time, log logrus.FieldLogger) (*plot.Plot, error) {
	ifile, err := DatePath(cfg.Input, d)
	if err != nil {
		return nil, err
	}
	if !fileExists(ifile) {
		log.WithField("file", ifile).Info("file not found, skipping")
		return nil, nil
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
	return MapPlot(d.Format("2006-01-02"), g, vals)
}

// MonthlyPlotConfig holds the settings for plotting monthly mean
// scale factors for one year.
type MonthlyPlotConfig struct {
	Year    int
	NMonths int

	// Input is a date template with wildcards that matches all of
	// the scale factor files for a month. Output is the date
	// template for the figure.
	Input, Output string

	Variable string

	// YearChange plots the ratio of each monthly mean to the mean
	// of the same month in the previous year.
	YearChange bool

	Log logrus.FieldLogger
}

// DefaultMonthlyPlotConfig returns the default monthly plot settings.
func DefaultMonthlyPlotConfig() *MonthlyPlotConfig {
	return &MonthlyPlotConfig{
		Year:     2020,
		NMonths:  1,
		Input:    "nc/%Y/omiscal_2x2.5_%Y%m*.nc",
		Output:   "png/omiscal_monthly_%Y.png",
		Variable: "scal",
	}
}

// PlotMonthly draws one panel per month and returns the name of the
// figure written.
func PlotMonthly(ctx context.Context, cfg *MonthlyPlotConfig) (string, error) {
	log := logger(cfg.Log)
	if cfg.NMonths < 1 || cfg.NMonths > 12 {
		return "", fmt.Errorf("no2obs: number of months must be between 1 and 12, not %d", cfg.NMonths)
	}
	var panels []*plot.Plot
	var last time.Time
	for m := 0; m < cfg.NMonths; m++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		month := time.Date(cfg.Year, time.Month(m+1), 1, 0, 0, 0, 0, time.UTC)
		last = month
		g, vals, err := cfg.monthValues(month, log)
		if err != nil {
			return "", err
		}
		if g == nil {
			panels = append(panels, nil)
			continue
		}
		p, err := MapPlot(month.Format("January"), g, vals)
		if err != nil {
			return "", err
		}
		panels = append(panels, p)
	}
	title := fmt.Sprintf("Scale factors for %d", cfg.Year)
	label := "Emission scale factor"
	if cfg.YearChange {
		title = fmt.Sprintf("Year-over-year change in scale factor, %d", cfg.Year)
		label = "Year-over-year scale factor change"
	}
	out, err := DatePath(cfg.Output, last)
	if err != nil {
		return "", err
	}
	err = SavePanels(out, title, panels, 3, ColorBarPlot(label), 13*vg.Inch, 8*vg.Inch)
	if err != nil {
		return "", err
	}
	log.WithField("file", out).Info("figure saved")
	return out, nil
}

// monthValues returns the values to plot for one month, or a nil grid
// if there are no files for the month.
func (cfg *MonthlyPlotConfig) monthValues(month time.Time, log logrus.FieldLogger) (*Grid, []float64, error) {
	g, mean, err := cfg.monthMean(month, log)
	if err != nil || g == nil || !cfg.YearChange {
		return g, mean, err
	}
	gref, ref, err := cfg.monthMean(month.AddDate(-1, 0, 0), log)
	if err != nil || gref == nil {
		return nil, nil, err
	}
	if err := g.SameShape(gref); err != nil {
		return nil, nil, err
	}
	for i := range mean {
		mean[i] /= ref[i]
	}
	return g, mean, nil
}

func (cfg *MonthlyPlotConfig) monthMean(month time.Time, log logrus.FieldLogger) (*Grid, []float64, error) {
	files, err := DateGlob(cfg.Input, month)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		p, _ := DatePath(cfg.Input, month)
		log.WithField("pattern", p).Warn("no files found")
		return nil, nil, nil
	}
	log.WithField("files", len(files)).Info("reading " + month.Format("January 2006"))
	return TimeMean(files, cfg.Variable)
}

// TimeMean returns the mean over all time steps in all of the files of
// the named variable, ignoring NaN values. Cells without any values are
// NaN.
func TimeMean(files []string, variable string) (*Grid, []float64, error) {
	var g *Grid
	var sum, cnt []float64
	for _, f := range files {
		ds, err := ReadDataset(f)
		if err != nil {
			return nil, nil, err
		}
		v, fg, err := ds.GridVar(variable)
		if err != nil {
			return nil, nil, fmt.Errorf("no2obs: %s: %v", f, err)
		}
		if g == nil {
			g = fg
			sum = make([]float64, g.Len())
			cnt = make([]float64, g.Len())
		} else if err := g.SameShape(fg); err != nil {
			return nil, nil, fmt.Errorf("no2obs: %s: %v", f, err)
		}
		n := g.Len()
		for i, val := range v.Data.Elements {
			if !math.IsNaN(val) {
				sum[i%n] += val
				cnt[i%n]++
			}
		}
	}
	for i := range sum {
		if cnt[i] > 0 {
			sum[i] /= cnt[i]
		} else {
			sum[i] = math.NaN()
		}
	}
	return g, sum, nil
}
