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

package no2obsutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/no2obs"
	"github.com/spf13/cast"
)

// stage holds the state of one command run: the configuration, a
// temporary directory for downloaded inputs and the outputs waiting
// to be uploaded. The first error is kept and later calls do nothing.
type stage struct {
	ctx  context.Context
	name string
	cfg  *viper.Viper
	log  logrus.FieldLogger
	dir  string
	up   uploader
	err  error
}

func newStage(ctx context.Context, cfg *viper.Viper, command string) (*stage, error) {
	dir, err := os.MkdirTemp("", "no2obs")
	if err != nil {
		return nil, fmt.Errorf("no2obsutil: creating temporary download directory: %v", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &stage{
		ctx:  ctx,
		name: command,
		cfg:  cfg,
		log:  logrus.WithField("cmd", command),
		dir:  dir,
	}, nil
}

// path returns the named option with $res and environment variables
// expanded, and date directives filled in if date is not zero.
func (s *stage) path(option string, date time.Time) string {
	if s.err != nil {
		return ""
	}
	// $res must be replaced before environment variables are expanded.
	p := os.ExpandEnv(no2obs.WithResolution(s.cfg.GetString(option), s.cfg.GetString("Res")))
	if !date.IsZero() {
		p, s.err = no2obs.DatePath(p, date)
	}
	return p
}

// input returns a local path for the file or template given by the
// named option.
func (s *stage) input(option string, date time.Time) string {
	p := s.path(option, date)
	if s.err != nil || p == "" {
		return p
	}
	local, err := maybeDownload(s.ctx, p, s.dir)
	if err != nil {
		s.err = fmt.Errorf("no2obsutil: %s: %v", option, err)
		return ""
	}
	return local
}

// optionalInput is like input but a failed download is logged and the
// remote path is returned, to be treated as a missing file.
func (s *stage) optionalInput(option string, date time.Time) string {
	p := s.path(option, date)
	if s.err != nil || p == "" {
		return p
	}
	local, err := maybeDownload(s.ctx, p, s.dir)
	if err != nil {
		s.log.WithError(err).WithField("file", p).Warn("download failed")
		return p
	}
	return local
}

// output returns the local path to write the output file or template
// given by the named option to. If date is not zero the directory of
// the output file is created.
func (s *stage) output(option string, date time.Time) string {
	p := s.path(option, date)
	if s.err != nil {
		return ""
	}
	p, s.err = checkOutputFile(s.up.maybeUpload(p), !date.IsZero())
	return p
}

// finish uploads the staged outputs and writes the metrics file if
// one was requested.
func (s *stage) finish(m *no2obs.Metrics) error {
	if s.err != nil {
		return s.err
	}
	if err := s.up.uploadOutput(s.ctx, s.log); err != nil {
		return err
	}
	if f := os.ExpandEnv(s.cfg.GetString("metrics-file")); f != "" {
		if err := m.WriteTextfile(f); err != nil {
			return fmt.Errorf("no2obsutil: writing metrics: %v", err)
		}
	}
	return nil
}

// cleanup removes the downloaded inputs.
func (s *stage) cleanup() {
	os.RemoveAll(s.dir)
	if s.up.dir != "" {
		os.RemoveAll(s.up.dir)
	}
}

// checkOutputFile makes sure that the output file is specified and,
// if mkdir is true, that its directory exists.
func checkOutputFile(f string, mkdir bool) (string, error) {
	if f == "" {
		return "", fmt.Errorf("no2obsutil: you need to specify an output file")
	}
	if mkdir {
		if err := os.MkdirAll(filepath.Dir(f), 0755); err != nil {
			return f, fmt.Errorf("no2obsutil: creating output directory: %v", err)
		}
	}
	return f, nil
}

// runDate returns the analysis date given by the "date" option, or
// today's date if it is empty.
func runDate(cfg *viper.Viper) (time.Time, error) {
	s := cfg.GetString("date")
	if s == "" {
		return no2obs.Today(), nil
	}
	return no2obs.ParseDate(s)
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		o := make(map[string]string)
		if v == "" {
			return o, nil
		}
		if err := json.NewDecoder(bytes.NewBufferString(v)).Decode(&o); err != nil {
			return nil, fmt.Errorf("no2obsutil: parsing %s: %v", varName, err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("no2obsutil: invalid type for %s: %#v", varName, i)
	}
}

// setFields sets the variable names in fields from the named map
// option. Fields missing from the map keep their values.
func setFields(varName string, cfg *viper.Viper, fields map[string]*string) error {
	m, err := GetStringMapString(varName, cfg)
	if err != nil {
		return err
	}
	for k, v := range m {
		f, ok := fields[k]
		if !ok {
			return fmt.Errorf("no2obsutil: invalid field %q in %s", k, varName)
		}
		*f = v
	}
	return nil
}

// Map2GridConfig returns the map2grid settings from the configuration,
// downloading remote inputs.
func Map2GridConfig(s *stage) (*no2obs.Map2GridConfig, error) {
	date, err := runDate(s.cfg)
	if err != nil {
		return nil, err
	}
	c := no2obs.DefaultMap2GridConfig()
	c.Date = date
	c.Template = s.input("Map2Grid.Template", time.Time{})
	c.Input = s.input("Map2Grid.Input", date)
	c.Variable = s.cfg.GetString("Map2Grid.Variable")
	c.RowsSkip = s.cfg.GetInt("Map2Grid.RowsSkip")
	c.Combine = s.cfg.GetString("Map2Grid.Combine")
	c.Concurrency = s.cfg.GetInt("Map2Grid.Concurrency")
	c.DataGroup = s.cfg.GetString("Map2Grid.DataGroup")
	c.GeoGroup = s.cfg.GetString("Map2Grid.GeoGroup")
	err = setFields("Map2Grid.Fields", s.cfg, map[string]*string{
		"NO2":    &c.Fields.NO2,
		"Flag":   &c.Fields.Flag,
		"Albedo": &c.Fields.Albedo,
		"Lat":    &c.Fields.Lat,
		"Lon":    &c.Fields.Lon,
	})
	if err != nil {
		return nil, err
	}
	c.Log = s.log
	c.Metrics = no2obs.NewMetrics("map2grid")
	return c, s.err
}

// ScaleFactorConfig returns the scale factor settings from the
// configuration, downloading remote inputs.
func ScaleFactorConfig(s *stage) (*no2obs.ScaleFactorConfig, error) {
	date, err := runDate(s.cfg)
	if err != nil {
		return nil, err
	}
	c := no2obs.DefaultScaleFactorConfig()
	c.Date = date
	c.Res = s.cfg.GetString("Res")
	c.Template = s.input("ScaleFactor.Template", time.Time{})
	c.Scale = s.cfg.GetString("ScaleFactor.Variable")
	c.Input = s.input("ScaleFactor.Input", time.Time{})
	c.Variable = s.cfg.GetString("ScaleFactor.NO2Variable")
	c.NO2Threshold = s.cfg.GetFloat64("ScaleFactor.NO2Threshold")
	c.MaskFile = s.input("ScaleFactor.MaskFile", time.Time{})
	c.MaskVar = s.cfg.GetString("ScaleFactor.MaskVariable")
	c.MaskValue = s.cfg.GetFloat64("ScaleFactor.MaskValue")
	c.FireFile = s.optionalInput("ScaleFactor.FireFile", time.Time{})
	c.FireVar = s.cfg.GetString("ScaleFactor.FireVariable")
	c.FireThreshold = s.cfg.GetFloat64("ScaleFactor.FireThreshold")
	c.MinVal = s.cfg.GetFloat64("ScaleFactor.MinVal")
	c.MaxVal = s.cfg.GetFloat64("ScaleFactor.MaxVal")
	c.NYears = s.cfg.GetInt("ScaleFactor.NYears")
	c.RefYear = s.cfg.GetInt("ScaleFactor.RefYear")
	c.Log = s.log
	c.Metrics = no2obs.NewMetrics("scalefactor")
	return c, s.err
}

// ObsHourConfig returns the settings shared by the obshour and
// increment commands, downloading remote inputs. The satellite file
// is only needed if sat is true.
func ObsHourConfig(s *stage, sat bool) (*no2obs.ObsHourConfig, error) {
	date, err := runDate(s.cfg)
	if err != nil {
		return nil, err
	}
	c := no2obs.DefaultObsHourConfig()
	c.Date = date
	c.AnaFile = s.input("ObsHour.AnaFile", date)
	c.BkgFile = s.input("ObsHour.BkgFile", date)
	if sat {
		c.SatFile = s.optionalInput("ObsHour.SatFile", date)
	}
	c.Variable = s.cfg.GetString("ObsHour.Variable")
	err = setFields("ObsHour.Fields", s.cfg, map[string]*string{
		"NO2":    &c.Fields.NO2,
		"Lat":    &c.Fields.Lat,
		"Lon":    &c.Fields.Lon,
		"Hour":   &c.Fields.Hour,
		"Minute": &c.Fields.Minute,
	})
	if err != nil {
		return nil, err
	}
	c.Log = s.log
	c.Metrics = no2obs.NewMetrics(s.name)
	return c, s.err
}

// DailyPlotConfig returns the daily plot settings from the
// configuration.
func DailyPlotConfig(s *stage) (*no2obs.DailyPlotConfig, error) {
	c := no2obs.DefaultDailyPlotConfig()
	c.Year = s.cfg.GetInt("Daily.Year")
	c.Month = time.Month(s.cfg.GetInt("Daily.Month"))
	if c.Month < time.January || c.Month > time.December {
		return nil, fmt.Errorf("no2obsutil: invalid month %d", c.Month)
	}
	c.NMonths = s.cfg.GetInt("Daily.NMonths")
	c.Input = s.input("Daily.Input", time.Time{})
	c.Output = s.output("Daily.Output", time.Time{})
	c.Variable = s.cfg.GetString("Plot.Variable")
	c.Log = s.log
	return c, s.err
}

// MonthlyPlotConfig returns the monthly plot settings from the
// configuration.
func MonthlyPlotConfig(s *stage) (*no2obs.MonthlyPlotConfig, error) {
	c := no2obs.DefaultMonthlyPlotConfig()
	c.Year = s.cfg.GetInt("Monthly.Year")
	c.NMonths = s.cfg.GetInt("Monthly.NMonths")
	c.YearChange = s.cfg.GetBool("Monthly.YearChange")
	c.Input = s.input("Monthly.Input", time.Time{})
	c.Output = s.output("Monthly.Output", time.Time{})
	c.Variable = s.cfg.GetString("Plot.Variable")
	c.Log = s.log
	return c, s.err
}

// TrendConfig returns the time series settings from the
// configuration.
func TrendConfig(s *stage) (*no2obs.TrendConfig, error) {
	c := no2obs.DefaultTrendConfig()
	c.Year1 = s.cfg.GetInt("Trend.Year1")
	c.Year2 = s.cfg.GetInt("Trend.Year2")
	var err error
	if c.Resample, err = no2obs.ParseResample(s.cfg.GetString("Trend.Resample")); err != nil {
		return nil, err
	}
	c.Input = s.input("Trend.Input", time.Time{})
	c.Variable = s.cfg.GetString("Plot.Variable")
	if f := s.input("Trend.Regions", time.Time{}); f != "" {
		if c.Regions, err = no2obs.LoadRegions(f); err != nil {
			return nil, err
		}
	}
	c.Log = s.log
	return c, s.err
}
