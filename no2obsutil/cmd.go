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

// Package no2obsutil contains the no2obs command line interface.
package no2obsutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/no2obs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	m2g := no2obs.DefaultMap2GridConfig()
	sf := no2obs.DefaultScaleFactorConfig()
	oh := no2obs.DefaultObsHourConfig()
	daily := no2obs.DefaultDailyPlotConfig()
	monthly := no2obs.DefaultMonthlyPlotConfig()
	trend := no2obs.DefaultTrendConfig()

	// Options are the configuration options available to no2obs.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log-level",
			usage: `
              log-level is the minimum level of log messages to print:
              one of debug, info, warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile, if set, is a file that log messages are written to
              in addition to standard error.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "metrics-file",
			usage: `
              metrics-file, if set, is where run statistics are written in the
              Prometheus text format, for the node exporter textfile collector.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{map2gridCmd.Flags(), scaleFactorCmd.Flags(), obsHourCmd.Flags()},
		},
		{
			name: "date",
			usage: `
              date is the analysis date, in the format YYYY-MM-DD or
              'YYYY-MM-DD HH:MM'. The default is today's date.`,
			shorthand:  "d",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{map2gridCmd.Flags(), scaleFactorCmd.Flags(), obsHourCmd.Flags(), incrementCmd.Flags()},
		},
		{
			name: "Res",
			usage: `
              Res is the grid resolution, for example 2x2.5. It replaces
              $res in file names.`,
			shorthand:  "r",
			defaultVal: "2x2.5",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Map2Grid.Template",
			usage: `
              Map2Grid.Template is the gridded file that sets the output grid
              and holds the output variable.`,
			shorthand:  "t",
			defaultVal: "templates/template_$res.nc",
			flagsets:   []*pflag.FlagSet{map2gridCmd.Flags()},
		},
		{
			name: "Map2Grid.Variable",
			usage: `
              Map2Grid.Variable is the name of the output variable in the template.`,
			defaultVal: m2g.Variable,
			flagsets:   []*pflag.FlagSet{map2gridCmd.Flags()},
		},
		{
			name: "Map2Grid.Input",
			usage: `
              Map2Grid.Input is a file name pattern matching the swath files for
              the analysis date. It can contain strftime date directives such
              as %Y, %m and %d and glob wildcards.`,
			shorthand:  "i",
			defaultVal: m2g.Input,
			flagsets:   []*pflag.FlagSet{map2gridCmd.Flags()},
		},
		{
			name: "Map2Grid.Output",
			usage: `
              Map2Grid.Output is the output file. It can contain date directives.`,
			shorthand:  "o",
			defaultVal: "nc_$res/%Y/OMI-Aura_L2-OMDOMINO_$res_%Y%m%d.nc",
			flagsets:   []*pflag.FlagSet{map2gridCmd.Flags()},
		},
		{
			name: "Map2Grid.RowsSkip",
			usage: `
              Map2Grid.RowsSkip is the number of across-track rows to drop at
              the first edge of the swath. One fewer row is dropped at the
              other edge.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{map2gridCmd.Flags()},
		},
		{
			name: "Map2Grid.Combine",
			usage: `
              Map2Grid.Combine is how the per-file cell means are combined:
              "sum" or "mean".`,
			defaultVal: m2g.Combine,
			flagsets:   []*pflag.FlagSet{map2gridCmd.Flags()},
		},
		{
			name: "Map2Grid.Concurrency",
			usage: `
              Map2Grid.Concurrency is the maximum number of swath files read at
              once. Zero means the number of processors.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{map2gridCmd.Flags()},
		},
		{
			name: "Map2Grid.DataGroup",
			usage: `
              Map2Grid.DataGroup is the group holding the data fields in
              HDF-EOS5 swath files.`,
			defaultVal: m2g.DataGroup,
			flagsets:   []*pflag.FlagSet{map2gridCmd.Flags()},
		},
		{
			name: "Map2Grid.GeoGroup",
			usage: `
              Map2Grid.GeoGroup is the group holding the geolocation fields in
              HDF-EOS5 swath files.`,
			defaultVal: m2g.GeoGroup,
			flagsets:   []*pflag.FlagSet{map2gridCmd.Flags()},
		},
		{
			name: "Map2Grid.Fields",
			usage: `
              Map2Grid.Fields gives the names of the swath fields. Keys are
              NO2, Flag, Albedo, Lat and Lon.`,
			defaultVal: map[string]string{
				"NO2":    m2g.Fields.NO2,
				"Flag":   m2g.Fields.Flag,
				"Albedo": m2g.Fields.Albedo,
				"Lat":    m2g.Fields.Lat,
				"Lon":    m2g.Fields.Lon,
			},
			flagsets: []*pflag.FlagSet{map2gridCmd.Flags()},
		},
		{
			name: "ScaleFactor.Template",
			usage: `
              ScaleFactor.Template is the file holding the output grid and the
              scale factor variable.`,
			shorthand:  "t",
			defaultVal: sf.Template,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.Variable",
			usage: `
              ScaleFactor.Variable is the scale factor variable in the template.`,
			defaultVal: sf.Scale,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.Input",
			usage: `
              ScaleFactor.Input is the file name template of the daily gridded
              NO2 files. It can contain date directives.`,
			shorthand:  "i",
			defaultVal: sf.Input,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.NO2Variable",
			usage: `
              ScaleFactor.NO2Variable is the NO2 column variable in the input files.`,
			defaultVal: sf.Variable,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.Output",
			usage: `
              ScaleFactor.Output is the output file. It can contain date directives.`,
			shorthand:  "o",
			defaultVal: "nc/%Y/omiscal_$res_%Y%m%d.nc",
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.NO2Threshold",
			usage: `
              ScaleFactor.NO2Threshold is the smallest NO2 column included in
              the averages.`,
			shorthand:  "n",
			defaultVal: sf.NO2Threshold,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.MaskFile",
			usage: `
              ScaleFactor.MaskFile is a gridded file used to exclude cells from
              the averages.`,
			defaultVal: sf.MaskFile,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.MaskVariable",
			usage: `
              ScaleFactor.MaskVariable is the variable in the mask file.`,
			defaultVal: sf.MaskVar,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.MaskValue",
			usage: `
              ScaleFactor.MaskValue is the mask threshold. Cells where the mask
              variable is not greater than this are excluded.`,
			defaultVal: sf.MaskValue,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.FireFile",
			usage: `
              ScaleFactor.FireFile is the file name template of the daily fire
              emission files.`,
			defaultVal: sf.FireFile,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.FireVariable",
			usage: `
              ScaleFactor.FireVariable is the fire emission variable.`,
			defaultVal: sf.FireVar,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.FireThreshold",
			usage: `
              ScaleFactor.FireThreshold is the fire emission above which the
              nearest cell is excluded from the averages for that day.`,
			defaultVal: sf.FireThreshold,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.MinVal",
			usage: `
              ScaleFactor.MinVal is the smallest allowed scale factor.`,
			defaultVal: sf.MinVal,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.MaxVal",
			usage: `
              ScaleFactor.MaxVal is the largest allowed scale factor.`,
			defaultVal: sf.MaxVal,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.NYears",
			usage: `
              ScaleFactor.NYears is the number of reference years averaged for
              the background.`,
			defaultVal: sf.NYears,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.RefYear",
			usage: `
              ScaleFactor.RefYear is the last reference year.`,
			defaultVal: sf.RefYear,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ScaleFactor.Plot",
			usage: `
              ScaleFactor.Plot specifies whether to draw a map of the scale
              factors next to the output file.`,
			shorthand:  "p",
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{scaleFactorCmd.Flags()},
		},
		{
			name: "ObsHour.AnaFile",
			usage: `
              ObsHour.AnaFile is the file name template of the analysis file.`,
			shorthand:  "a",
			defaultVal: oh.AnaFile,
			flagsets:   []*pflag.FlagSet{obsHourCmd.Flags(), incrementCmd.Flags()},
		},
		{
			name: "ObsHour.BkgFile",
			usage: `
              ObsHour.BkgFile is the file name template of the background file.`,
			shorthand:  "b",
			defaultVal: oh.BkgFile,
			flagsets:   []*pflag.FlagSet{obsHourCmd.Flags(), incrementCmd.Flags()},
		},
		{
			name: "ObsHour.SatFile",
			usage: `
              ObsHour.SatFile is the file name template of the satellite
              observation file.`,
			shorthand:  "s",
			defaultVal: oh.SatFile,
			flagsets:   []*pflag.FlagSet{obsHourCmd.Flags()},
		},
		{
			name: "ObsHour.Variable",
			usage: `
              ObsHour.Variable is the analysed species.`,
			shorthand:  "v",
			defaultVal: oh.Variable,
			flagsets:   []*pflag.FlagSet{obsHourCmd.Flags(), incrementCmd.Flags()},
		},
		{
			name: "ObsHour.Fields",
			usage: `
              ObsHour.Fields gives the names of the satellite observation
              variables. Keys are NO2, Lat, Lon, Hour and Minute.`,
			defaultVal: map[string]string{
				"NO2":    oh.Fields.NO2,
				"Lat":    oh.Fields.Lat,
				"Lon":    oh.Fields.Lon,
				"Hour":   oh.Fields.Hour,
				"Minute": oh.Fields.Minute,
			},
			flagsets: []*pflag.FlagSet{obsHourCmd.Flags()},
		},
		{
			name: "ObsHour.Output",
			usage: `
              ObsHour.Output is the output file. It can contain date directives.`,
			shorthand:  "o",
			defaultVal: "ana_hours.%Y%m%d_t%Hz.nc",
			flagsets:   []*pflag.FlagSet{obsHourCmd.Flags()},
		},
		{
			name: "Increment.Output",
			usage: `
              Increment.Output is the output file. It can contain date directives.`,
			shorthand:  "o",
			defaultVal: "ana_inc.%Y%m%d_t%Hz.nc",
			flagsets:   []*pflag.FlagSet{incrementCmd.Flags()},
		},
		{
			name: "Plot.Variable",
			usage: `
              Plot.Variable is the scale factor variable to plot.`,
			defaultVal: daily.Variable,
			flagsets:   []*pflag.FlagSet{plotCmd.PersistentFlags()},
		},
		{
			name: "Daily.Year",
			usage: `
              Daily.Year is the year of the first month to plot.`,
			shorthand:  "y",
			defaultVal: daily.Year,
			flagsets:   []*pflag.FlagSet{dailyCmd.Flags()},
		},
		{
			name: "Daily.Month",
			usage: `
              Daily.Month is the first month to plot.`,
			shorthand:  "m",
			defaultVal: int(daily.Month),
			flagsets:   []*pflag.FlagSet{dailyCmd.Flags()},
		},
		{
			name: "Daily.NMonths",
			usage: `
              Daily.NMonths is the number of months to plot, one figure each.`,
			shorthand:  "n",
			defaultVal: daily.NMonths,
			flagsets:   []*pflag.FlagSet{dailyCmd.Flags()},
		},
		{
			name: "Daily.Input",
			usage: `
              Daily.Input is the file name template of the daily scale factor files.`,
			shorthand:  "i",
			defaultVal: "nc/%Y/omiscal_$res_%Y%m%d.nc",
			flagsets:   []*pflag.FlagSet{dailyCmd.Flags()},
		},
		{
			name: "Daily.Output",
			usage: `
              Daily.Output is the file name template of the figures. The file
              extension sets the format.`,
			shorthand:  "o",
			defaultVal: daily.Output,
			flagsets:   []*pflag.FlagSet{dailyCmd.Flags()},
		},
		{
			name: "Monthly.Year",
			usage: `
              Monthly.Year is the year to plot.`,
			shorthand:  "y",
			defaultVal: monthly.Year,
			flagsets:   []*pflag.FlagSet{monthlyCmd.Flags()},
		},
		{
			name: "Monthly.NMonths",
			usage: `
              Monthly.NMonths is the number of months to plot, starting in January.`,
			shorthand:  "n",
			defaultVal: monthly.NMonths,
			flagsets:   []*pflag.FlagSet{monthlyCmd.Flags()},
		},
		{
			name: "Monthly.Input",
			usage: `
              Monthly.Input is the file name template, with wildcards, matching
              all of the scale factor files for a month.`,
			shorthand:  "i",
			defaultVal: "nc/%Y/omiscal_$res_%Y%m*.nc",
			flagsets:   []*pflag.FlagSet{monthlyCmd.Flags()},
		},
		{
			name: "Monthly.Output",
			usage: `
              Monthly.Output is the file name template of the figure.`,
			shorthand:  "o",
			defaultVal: monthly.Output,
			flagsets:   []*pflag.FlagSet{monthlyCmd.Flags()},
		},
		{
			name: "Monthly.YearChange",
			usage: `
              Monthly.YearChange plots the ratio of each monthly mean to the
              same month of the previous year instead of the mean itself.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{monthlyCmd.Flags()},
		},
		{
			name: "Trend.Input",
			usage: `
              Trend.Input is the file name template of the daily scale factor files.`,
			shorthand:  "i",
			defaultVal: "nc/%Y/omiscal_$res_%Y%m%d.nc",
			flagsets:   []*pflag.FlagSet{trendCmd.Flags()},
		},
		{
			name: "Trend.Output",
			usage: `
              Trend.Output is the figure file. The file extension sets the format.`,
			shorthand:  "o",
			defaultVal: "omiscal_trend.pdf",
			flagsets:   []*pflag.FlagSet{trendCmd.Flags()},
		},
		{
			name: "Trend.Year1",
			usage: `
              Trend.Year1 is the first year of the series.`,
			defaultVal: trend.Year1,
			flagsets:   []*pflag.FlagSet{trendCmd.Flags()},
		},
		{
			name: "Trend.Year2",
			usage: `
              Trend.Year2 is the last year of the series.`,
			defaultVal: trend.Year2,
			flagsets:   []*pflag.FlagSet{trendCmd.Flags()},
		},
		{
			name: "Trend.Resample",
			usage: `
              Trend.Resample is the averaging period of the series, such as 14D.
              "none" plots the daily values.`,
			shorthand:  "s",
			defaultVal: fmt.Sprintf("%dD", trend.Resample),
			flagsets:   []*pflag.FlagSet{trendCmd.Flags()},
		},
		{
			name: "Trend.Regions",
			usage: `
              Trend.Regions is a TOML file listing the regions to plot. The
              default regions are Wuhan, Paris and Washington DC.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{trendCmd.Flags()},
		},
		{
			name: "Trend.CSV",
			usage: `
              Trend.CSV, if set, is a file to write the plotted series to.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{trendCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("NO2OBS")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			case map[string]string:
				b := bytes.NewBuffer(nil)
				json.NewEncoder(b).Encode(v)
				set.StringP(option.name, option.shorthand, strings.TrimSpace(b.String()), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(map2gridCmd)
	Root.AddCommand(scaleFactorCmd)
	Root.AddCommand(obsHourCmd)
	Root.AddCommand(incrementCmd)
	Root.AddCommand(plotCmd)
	plotCmd.AddCommand(dailyCmd)
	plotCmd.AddCommand(monthlyCmd)
	plotCmd.AddCommand(trendCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig(cfg *viper.Viper) error {
	if cfgpath := cfg.GetString("config"); cfgpath != "" {
		cfg.SetConfigFile(cfgpath)
		if err := cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("no2obs: problem reading configuration file: %v", err)
		}
	}
	return nil
}

var logFile *os.File

// setLogging sets the level and destination of the log messages.
func setLogging() error {
	level, err := logrus.ParseLevel(Cfg.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("no2obs: %v", err)
	}
	logrus.SetLevel(level)
	closeLog()
	logrus.SetOutput(os.Stderr)
	if f := os.ExpandEnv(Cfg.GetString("LogFile")); f != "" {
		if err := os.MkdirAll(filepath.Dir(f), 0755); err != nil {
			return fmt.Errorf("no2obs: creating log directory: %v", err)
		}
		logFile, err = os.Create(f)
		if err != nil {
			return fmt.Errorf("no2obs: creating log file: %v", err)
		}
		logrus.SetOutput(io.MultiWriter(os.Stderr, logFile))
	}
	return nil
}

func closeLog() {
	if logFile != nil {
		logrus.SetOutput(os.Stderr)
		logFile.Close()
		logFile = nil
	}
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "no2obs",
	Short: "Satellite NO2 observation processing.",
	Long: `no2obs prepares satellite nitrogen dioxide observations for data
assimilation: it maps swath files onto model grids, calculates emission
scale factors, maps the observation hour of analysis increments and plots
the results. Use the subcommands specified below to access this functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'NO2OBS_var' where 'var' is the
name of the variable to be set, with dots replaced by underscores. File names
may contain environment variables, $res for the grid resolution and strftime
date directives. Inputs and outputs can be stored in blob storage by using
gs://, s3:// or file:// URLs.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if err := setConfig(Cfg); err != nil {
			return err
		}
		return setLogging()
	},
	PersistentPostRun: func(*cobra.Command, []string) { closeLog() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of no2obs.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("no2obs v%s\n", no2obs.Version)
	},
	DisableAutoGenTag: true,
}

var map2gridCmd = &cobra.Command{
	Use:   "map2grid",
	Short: "Grid satellite swath files",
	Long: `map2grid maps the pixels of one day of DOMINO NO2 swath files onto the
grid of a template file, by nearest grid cell. Pixels with a non-zero
quality flag or a high surface albedo are dropped. Each file contributes
the mean of its pixels in the cells it observes, and the file means are
summed or averaged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStage(cmd.Context(), Cfg, cmd.Name())
		if err != nil {
			return err
		}
		defer s.cleanup()
		cfg, err := Map2GridConfig(s)
		if err != nil {
			return err
		}
		ds, err := no2obs.Map2Grid(s.ctx, cfg)
		if err != nil {
			return err
		}
		if err := writeOutput(s, ds, "Map2Grid.Output", cfg.Date); err != nil {
			return err
		}
		return s.finish(cfg.Metrics)
	},
	DisableAutoGenTag: true,
}

var scaleFactorCmd = &cobra.Command{
	Use:   "scalefactor",
	Short: "Calculate NO2 emission scale factors",
	Long: `scalefactor calculates emission scale factors as the ratio of the mean
gridded NO2 column over the 14 days before the analysis date to the mean
over the same days of the reference years. Cells with low emissions
according to the mask file or with fires on a given day are excluded
from the averages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStage(cmd.Context(), Cfg, cmd.Name())
		if err != nil {
			return err
		}
		defer s.cleanup()
		cfg, err := ScaleFactorConfig(s)
		if err != nil {
			return err
		}
		ds, err := no2obs.ScaleFactor(s.ctx, cfg)
		if err != nil {
			return err
		}
		out := s.output("ScaleFactor.Output", cfg.Date)
		if s.err != nil {
			return s.err
		}
		if err := ds.WriteFile(out); err != nil {
			return err
		}
		s.log.WithField("file", out).Info("output written")
		if Cfg.GetBool("ScaleFactor.Plot") {
			png := strings.TrimSuffix(out, filepath.Ext(out)) + ".png"
			if err := no2obs.PlotScaleFactorMap(ds, cfg.Scale, cfg.Date, png); err != nil {
				return err
			}
			s.log.WithField("file", png).Info("figure saved")
		}
		return s.finish(cfg.Metrics)
	},
	DisableAutoGenTag: true,
}

var obsHourCmd = &cobra.Command{
	Use:   "obshour",
	Short: "Map the observation hour of analysis increments",
	Long: `obshour finds, for every grid column where the analysis differs from
the background, the hour of the nearest satellite observation. Columns
without an increment or an observation are missing values.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStage(cmd.Context(), Cfg, cmd.Name())
		if err != nil {
			return err
		}
		defer s.cleanup()
		cfg, err := ObsHourConfig(s, true)
		if err != nil {
			return err
		}
		ds, err := no2obs.ObsHour(s.ctx, cfg)
		if err != nil {
			return err
		}
		if err := writeOutput(s, ds, "ObsHour.Output", cfg.Date); err != nil {
			return err
		}
		return s.finish(cfg.Metrics)
	},
	DisableAutoGenTag: true,
}

var incrementCmd = &cobra.Command{
	Use:   "increment",
	Short: "Write the analysis increment",
	Long:  `increment writes the difference between the analysis and the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStage(cmd.Context(), Cfg, cmd.Name())
		if err != nil {
			return err
		}
		defer s.cleanup()
		cfg, err := ObsHourConfig(s, false)
		if err != nil {
			return err
		}
		ds, err := no2obs.IncrementDataset(s.ctx, cfg)
		if err != nil {
			return err
		}
		if err := writeOutput(s, ds, "Increment.Output", cfg.Date); err != nil {
			return err
		}
		return s.finish(nil)
	},
	DisableAutoGenTag: true,
}

// writeOutput writes ds to the output file given by the named option.
func writeOutput(s *stage, ds *no2obs.Dataset, option string, date time.Time) error {
	out := s.output(option, date)
	if s.err != nil {
		return s.err
	}
	if err := ds.WriteFile(out); err != nil {
		return err
	}
	s.log.WithField("file", out).Info("output written")
	return nil
}

var plotCmd = &cobra.Command{
	Use:               "plot",
	Short:             "Plot scale factors",
	Long:              `plot draws maps and time series of emission scale factors.`,
	DisableAutoGenTag: true,
}

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Plot daily scale factor maps",
	Long: `daily draws one figure per month, with a map of the scale factors for
every day that has a scale factor file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStage(cmd.Context(), Cfg, "plot daily")
		if err != nil {
			return err
		}
		defer s.cleanup()
		cfg, err := DailyPlotConfig(s)
		if err != nil {
			return err
		}
		if _, err := no2obs.PlotDaily(s.ctx, cfg); err != nil {
			return err
		}
		return s.finish(nil)
	},
	DisableAutoGenTag: true,
}

var monthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Plot monthly mean scale factors",
	Long: `monthly draws a map of the mean scale factor for each month of a year,
or of the change from the same month of the previous year.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStage(cmd.Context(), Cfg, "plot monthly")
		if err != nil {
			return err
		}
		defer s.cleanup()
		cfg, err := MonthlyPlotConfig(s)
		if err != nil {
			return err
		}
		if _, err := no2obs.PlotMonthly(s.ctx, cfg); err != nil {
			return err
		}
		return s.finish(nil)
	},
	DisableAutoGenTag: true,
}

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Plot scale factor time series",
	Long: `trend plots the time series of the scale factors in a set of regions.
A region whose corners are equal is a point and uses the nearest grid
cell; other regions use the mean over the cells they contain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStage(cmd.Context(), Cfg, "plot trend")
		if err != nil {
			return err
		}
		defer s.cleanup()
		cfg, err := TrendConfig(s)
		if err != nil {
			return err
		}
		out := s.output("Trend.Output", time.Time{})
		if s.err != nil {
			return s.err
		}
		series, err := no2obs.PlotTrend(s.ctx, cfg, out)
		if err != nil {
			return err
		}
		if Cfg.GetString("Trend.CSV") != "" {
			if err := writeCSV(s, series); err != nil {
				return err
			}
		}
		return s.finish(nil)
	},
	DisableAutoGenTag: true,
}

// writeCSV writes the series to the file given by the Trend.CSV option.
func writeCSV(s *stage, series *no2obs.TrendSeries) error {
	f := s.output("Trend.CSV", time.Time{})
	if s.err != nil {
		return s.err
	}
	if err := os.MkdirAll(filepath.Dir(f), 0755); err != nil {
		return err
	}
	w, err := os.Create(f)
	if err != nil {
		return fmt.Errorf("no2obs: creating csv file: %v", err)
	}
	if err := series.WriteCSV(w); err != nil {
		w.Close()
		return err
	}
	s.log.WithField("file", f).Info("series written")
	return w.Close()
}
