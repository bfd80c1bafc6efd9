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
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeAnalysis writes a [time, lev, lat, lon] NO2 field with two
// time steps, where only the first holds vals.
func writeAnalysis(t *testing.T, path string, lon, lat []float64, nlev int, vals []float64) {
	t.Helper()
	ds := NewDataset()
	require.NoError(t, ds.SetCoord("time", []float64{0, 360}, "minutes since 2018-07-01 12:00:00"))
	require.NoError(t, ds.AddDim("lev", nlev))
	require.NoError(t, ds.SetCoord("lat", lat, "degrees_north"))
	require.NoError(t, ds.SetCoord("lon", lon, "degrees_east"))
	v, err := ds.AddVar("NO2", []string{"time", "lev", "lat", "lon"}, "mol mol-1", "NO2")
	require.NoError(t, err)
	copy(v.Data.Elements, vals)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ds.WriteFile(path))
}

// obsHourSetup writes an analysis with increments in cells 0 (level 1)
// and 5 (level 0) of a 3x2 grid, and satellite observations around
// hour 11 in cell 0 and tied between hours 0 and 3 in cell 4.
func obsHourSetup(t *testing.T) *ObsHourConfig {
	dir := t.TempDir()
	lon, lat := []float64{0, 1, 2}, []float64{0, 1}
	ana := make([]float64, 2*2*6)
	ana[6] = 1   // level 1, cell 0
	ana[5] = 2   // level 0, cell 5
	ana[12] = 50 // second time step
	writeAnalysis(t, filepath.Join(dir, "omno2.ana.eta.20180701_12z.nc4"), lon, lat, 2, ana)
	writeAnalysis(t, filepath.Join(dir, "omno2.cbkg.eta.20180701_12z.nc4"), lon, lat, 2, make([]float64, 24))

	writeFields(t, filepath.Join(dir, "omno2.20180701.t12z.nc"), []string{"nobs"}, []int{7}, map[string][]float64{
		"ColumnAmountNO2Trop": {1, 1, 1, 1, 1, nan, 1},
		"Longitude":           {0, 0.2, 0, 1, 1, 2, 1.1},
		"Latitude":            {0, 0.1, 0, 1, 1, 0, 0.9},
		"Hour":                {10, 11, 5, 23, 3, 7, 3},
		"Minute":              {45, 10, 0, 40, 0, 0, 45},
	})

	cfg := DefaultObsHourConfig()
	cfg.Date = time.Date(2018, time.July, 1, 12, 30, 0, 0, time.UTC)
	cfg.AnaFile = filepath.Join(dir, cfg.AnaFile)
	cfg.BkgFile = filepath.Join(dir, cfg.BkgFile)
	cfg.SatFile = filepath.Join(dir, cfg.SatFile)
	cfg.Metrics = NewMetrics("obshour")
	return cfg
}

func TestObsHour(t *testing.T) {
	fakeClock(t)
	cfg := obsHourSetup(t)
	ds, err := ObsHour(context.Background(), cfg)
	require.NoError(t, err)

	v, g, err := ds.GridVar("ana_hour")
	require.NoError(t, err)
	assert.Equal(t, "hour", v.Units)
	assert.Equal(t, "analysis_nearest_hour", v.LongName)
	assert.Equal(t, 3, g.Nx())
	sameFloats(t, []float64{11, nan, nan, nan, nan, 0}, v.Data.Elements, 0)
	assert.Equal(t, []float64{12.5}, ds.Coord("time"))
	assert.Equal(t, "hours since 2018-07-01", ds.Coords["time"].Units)
	assert.Equal(t, "degrees_north", ds.Coords["lat"].Units)
	assert.Equal(t, "Created by no2obs obshour on 2021-03-04 05:06", ds.Attrs["History"])

	m := cfg.Metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesRead))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.PixelsRead))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.PixelsKept))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CellsFilled))

	out := filepath.Join(t.TempDir(), "ana_hour.nc")
	require.NoError(t, ds.WriteFile(out))
	r, err := ReadDataset(out)
	require.NoError(t, err)
	hours, err := r.Field2D("ana_hour", 0, 0)
	require.NoError(t, err)
	sameFloats(t, []float64{11, nan, nan, nan, nan, 0}, hours, 0)
}

func TestObsHourNoSatellite(t *testing.T) {
	cfg := obsHourSetup(t)
	require.NoError(t, os.Remove(filepath.Join(filepath.Dir(cfg.AnaFile), "omno2.20180701.t12z.nc")))
	ds, err := ObsHour(context.Background(), cfg)
	require.NoError(t, err)
	hours, err := ds.Field2D("ana_hour", 0, 0)
	require.NoError(t, err)
	sameFloats(t, nanFill(6), hours, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.FilesSkipped))
}

func TestObsHourMissingAnalysis(t *testing.T) {
	cfg := obsHourSetup(t)
	cfg.Date = cfg.Date.Add(6 * time.Hour)
	_, err := ObsHour(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRoundHour(t *testing.T) {
	assert.Equal(t, 10, RoundHour(10, 29))
	assert.Equal(t, 11, RoundHour(10, 30))
	assert.Equal(t, 0, RoundHour(23, 30))
	assert.Equal(t, 23, RoundHour(23, 0))
}

func TestObservationHours(t *testing.T) {
	g, err := NewGrid([]float64{0, 1}, []float64{0})
	require.NoError(t, err)
	hours := ObservationHours(g, []Pixel{
		{Lon: 0, Lat: 0, Value: 7},
		{Lon: 0, Lat: 0, Value: 4},
		{Lon: 0, Lat: 0, Value: 7},
		{Lon: 0, Lat: 0, Value: 4},
		{Lon: 0, Lat: 0, Value: 9},
	})
	sameFloats(t, []float64{4, nan}, hours, 0)
}

func TestNearestHoursTie(t *testing.T) {
	g, err := NewGrid([]float64{0, 1, 2}, []float64{0})
	require.NoError(t, err)
	have := NearestHours(g, []float64{3, nan, 7}, []bool{false, true, false})
	sameFloats(t, []float64{nan, 3, nan}, have, 0)

	have = NearestHours(g, nanFill(3), []bool{true, true, true})
	sameFloats(t, nanFill(3), have, 0)
}

// bruteNearestHour is the hour of the observed cell closest to cell c,
// with ties going to the lower cell index.
func bruteNearestHour(g *Grid, hours []float64, c int) float64 {
	x, y := g.Center(c)
	best, bh := math.Inf(1), math.NaN()
	for k, h := range hours {
		if math.IsNaN(h) {
			continue
		}
		kx, ky := g.Center(k)
		if d := (kx-x)*(kx-x) + (ky-y)*(ky-y); d < best {
			best, bh = d, h
		}
	}
	return bh
}

func TestNearestHoursMatchesScan(t *testing.T) {
	lon := make([]float64, 20)
	for i := range lon {
		lon[i] = 2.5 * float64(i)
	}
	lat := make([]float64, 15)
	for j := range lat {
		lat[j] = 30 - 2*float64(j)
	}
	g, err := NewGrid(lon, lat)
	require.NoError(t, err)
	for seed := int64(0); seed < 5; seed++ {
		r := rand.New(rand.NewSource(seed))
		hours := nanFill(g.Len())
		active := make([]bool, g.Len())
		for c := range hours {
			if r.Float64() < 0.05 {
				hours[c] = float64(r.Intn(24))
			}
			active[c] = r.Float64() < 0.5
		}
		hours[r.Intn(g.Len())] = 1
		have := NearestHours(g, hours, active)
		for c := range have {
			if !active[c] {
				require.True(t, math.IsNaN(have[c]))
				continue
			}
			require.Equal(t, bruteNearestHour(g, hours, c), have[c], "seed %d cell %d", seed, c)
		}
	}
}
