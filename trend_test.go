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
	"bytes"
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionValue(t *testing.T) {
	g := testGrid(t) // lon 0, 10, 20; lat 0, 10
	vals := []float64{1, 2, 3, 4, nan, 6}

	point := Region{Name: "p", West: 11, East: 11, South: 1, North: 12}
	assert.Equal(t, 2.0, point.Value(g, []float64{1, 2, 3, 4, 5, 6}))
	point.South, point.North = 9, 9
	assert.True(t, math.IsNaN(point.Value(g, vals)))

	box := Region{Name: "b", West: 25, East: 5, South: -1, North: 11}
	assert.Equal(t, (2+3+6)/3.0, box.Value(g, vals))

	empty := Region{Name: "e", West: 1, East: 2, South: 1, North: 2}
	assert.True(t, math.IsNaN(empty.Value(g, vals)))

	for _, r := range DefaultRegions() {
		assert.True(t, r.West == r.East || r.South == r.North, r.Name)
	}
}

const trianglePolygon = `{"type":"Polygon","coordinates":[[[-1,-1],[21,-1],[-1,11],[-1,-1]]]}`

func TestLoadRegions(t *testing.T) {
	dir := t.TempDir()
	writeText(t, filepath.Join(dir, "shapes", "triangle.geojson"), trianglePolygon)
	file := filepath.Join(dir, "regions.toml")
	writeText(t, file, `
[[Region]]
Name = "Triangle"
Polygon = "shapes/triangle.geojson"

[[Region]]
Name = "Box"
West = 5.0
East = 25.0
South = -1.0
North = 1.0
`)
	regions, err := LoadRegions(file)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "Triangle", regions[0].Name)
	assert.NotNil(t, regions[0].poly)

	g := testGrid(t)
	vals := []float64{1, 2, 3, 4, 5, 6}
	// Cells (0,0), (10,0) and (0,10) are inside the triangle.
	assert.InDelta(t, (1+2+4)/3.0, regions[0].Value(g, vals), 1e-12)
	assert.Equal(t, 2.5, regions[1].Value(g, vals))
}

func TestLoadRegionsErrors(t *testing.T) {
	dir := t.TempDir()
	noName := filepath.Join(dir, "noname.toml")
	writeText(t, noName, "[[Region]]\nWest = 1.0\n")
	_, err := LoadRegions(noName)
	assert.Error(t, err)

	none := filepath.Join(dir, "none.toml")
	writeText(t, none, "# nothing\n")
	_, err = LoadRegions(none)
	assert.Error(t, err)

	line := filepath.Join(dir, "line.geojson")
	writeText(t, line, `{"type":"LineString","coordinates":[[0,0],[1,1]]}`)
	badPoly := filepath.Join(dir, "badpoly.toml")
	writeText(t, badPoly, "[[Region]]\nName = \"x\"\nPolygon = \"line.geojson\"\n")
	_, err = LoadRegions(badPoly)
	assert.Error(t, err)

	_, err = LoadRegions(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestParseResample(t *testing.T) {
	for s, want := range map[string]int{"14D": 14, "7d": 7, "3": 3, "": 0, "none": 0} {
		n, err := ParseResample(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, n, s)
	}
	_, err := ParseResample("2W")
	assert.Error(t, err)
	_, err = ParseResample("-3D")
	assert.Error(t, err)
}

func TestResample(t *testing.T) {
	s := &TrendSeries{
		Names: []string{"a", "b"},
		Dates: []time.Time{
			date(2020, time.January, 1),
			date(2020, time.January, 2),
			date(2020, time.January, 20),
			date(2020, time.January, 29),
		},
		Values: [][]float64{
			{1, 3, 5, 7},
			{nan, nan, 2, nan},
		},
	}
	r := s.Resample(14)
	assert.Equal(t, []time.Time{
		date(2020, time.January, 1),
		date(2020, time.January, 15),
		date(2020, time.January, 29),
	}, r.Dates)
	sameFloats(t, []float64{2, 5, 7}, r.Values[0], 1e-12)
	sameFloats(t, []float64{nan, 2, nan}, r.Values[1], 0)

	assert.Equal(t, s, s.Resample(1))
}

func TestWriteCSV(t *testing.T) {
	s := &TrendSeries{
		Names:  []string{"Paris, France", "b"},
		Dates:  []time.Time{date(2020, time.January, 1), date(2020, time.January, 15)},
		Values: [][]float64{{1.25, nan}, {0.5, 1}},
	}
	var buf bytes.Buffer
	require.NoError(t, s.WriteCSV(&buf))
	assert.Equal(t, "date,\"Paris, France\",b\n2020-01-01,1.25,0.5\n2020-01-15,NaN,1\n", buf.String())
}

func TestPlotTrend(t *testing.T) {
	dir := t.TempDir()
	writeScaleFactors(t, dir, date(2020, time.January, 3), 0.5)
	writeScaleFactors(t, dir, date(2020, time.January, 4), 1.5)
	writeScaleFactors(t, dir, date(2020, time.March, 1), 1.2)

	cfg := DefaultTrendConfig()
	cfg.Input = filepath.Join(dir, cfg.Input)
	cfg.Year1, cfg.Year2 = 2020, 2020
	cfg.Regions = []Region{{Name: "Paris, France", West: 2.35, East: 2.35, South: 48.8, North: 48.8}}
	out := filepath.Join(dir, "png", "trend.png")
	s, err := PlotTrend(context.Background(), cfg, out)
	require.NoError(t, err)
	assert.True(t, fileExists(out))
	assert.Equal(t, []time.Time{
		date(2020, time.January, 3),
		date(2020, time.January, 17),
		date(2020, time.January, 31),
		date(2020, time.February, 14),
		date(2020, time.February, 28),
	}, s.Dates)
	sameFloats(t, []float64{1, nan, nan, nan, 1.2}, s.Values[0], 1e-6)

	cfg.Year1, cfg.Year2 = 2019, 2019
	_, err = PlotTrend(context.Background(), cfg, out)
	assert.Error(t, err)
}
