package no2obsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spatialmodel/no2obs"
	"github.com/stretchr/testify/require"
)

// set sets a configuration value for the duration of the test.
func set(t *testing.T, key string, value interface{}) {
	t.Helper()
	old := Cfg.Get(key)
	Cfg.Set(key, value)
	t.Cleanup(func() { Cfg.Set(key, old) })
}

// run executes the command line given by args.
func run(t *testing.T, args ...string) error {
	t.Helper()
	Root.SetArgs(args)
	return Root.Execute()
}

// writeGrid writes [time, lat, lon] variables on a lat-lon grid.
func writeGrid(t *testing.T, path string, lon, lat []float64, vars map[string][]float64) {
	t.Helper()
	ds := no2obs.NewDataset()
	require.NoError(t, ds.SetTime(0, "hours since 2020-01-01 00:00:00"))
	require.NoError(t, ds.SetCoord("lat", lat, "degrees_north"))
	require.NoError(t, ds.SetCoord("lon", lon, "degrees_east"))
	for name, vals := range vars {
		v, err := ds.AddVar(name, []string{"time", "lat", "lon"}, "1", name)
		require.NoError(t, err)
		require.NoError(t, v.SetSlab(vals))
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ds.WriteFile(path))
}

// writeFields writes variables sharing one set of dimensions without
// coordinates.
func writeFields(t *testing.T, path string, dims []string, shape []int, vars map[string][]float64) {
	t.Helper()
	ds := no2obs.NewDataset()
	for i, d := range dims {
		require.NoError(t, ds.AddDim(d, shape[i]))
	}
	for name, vals := range vars {
		v, err := ds.AddVar(name, dims, "", "")
		require.NoError(t, err)
		copy(v.Data.Elements, vals)
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ds.WriteFile(path))
}

// writeSwaths writes a template on a 3x2 grid and two DOMINO-like
// swath files for 2020-03-01 under dir. Gridding them with the sum of
// the file means gives 8, 0, 0, 0, 6, 1.
func writeSwaths(t *testing.T, dir string) {
	writeGrid(t, filepath.Join(dir, "templates", "template_5x5.nc"), []float64{0, 10, 20}, []float64{0, 10},
		map[string][]float64{"TroposphericNO2": {5, 5, 5, 5, 5, 5}})
	day := filepath.Join(dir, "he5", "2020", "20200301")
	swath := func(name string, nscan int, no2, flag, albedo, lat, lon []float64) {
		writeFields(t, filepath.Join(day, name), []string{"scan", "row"}, []int{nscan, 3}, map[string][]float64{
			"TroposphericVerticalColumn": no2,
			"TroposphericColumnFlag":     flag,
			"SurfaceAlbedo":              albedo,
			"Latitude":                   lat,
			"Longitude":                  lon,
		})
	}
	swath("a.he5", 2,
		[]float64{2, 4, 6, 9, 9, -1},
		[]float64{0, 0, 0, 1, 0, 0},
		[]float64{0, 0, 0, 0, 4000, 0},
		[]float64{0, 1, 10, 0, 0, 10},
		[]float64{0, 1, 10, 20, 20, 20},
	)
	swath("b.he5", 1,
		[]float64{5, 1, 0},
		[]float64{0, 0, 0},
		[]float64{0, 0, 0},
		[]float64{0, 10, 0},
		[]float64{0, 20, 10},
	)
}

// inTempDir runs the test in a new working directory holding an empty
// "bucket" directory for file:// URLs.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	require.NoError(t, os.Mkdir("bucket", 0755))
	return dir
}
