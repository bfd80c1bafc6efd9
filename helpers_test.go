package no2obs

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var nan = math.NaN()

// writeGridFile writes a gridded file with a time dimension of length
// one and the given [time, lat, lon] variables.
func writeGridFile(t *testing.T, path string, lon, lat []float64, vars map[string][]float64) {
	t.Helper()
	ds := NewDataset()
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

// writeFields writes variables that share a single list of
// dimensions and have no coordinates.
func writeFields(t *testing.T, path string, dims []string, shape []int, vars map[string][]float64) {
	t.Helper()
	ds := NewDataset()
	for i, d := range dims {
		require.NoError(t, ds.AddDim(d, shape[i]))
	}
	for name, vals := range vars {
		v, err := ds.AddVar(name, dims, "", "")
		require.NoError(t, err)
		require.Len(t, v.Data.Elements, len(vals), name)
		copy(v.Data.Elements, vals)
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ds.WriteFile(path))
}

// fakeClock sets the package clock to a fixed time for the duration
// of the test.
func fakeClock(t *testing.T) clockwork.FakeClock {
	c := clockwork.NewFakeClockAt(time.Date(2021, time.March, 4, 5, 6, 0, 0, time.UTC))
	SetClock(c)
	t.Cleanup(func() { SetClock(nil) })
	return c
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// sameFloats compares slices elementwise, treating NaNs as equal.
func sameFloats(t *testing.T, want, have []float64, tol float64) {
	t.Helper()
	require.Len(t, have, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(have[i]) {
				t.Errorf("element %d: want NaN, have %g", i, have[i])
			}
			continue
		}
		if math.Abs(want[i]-have[i]) > tol {
			t.Errorf("element %d: want %g, have %g", i, want[i], have[i])
		}
	}
}

func writeText(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
}
