package no2obs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scaleFactorSetup writes a template and mask on a two-cell grid and
// returns settings that read gridded NO2 from the returned directory.
func scaleFactorSetup(t *testing.T) (*ScaleFactorConfig, string) {
	dir := t.TempDir()
	lon, lat := []float64{0, 10}, []float64{0}
	writeGridFile(t, filepath.Join(dir, "omiscal_template_2x2.5.nc"), lon, lat,
		map[string][]float64{"scal": {0, 0}})
	writeGridFile(t, filepath.Join(dir, "HTAP_NO_mean.2x2.5.nc"), lon, lat,
		map[string][]float64{"emi_no": {1, 0}})

	cfg := DefaultScaleFactorConfig()
	cfg.Res = "2x2.5"
	cfg.Template = filepath.Join(dir, "omiscal_template_$res.nc")
	cfg.MaskFile = filepath.Join(dir, "HTAP_NO_mean.$res.nc")
	cfg.MaskValue = 0.5
	cfg.Input = filepath.Join(dir, "nc_$res", "%Y", "omi_$res_%Y%m%d.nc")
	cfg.FireFile = filepath.Join(dir, "qfed", "qfed.%Y%m%d.nc")
	cfg.Metrics = NewMetrics("scalefactor")
	return cfg, dir
}

func writeNO2(t *testing.T, dir string, d time.Time, vals []float64) {
	t.Helper()
	path := filepath.Join(dir, "nc_2x2.5", d.Format("2006"), "omi_2x2.5_"+d.Format("20060102")+".nc")
	writeGridFile(t, path, []float64{0, 10}, []float64{0}, map[string][]float64{"TroposphericNO2": vals})
}

func TestScaleFactor(t *testing.T) {
	fakeClock(t)
	cfg, dir := scaleFactorSetup(t)
	cfg.Date = date(2020, time.March, 10)
	writeNO2(t, dir, date(2020, time.March, 5), []float64{3, 9})
	writeNO2(t, dir, date(2020, time.March, 6), []float64{100, 9})
	writeNO2(t, dir, date(2017, time.March, 1), []float64{4, 9})
	// The fire grid is finer than the NO2 grid; its cell at lon 1
	// is nearest to the NO2 cell at lon 0.
	writeGridFile(t, filepath.Join(dir, "qfed", "qfed.20200306.nc"), []float64{1, 6}, []float64{0},
		map[string][]float64{"biomass": {1e-6, 0}})

	ds, err := ScaleFactor(context.Background(), cfg)
	require.NoError(t, err)
	scal, err := ds.Field2D("scal", 0, 0)
	require.NoError(t, err)
	sameFloats(t, []float64{0.75, 1}, scal, 1e-12)
	assert.Equal(t, "hours since 2020-03-10 00:00:00", ds.Coords["time"].Units)
	assert.Equal(t, "Created by no2obs scalefactor on 2021-03-04 05:06", ds.Attrs["History"])

	m := cfg.Metrics
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FilesRead))
	assert.Equal(t, 7.0-2+21-1, testutil.ToFloat64(m.FilesSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CellsFilled))
}

func TestScaleFactorYears(t *testing.T) {
	cfg, dir := scaleFactorSetup(t)
	cfg.Date = date(2020, time.March, 10)
	cfg.NYears = 2
	writeNO2(t, dir, date(2020, time.March, 5), []float64{3, 9})
	writeNO2(t, dir, date(2017, time.March, 1), []float64{4, 9})
	writeNO2(t, dir, date(2016, time.March, 1), []float64{8, 9})

	ds, err := ScaleFactor(context.Background(), cfg)
	require.NoError(t, err)
	scal, err := ds.Field2D("scal", 0, 0)
	require.NoError(t, err)
	sameFloats(t, []float64{0.5, 1}, scal, 1e-12)
}

func TestScaleFactorLeapDay(t *testing.T) {
	cfg, dir := scaleFactorSetup(t)
	cfg.Date = date(2020, time.February, 29)
	writeNO2(t, dir, date(2020, time.February, 25), []float64{1, 9})
	writeNO2(t, dir, date(2017, time.March, 6), []float64{2, 9})
	writeNO2(t, dir, date(2017, time.March, 7), []float64{50, 9})

	ds, err := ScaleFactor(context.Background(), cfg)
	require.NoError(t, err)
	scal, err := ds.Field2D("scal", 0, 0)
	require.NoError(t, err)
	sameFloats(t, []float64{0.5, 1}, scal, 1e-12)
}

func TestScaleFactorToday(t *testing.T) {
	fakeClock(t)
	cfg, _ := scaleFactorSetup(t)
	ds, err := ScaleFactor(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "hours since 2021-03-04 00:00:00", ds.Coords["time"].Units)
	scal, err := ds.Field2D("scal", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, scal)
}

func TestScaleFactorMaskMismatch(t *testing.T) {
	cfg, dir := scaleFactorSetup(t)
	writeGridFile(t, filepath.Join(dir, "HTAP_NO_mean.2x2.5.nc"), []float64{0, 10, 20}, []float64{0},
		map[string][]float64{"emi_no": {1, 1, 1}})
	_, err := ScaleFactor(context.Background(), cfg)
	assert.Error(t, err)
}

func TestScaleFactorAverage(t *testing.T) {
	cfg, dir := scaleFactorSetup(t)
	writeNO2(t, dir, date(2020, time.March, 5), []float64{3, 9})
	writeNO2(t, dir, date(2020, time.March, 6), []float64{5, 9})
	avg, err := cfg.Average(context.Background(), date(2020, time.March, 5), date(2020, time.March, 7))
	require.NoError(t, err)
	sameFloats(t, []float64{4, nan}, avg, 1e-12)

	cfg.NO2Threshold = 4
	avg, err = cfg.Average(context.Background(), date(2020, time.March, 5), date(2020, time.March, 7))
	require.NoError(t, err)
	sameFloats(t, []float64{5, nan}, avg, 1e-12)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cfg.Average(ctx, date(2020, time.March, 5), date(2020, time.March, 7))
	assert.Error(t, err)
}

func TestScaleFactors(t *testing.T) {
	have := ScaleFactors(
		[]float64{2, 0, 10, 0.01, 1, 0.5},
		[]float64{1, 1, 1, 1, 0, 1},
		0.1, 1.5)
	assert.Equal(t, []float64{1.5, 1, 1.5, 0.1, 1, 0.5}, have)
}
