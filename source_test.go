package no2obs

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	vals, shape, err := flatten([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, shape)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, vals)

	vals, shape, err = flatten([][][]int16{{{1}, {2}}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 1}, shape)
	assert.Equal(t, []float64{1, 2}, vals)

	_, _, err = flatten([][]float64{{1, 2}, {3}})
	assert.Error(t, err)

	_, _, err = flatten([]string{"a"})
	assert.Equal(t, errNotNumeric, err)

	_, _, err = flatten(nil)
	assert.Equal(t, errNotNumeric, err)
}

func TestAttrFloat(t *testing.T) {
	for _, test := range []struct {
		a    interface{}
		want float64
		ok   bool
	}{
		{float32(1.5), 1.5, true},
		{[]float64{2, 3}, 2, true},
		{[]int16{}, 0, false},
		{int32(-7), -7, true},
		{uint8(4), 4, true},
		{"1", 0, false},
		{nil, 0, false},
	} {
		have, ok := attrFloat(test.a)
		assert.Equal(t, test.ok, ok, "%v", test.a)
		assert.Equal(t, test.want, have, "%v", test.a)
	}
}

func TestApplyCF(t *testing.T) {
	attrs := map[string]interface{}{
		"_FillValue":   float32(-1.2676506e30),
		"MissingValue": []int32{-999},
		"scale_factor": 2.0,
		"add_offset":   []float64{1},
	}
	vals := []float64{1, float64(float32(-1.2676506e30)), -999, 3}
	applyCF(vals, func(a string) interface{} { return attrs[a] })
	sameFloats(t, []float64{3, nan, nan, 7}, vals, 0)

	vals = []float64{1, 2}
	applyCF(vals, func(string) interface{} { return nil })
	assert.Equal(t, []float64{1, 2}, vals)
}

func TestFirstRecord(t *testing.T) {
	f := &Field{
		Dims:      []string{"time", "x"},
		Shape:     []int{3, 2},
		Values:    []float64{1, 2, 3, 4, 5, 6},
		recordDim: true,
	}
	r := f.firstRecord()
	assert.Equal(t, []int{1, 2}, r.Shape)
	assert.Equal(t, []float64{1, 2}, r.Values)
	assert.False(t, r.recordDim)
	assert.Equal(t, []int{3, 2}, f.Shape)
}

func TestOpenFieldsClassic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swath.he5")
	writeFields(t, path, []string{"scan", "row"}, []int{2, 2}, map[string][]float64{
		"NO2": {1, 2, 3, 4},
	})
	src, err := openFields(path)
	require.NoError(t, err)
	defer src.Close()
	assert.Contains(t, src.Variables(), "NO2")

	// Groups are ignored for classic files.
	f, err := src.Field("/HDFEOS/SWATHS/ColumnAmountNO2/Data Fields", "NO2")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, f.Shape)
	assert.Equal(t, []string{"scan", "row"}, f.Dims)
	assert.Equal(t, 4, f.Len())
	assert.Equal(t, []float64{1, 2, 3, 4}, f.Values)

	_, err = src.Field("", "missing")
	assert.Error(t, err)
	assert.False(t, math.IsNaN(f.Values[0]))
}

const swathFixture = "testdata/swath.he5"

func TestOpenFieldsHDF5(t *testing.T) {
	src, err := openFields(swathFixture)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, "OMI", src.Attributes()["InstrumentName"])

	f, err := src.Field("/HDFEOS/SWATHS/DominoNO2/Data Fields", "TroposphericVerticalColumn")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, f.Shape)
	assert.Equal(t, []string{"TroposphericVerticalColumn_dim0", "TroposphericVerticalColumn_dim1"}, f.Dims)
	assert.Equal(t, "molec/cm^2", f.Units)
	sameFloats(t, []float64{2, 4, 6, 9, nan, -1}, f.Values, 0)

	// Packed integers are unpacked after masking the fill value.
	f, err = src.Field("HDFEOS/SWATHS/DominoNO2/Data Fields", "CloudFraction")
	require.NoError(t, err)
	sameFloats(t, []float64{1, 2, 3, 4, 5, nan}, f.Values, 0)

	f, err = src.Field("HDFEOS/SWATHS/DominoNO2/Geolocation Fields", "Longitude")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 10, 20, 20, 20}, f.Values)

	_, err = src.Field("HDFEOS/SWATHS/DominoNO2/Data Fields", "missing")
	assert.Error(t, err)
	_, err = src.Field("HDFEOS/SWATHS/ColumnAmountNO2/Data Fields", "TroposphericVerticalColumn")
	assert.Error(t, err)
}

func TestReadPixelsHDF5(t *testing.T) {
	cfg := DefaultMap2GridConfig()
	cfg.RowsSkip = 0
	pixels, total, err := cfg.ReadPixels(swathFixture)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Equal(t, []Pixel{{0, 0, 2}, {1, 1, 4}, {10, 10, 6}}, pixels)

	cfg.Fields.NO2 = "ColumnAmountNO2Trop"
	_, _, err = cfg.ReadPixels(swathFixture)
	assert.Error(t, err)
}
