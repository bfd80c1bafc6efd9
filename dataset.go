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
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// Variable is a named array in a Dataset.
type Variable struct {
	Dims     []string
	Units    string
	LongName string
	Data     *sparse.DenseArray
}

// Slab returns a copy of the values in the last two dimensions of v
// (usually latitude and longitude) at the given leading indices.
// Leading indices that are not specified are set to zero.
func (v *Variable) Slab(lead ...int) ([]float64, error) {
	off, n, err := v.slabOffset(lead)
	if err != nil {
		return nil, err
	}
	o := make([]float64, n)
	copy(o, v.Data.Elements[off:off+n])
	return o, nil
}

// SetSlab replaces the values in the last two dimensions of v at the
// given leading indices.
func (v *Variable) SetSlab(vals []float64, lead ...int) error {
	off, n, err := v.slabOffset(lead)
	if err != nil {
		return err
	}
	if len(vals) != n {
		return fmt.Errorf("no2obs: slab has %d values but variable needs %d", len(vals), n)
	}
	copy(v.Data.Elements[off:off+n], vals)
	return nil
}

func (v *Variable) slabOffset(lead []int) (off, n int, err error) {
	shape := v.Data.Shape
	nd := len(shape)
	if nd < 2 {
		return 0, 0, fmt.Errorf("no2obs: variable with dimensions %v has fewer than 2 dimensions", v.Dims)
	}
	if len(lead) > nd-2 {
		return 0, 0, fmt.Errorf("no2obs: %d leading indices given for variable with dimensions %v", len(lead), v.Dims)
	}
	n = shape[nd-1] * shape[nd-2]
	stride := n
	for k := nd - 3; k >= 0; k-- {
		idx := 0
		if k < len(lead) {
			idx = lead[k]
		}
		if idx < 0 || idx >= shape[k] {
			return 0, 0, fmt.Errorf("no2obs: index %d out of range for dimension %s of length %d", idx, v.Dims[k], shape[k])
		}
		off += idx * stride
		stride *= shape[k]
	}
	return off, n, nil
}

// Dataset is a gridded data product with named dimensions, coordinate
// variables, data variables and global attributes.
type Dataset struct {
	dims   []string
	length map[string]int

	// Coords holds one-dimensional coordinate variables, keyed by the
	// name of their dimension.
	Coords map[string]*Variable

	Vars  map[string]*Variable
	Attrs map[string]string
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{
		length: make(map[string]int),
		Coords: make(map[string]*Variable),
		Vars:   make(map[string]*Variable),
		Attrs:  make(map[string]string),
	}
}

// Dims returns the dimension names in the order they were added.
func (d *Dataset) Dims() []string { return append([]string{}, d.dims...) }

// DimLen returns the length of dimension name, or zero if it does
// not exist.
func (d *Dataset) DimLen(name string) int { return d.length[name] }

// AddDim adds a dimension. Adding an existing dimension with the same
// length has no effect.
func (d *Dataset) AddDim(name string, n int) error {
	if n <= 0 {
		return fmt.Errorf("no2obs: dimension %s must have positive length, not %d", name, n)
	}
	if l, ok := d.length[name]; ok {
		if l != n {
			return fmt.Errorf("no2obs: dimension %s has length %d, not %d", name, l, n)
		}
		return nil
	}
	d.dims = append(d.dims, name)
	d.length[name] = n
	return nil
}

// SetCoord sets the values of the coordinate variable for dimension
// name, creating the dimension if necessary.
func (d *Dataset) SetCoord(name string, values []float64, units string) error {
	if err := d.AddDim(name, len(values)); err != nil {
		return err
	}
	data := sparse.ZerosDense(len(values))
	copy(data.Elements, values)
	c, ok := d.Coords[name]
	if !ok {
		c = &Variable{Dims: []string{name}}
		d.Coords[name] = c
	}
	c.Data = data
	c.Units = units
	return nil
}

// Coord returns the values of the coordinate variable for dimension
// name, or nil if there isn't one.
func (d *Dataset) Coord(name string) []float64 {
	c, ok := d.Coords[name]
	if !ok {
		return nil
	}
	return c.Data.Elements
}

// AddVar adds a zero-valued variable with the given dimensions,
// which must already exist.
func (d *Dataset) AddVar(name string, dims []string, units, longName string) (*Variable, error) {
	shape := make([]int, len(dims))
	for i, dim := range dims {
		l, ok := d.length[dim]
		if !ok {
			return nil, fmt.Errorf("no2obs: adding variable %s: no dimension %s", name, dim)
		}
		shape[i] = l
	}
	v := &Variable{
		Dims:     append([]string{}, dims...),
		Units:    units,
		LongName: longName,
		Data:     sparse.ZerosDense(shape...),
	}
	d.Vars[name] = v
	return v, nil
}

// Var returns the data variable with the given name.
func (d *Dataset) Var(name string) (*Variable, error) {
	v, ok := d.Vars[name]
	if !ok {
		return nil, fmt.Errorf("no2obs: variable %s not in dataset", name)
	}
	return v, nil
}

// Field2D returns a copy of the [lat, lon] slice of the named variable
// at time index t and, for variables with a level dimension, level k.
func (d *Dataset) Field2D(name string, t, k int) ([]float64, error) {
	v, err := d.Var(name)
	if err != nil {
		return nil, err
	}
	lead := []int{t, k}
	if nd := len(v.Data.Shape) - 2; nd < len(lead) {
		if nd < 0 {
			nd = 0
		}
		lead = lead[:nd]
	}
	return v.Slab(lead...)
}

var (
	lonNames = []string{"lon", "longitude"}
	latNames = []string{"lat", "latitude"}
)

func (d *Dataset) coordAlias(names []string) (string, []float64) {
	for _, n := range names {
		if c := d.Coord(n); c != nil {
			return n, c
		}
	}
	return "", nil
}

// Grid returns the latitude-longitude grid of the dataset, from
// coordinates named lon/lat or longitude/latitude.
func (d *Dataset) Grid() (*Grid, error) {
	_, lon := d.coordAlias(lonNames)
	_, lat := d.coordAlias(latNames)
	if lon == nil || lat == nil {
		return nil, fmt.Errorf("no2obs: dataset has no longitude and latitude coordinates")
	}
	return NewGrid(lon, lat)
}

// GridVar returns the named variable and the dataset grid, after
// checking that the last two dimensions of the variable are latitude
// and longitude on that grid.
func (d *Dataset) GridVar(name string) (*Variable, *Grid, error) {
	v, err := d.Var(name)
	if err != nil {
		return nil, nil, err
	}
	g, err := d.Grid()
	if err != nil {
		return nil, nil, err
	}
	shape := v.Data.Shape
	nd := len(shape)
	if nd < 2 || shape[nd-2] != g.Ny() || shape[nd-1] != g.Nx() {
		return nil, nil, fmt.Errorf("no2obs: variable %s with shape %v does not match the %dx%d grid",
			name, shape, g.Ny(), g.Nx())
	}
	return v, g, nil
}

// SetTime sets the time coordinate to a single value.
func (d *Dataset) SetTime(value float64, units string) error {
	return d.SetCoord("time", []float64{value}, units)
}

// Clone returns a deep copy of d.
func (d *Dataset) Clone() *Dataset {
	o := NewDataset()
	o.dims = append(o.dims, d.dims...)
	for k, v := range d.length {
		o.length[k] = v
	}
	for k, v := range d.Coords {
		o.Coords[k] = v.clone()
	}
	for k, v := range d.Vars {
		o.Vars[k] = v.clone()
	}
	for k, v := range d.Attrs {
		o.Attrs[k] = v
	}
	return o
}

func (v *Variable) clone() *Variable {
	return &Variable{
		Dims:     append([]string{}, v.Dims...),
		Units:    v.Units,
		LongName: v.LongName,
		Data:     v.Data.Copy(),
	}
}

// Fill sets every element of the named variable to val.
func (d *Dataset) Fill(name string, val float64) error {
	v, err := d.Var(name)
	if err != nil {
		return err
	}
	for i := range v.Data.Elements {
		v.Data.Elements[i] = val
	}
	return nil
}

// WriteFile writes d to a new classic-format NetCDF file at path.
func (d *Dataset) WriteFile(path string) error {
	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("no2obs: creating output file: %v", err)
	}
	if err := d.Write(w); err != nil {
		w.Close()
		return fmt.Errorf("no2obs: writing %s: %v", path, err)
	}
	return w.Close()
}

// Write writes d to netcdf file w. Coordinates are stored as double
// precision and data variables as single precision values.
func (d *Dataset) Write(w *os.File) error {
	lengths := make([]int, len(d.dims))
	for i, dim := range d.dims {
		lengths[i] = d.length[dim]
	}
	h := cdf.NewHeader(d.dims, lengths)

	// Sort the names so they write in the same order every time.
	attrs := sortedKeys(d.Attrs)
	for _, a := range attrs {
		h.AddAttribute("", a, d.Attrs[a])
	}

	var coords []string
	for _, dim := range d.dims {
		if c, ok := d.Coords[dim]; ok {
			coords = append(coords, dim)
			h.AddVariable(dim, []string{dim}, []float64{0})
			addVarAttrs(h, dim, c)
		}
	}
	names := make([]string, 0, len(d.Vars))
	for n := range d.Vars {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		v := d.Vars[name]
		if err := d.checkVar(name, v); err != nil {
			return err
		}
		h.AddVariable(name, v.Dims, []float32{0})
		addVarAttrs(h, name, v)
	}
	h.Define()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return err
	}
	for _, name := range coords {
		if _, err := writer(f, name).Write(d.Coords[name].Data.Elements); err != nil {
			return fmt.Errorf("no2obs: writing coordinate %s: %v", name, err)
		}
	}
	for _, name := range names {
		if err := writeNCF(f, name, d.Vars[name].Data); err != nil {
			return fmt.Errorf("no2obs: writing variable %s to netcdf file: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

func (d *Dataset) checkVar(name string, v *Variable) error {
	if len(v.Dims) != len(v.Data.Shape) {
		return fmt.Errorf("no2obs: variable %s has %d dimensions but %d-dimensional data",
			name, len(v.Dims), len(v.Data.Shape))
	}
	for i, dim := range v.Dims {
		if d.length[dim] != v.Data.Shape[i] {
			return fmt.Errorf("no2obs: variable %s dimension %s has length %d, but data has length %d",
				name, dim, d.length[dim], v.Data.Shape[i])
		}
	}
	return nil
}

func addVarAttrs(h *cdf.Header, name string, v *Variable) {
	if v.Units != "" {
		h.AddAttribute(name, "units", v.Units)
	}
	if v.LongName != "" {
		h.AddAttribute(name, "long_name", v.LongName)
	}
}

func writeNCF(f *cdf.File, name string, data *sparse.DenseArray) error {
	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	_, err := writer(f, name).Write(data32)
	return err
}

// writer returns a writer covering the whole of variable name.
func writer(f *cdf.File, name string) cdf.Writer {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	return f.Writer(name, start, end)
}

func sortedKeys(m map[string]string) []string {
	o := make([]string, 0, len(m))
	for k := range m {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}

// ReadDataset reads a gridded NetCDF file. Both classic NetCDF and
// NetCDF-4 (HDF5) files are supported. For variables with a record
// (unlimited) dimension only the first record is read. Values that
// match the _FillValue or missing_value attributes are set to NaN.
func ReadDataset(path string) (*Dataset, error) {
	src, err := openFields(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	d := NewDataset()
	for k, v := range src.Attributes() {
		d.Attrs[k] = v
	}
	for _, name := range src.Variables() {
		fld, err := src.Field("", name)
		if err == errNotNumeric {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("no2obs: reading %s from %s: %v", name, path, err)
		}
		if len(fld.Shape) == 0 {
			continue // scalar
		}
		if fld.recordDim {
			fld = fld.firstRecord()
		}
		for i, dim := range fld.Dims {
			if err := d.AddDim(dim, fld.Shape[i]); err != nil {
				return nil, fmt.Errorf("no2obs: reading %s from %s: %v", name, path, err)
			}
		}
		data := sparse.ZerosDense(fld.Shape...)
		copy(data.Elements, fld.Values)
		v := &Variable{
			Dims:     fld.Dims,
			Units:    fld.Units,
			LongName: fld.LongName,
			Data:     data,
		}
		if len(fld.Dims) == 1 && fld.Dims[0] == name {
			d.Coords[name] = v
		} else {
			d.Vars[name] = v
		}
	}
	return d, nil
}

// nanFill returns a slice of length n filled with NaN.
func nanFill(n int) []float64 {
	o := make([]float64, n)
	for i := range o {
		o[i] = math.NaN()
	}
	return o
}
