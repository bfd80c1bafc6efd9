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
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/ctessum/cdf"
)

// Field is a numeric variable read from a file, flattened in
// row-major order.
type Field struct {
	Dims     []string
	Shape    []int
	Values   []float64
	Units    string
	LongName string

	recordDim bool
}

// Len returns the number of values in the field.
func (f *Field) Len() int { return len(f.Values) }

func (f *Field) firstRecord() *Field {
	o := *f
	o.Shape = append([]int{1}, f.Shape[1:]...)
	n := 1
	for _, s := range o.Shape {
		n *= s
	}
	if n > len(f.Values) {
		n = len(f.Values)
	}
	o.Values = f.Values[:n]
	o.recordDim = false
	return &o
}

var errNotNumeric = errors.New("no2obs: variable is not numeric")

// fieldSource gives access to the variables in a file. Group is a
// slash-separated path to an HDF5 group; it is ignored for classic
// NetCDF files, which do not have groups.
type fieldSource interface {
	Field(group, name string) (*Field, error)
	Variables() []string
	Attributes() map[string]string
	Close() error
}

var (
	cdfMagic  = []byte("CDF")
	hdf5Magic = []byte("\x89HDF\r\n\x1a\n")
)

// openFields opens path as either a classic NetCDF or a NetCDF-4/HDF5
// file, depending on its contents.
func openFields(path string) (fieldSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	magic := make([]byte, 8)
	if _, err := io.ReadFull(f, magic); err != nil {
		f.Close()
		return nil, fmt.Errorf("no2obs: reading header of %s: %v", path, err)
	}
	switch {
	case bytes.HasPrefix(magic, cdfMagic):
		cf, err := cdf.Open(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("no2obs: opening %s: %v", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		return &cdfSource{r: f, f: cf, size: info.Size()}, nil
	case bytes.Equal(magic, hdf5Magic):
		f.Close()
		g, err := netcdf.Open(path)
		if err != nil {
			return nil, fmt.Errorf("no2obs: opening %s: %v", path, err)
		}
		return &hdfSource{root: g, groups: make(map[string]api.Group)}, nil
	default:
		f.Close()
		return nil, fmt.Errorf("no2obs: %s is not a NetCDF or HDF5 file", path)
	}
}

type cdfSource struct {
	r    *os.File
	f    *cdf.File
	size int64
}

func (s *cdfSource) Close() error { return s.r.Close() }

func (s *cdfSource) Variables() []string { return s.f.Header.Variables() }

func (s *cdfSource) Attributes() map[string]string {
	o := make(map[string]string)
	for _, a := range s.f.Header.Attributes("") {
		if v, ok := s.f.Header.GetAttribute("", a).(string); ok {
			o[a] = v
		}
	}
	return o
}

func (s *cdfSource) Field(_, name string) (*Field, error) {
	h := s.f.Header
	z := h.ZeroValue(name, 0)
	if z == nil {
		return nil, fmt.Errorf("variable %s not in file", name)
	}
	if _, ok := z.(string); ok {
		return nil, errNotNumeric
	}
	shape := append([]int{}, h.Lengths(name)...)
	record := h.IsRecordVariable(name)
	if record {
		shape[0] = int(h.NumRecs(s.size))
	}
	n := 1
	for _, v := range shape {
		n *= v
	}
	fld := &Field{
		Dims:      h.Dimensions(name),
		Shape:     shape,
		recordDim: record,
	}
	if a, ok := h.GetAttribute(name, "units").(string); ok {
		fld.Units = a
	}
	if a, ok := h.GetAttribute(name, "long_name").(string); ok {
		fld.LongName = a
	}
	if n == 0 {
		return fld, nil
	}
	r := s.f.Reader(name, nil, nil)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading variable %s: %v", name, err)
	}
	vals, err := toFloat64s(buf)
	if err != nil {
		return nil, err
	}
	fld.Values = vals
	applyCF(fld.Values, func(a string) interface{} { return h.GetAttribute(name, a) })
	return fld, nil
}

type hdfSource struct {
	root   api.Group
	groups map[string]api.Group
}

func (s *hdfSource) Close() error {
	s.root.Close()
	return nil
}

func (s *hdfSource) Variables() []string { return s.root.ListVariables() }

func (s *hdfSource) Attributes() map[string]string {
	o := make(map[string]string)
	attrs := s.root.Attributes()
	for _, k := range attrs.Keys() {
		if v, ok := attrs.Get(k); ok {
			if str, ok := v.(string); ok {
				o[k] = str
			}
		}
	}
	return o
}

// group walks the group path one level at a time.
func (s *hdfSource) group(path string) (api.Group, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return s.root, nil
	}
	if g, ok := s.groups[path]; ok {
		return g, nil
	}
	g := s.root
	for _, name := range strings.Split(path, "/") {
		var err error
		g, err = g.GetGroup(name)
		if err != nil {
			return nil, fmt.Errorf("opening group %s: %v", path, err)
		}
	}
	s.groups[path] = g
	return g, nil
}

func (s *hdfSource) Field(group, name string) (*Field, error) {
	g, err := s.group(group)
	if err != nil {
		return nil, err
	}
	v, err := g.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %v", name, err)
	}
	vals, shape, err := flatten(v.Values)
	if err != nil {
		return nil, err
	}
	fld := &Field{
		Dims:   v.Dimensions,
		Shape:  shape,
		Values: vals,
	}
	if len(fld.Dims) != len(shape) {
		fld.Dims = make([]string, len(shape))
		for i := range shape {
			fld.Dims[i] = fmt.Sprintf("%s_dim%d", name, i)
		}
	}
	get := func(a string) interface{} {
		if v.Attributes == nil {
			return nil
		}
		val, ok := v.Attributes.Get(a)
		if !ok {
			return nil
		}
		return val
	}
	if u, ok := get("units").(string); ok {
		fld.Units = u
	}
	if u, ok := get("long_name").(string); ok {
		fld.LongName = u
	}
	applyCF(fld.Values, get)
	return fld, nil
}

// flatten converts a possibly nested slice of numbers into a flat
// slice and its shape.
func flatten(values interface{}) ([]float64, []int, error) {
	rv := reflect.ValueOf(values)
	if !rv.IsValid() {
		return nil, nil, errNotNumeric
	}
	var shape []int
	for t := rv; t.Kind() == reflect.Slice || t.Kind() == reflect.Array; {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	o := make([]float64, 0, n)
	var walk func(v reflect.Value, depth int) error
	walk = func(v reflect.Value, depth int) error {
		switch v.Kind() {
		case reflect.Slice, reflect.Array:
			if depth >= len(shape) || v.Len() != shape[depth] {
				return fmt.Errorf("no2obs: ragged array")
			}
			for i := 0; i < v.Len(); i++ {
				if err := walk(v.Index(i), depth+1); err != nil {
					return err
				}
			}
			return nil
		default:
			f, ok := numeric(v)
			if !ok {
				return errNotNumeric
			}
			o = append(o, f)
			return nil
		}
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return o, shape, nil
}

func numeric(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	}
	return 0, false
}

func toFloat64s(buf interface{}) ([]float64, error) {
	switch b := buf.(type) {
	case []float64:
		return b, nil
	case []float32:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o, nil
	case []int32:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o, nil
	case []int16:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o, nil
	case []uint8:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o, nil
	}
	return nil, errNotNumeric
}

// attrFloat returns the first numeric value of an attribute, which
// may be a scalar or a slice.
func attrFloat(a interface{}) (float64, bool) {
	if a == nil {
		return 0, false
	}
	v := reflect.ValueOf(a)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		if v.Len() == 0 {
			return 0, false
		}
		v = v.Index(0)
	}
	return numeric(v)
}

// applyCF masks fill values and applies packing attributes in place,
// following the CF conventions. The HDF-EOS MissingValue attribute is
// treated as a fill value as well.
func applyCF(vals []float64, attr func(string) interface{}) {
	var fills []float64
	for _, name := range []string{"_FillValue", "missing_value", "MissingValue"} {
		if f, ok := attrFloat(attr(name)); ok {
			fills = append(fills, f)
		}
	}
	scale, hasScale := attrFloat(attr("scale_factor"))
	offset, hasOffset := attrFloat(attr("add_offset"))
	for i, v := range vals {
		for _, f := range fills {
			if v == f || float32(v) == float32(f) {
				v = math.NaN()
				break
			}
		}
		if hasScale {
			v *= scale
		}
		if hasOffset {
			v += offset
		}
		vals[i] = v
	}
}
