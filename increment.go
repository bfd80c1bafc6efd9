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
	"fmt"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// Increment returns the analysis increment (analysis minus background)
// of the named variable at the first time step. Variables with three or
// more dimensions are assumed to have time as their first dimension;
// the result keeps that dimension with a length of one.
func Increment(ana, bkg *Dataset, name string) (*Variable, error) {
	va, err := ana.Var(name)
	if err != nil {
		return nil, fmt.Errorf("no2obs: analysis: %v", err)
	}
	vb, err := bkg.Var(name)
	if err != nil {
		return nil, fmt.Errorf("no2obs: background: %v", err)
	}
	sa, sb := va.Data.Shape, vb.Data.Shape
	if len(sa) != len(sb) {
		return nil, fmt.Errorf("no2obs: %s has shape %v in the analysis but %v in the background", name, sa, sb)
	}
	shape := append([]int{}, sa...)
	for i := range sa {
		if i == 0 && len(sa) >= 3 {
			shape[0] = 1
			continue
		}
		if sa[i] != sb[i] {
			return nil, fmt.Errorf("no2obs: %s has shape %v in the analysis but %v in the background", name, sa, sb)
		}
	}
	inc := &Variable{
		Dims:     append([]string{}, va.Dims...),
		Units:    va.Units,
		LongName: va.LongName,
		Data:     sparse.ZerosDense(shape...),
	}
	for i := range inc.Data.Elements {
		inc.Data.Elements[i] = va.Data.Elements[i] - vb.Data.Elements[i]
	}
	return inc, nil
}

// NonZeroColumns reports for each horizontal grid cell whether the
// increment is non-zero at any level. A NaN increment counts as
// non-zero.
func NonZeroColumns(inc *Variable) []bool {
	shape := inc.Data.Shape
	nd := len(shape)
	if nd < 2 {
		return nil
	}
	n := shape[nd-1] * shape[nd-2]
	o := make([]bool, n)
	for i, v := range inc.Data.Elements {
		if v != 0 {
			o[i%n] = true
		}
	}
	return o
}

// IncrementDataset returns a dataset holding the analysis increment
// of the configured variable, named after the variable with an _inc
// suffix, on the grid of the analysis file.
func IncrementDataset(ctx context.Context, cfg *ObsHourConfig) (*Dataset, error) {
	log := logger(cfg.Log)
	ana, err := readDated(cfg.AnaFile, cfg.Date, log)
	if err != nil {
		return nil, fmt.Errorf("no2obs: reading analysis: %v", err)
	}
	bkg, err := readDated(cfg.BkgFile, cfg.Date, log)
	if err != nil {
		return nil, fmt.Errorf("no2obs: reading background: %v", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inc, err := Increment(ana, bkg, cfg.Variable)
	if err != nil {
		return nil, err
	}

	out := NewDataset()
	for i, dim := range inc.Dims {
		n := inc.Data.Shape[i]
		c, ok := ana.Coords[dim]
		switch {
		case ok && len(c.Data.Elements) >= n:
			if err := out.SetCoord(dim, c.Data.Elements[:n], c.Units); err != nil {
				return nil, err
			}
		default:
			if err := out.AddDim(dim, n); err != nil {
				return nil, err
			}
		}
	}
	name := cfg.Variable + "_inc"
	longName := "analysis increment"
	if inc.LongName != "" {
		longName = inc.LongName + " analysis increment"
	}
	v, err := out.AddVar(name, inc.Dims, inc.Units, longName)
	if err != nil {
		return nil, err
	}
	v.Data = inc.Data
	ncells := 0
	for _, nz := range NonZeroColumns(inc) {
		if nz {
			ncells++
		}
	}
	cfg.Metrics.cellsFilled(ncells)
	log.WithFields(logrus.Fields{
		"variable": name,
		"columns":  ncells,
	}).Info("calculated analysis increment")
	out.Attrs["description"] = "Analysis increment (analysis - background)"
	out.Attrs["History"] = history("increment")
	out.Attrs["Author"] = Author
	return out, nil
}
