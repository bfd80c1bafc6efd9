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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

// ResToken is replaced by the grid resolution in file name templates.
const ResToken = "$res"

// WithResolution replaces every occurrence of $res in pattern with res.
func WithResolution(pattern, res string) string {
	return strings.Replace(pattern, ResToken, res, -1)
}

// DatePath fills in the strftime(3) directives (for example %Y, %m
// and %d) in pattern using date t.
func DatePath(pattern string, t time.Time) (string, error) {
	p, err := strftime.Format(pattern, t)
	if err != nil {
		return "", fmt.Errorf("no2obs: invalid file template %q: %v", pattern, err)
	}
	return p, nil
}

// DateGlob returns the sorted list of existing files matching
// pattern after its date directives are filled in for t.
func DateGlob(pattern string, t time.Time) ([]string, error) {
	p, err := DatePath(pattern, t)
	if err != nil {
		return nil, err
	}
	files, err := filepath.Glob(p)
	if err != nil {
		return nil, fmt.Errorf("no2obs: listing %s: %v", p, err)
	}
	sort.Strings(files)
	return files, nil
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// days returns the dates from start (inclusive) to end (exclusive)
// in steps of one day.
func days(start, end time.Time) []time.Time {
	var o []time.Time
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		o = append(o, d)
	}
	return o
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseDate parses a date in YYYY-MM-DD or "YYYY-MM-DD HH:MM" format.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no2obs: invalid date %q: need YYYY-MM-DD or 'YYYY-MM-DD HH:MM'", s)
}
