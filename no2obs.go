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

// Package no2obs processes satellite nitrogen dioxide (NO2) observations
// for use in atmospheric chemistry data assimilation. It maps satellite
// swath pixels onto fixed latitude-longitude grids by nearest grid cell,
// derives emission scale factors from the gridded columns, and builds
// observation-hour maps for analysis increments.
package no2obs

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Version gives the version number.
const Version = "0.4.1"

var clock = clockwork.NewRealClock()

// SetClock replaces the clock used for history attributes and default
// analysis dates. A nil clock restores the real clock.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Today returns the current date at midnight UTC.
func Today() time.Time {
	now := clock.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// history returns the text of the History attribute for files
// written by the named command.
func history(command string) string {
	return "Created by no2obs " + command + " on " + clock.Now().Format("2006-01-02 15:04")
}

// Author is written to the Author attribute of output files.
const Author = "no2obs v" + Version

func logger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}
