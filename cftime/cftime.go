/*
Copyright © 2021 the ebudget authors.
This file is part of ebudget.

ebudget is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

ebudget is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with ebudget.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package cftime converts CF-convention time coordinates ("<unit> since
// <date>") to calendar dates and back for the calendars used by climate
// models.
package cftime

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Calendar is a CF calendar name.
type Calendar string

// The calendars that are supported.
const (
	Standard           Calendar = "standard"
	ProlepticGregorian Calendar = "proleptic_gregorian"
	Julian             Calendar = "julian"
	NoLeap             Calendar = "noleap"
	AllLeap            Calendar = "all_leap"
	Day360             Calendar = "360_day"
)

// ParseCalendar returns the canonical calendar for the given calendar
// attribute. An empty attribute means the standard calendar.
func ParseCalendar(s string) (Calendar, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "gregorian":
		return Standard, nil
	case "proleptic_gregorian":
		return ProlepticGregorian, nil
	case "julian":
		return Julian, nil
	case "noleap", "365_day":
		return NoLeap, nil
	case "all_leap", "366_day":
		return AllLeap, nil
	case "360_day":
		return Day360, nil
	}
	return "", fmt.Errorf("cftime: unsupported calendar %q", s)
}

// Date is a calendar date and time of day, to the second.
type Date struct {
	Year, Month, Day     int
	Hour, Minute, Second int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

const secondsPerDay = 86400

// gregorianStart is the Julian day number of 1582-10-15, the first day
// of the Gregorian part of the standard calendar.
const gregorianStart = 2299161

var (
	cumDays     = [13]int{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334, 365}
	cumLeapDays = [13]int{0, 31, 60, 91, 121, 152, 182, 213, 244, 274, 305, 335, 366}
)

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func isLeap(cal Calendar, y int) bool {
	switch cal {
	case ProlepticGregorian:
		return y%4 == 0 && (y%100 != 0 || y%400 == 0)
	case Julian:
		return y%4 == 0
	case Standard:
		if y > 1582 {
			return y%4 == 0 && (y%100 != 0 || y%400 == 0)
		}
		return y%4 == 0
	case AllLeap:
		return true
	}
	return false
}

func daysInMonth(cal Calendar, y, m int) int {
	if cal == Day360 {
		return 30
	}
	if isLeap(cal, y) {
		return cumLeapDays[m] - cumLeapDays[m-1]
	}
	return cumDays[m] - cumDays[m-1]
}

func gregorianJDN(y, m, d int) int64 {
	a := (14 - m) / 12
	yy := int64(y + 4800 - a)
	mm := int64(m + 12*a - 3)
	return int64(d) + (153*mm+2)/5 + 365*yy + floorDiv(yy, 4) - floorDiv(yy, 100) + floorDiv(yy, 400) - 32045
}

func julianJDN(y, m, d int) int64 {
	a := (14 - m) / 12
	yy := int64(y + 4800 - a)
	mm := int64(m + 12*a - 3)
	return int64(d) + (153*mm+2)/5 + 365*yy + floorDiv(yy, 4) - 32083
}

func fromGregorianJDN(j int64) (y, m, d int) {
	a := j + 32044
	b := floorDiv(4*a+3, 146097)
	c := a - floorDiv(146097*b, 4)
	dd := floorDiv(4*c+3, 1461)
	e := c - floorDiv(1461*dd, 4)
	mm := floorDiv(5*e+2, 153)
	d = int(e - floorDiv(153*mm+2, 5) + 1)
	m = int(mm + 3 - 12*(mm/10))
	y = int(100*b + dd - 4800 + mm/10)
	return
}

func fromJulianJDN(j int64) (y, m, d int) {
	c := j + 32082
	dd := floorDiv(4*c+3, 1461)
	e := c - floorDiv(1461*dd, 4)
	mm := floorDiv(5*e+2, 153)
	d = int(e - floorDiv(153*mm+2, 5) + 1)
	m = int(mm + 3 - 12*(mm/10))
	y = int(dd - 4800 + mm/10)
	return
}

// dayNumber returns a day count for the date that is contiguous within
// the calendar. The origin differs between calendars.
func dayNumber(cal Calendar, y, m, d int) int64 {
	switch cal {
	case ProlepticGregorian:
		return gregorianJDN(y, m, d)
	case Julian:
		return julianJDN(y, m, d)
	case Standard:
		if j := gregorianJDN(y, m, d); j >= gregorianStart {
			return j
		}
		return julianJDN(y, m, d)
	case NoLeap:
		return 365*int64(y) + int64(cumDays[m-1]+d-1)
	case AllLeap:
		return 366*int64(y) + int64(cumLeapDays[m-1]+d-1)
	case Day360:
		return 360*int64(y) + int64(30*(m-1)+d-1)
	}
	panic(fmt.Errorf("cftime: invalid calendar %q", cal))
}

func fromDayNumber(cal Calendar, n int64) (y, m, d int) {
	var cum *[13]int
	var length int64
	switch cal {
	case ProlepticGregorian:
		return fromGregorianJDN(n)
	case Julian:
		return fromJulianJDN(n)
	case Standard:
		if n >= gregorianStart {
			return fromGregorianJDN(n)
		}
		return fromJulianJDN(n)
	case Day360:
		y = int(floorDiv(n, 360))
		r := int(n - 360*int64(y))
		return y, r/30 + 1, r%30 + 1
	case NoLeap:
		cum, length = &cumDays, 365
	case AllLeap:
		cum, length = &cumLeapDays, 366
	default:
		panic(fmt.Errorf("cftime: invalid calendar %q", cal))
	}
	y = int(floorDiv(n, length))
	r := int(n - length*int64(y))
	m = 1
	for r >= cum[m] {
		m++
	}
	return y, m, r - cum[m-1] + 1
}

// Validate returns an error if d does not exist in cal.
func (d Date) Validate(cal Calendar) error {
	if d.Month < 1 || d.Month > 12 {
		return fmt.Errorf("cftime: invalid month in %v", d)
	}
	if d.Day < 1 || d.Day > daysInMonth(cal, d.Year, d.Month) {
		return fmt.Errorf("cftime: invalid day in %v for calendar %s", d, cal)
	}
	if d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 || d.Second < 0 || d.Second > 59 {
		return fmt.Errorf("cftime: invalid time of day in %v", d)
	}
	if cal == Standard && d.Year == 1582 && d.Month == 10 && d.Day > 4 && d.Day < 15 {
		return fmt.Errorf("cftime: %v falls in the Julian/Gregorian gap", d)
	}
	return nil
}

func seconds(cal Calendar, d Date) int64 {
	return dayNumber(cal, d.Year, d.Month, d.Day)*secondsPerDay +
		int64(d.Hour*3600+d.Minute*60+d.Second)
}

func fromSeconds(cal Calendar, s int64) Date {
	days := floorDiv(s, secondsPerDay)
	sod := int(s - days*secondsPerDay)
	y, m, d := fromDayNumber(cal, days)
	return Date{Year: y, Month: m, Day: d, Hour: sod / 3600, Minute: sod % 3600 / 60, Second: sod % 60}
}

// Units is a parsed CF time unit, such as "days since 1850-01-01".
type Units struct {
	Calendar Calendar

	text  string
	step  float64 // seconds per unit
	epoch int64   // seconds in the calendar's day numbering
}

// ParseUnits parses a "<unit> since <reference date>" string for the
// given calendar.
func ParseUnits(units string, cal Calendar) (*Units, error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("cftime: invalid time units %q", units)
	}
	u := &Units{Calendar: cal, text: strings.TrimSpace(units)}
	switch strings.ToLower(strings.TrimSpace(parts[0])) {
	case "seconds", "second", "secs", "sec", "s":
		u.step = 1
	case "minutes", "minute", "mins", "min":
		u.step = 60
	case "hours", "hour", "hrs", "hr", "h":
		u.step = 3600
	case "days", "day", "d":
		u.step = secondsPerDay
	default:
		return nil, fmt.Errorf("cftime: unsupported time step in %q", units)
	}
	ref, err := parseDate(parts[1])
	if err != nil {
		return nil, fmt.Errorf("cftime: parsing %q: %v", units, err)
	}
	if err := ref.Validate(cal); err != nil {
		return nil, err
	}
	u.epoch = seconds(cal, ref)
	return u, nil
}

// parseDate parses "YYYY-M-D[( |T)h:m:s[.f]][Z| tz]". Time zones are
// ignored.
func parseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	s = strings.Replace(s, "T", " ", 1)
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Date{}, fmt.Errorf("missing reference date")
	}
	var d Date
	dp := strings.Split(fields[0], "-")
	neg := false
	if len(dp) == 4 && dp[0] == "" {
		neg = true
		dp = dp[1:]
	}
	if len(dp) != 3 {
		return Date{}, fmt.Errorf("invalid date %q", fields[0])
	}
	ymd := make([]int, 3)
	for i, p := range dp {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, fmt.Errorf("invalid date %q", fields[0])
		}
		ymd[i] = v
	}
	d.Year, d.Month, d.Day = ymd[0], ymd[1], ymd[2]
	if neg {
		d.Year = -d.Year
	}
	if len(fields) > 1 {
		t := strings.TrimSuffix(fields[1], "Z")
		tp := strings.Split(t, ":")
		if len(tp) > 3 {
			return Date{}, fmt.Errorf("invalid time %q", fields[1])
		}
		hms := make([]int, 3)
		for i, p := range tp {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return Date{}, fmt.Errorf("invalid time %q", fields[1])
			}
			hms[i] = int(v)
		}
		d.Hour, d.Minute, d.Second = hms[0], hms[1], hms[2]
	}
	return d, nil
}

func (u *Units) String() string { return u.text }

// Equal reports whether u and o describe the same time axis.
func (u *Units) Equal(o *Units) bool {
	return u.Calendar == o.Calendar && u.step == o.step && u.epoch == o.epoch
}

// Date returns the date of time value v, rounded to the nearest second.
func (u *Units) Date(v float64) Date {
	return fromSeconds(u.Calendar, u.epoch+int64(math.Round(v*u.step)))
}

// Value returns the time value of date d.
func (u *Units) Value(d Date) (float64, error) {
	if err := d.Validate(u.Calendar); err != nil {
		return math.NaN(), err
	}
	return float64(seconds(u.Calendar, d)-u.epoch) / u.step, nil
}

// Convert expresses time value v, given in units u, in units to.
func (u *Units) Convert(v float64, to *Units) (float64, error) {
	if u.Calendar != to.Calendar {
		return math.NaN(), fmt.Errorf("cftime: cannot convert from calendar %s to %s", u.Calendar, to.Calendar)
	}
	if u.Equal(to) {
		return v, nil
	}
	return (v*u.step + float64(u.epoch-to.epoch)) / to.step, nil
}

// Year returns the calendar year of time value v.
func (u *Units) Year(v float64) int {
	return u.Date(v).Year
}
