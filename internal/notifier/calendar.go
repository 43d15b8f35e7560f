// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package notifier

import (
	"fmt"
	"time"
)

// Calendar decides which days count as business days: weekends are off,
// plus fixed "MM-DD" days and days at configured offsets from Easter Sunday.
type Calendar struct {
	fixedDaysOff  map[string]struct{}
	easterOffsets []int
}

// NewCalendar compiles the days-off configuration.
func NewCalendar(regularDaysOff []string, easterOffsets []int) (*Calendar, error) {
	fixed := make(map[string]struct{}, len(regularDaysOff))
	for _, day := range regularDaysOff {
		if _, err := time.Parse("01-02", day); err != nil {
			return nil, fmt.Errorf("calendar: invalid day off %q: %w", day, err)
		}
		fixed[day] = struct{}{}
	}
	return &Calendar{
		fixedDaysOff:  fixed,
		easterOffsets: append([]int(nil), easterOffsets...),
	}, nil
}

// IsBusinessDay reports whether the given date is a working day.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	t = t.UTC()
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if _, off := c.fixedDaysOff[t.Format("01-02")]; off {
		return false
	}
	if len(c.easterOffsets) > 0 {
		easter := EasterSunday(t.Year())
		for _, offset := range c.easterOffsets {
			day := easter.AddDate(0, 0, offset)
			if day.Month() == t.Month() && day.Day() == t.Day() && day.Year() == t.Year() {
				return false
			}
		}
	}
	return true
}

// EasterSunday computes Gregorian Easter via the anonymous computus.
func EasterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
