package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateUnit is the granularity of ResultRow.DateEncoded.
type DateUnit string

const (
	UnitSeconds DateUnit = "seconds"
	UnitDays    DateUnit = "days"
)

// Epoch is the reference date for encoded row dates.
var Epoch = time.Date(1960, time.January, 1, 0, 0, 0, 0, time.UTC)

const isoLayout = "2006-01-02"

// ParseUnit accepts "seconds", "days" or empty (seconds).
func ParseUnit(s string) (DateUnit, error) {
	switch DateUnit(strings.ToLower(strings.TrimSpace(s))) {
	case "", UnitSeconds:
		return UnitSeconds, nil
	case UnitDays:
		return UnitDays, nil
	}
	return "", fmt.Errorf("invalid date unit %q", s)
}

// DecodeDate converts an epoch offset into a UTC calendar date.
func DecodeDate(v int64, unit DateUnit) time.Time {
	var t time.Time
	if unit == UnitDays {
		t = Epoch.AddDate(0, 0, int(v))
	} else {
		t = Epoch.Add(time.Duration(v) * time.Second)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate renders the decoded date as YYYY-MM-DD.
func FormatDate(v int64, unit DateUnit) string {
	return DecodeDate(v, unit).Format(isoLayout)
}

// ParseISODate parses a strict YYYY-MM-DD date.
func ParseISODate(s string) (time.Time, error) {
	return time.Parse(isoLayout, strings.TrimSpace(s))
}

// Valid reports whether both ends are ISO dates and From <= To.
func (r DateRange) Valid() bool {
	from, err := ParseISODate(r.From)
	if err != nil {
		return false
	}
	to, err := ParseISODate(r.To)
	if err != nil {
		return false
	}
	return !from.After(to)
}
