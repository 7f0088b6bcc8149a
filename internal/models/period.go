package models

import (
	"fmt"
	"time"
)

// Period identifies a payroll month.
type Period struct {
	Month int `db:"month" json:"month"`
	Year  int `db:"year" json:"year"`
}

// Validate checks the month and year ranges.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("month must be between 1 and 12")
	}
	if p.Year < 1900 || p.Year > 9999 {
		return fmt.Errorf("year out of range")
	}
	return nil
}

// Start returns the first day of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the period.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// Days returns the number of calendar days in the period.
func (p Period) Days() int {
	return p.End().Day()
}

// Next returns the following month.
func (p Period) Next() Period {
	n := p.Start().AddDate(0, 1, 0)
	return Period{Month: int(n.Month()), Year: n.Year()}
}

// Contains reports whether the date falls within the period.
func (p Period) Contains(date time.Time) bool {
	return date.Year() == p.Year && int(date.Month()) == p.Month
}

// Before reports whether p is earlier than other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Label returns a human readable month label, e.g. "March 2024".
func (p Period) Label() string {
	return fmt.Sprintf("%s %d", time.Month(p.Month).String(), p.Year)
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
