// Package timeutil handles course-local deadlines. Instructors state
// due times in the course timezone; the gradebook API wants RFC 3339.
package timeutil

import (
	"fmt"
	"time"
)

// DefaultCourseTimezone is the IANA name used when no timezone is
// configured for the course.
const DefaultCourseTimezone = "America/Los_Angeles"

// CourseClock converts between course-local wall times and the UTC
// instants the external gradebook expects.
type CourseClock struct {
	loc *time.Location
}

// NewCourseClock loads the given IANA timezone. An empty name falls
// back to DefaultCourseTimezone.
func NewCourseClock(tz string) (*CourseClock, error) {
	if tz == "" {
		tz = DefaultCourseTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timeutil: load timezone %q: %w", tz, err)
	}
	return &CourseClock{loc: loc}, nil
}

// Location returns the course timezone.
func (c *CourseClock) Location() *time.Location {
	return c.loc
}

// ParseDue parses a course-local due time in "2006-01-02 15:04" form.
func (c *CourseClock) ParseDue(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: parse due time %q: %w", s, err)
	}
	return t, nil
}

// FormatDue renders a due time as RFC 3339 in UTC, the form the
// gradebook API accepts.
func (c *CourseClock) FormatDue(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// EndOfDay returns 23:59 course-local on the day of t, a common
// default deadline when only a date is given.
func (c *CourseClock) EndOfDay(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 0, 0, c.loc)
}
