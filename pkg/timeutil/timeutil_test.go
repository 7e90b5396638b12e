package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCourseClockDefaultsTimezone(t *testing.T) {
	clock, err := NewCourseClock("")

	require.NoError(t, err)
	assert.Equal(t, DefaultCourseTimezone, clock.Location().String())
}

func TestNewCourseClockUnknownTimezone(t *testing.T) {
	_, err := NewCourseClock("Mars/Olympus_Mons")

	assert.Error(t, err)
}

func TestParseDue(t *testing.T) {
	clock, err := NewCourseClock("America/Los_Angeles")
	require.NoError(t, err)

	due, err := clock.ParseDue("2026-02-14 23:59")
	require.NoError(t, err)

	// Pacific is UTC-8 in February.
	assert.Equal(t, "2026-02-15T07:59:00Z", clock.FormatDue(due))
}

func TestParseDueRejectsBadInput(t *testing.T) {
	clock, err := NewCourseClock("")
	require.NoError(t, err)

	_, err = clock.ParseDue("Feb 14")
	assert.Error(t, err)
}

func TestEndOfDay(t *testing.T) {
	clock, err := NewCourseClock("America/Los_Angeles")
	require.NoError(t, err)

	// 01:30 UTC on Feb 15 is still Feb 14 in the course timezone.
	in := time.Date(2026, 2, 15, 1, 30, 0, 0, time.UTC)
	end := clock.EndOfDay(in)

	assert.Equal(t, 14, end.Day())
	assert.Equal(t, 23, end.Hour())
	assert.Equal(t, 59, end.Minute())
	assert.Equal(t, clock.Location(), end.Location())
}
