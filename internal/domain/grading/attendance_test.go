package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

func attendanceExport() *Table {
	return &Table{
		Columns: []string{"User Name", "User Email", "User ID", "Q1", "Q2", "Q3", "Q4", "Total Correct Answers"},
		Rows: [][]string{
			{"Alice Ng", "alice@example.edu", "1", "a", "b", "c", "d", "4"},
			{"Bob Perez", "bob@example.edu", "2", "a", "", "", "", "1"},
			{"Carol Wu", "carol@example.edu", "3", "a", "b", "c", "", "3"},
		},
	}
}

func TestAttendanceParse(t *testing.T) {
	subs, err := NewAttendancePoll().Parse(attendanceExport())

	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "alice@example.edu", subs[0].Observed)
	assert.Equal(t, 4, subs[0].Answered)
	assert.Equal(t, 4, subs[0].Offered)
	assert.Equal(t, 1, subs[1].Answered)
	assert.Equal(t, 3, subs[2].Answered)
}

func TestAttendanceParseSkipsBlankContact(t *testing.T) {
	export := attendanceExport()
	export.Rows = append(export.Rows, []string{"Ghost", "", "9", "a", "b", "c", "d", "4"})

	subs, err := NewAttendancePoll().Parse(export)

	require.NoError(t, err)
	assert.Len(t, subs, 3)
}

func TestAttendanceParseMissingContactColumn(t *testing.T) {
	export := &Table{
		Columns: []string{"User Name", "Q1"},
		Rows:    [][]string{{"Alice", "a"}},
	}

	_, err := NewAttendancePoll().Parse(export)

	assert.ErrorIs(t, err, shared.ErrMalformedExport)
}

func TestAttendanceParseEmptyExport(t *testing.T) {
	_, err := NewAttendancePoll().Parse(&Table{Columns: []string{"User Email"}})

	assert.ErrorIs(t, err, shared.ErrEmptyExport)
}

func TestAttendanceScoreThreshold(t *testing.T) {
	a := NewAttendancePoll()

	// 3 of 4 answered meets the default 75% threshold exactly.
	score, note, err := a.Score([]RawSubmission{{Answered: 3, Offered: 4}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, "answered 3/4", note)

	// 2 of 4 falls short.
	score, note, err = a.Score([]RawSubmission{{Answered: 2, Offered: 4}})
	require.NoError(t, err)
	assert.Zero(t, score)
	assert.Equal(t, "answered 2/4", note)
}

func TestAttendanceScoreAnySessionCounts(t *testing.T) {
	a := NewAttendancePoll()

	score, note, err := a.Score([]RawSubmission{
		{Answered: 1, Offered: 4},
		{Answered: 4, Offered: 4},
	})

	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, "answered 4/4", note)
}

func TestAttendanceScoreNoSubmissions(t *testing.T) {
	score, note, err := NewAttendancePoll().Score(nil)

	require.NoError(t, err)
	assert.Zero(t, score)
	assert.Empty(t, note)
}

func TestAttendanceOptions(t *testing.T) {
	a := NewAttendancePoll(WithAttendancePoints(2), WithAttendanceThreshold(0.5))

	assert.Equal(t, 2.0, a.Points())

	score, _, err := a.Score([]RawSubmission{{Answered: 2, Offered: 4}})
	require.NoError(t, err)
	assert.Equal(t, 2.0, score)
}
