package gradebook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

func TestAssignmentDescriptorValidate(t *testing.T) {
	valid := AssignmentDescriptor{Name: "Poll 4", Group: "Attendance", Points: 1}
	assert.NoError(t, valid.Validate())

	noName := valid
	noName.Name = "  "
	assert.ErrorIs(t, noName.Validate(), shared.ErrEmptyValue)

	noGroup := valid
	noGroup.Group = ""
	assert.ErrorIs(t, noGroup.Validate(), shared.ErrEmptyValue)

	noPoints := valid
	noPoints.Points = 0
	assert.ErrorIs(t, noPoints.Validate(), shared.ErrValueOutOfRange)
}

func TestSnapshotDir(t *testing.T) {
	explicit := AssignmentDescriptor{Name: "HW 3", Group: "Homework", Points: 100, DirName: "homework"}
	assert.Equal(t, "homework", explicit.SnapshotDir())

	defaulted := AssignmentDescriptor{Name: "Poll 4", Group: "Attendance (Polls)", Points: 1}
	assert.Equal(t, "attendance_polls", defaulted.SnapshotDir())
}

func TestSnapshotKey(t *testing.T) {
	s := &Snapshot{
		DirName:        "homework",
		AssignmentName: "Homework 3",
		TakenAt:        time.Date(2026, 2, 1, 18, 30, 0, 0, time.UTC),
	}

	assert.Equal(t, "homework/homework3/20260201T183000Z", s.Key())
}

func TestRenderCSV(t *testing.T) {
	table := &Table{
		Assignment: AssignmentDescriptor{Name: "Poll 4", Group: "Attendance", Points: 1},
		Rows: []Row{
			{StudentID: "A100", DisplayName: "Alice Ng", Score: 1},
			{StudentID: "A200", DisplayName: "Bob Perez", Score: 0.5, Note: "answered 2/4"},
		},
	}

	out, err := table.RenderCSV()

	require.NoError(t, err)
	assert.Equal(t,
		"id,name,Poll 4,note\nA100,Alice Ng,1,\nA200,Bob Perez,0.5,answered 2/4\n",
		string(out))
}

func TestReportCountersAndFailures(t *testing.T) {
	r := &Report{}
	r.Record(SyncResult{StudentID: "A100", Outcome: SyncWritten})
	r.Record(SyncResult{StudentID: "A200", Outcome: SyncFailed, Detail: "timeout"})
	r.Record(SyncResult{StudentID: "A300", Outcome: SyncSkipped})

	assert.Equal(t, 1, r.Written)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Skipped)
	assert.False(t, r.Succeeded())

	failures := r.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, roster.InstitutionID("A200"), failures[0].StudentID)
}
