package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuribz/grades-dsc/internal/domain/gradebook"
	"github.com/yuribz/grades-dsc/internal/domain/grading"
	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

type tallyWrite struct {
	id    roster.InstitutionID
	score float64
	note  string
}

// fakeTallyRemote extends fakeRemote with grade read-back and records the
// scores and comments of every write.
type fakeTallyRemote struct {
	fakeRemote

	grades      map[roster.InstitutionID]float64
	readErr     error
	written     []tallyWrite
	createdDesc *gradebook.AssignmentDescriptor
}

func (f *fakeTallyRemote) CreateAssignment(ctx context.Context, desc gradebook.AssignmentDescriptor) (*gradebook.Assignment, error) {
	f.createdDesc = &desc
	return f.fakeRemote.CreateAssignment(ctx, desc)
}

func (f *fakeTallyRemote) WriteGrade(ctx context.Context, assignmentID string, studentID roster.InstitutionID, score float64, note string) error {
	if err := f.fakeRemote.WriteGrade(ctx, assignmentID, studentID, score, note); err != nil {
		return err
	}
	f.written = append(f.written, tallyWrite{studentID, score, note})
	return nil
}

func (f *fakeTallyRemote) ReadGrades(ctx context.Context, assignmentID string) (map[roster.InstitutionID]float64, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(map[roster.InstitutionID]float64, len(f.grades))
	for k, v := range f.grades {
		out[k] = v
	}
	return out, nil
}

func slipDayRoster(t *testing.T) []roster.Student {
	t.Helper()
	mk := func(id, name, contact string, status roster.EnrollmentStatus) roster.Student {
		s, err := roster.NewStudent(id, name, contact, status)
		require.NoError(t, err)
		return s
	}
	return []roster.Student{
		mk("A100", "Alice Ng", "alice@example.edu", roster.EnrollmentActive),
		mk("A200", "Bob Perez", "bob@example.edu", roster.EnrollmentActive),
		mk("A300", "Carol Wu", "carol@example.edu", roster.EnrollmentDropped),
	}
}

func slipDayCommand(t *testing.T) PublishSlipDaysCommand {
	return PublishSlipDaysCommand{
		RunID:          "run-1",
		Group:          "Homework",
		AssignmentName: "Homework 3",
		TotalSlipDays:  4,
		Usage:          map[roster.InstitutionID]int{"A200": 1},
		Students:       slipDayRoster(t),
	}
}

func slipDayHandler(remote *fakeTallyRemote) *PublishSlipDaysHandler {
	return NewPublishSlipDaysHandler(remote, remote, nil, PublishGradebookHandlerConfig{
		WriteAttempts: 2,
		FindAttempts:  2,
		RetryDelay:    time.Millisecond,
	})
}

func TestSlipDayTallyCreatesAndInitializes(t *testing.T) {
	remote := &fakeTallyRemote{}
	h := slipDayHandler(remote)

	report, err := h.Handle(context.Background(), slipDayCommand(t))

	require.NoError(t, err)
	assert.Equal(t, 1, remote.createCalls)
	require.NotNil(t, remote.createdDesc)
	assert.Equal(t, SlipDayAssignmentName, remote.createdDesc.Name)
	assert.Equal(t, 4.0, remote.createdDesc.Points, "the budget is the tally's points total")
	assert.True(t, remote.createdDesc.OmitFromFinal)

	require.Len(t, remote.written, 3)
	assert.Equal(t, tallyWrite{"A100", 0, ""}, remote.written[0], "active students start at zero")
	assert.Equal(t, tallyWrite{"A200", 0, ""}, remote.written[1])
	assert.Equal(t, tallyWrite{"A200", 1, "Slip Day Used in Homework 3"}, remote.written[2])
	assert.Equal(t, 1, report.Written)
}

func TestSlipDayTallyAccumulatesAcrossRuns(t *testing.T) {
	remote := &fakeTallyRemote{
		fakeRemote: fakeRemote{existing: &gradebook.Assignment{ID: "t-1"}},
		grades:     map[roster.InstitutionID]float64{"A200": 2},
	}
	h := slipDayHandler(remote)

	cmd := slipDayCommand(t)
	cmd.Usage = map[roster.InstitutionID]int{"A200": 1, "A100": 1}
	report, err := h.Handle(context.Background(), cmd)

	require.NoError(t, err)
	assert.Zero(t, remote.createCalls, "an existing tally is never re-created")
	require.Len(t, remote.written, 2)
	assert.Equal(t, tallyWrite{"A100", 1, "Slip Day Used in Homework 3"}, remote.written[0])
	assert.Equal(t, tallyWrite{"A200", 3, "Slip Day Used in Homework 3"}, remote.written[1],
		"usage adds to the grade already on the remote side")
	assert.Equal(t, 2, report.Written)
}

func TestSlipDayTallyZeroUsageWritesNothing(t *testing.T) {
	remote := &fakeTallyRemote{
		fakeRemote: fakeRemote{existing: &gradebook.Assignment{ID: "t-1"}},
	}
	h := slipDayHandler(remote)

	cmd := slipDayCommand(t)
	cmd.Usage = nil
	report, err := h.Handle(context.Background(), cmd)

	require.NoError(t, err)
	assert.Empty(t, remote.written)
	assert.Zero(t, report.Written)
}

func TestSlipDayTallyAccessDenied(t *testing.T) {
	remote := &fakeTallyRemote{fakeRemote: fakeRemote{
		findErrs: []error{shared.WrapError("canvas", "Request", shared.ErrRemoteAccess, "status 403", nil)},
	}}
	h := slipDayHandler(remote)

	_, err := h.Handle(context.Background(), slipDayCommand(t))

	assert.ErrorIs(t, err, shared.ErrAssignmentDenied)
	assert.Zero(t, remote.createCalls)
}

func TestSlipDayCommandValidate(t *testing.T) {
	valid := slipDayCommand(t)
	assert.NoError(t, valid.Validate())

	noRun := valid
	noRun.RunID = ""
	assert.Error(t, noRun.Validate())

	noBudget := valid
	noBudget.TotalSlipDays = 0
	assert.Error(t, noBudget.Validate())
}

func TestRunAssignmentUpdatesSlipDayTally(t *testing.T) {
	remote := &fakeTallyRemote{
		fakeRemote: fakeRemote{existing: &gradebook.Assignment{ID: "a-1"}},
		grades:     map[roster.InstitutionID]float64{"A200": 1},
	}
	snapshots := &memorySnapshotStore{}
	h := newRunHandler(&memoryOverrideStore{}, snapshots, remote, &fakeLock{})

	cmd := RunAssignmentCommand{
		Descriptor: gradebook.AssignmentDescriptor{Name: "Homework 3", Group: "Homework", Points: 100},
		Strategy:   grading.NewAdvancedHomework(grading.WithSlipDays(4)),
		Export: &grading.Table{
			Columns: []string{"Email", "Total Score", "No Lateness", "Slip Day Used"},
			Rows: [][]string{
				{"alice@example.edu", "90", "1.0", "0.0"},
				{"bob@example.edu", "80", "0.0", "1.0"},
			},
		},
		Students: runRoster(t),
	}
	result, err := h.Handle(context.Background(), cmd)

	require.NoError(t, err)
	require.Len(t, result.Table.Rows, 2)
	assert.Equal(t, 80.0, result.Table.Rows[1].Score, "the late score is not penalized")
	assert.Equal(t, "slip day used", result.Table.Rows[1].Note)

	require.NotNil(t, result.SlipDayReport)
	assert.Equal(t, 1, result.SlipDayReport.Written)
	last := remote.written[len(remote.written)-1]
	assert.Equal(t, tallyWrite{"A200", 2, "Slip Day Used in Homework 3"}, last)
}
