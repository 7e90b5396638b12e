package command

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/yuribz/grades-dsc/internal/domain/gradebook"
	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/internal/domain/shared"
	"github.com/yuribz/grades-dsc/pkg/logger"
	"github.com/yuribz/grades-dsc/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUBLISH SLIP DAYS COMMAND
// Maintains the per-term slip-day tally on a dedicated remote assignment.
// Each homework run adds that run's consumption to the grade already on the
// remote side, so the tally survives across runs without local state.
// ══════════════════════════════════════════════════════════════════════════════

// SlipDayAssignmentName is the remote assignment the tally lives under,
// shared by every homework in the group.
const SlipDayAssignmentName = "Slip Day Usage"

// PublishSlipDaysCommand contains the data for one tally update.
type PublishSlipDaysCommand struct {
	// RunID correlates the tally update with the homework run that
	// produced it.
	RunID string

	// Group is the assignment group the tally assignment lives in.
	Group string

	// AssignmentName is the homework that consumed the slip days, echoed
	// in the per-student grade comment.
	AssignmentName string

	// TotalSlipDays is the per-student budget, used as the tally
	// assignment's points total.
	TotalSlipDays float64

	// Usage is each student's consumption for this run. Students with
	// zero usage keep their current tally untouched.
	Usage map[roster.InstitutionID]int

	// Students is the roster, used to initialize a freshly created tally
	// assignment to zero for every active student.
	Students []roster.Student
}

// Validate validates the command.
func (c PublishSlipDaysCommand) Validate() error {
	if c.RunID == "" {
		return fmt.Errorf("publish_slip_days: run_id is required")
	}
	if c.Group == "" {
		return fmt.Errorf("publish_slip_days: group is required")
	}
	if c.AssignmentName == "" {
		return fmt.Errorf("publish_slip_days: assignment name is required")
	}
	if c.TotalSlipDays <= 0 {
		return fmt.Errorf("publish_slip_days: total slip days must be positive")
	}
	return nil
}

// PublishSlipDaysHandler handles the PublishSlipDaysCommand. Like the
// gradebook publisher it creates the remote assignment at most once: the
// lookup is retried, creation is a single attempt.
type PublishSlipDaysHandler struct {
	remote gradebook.Remote
	reader gradebook.GradeReader
	log    *logger.Logger

	writeRetrier *retry.Retrier
	findRetrier  *retry.Retrier
}

// NewPublishSlipDaysHandler creates a new PublishSlipDaysHandler.
func NewPublishSlipDaysHandler(
	remote gradebook.Remote,
	reader gradebook.GradeReader,
	log *logger.Logger,
	config PublishGradebookHandlerConfig,
) *PublishSlipDaysHandler {
	if config.WriteAttempts == 0 {
		config = DefaultPublishGradebookHandlerConfig()
	}
	if log == nil {
		log = logger.Default()
	}

	classify := shared.IsRetryable
	return &PublishSlipDaysHandler{
		remote: remote,
		reader: reader,
		log:    log.With(logger.Component("slip_days")),
		writeRetrier: retry.New(
			retry.WithMaxAttempts(config.WriteAttempts),
			retry.WithInitialDelay(config.RetryDelay),
			retry.WithClassifier(classify),
		),
		findRetrier: retry.New(
			retry.WithMaxAttempts(config.FindAttempts),
			retry.WithInitialDelay(config.RetryDelay),
			retry.WithClassifier(classify),
		),
	}
}

// Handle updates the tally: ensure the tally assignment exists (initializing
// every active student to zero on creation), read the current tallies back,
// and write current plus this run's usage for every consuming student.
func (h *PublishSlipDaysHandler) Handle(ctx context.Context, cmd PublishSlipDaysCommand) (*gradebook.Report, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	desc := gradebook.AssignmentDescriptor{
		Name:          SlipDayAssignmentName,
		Group:         cmd.Group,
		Points:        cmd.TotalSlipDays,
		OmitFromFinal: true,
	}
	log := h.log.With(logger.RunID(cmd.RunID), logger.Assignment(cmd.AssignmentName))

	report := &gradebook.Report{
		RunID:      cmd.RunID,
		Assignment: desc,
		StartedAt:  time.Now().UTC(),
	}

	assignment, created, err := h.ensureTally(ctx, desc)
	if err != nil {
		return nil, err
	}
	if created {
		h.initialize(ctx, assignment, cmd.Students, report, log)
	}

	current, err := h.reader.ReadGrades(ctx, assignment.ID)
	if err != nil {
		return nil, fmt.Errorf("publish_slip_days: read current tallies: %w", err)
	}

	comment := fmt.Sprintf("Slip Day Used in %s", cmd.AssignmentName)
	for _, id := range sortedUsage(cmd.Usage) {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}

		total := current[id] + float64(cmd.Usage[id])
		err := h.writeRetrier.Do(ctx, func(ctx context.Context) error {
			return h.remote.WriteGrade(ctx, assignment.ID, id, total, comment)
		})
		if err != nil {
			report.Record(gradebook.SyncResult{
				StudentID: id,
				Outcome:   gradebook.SyncFailed,
				Detail:    err.Error(),
			})
			log.Error("slip-day tally write failed",
				logger.StudentID(id.String()),
				logger.Err(err),
			)
			continue
		}
		report.Record(gradebook.SyncResult{StudentID: id, Outcome: gradebook.SyncWritten})
	}

	report.FinishedAt = time.Now().UTC()
	log.Info("slip-day tally updated",
		logger.Int("written", report.Written),
		logger.Int("failed", report.Failed),
	)
	return report, nil
}

// ensureTally finds the tally assignment or creates it, reporting whether
// creation happened.
func (h *PublishSlipDaysHandler) ensureTally(ctx context.Context, desc gradebook.AssignmentDescriptor) (*gradebook.Assignment, bool, error) {
	var found *gradebook.Assignment
	err := h.findRetrier.Do(ctx, func(ctx context.Context) error {
		var findErr error
		found, findErr = h.remote.FindAssignment(ctx, desc.Name, desc.Group)
		return findErr
	})
	if err != nil {
		if shared.IsRemoteAccess(err) {
			return nil, false, fmt.Errorf("%w: %w", shared.ErrAssignmentDenied, err)
		}
		return nil, false, fmt.Errorf("publish_slip_days: find tally assignment: %w", err)
	}
	if found != nil {
		return found, false, nil
	}

	// Single attempt, same reasoning as assignment publication: a retried
	// create after an ambiguous failure could leave two tallies.
	created, err := h.remote.CreateAssignment(ctx, desc)
	if err != nil {
		if shared.IsRemoteAccess(err) {
			return nil, false, fmt.Errorf("%w: %w", shared.ErrAssignmentDenied, err)
		}
		return nil, false, fmt.Errorf("publish_slip_days: create tally assignment: %w", err)
	}
	h.log.Info("slip-day tally assignment created", logger.F("assignment_id", created.ID))
	return created, true, nil
}

// initialize writes a zero tally for every active student on a freshly
// created assignment. Failures are recorded and skipped; the student's
// first consuming run establishes their tally instead.
func (h *PublishSlipDaysHandler) initialize(ctx context.Context, assignment *gradebook.Assignment, students []roster.Student, report *gradebook.Report, log *logger.Logger) {
	for _, s := range roster.ActiveStudents(students) {
		id := s.ID
		err := h.writeRetrier.Do(ctx, func(ctx context.Context) error {
			return h.remote.WriteGrade(ctx, assignment.ID, id, 0, "")
		})
		if err != nil {
			report.Record(gradebook.SyncResult{
				StudentID: id,
				Outcome:   gradebook.SyncFailed,
				Detail:    err.Error(),
			})
			log.Error("slip-day tally initialization failed",
				logger.StudentID(id.String()),
				logger.Err(err),
			)
		}
	}
}

// sortedUsage orders the consuming students for deterministic write order.
func sortedUsage(usage map[roster.InstitutionID]int) []roster.InstitutionID {
	ids := make([]roster.InstitutionID, 0, len(usage))
	for id := range usage {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
