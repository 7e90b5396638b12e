// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system,
// including the remote gradebook.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/yuribz/grades-dsc/internal/domain/gradebook"
	"github.com/yuribz/grades-dsc/internal/domain/shared"
	"github.com/yuribz/grades-dsc/pkg/logger"
	"github.com/yuribz/grades-dsc/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUBLISH GRADEBOOK COMMAND
// Pushes an assembled table to the remote gradebook with at-most-once
// assignment creation and per-row write accounting.
// ══════════════════════════════════════════════════════════════════════════════

// PublishState tracks publication progress. The engine moves strictly
// forward; an interrupted run can be resumed by re-invoking publication
// with the failed rows, because grade writes are idempotent upserts on
// the remote side.
type PublishState string

const (
	StateNotStarted        PublishState = "not_started"
	StateAssignmentEnsured PublishState = "assignment_ensured"
	StatePublishing        PublishState = "publishing"
	StateCompleted         PublishState = "completed"
	StatePartiallyFailed   PublishState = "partially_failed"
)

// PublishGradebookCommand contains the data needed for one publication run.
type PublishGradebookCommand struct {
	// RunID correlates log lines, the report, and the snapshot of one run.
	RunID string

	// Table is the assembled gradebook to publish.
	Table *gradebook.Table
}

// Validate validates the command.
func (c PublishGradebookCommand) Validate() error {
	if c.RunID == "" {
		return fmt.Errorf("publish_gradebook: run_id is required")
	}
	if c.Table == nil {
		return fmt.Errorf("publish_gradebook: table is required")
	}
	return c.Table.Assignment.Validate()
}

// SyncMetrics records per-row publication outcomes for monitoring.
type SyncMetrics interface {
	RecordSync(source string, outcome gradebook.SyncOutcome)
}

// PublishGradebookHandler drives the publication state machine for one run.
// A handler is single-use: construct one per run.
type PublishGradebookHandler struct {
	remote  gradebook.Remote
	metrics SyncMetrics
	log     *logger.Logger

	writeRetrier *retry.Retrier
	findRetrier  *retry.Retrier

	state PublishState
}

// PublishGradebookHandlerConfig contains configuration for the handler.
type PublishGradebookHandlerConfig struct {
	// WriteAttempts bounds retries of a single grade write.
	WriteAttempts int

	// FindAttempts bounds retries of the read-only assignment lookup.
	// Assignment creation is never retried: a retry after an ambiguous
	// failure could create a duplicate assignment.
	FindAttempts int

	// RetryDelay is the initial backoff delay.
	RetryDelay time.Duration
}

// DefaultPublishGradebookHandlerConfig returns default configuration.
func DefaultPublishGradebookHandlerConfig() PublishGradebookHandlerConfig {
	return PublishGradebookHandlerConfig{
		WriteAttempts: 3,
		FindAttempts:  3,
		RetryDelay:    500 * time.Millisecond,
	}
}

// NewPublishGradebookHandler creates a new PublishGradebookHandler.
func NewPublishGradebookHandler(
	remote gradebook.Remote,
	metrics SyncMetrics,
	log *logger.Logger,
	config PublishGradebookHandlerConfig,
) *PublishGradebookHandler {
	if config.WriteAttempts == 0 {
		config = DefaultPublishGradebookHandlerConfig()
	}
	if log == nil {
		log = logger.Default()
	}

	classify := shared.IsRetryable
	return &PublishGradebookHandler{
		remote:  remote,
		metrics: metrics,
		log:     log.With(logger.Component("publication")),
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
		state: StateNotStarted,
	}
}

// State returns the current publication state.
func (h *PublishGradebookHandler) State() PublishState {
	return h.state
}

// Handle executes the publication run: ensure the assignment exists, then
// write every publishable row.
func (h *PublishGradebookHandler) Handle(ctx context.Context, cmd PublishGradebookCommand) (*gradebook.Report, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	assignment, err := h.EnsureAssignment(ctx, cmd.Table.Assignment)
	if err != nil {
		return nil, err
	}

	return h.PublishGrades(ctx, cmd.RunID, assignment, cmd.Table)
}

// EnsureAssignment finds the remote assignment under its natural key and
// creates it only when absent. An access denial is fatal and never retried.
func (h *PublishGradebookHandler) EnsureAssignment(ctx context.Context, desc gradebook.AssignmentDescriptor) (*gradebook.Assignment, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	var found *gradebook.Assignment
	err := h.findRetrier.Do(ctx, func(ctx context.Context) error {
		var findErr error
		found, findErr = h.remote.FindAssignment(ctx, desc.Name, desc.Group)
		return findErr
	})
	if err != nil {
		if shared.IsRemoteAccess(err) {
			return nil, fmt.Errorf("%w: %w", shared.ErrAssignmentDenied, err)
		}
		return nil, fmt.Errorf("publish_gradebook: find assignment %q: %w", desc.Name, err)
	}

	if found != nil {
		h.log.Info("assignment exists, reusing",
			logger.Assignment(desc.Name),
			logger.Group(desc.Group),
		)
		h.state = StateAssignmentEnsured
		return found, nil
	}

	// Single attempt. The lookup above established absence; a retried
	// create after an ambiguous failure could leave two assignments under
	// the same name.
	created, err := h.remote.CreateAssignment(ctx, desc)
	if err != nil {
		if shared.IsRemoteAccess(err) {
			return nil, fmt.Errorf("%w: %w", shared.ErrAssignmentDenied, err)
		}
		return nil, fmt.Errorf("publish_gradebook: create assignment %q: %w", desc.Name, err)
	}

	h.log.Info("assignment created",
		logger.Assignment(desc.Name),
		logger.Group(desc.Group),
		logger.F("assignment_id", created.ID),
	)
	h.state = StateAssignmentEnsured
	return created, nil
}

// PublishGrades writes every non-withheld row of the table, in table order.
// A failed write is recorded and the loop continues: one student's failure
// never blocks the rest of the class.
func (h *PublishGradebookHandler) PublishGrades(ctx context.Context, runID string, assignment *gradebook.Assignment, table *gradebook.Table) (*gradebook.Report, error) {
	if h.state != StateAssignmentEnsured {
		return nil, fmt.Errorf("publish_gradebook: grades published before assignment ensured (state %s)", h.state)
	}
	h.state = StatePublishing

	report := &gradebook.Report{
		RunID:      runID,
		Assignment: table.Assignment,
		StartedAt:  time.Now().UTC(),
	}
	log := h.log.With(logger.RunID(runID), logger.Assignment(table.Assignment.Name))

	for _, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}

		if row.Withheld {
			report.Record(gradebook.SyncResult{
				StudentID: row.StudentID,
				Outcome:   gradebook.SyncSkipped,
				Detail:    row.Note,
			})
			h.recordMetric(table.Assignment.Group, gradebook.SyncSkipped)
			log.Warn("row withheld from publication",
				logger.StudentID(row.StudentID.String()),
				logger.F("reason", row.Note),
			)
			continue
		}

		err := h.writeRetrier.Do(ctx, func(ctx context.Context) error {
			return h.remote.WriteGrade(ctx, assignment.ID, row.StudentID, row.Score, row.Note)
		})
		if err != nil {
			report.Record(gradebook.SyncResult{
				StudentID: row.StudentID,
				Outcome:   gradebook.SyncFailed,
				Detail:    err.Error(),
			})
			h.recordMetric(table.Assignment.Group, gradebook.SyncFailed)
			log.Error("grade write failed",
				logger.StudentID(row.StudentID.String()),
				logger.Score(row.Score),
				logger.Err(err),
			)
			continue
		}

		report.Record(gradebook.SyncResult{
			StudentID: row.StudentID,
			Outcome:   gradebook.SyncWritten,
		})
		h.recordMetric(table.Assignment.Group, gradebook.SyncWritten)
	}

	report.FinishedAt = time.Now().UTC()

	if report.Succeeded() {
		h.state = StateCompleted
	} else {
		h.state = StatePartiallyFailed
	}

	log.Info("publication finished",
		logger.Outcome(string(h.state)),
		logger.Int("written", report.Written),
		logger.Int("failed", report.Failed),
		logger.Int("skipped", report.Skipped),
		logger.Latency(report.FinishedAt.Sub(report.StartedAt)),
	)

	return report, nil
}

func (h *PublishGradebookHandler) recordMetric(group string, outcome gradebook.SyncOutcome) {
	if h.metrics != nil {
		h.metrics.RecordSync(group, outcome)
	}
}
