package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yuribz/grades-dsc/internal/domain/gradebook"
	"github.com/yuribz/grades-dsc/internal/domain/grading"
	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN ASSIGNMENT COMMAND
// The end-to-end pipeline for one assignment: resolve identities, parse and
// score the export, assemble the table, snapshot it, then publish.
// ══════════════════════════════════════════════════════════════════════════════

// RunAssignmentCommand contains everything one pipeline run needs.
type RunAssignmentCommand struct {
	// Descriptor identifies the remote assignment.
	Descriptor gradebook.AssignmentDescriptor

	// Strategy parses and scores the raw export for this source.
	Strategy grading.Strategy

	// Export is the raw tool export.
	Export *grading.Table

	// Students is the current roster.
	Students []roster.Student

	// Staff are known non-student identities, discarded without comment.
	Staff []roster.Staff

	// DryRun assembles and snapshots but skips publication.
	DryRun bool
}

// Validate validates the command.
func (c RunAssignmentCommand) Validate() error {
	if c.Strategy == nil {
		return fmt.Errorf("run_assignment: strategy is required")
	}
	if c.Export == nil {
		return fmt.Errorf("run_assignment: export is required")
	}
	if len(c.Students) == 0 {
		return fmt.Errorf("run_assignment: roster is required")
	}
	return c.Descriptor.Validate()
}

// RunAssignmentResult contains the outcome of one pipeline run.
type RunAssignmentResult struct {
	// RunID identifies this run across logs, snapshot, and report.
	RunID string

	// Table is the assembled gradebook.
	Table *gradebook.Table

	// Review holds the unresolved identifiers and duplicate resolutions
	// the operator must look at.
	Review *gradebook.Review

	// SnapshotKey is where the assembled table was persisted.
	SnapshotKey string

	// Report is the publication report. Nil on dry runs.
	Report *gradebook.Report

	// SlipDayReport is the slip-day tally update report. Nil unless the
	// strategy tracks slip days and the run published.
	SlipDayReport *gradebook.Report
}

// RunMetrics is the optional run-level metrics capability. A SyncMetrics
// implementation that also satisfies it gets the per-run gauges.
type RunMetrics interface {
	RecordUnresolved(count int)
	RecordRunFinished(ts time.Time)
}

// RunLock serializes pipeline runs. Two concurrent runs share the override
// store and the remote assignment namespace, so only one may proceed.
type RunLock interface {
	// Acquire takes the lock or fails with shared.ErrRunInProgress.
	// The returned release function is safe to call more than once.
	Acquire(ctx context.Context) (release func(), err error)
}

// RunAssignmentHandler handles the RunAssignmentCommand.
type RunAssignmentHandler struct {
	overrides roster.OverrideStore
	snapshots gradebook.SnapshotStore
	remote    gradebook.Remote
	lock      RunLock
	metrics   SyncMetrics
	log       *logger.Logger

	publishConfig PublishGradebookHandlerConfig
}

// NewRunAssignmentHandler creates a new RunAssignmentHandler.
func NewRunAssignmentHandler(
	overrides roster.OverrideStore,
	snapshots gradebook.SnapshotStore,
	remote gradebook.Remote,
	lock RunLock,
	metrics SyncMetrics,
	log *logger.Logger,
	publishConfig PublishGradebookHandlerConfig,
) *RunAssignmentHandler {
	if log == nil {
		log = logger.Default()
	}
	if publishConfig.WriteAttempts == 0 {
		publishConfig = DefaultPublishGradebookHandlerConfig()
	}
	return &RunAssignmentHandler{
		overrides:     overrides,
		snapshots:     snapshots,
		remote:        remote,
		lock:          lock,
		metrics:       metrics,
		log:           log.With(logger.Component("pipeline")),
		publishConfig: publishConfig,
	}
}

// Handle executes the pipeline. The snapshot is persisted before any
// publication attempt, so a remote failure never loses the computed table.
func (h *RunAssignmentHandler) Handle(ctx context.Context, cmd RunAssignmentCommand) (*RunAssignmentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := h.log.With(
		logger.RunID(runID),
		logger.Assignment(cmd.Descriptor.Name),
		logger.Source(cmd.Strategy.Source()),
	)

	release, err := h.lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("run_assignment: acquire run lock: %w", err)
	}
	defer release()

	overrides, err := roster.LoadOverrides(ctx, h.overrides)
	if err != nil {
		return nil, fmt.Errorf("run_assignment: load overrides: %w", err)
	}
	log.Debug("overrides loaded", logger.Int("count", overrides.Len()))

	resolver := roster.NewResolver(cmd.Students, cmd.Staff, overrides)

	subs, err := cmd.Strategy.Parse(cmd.Export)
	if err != nil {
		return nil, fmt.Errorf("run_assignment: parse export: %w", err)
	}
	log.Info("export parsed", logger.Int("submissions", len(subs)))

	resolved := grading.ResolveAll(resolver, subs)

	assembler := gradebook.NewAssembler(cmd.Strategy)
	table, review, err := assembler.Assemble(cmd.Descriptor, cmd.Students, resolved, resolver.Unresolved())
	if err != nil {
		return nil, fmt.Errorf("run_assignment: assemble table: %w", err)
	}
	if !review.Clean() {
		log.Warn("assembly left operator work",
			logger.Int("unresolved", len(review.Unresolved)),
			logger.Int("duplicates", len(review.Duplicates)),
		)
	}
	if rm, ok := h.metrics.(RunMetrics); ok {
		rm.RecordUnresolved(len(review.Unresolved))
	}

	snapshot := &gradebook.Snapshot{
		ID:             uuid.NewString(),
		DirName:        cmd.Descriptor.SnapshotDir(),
		AssignmentName: cmd.Descriptor.Name,
		TakenAt:        time.Now().UTC(),
		Table:          table,
	}
	if err := h.snapshots.Save(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("run_assignment: save snapshot: %w", err)
	}
	log.Info("snapshot saved", logger.SnapshotKey(snapshot.Key()))

	result := &RunAssignmentResult{
		RunID:       runID,
		Table:       table,
		Review:      review,
		SnapshotKey: snapshot.Key(),
	}

	if cmd.DryRun {
		log.Info("dry run, skipping publication")
		return result, nil
	}
	defer func() {
		if rm, ok := h.metrics.(RunMetrics); ok {
			rm.RecordRunFinished(time.Now().UTC())
		}
	}()

	publisher := NewPublishGradebookHandler(h.remote, h.metrics, h.log, h.publishConfig)
	report, err := publisher.Handle(ctx, PublishGradebookCommand{
		RunID: runID,
		Table: table,
	})
	if err != nil {
		return result, fmt.Errorf("run_assignment: publish: %w", err)
	}
	result.Report = report

	if tracker, ok := cmd.Strategy.(grading.SlipDayTracker); ok && tracker.TracksSlipDays() {
		reader, ok := h.remote.(gradebook.GradeReader)
		if !ok {
			log.Warn("remote cannot read grades back, slip-day tally skipped")
			return result, nil
		}

		tally := NewPublishSlipDaysHandler(h.remote, reader, h.log, h.publishConfig)
		slipReport, err := tally.Handle(ctx, PublishSlipDaysCommand{
			RunID:          runID,
			Group:          cmd.Descriptor.Group,
			AssignmentName: cmd.Descriptor.Name,
			TotalSlipDays:  tracker.TotalSlipDays(),
			Usage:          tracker.SlipDayUsage(resolved),
			Students:       cmd.Students,
		})
		if err != nil {
			return result, fmt.Errorf("run_assignment: update slip-day tally: %w", err)
		}
		result.SlipDayReport = slipReport
	}

	return result, nil
}
