// Package main is the gradesync CLI: it ingests a raw tool export,
// resolves identities against the roster, assembles the gradebook table,
// archives a snapshot, and publishes grades to Canvas.
//
// Subcommands:
//
//	run       execute the pipeline for one assignment
//	override  record an identity override
//	snapshot  print the latest archived table for an assignment as CSV
//	migrate   apply database migrations
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/yuribz/grades-dsc/config"
	"github.com/yuribz/grades-dsc/internal/application/command"
	"github.com/yuribz/grades-dsc/internal/domain/gradebook"
	"github.com/yuribz/grades-dsc/internal/domain/grading"
	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/internal/infrastructure/external/canvas"
	"github.com/yuribz/grades-dsc/internal/infrastructure/ingest"
	"github.com/yuribz/grades-dsc/internal/infrastructure/observability"
	"github.com/yuribz/grades-dsc/internal/infrastructure/persistence/postgres"
	"github.com/yuribz/grades-dsc/internal/infrastructure/persistence/redis"
	"github.com/yuribz/grades-dsc/pkg/logger"
	"github.com/yuribz/grades-dsc/pkg/timeutil"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gradesync: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})

	var runErr error
	switch os.Args[1] {
	case "run":
		runErr = runPipeline(ctx, cfg, log, os.Args[2:])
	case "override":
		runErr = recordOverride(ctx, cfg, log, os.Args[2:])
	case "snapshot":
		runErr = printSnapshot(ctx, cfg, os.Args[2:])
	case "migrate":
		runErr = migrate(ctx, cfg, log)
	default:
		usage()
		os.Exit(2)
	}

	if runErr != nil {
		log.Error("command failed", logger.Err(runErr))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gradesync <run|override|snapshot|migrate> [flags]")
}

// ══════════════════════════════════════════════════════════════════════════════
// RUN
// ══════════════════════════════════════════════════════════════════════════════

func runPipeline(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var (
		source     = fs.String("source", "", "grading source: attendance, reading, homework")
		exportPath = fs.String("export", "", "path to the raw export CSV")
		name       = fs.String("name", "", "assignment name")
		group      = fs.String("group", "", "assignment group")
		points     = fs.Float64("points", 1.0, "assignment points")
		due        = fs.String("due", "", "due time, course-local, \"2006-01-02 15:04\"")
		dirName    = fs.String("dir", "", "snapshot directory name (defaults to group slug)")
		configPath = fs.String("config", "", "path to source-specific JSON config")
		dryRun     = fs.Bool("dry-run", false, "assemble and snapshot without publishing")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	strategy, err := buildStrategy(*source, *points, *configPath)
	if err != nil {
		return err
	}

	export, err := ingest.LoadExportFile(*exportPath)
	if err != nil {
		return err
	}

	students, err := ingest.LoadRosterFile(cfg.Pipeline.RosterPath)
	if err != nil {
		return err
	}
	var staff []roster.Staff
	if cfg.Pipeline.StaffPath != "" {
		staff, err = ingest.LoadStaffFile(cfg.Pipeline.StaffPath)
		if err != nil {
			return err
		}
	}

	desc := gradebook.AssignmentDescriptor{
		Name:    *name,
		Group:   *group,
		Points:  *points,
		DirName: *dirName,
	}
	if *due != "" {
		clock, err := timeutil.NewCourseClock(cfg.App.Timezone)
		if err != nil {
			return err
		}
		dueAt, err := clock.ParseDue(*due)
		if err != nil {
			return err
		}
		desc.DueAt = &dueAt
	}

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	redisClient, err := redis.NewClient(ctx, redis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	canvasClient, err := newCanvasClient(cfg, log)
	if err != nil {
		return err
	}

	handler := command.NewRunAssignmentHandler(
		postgres.NewOverrideRepository(conn),
		postgres.NewSnapshotRepository(conn),
		canvasClient,
		redis.NewRunLock(redisClient, redis.RunLockConfig{TTL: cfg.Redis.RunLockTTL}),
		observability.NewMetrics(),
		log,
		command.PublishGradebookHandlerConfig{
			WriteAttempts: cfg.Pipeline.WriteAttempts,
			FindAttempts:  cfg.Pipeline.WriteAttempts,
			RetryDelay:    cfg.Pipeline.RetryDelay,
		},
	)

	result, err := handler.Handle(ctx, command.RunAssignmentCommand{
		Descriptor: desc,
		Strategy:   strategy,
		Export:     export,
		Students:   students,
		Staff:      staff,
		DryRun:     *dryRun,
	})
	if err != nil {
		return err
	}

	printReview(result.Review)
	if result.Report != nil && !result.Report.Succeeded() {
		for _, f := range result.Report.Failures() {
			fmt.Fprintf(os.Stderr, "FAILED %s: %s\n", f.StudentID, f.Detail)
		}
		return fmt.Errorf("publication finished with %d failed writes", result.Report.Failed)
	}
	return nil
}

// sourceConfig is the JSON shape of -config for all sources. Unused
// fields are ignored per source.
type sourceConfig struct {
	// Attendance
	Threshold float64 `json:"threshold"`

	// Reading: section name to required activity kinds
	Sections map[string][]string `json:"sections"`

	// Homework
	LateRules []struct {
		Keyword    string  `json:"keyword"`
		Multiplier float64 `json:"multiplier"`
	} `json:"late_rules"`
	SlipDays float64 `json:"slip_days"`
	Merge    *struct {
		Column string `json:"column"`
		Mode   string `json:"mode"`
		Export string `json:"export"`
	} `json:"merge"`
}

func buildStrategy(source string, points float64, configPath string) (grading.Strategy, error) {
	var sc sourceConfig
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read source config: %w", err)
		}
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parse source config: %w", err)
		}
	}

	switch strings.ToLower(source) {
	case "attendance":
		opts := []grading.AttendanceOption{grading.WithAttendancePoints(points)}
		if sc.Threshold > 0 {
			opts = append(opts, grading.WithAttendanceThreshold(sc.Threshold))
		}
		return grading.NewAttendancePoll(opts...), nil

	case "reading":
		if len(sc.Sections) == 0 {
			return nil, fmt.Errorf("reading source requires a -config with sections")
		}
		return grading.NewReadingActivity(sc.Sections, grading.WithReadingPoints(points)), nil

	case "homework":
		opts := []grading.HomeworkOption{grading.WithHomeworkPoints(points)}
		if len(sc.LateRules) > 0 {
			rules := make([]grading.LateRule, 0, len(sc.LateRules))
			for _, r := range sc.LateRules {
				rules = append(rules, grading.LateRule{Keyword: r.Keyword, Multiplier: r.Multiplier})
			}
			opts = append(opts, grading.WithLatePolicy(rules))
		}
		if sc.SlipDays > 0 {
			opts = append(opts, grading.WithSlipDays(sc.SlipDays))
		}
		if sc.Merge != nil {
			mode := grading.MergeAdd
			if strings.EqualFold(sc.Merge.Mode, "substitute") {
				mode = grading.MergeSubstitute
			}
			mergeExport, err := ingest.LoadExportFile(sc.Merge.Export)
			if err != nil {
				return nil, fmt.Errorf("load merge export: %w", err)
			}
			opts = append(opts, grading.WithSectionMerge(grading.SectionMerge{
				Column: sc.Merge.Column,
				Mode:   mode,
				Export: mergeExport,
			}))
		}
		return grading.NewAdvancedHomework(opts...), nil

	default:
		return nil, fmt.Errorf("unknown source %q (want attendance, reading, or homework)", source)
	}
}

func printReview(review *gradebook.Review) {
	if review == nil || review.Clean() {
		return
	}
	for _, obs := range review.Unresolved {
		fmt.Fprintf(os.Stderr, "UNRESOLVED %s\n", obs)
	}
	for _, dup := range review.Duplicates {
		fmt.Fprintf(os.Stderr, "DUPLICATE %s: %s\n", dup.StudentID, strings.Join(dup.Observed, ", "))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OVERRIDE
// ══════════════════════════════════════════════════════════════════════════════

func recordOverride(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	fs := flag.NewFlagSet("override", flag.ExitOnError)
	var (
		observed  = fs.String("observed", "", "identifier as it appeared in the export")
		canonical = fs.String("canonical", "", "canonical roster identifier")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	handler := command.NewRecordOverrideHandler(postgres.NewOverrideRepository(conn), log)
	result, err := handler.Handle(ctx, command.RecordOverrideCommand{
		Observed:  *observed,
		Canonical: *canonical,
	})
	if err != nil {
		return err
	}

	fmt.Printf("recorded %s -> %s (%d overrides total)\n", result.Observed, result.Canonical, result.Total)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

func printSnapshot(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	var (
		dirName = fs.String("dir", "", "snapshot directory name")
		name    = fs.String("name", "", "assignment name")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	snapshot, err := postgres.NewSnapshotRepository(conn).Latest(ctx, *dirName, *name)
	if err != nil {
		return err
	}

	out, err := snapshot.Table.RenderCSV()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func migrate(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

func newCanvasClient(cfg *config.Config, log *logger.Logger) (*canvas.Client, error) {
	clientCfg := canvas.DefaultClientConfig(cfg.Canvas.BaseURL, cfg.Canvas.Token, cfg.Canvas.CourseID)
	clientCfg.Timeout = cfg.Canvas.RequestTimeout
	clientCfg.MaxRetries = cfg.Canvas.MaxRetries
	clientCfg.RetryBackoff = cfg.Canvas.RetryBackoff
	clientCfg.RateLimiterConfig.RequestsPerSecond = cfg.Canvas.RateLimit
	clientCfg.RateLimiterConfig.BurstSize = cfg.Canvas.RateLimitBurst
	clientCfg.CircuitBreakerConfig.FailureThreshold = cfg.Canvas.CircuitBreakerThreshold
	clientCfg.CircuitBreakerConfig.Timeout = cfg.Canvas.CircuitBreakerTimeout
	clientCfg.CircuitBreakerConfig.HalfOpenMaxRequests = cfg.Canvas.CircuitBreakerHalfOpenMax
	clientCfg.Logger = log
	return canvas.NewClient(clientCfg)
}
