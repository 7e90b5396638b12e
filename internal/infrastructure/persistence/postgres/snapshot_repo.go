package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yuribz/grades-dsc/internal/domain/gradebook"
	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

// SnapshotRepository implements gradebook.SnapshotStore for PostgreSQL.
// Each snapshot stores the table twice: as JSONB for querying and as the
// rendered CSV the operator downloads.
type SnapshotRepository struct {
	conn *Connection
}

var _ gradebook.SnapshotStore = (*SnapshotRepository)(nil)

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

// snapshotRow is the JSONB row shape.
type snapshotRow struct {
	StudentID   string  `json:"student_id"`
	DisplayName string  `json:"display_name"`
	Score       float64 `json:"score"`
	Note        string  `json:"note,omitempty"`
	Withheld    bool    `json:"withheld,omitempty"`
}

// Save persists a snapshot. Snapshots are immutable; a duplicate storage
// key means the same table was already archived and the write is a no-op.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *gradebook.Snapshot) error {
	if snapshot == nil || snapshot.Table == nil {
		return fmt.Errorf("snapshot: nil snapshot")
	}

	rows := make([]snapshotRow, 0, len(snapshot.Table.Rows))
	for _, row := range snapshot.Table.Rows {
		rows = append(rows, snapshotRow{
			StudentID:   row.StudentID.String(),
			DisplayName: row.DisplayName,
			Score:       row.Score,
			Note:        row.Note,
			Withheld:    row.Withheld,
		})
	}
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("snapshot: marshal rows: %w", err)
	}

	renderedCSV, err := snapshot.Table.RenderCSV()
	if err != nil {
		return fmt.Errorf("snapshot: render csv: %w", err)
	}

	query := `
		INSERT INTO gradebook_snapshots
			(id, storage_key, dir_name, assignment_name, assignment_group, points, taken_at, rows_json, rendered_csv)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (storage_key) DO NOTHING
	`
	_, err = r.conn.Exec(ctx, query,
		snapshot.ID,
		snapshot.Key(),
		snapshot.DirName,
		snapshot.AssignmentName,
		snapshot.Table.Assignment.Group,
		snapshot.Table.Assignment.Points,
		snapshot.TakenAt.UTC(),
		rowsJSON,
		string(renderedCSV),
	)
	if err != nil {
		return fmt.Errorf("snapshot: insert: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot for an assignment, or
// shared.ErrSnapshotNotFound when none was ever archived.
func (r *SnapshotRepository) Latest(ctx context.Context, dirName, assignmentName string) (*gradebook.Snapshot, error) {
	query := `
		SELECT id, dir_name, assignment_name, assignment_group, points, taken_at, rows_json
		FROM gradebook_snapshots
		WHERE dir_name = $1 AND assignment_name = $2
		ORDER BY taken_at DESC
		LIMIT 1
	`

	var (
		snapshot gradebook.Snapshot
		group    string
		points   float64
		takenAt  time.Time
		rowsJSON []byte
	)
	err := r.conn.QueryRow(ctx, query, dirName, assignmentName).Scan(
		&snapshot.ID,
		&snapshot.DirName,
		&snapshot.AssignmentName,
		&group,
		&points,
		&takenAt,
		&rowsJSON,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("snapshot: query latest: %w", err)
	}

	var rows []snapshotRow
	if err := json.Unmarshal(rowsJSON, &rows); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal rows: %w", err)
	}

	table := &gradebook.Table{
		Assignment: gradebook.AssignmentDescriptor{
			Name:    snapshot.AssignmentName,
			Group:   group,
			Points:  points,
			DirName: snapshot.DirName,
		},
		Rows: make([]gradebook.Row, 0, len(rows)),
	}
	for _, row := range rows {
		table.Rows = append(table.Rows, gradebook.Row{
			StudentID:   roster.InstitutionID(row.StudentID),
			DisplayName: row.DisplayName,
			Score:       row.Score,
			Note:        row.Note,
			Withheld:    row.Withheld,
		})
	}

	snapshot.TakenAt = takenAt
	snapshot.Table = table
	return &snapshot, nil
}
