// Package ingest loads the CSV inputs of a pipeline run: the course
// roster, the staff list, and raw tool exports. Exports are loaded
// verbatim into an opaque table; all interpretation belongs to the
// grading strategies.
package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/yuribz/grades-dsc/internal/domain/grading"
	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

// Roster CSV column names.
const (
	rosterColName   = "Name"
	rosterColID     = "ID"
	rosterColEmail  = "Email"
	rosterColStatus = "Status"
)

// Staff CSV column names.
const (
	staffColEmail = "Email"
	staffColRole  = "Role"
)

// LoadExport reads a raw tool export into an opaque table. Ragged rows
// are tolerated; strategies index columns by header name.
func LoadExport(r io.Reader) (*grading.Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, shared.WrapError("ingest", "LoadExport", shared.ErrMalformedExport, "read csv", err)
	}
	if len(records) == 0 {
		return nil, shared.ErrEmptyExport
	}

	return &grading.Table{
		Columns: records[0],
		Rows:    records[1:],
	}, nil
}

// LoadExportFile reads a raw tool export from disk.
func LoadExportFile(path string) (*grading.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, shared.WrapError("ingest", "LoadExport", shared.ErrMalformedExport, path, err)
	}
	defer f.Close()
	return LoadExport(f)
}

// LoadRoster reads the course roster. Name, ID, and Email are required
// columns; Status is optional and defaults to active enrollment.
func LoadRoster(r io.Reader) ([]roster.Student, error) {
	table, err := LoadExport(r)
	if err != nil {
		return nil, err
	}

	nameIdx, ok := table.ColumnIndex(rosterColName)
	if !ok {
		return nil, missingColumn("LoadRoster", rosterColName)
	}
	idIdx, ok := table.ColumnIndex(rosterColID)
	if !ok {
		return nil, missingColumn("LoadRoster", rosterColID)
	}
	emailIdx, ok := table.ColumnIndex(rosterColEmail)
	if !ok {
		return nil, missingColumn("LoadRoster", rosterColEmail)
	}
	statusIdx, hasStatus := table.ColumnIndex(rosterColStatus)

	students := make([]roster.Student, 0, len(table.Rows))
	for i := range table.Rows {
		id := strings.TrimSpace(table.Cell(i, idIdx))
		email := strings.TrimSpace(table.Cell(i, emailIdx))
		if id == "" && email == "" {
			// Trailing blank line in a hand-edited roster.
			continue
		}

		status := roster.EnrollmentActive
		if hasStatus {
			if s := normalizeStatus(table.Cell(i, statusIdx)); s != "" {
				status = s
			}
		}

		student, err := roster.NewStudent(id, table.Cell(i, nameIdx), email, status)
		if err != nil {
			return nil, shared.WrapError("ingest", "LoadRoster", shared.ErrMalformedExport,
				"row "+id, err)
		}
		students = append(students, student)
	}

	return students, nil
}

// LoadRosterFile reads the course roster from disk.
func LoadRosterFile(path string) ([]roster.Student, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, shared.WrapError("ingest", "LoadRoster", shared.ErrMalformedExport, path, err)
	}
	defer f.Close()
	return LoadRoster(f)
}

// LoadStaff reads the staff list. Only Email is required.
func LoadStaff(r io.Reader) ([]roster.Staff, error) {
	table, err := LoadExport(r)
	if err != nil {
		return nil, err
	}

	emailIdx, ok := table.ColumnIndex(staffColEmail)
	if !ok {
		return nil, missingColumn("LoadStaff", staffColEmail)
	}
	roleIdx, hasRole := table.ColumnIndex(staffColRole)

	staff := make([]roster.Staff, 0, len(table.Rows))
	for i := range table.Rows {
		email := strings.TrimSpace(table.Cell(i, emailIdx))
		if email == "" {
			continue
		}

		role := "staff"
		if hasRole {
			if v := strings.TrimSpace(table.Cell(i, roleIdx)); v != "" {
				role = v
			}
		}

		member, err := roster.NewStaff(email, role)
		if err != nil {
			return nil, shared.WrapError("ingest", "LoadStaff", shared.ErrMalformedExport, email, err)
		}
		staff = append(staff, member)
	}

	return staff, nil
}

// LoadStaffFile reads the staff list from disk.
func LoadStaffFile(path string) ([]roster.Staff, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, shared.WrapError("ingest", "LoadStaff", shared.ErrMalformedExport, path, err)
	}
	defer f.Close()
	return LoadStaff(f)
}

// normalizeStatus maps spreadsheet status strings onto enrollment states.
func normalizeStatus(raw string) roster.EnrollmentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "active", "enrolled":
		return roster.EnrollmentActive
	case "dropped":
		return roster.EnrollmentDropped
	case "withdrawn":
		return roster.EnrollmentWithdrawn
	case "completed":
		return roster.EnrollmentCompleted
	default:
		return ""
	}
}

func missingColumn(op, name string) error {
	return shared.WrapError("ingest", op, shared.ErrMalformedExport,
		"required column "+name, shared.ErrMissingColumn)
}
