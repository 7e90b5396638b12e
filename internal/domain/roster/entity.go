// Package roster contains the canonical class roster model and the identity
// resolution logic that maps observed contact identifiers from third-party
// exports onto canonical student records.
package roster

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ContactID is a contact identifier (typically an email address) in its
// normalized form. Two identifiers that differ only in case, surrounding
// whitespace, or diacritics normalize to the same ContactID.
type ContactID string

// NormalizeContactID produces the canonical lookup form of an observed
// identifier: trimmed, lowercased, NFD-decomposed with combining marks
// stripped. Typos are NOT healed here; that is the override map's job.
func NormalizeContactID(raw string) ContactID {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return ContactID(b.String())
}

// IsValid reports whether the identifier looks like a usable contact address.
func (c ContactID) IsValid() bool {
	s := string(c)
	return len(s) >= 3 && strings.Contains(s, "@") && !strings.ContainsAny(s, " \t\n\r")
}

// String returns the string representation of the identifier.
func (c ContactID) String() string {
	return string(c)
}

// InstitutionID is the canonical student identifier assigned by the
// institution (the student information system's numeric/opaque ID).
type InstitutionID string

// IsValid checks that the institution ID is non-empty.
func (i InstitutionID) IsValid() bool {
	return len(strings.TrimSpace(string(i))) > 0
}

// String returns the string representation of the institution ID.
func (i InstitutionID) String() string {
	return string(i)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentStatus describes a student's standing on the roster.
type EnrollmentStatus string

const (
	// EnrollmentActive - the student is actively enrolled and receives a
	// gradebook row every run.
	EnrollmentActive EnrollmentStatus = "active"
	// EnrollmentDropped - the student dropped the course.
	EnrollmentDropped EnrollmentStatus = "dropped"
	// EnrollmentWithdrawn - the student withdrew after the drop deadline.
	EnrollmentWithdrawn EnrollmentStatus = "withdrawn"
	// EnrollmentCompleted - the course is over for this student.
	EnrollmentCompleted EnrollmentStatus = "completed"
)

// IsValid checks that the status is one of the known values.
func (s EnrollmentStatus) IsValid() bool {
	switch s {
	case EnrollmentActive, EnrollmentDropped, EnrollmentWithdrawn, EnrollmentCompleted:
		return true
	default:
		return false
	}
}

// IsGraded returns true if the student receives a gradebook row.
// Only active-enrollment students are graded; other states are excluded from
// assembly entirely rather than given default-scored rows.
func (s EnrollmentStatus) IsGraded() bool {
	return s == EnrollmentActive
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Student is one canonical roster record. Immutable for the duration of a
// pipeline run; sourced from roster ingestion.
type Student struct {
	// ID is the institution-assigned canonical identifier.
	ID InstitutionID

	// DisplayName is the student's display name.
	DisplayName string

	// Contact is the primary contact identifier as recorded on the roster.
	Contact ContactID

	// Enrollment is the student's enrollment status.
	Enrollment EnrollmentStatus
}

// Staff is one staff record. Used only to exclude staff rows from grading.
type Staff struct {
	// Contact is the staff member's contact identifier.
	Contact ContactID

	// Role is a free-form role tag (e.g., "instructor", "tutor").
	Role string
}

var (
	// ErrInvalidStudent - a roster row fails validation.
	ErrInvalidStudent = errors.New("invalid student record")

	// ErrInvalidStaff - a staff row fails validation.
	ErrInvalidStaff = errors.New("invalid staff record")
)

// NewStudent creates a roster record with validation. The contact identifier
// is normalized on the way in so roster lookups are case-insensitive.
func NewStudent(id, displayName, contact string, enrollment EnrollmentStatus) (Student, error) {
	iid := InstitutionID(strings.TrimSpace(id))
	if !iid.IsValid() {
		return Student{}, ErrInvalidStudent
	}

	cid := NormalizeContactID(contact)
	if !cid.IsValid() {
		return Student{}, ErrInvalidStudent
	}

	if !enrollment.IsValid() {
		return Student{}, ErrInvalidStudent
	}

	return Student{
		ID:          iid,
		DisplayName: strings.TrimSpace(displayName),
		Contact:     cid,
		Enrollment:  enrollment,
	}, nil
}

// NewStaff creates a staff record with validation.
func NewStaff(contact, role string) (Staff, error) {
	cid := NormalizeContactID(contact)
	if !cid.IsValid() {
		return Staff{}, ErrInvalidStaff
	}

	return Staff{
		Contact: cid,
		Role:    strings.TrimSpace(role),
	}, nil
}

// ActiveStudents filters a roster down to the students that receive gradebook
// rows, preserving input order.
func ActiveStudents(students []Student) []Student {
	active := make([]Student, 0, len(students))
	for _, s := range students {
		if s.Enrollment.IsGraded() {
			active = append(active, s)
		}
	}
	return active
}
