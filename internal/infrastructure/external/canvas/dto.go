package canvas

import (
	"fmt"
	"strconv"
	"time"

	"github.com/yuribz/grades-dsc/internal/domain/gradebook"
)

// ══════════════════════════════════════════════════════════════════════════════
// DATA TRANSFER OBJECTS
// Wire shapes of the Canvas REST API. Only the fields the client reads
// are declared.
// ══════════════════════════════════════════════════════════════════════════════

// AssignmentGroupDTO is a Canvas assignment group.
type AssignmentGroupDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AssignmentDTO is a Canvas assignment.
type AssignmentDTO struct {
	ID                int64    `json:"id"`
	Name              string   `json:"name"`
	AssignmentGroupID int64    `json:"assignment_group_id"`
	PointsPossible    float64  `json:"points_possible"`
	DueAt             *string  `json:"due_at"`
	Published         bool     `json:"published"`
	SubmissionTypes   []string `json:"submission_types"`
}

// SubmissionDTO is a Canvas submission, returned by grade writes and by the
// per-assignment submission listing.
type SubmissionDTO struct {
	ID           int64              `json:"id"`
	AssignmentID int64              `json:"assignment_id"`
	UserID       int64              `json:"user_id"`
	Score        *float64           `json:"score"`
	Grade        string             `json:"grade"`
	WorkflowSt   string             `json:"workflow_state"`
	User         *SubmissionUserDTO `json:"user"`
}

// SubmissionUserDTO carries the submitter identity when the listing is
// requested with include[]=user.
type SubmissionUserDTO struct {
	ID        int64  `json:"id"`
	SISUserID string `json:"sis_user_id"`
}

// createGroupRequest is the body for assignment-group creation.
type createGroupRequest struct {
	Name string `json:"name"`
}

// createAssignmentRequest is the body for assignment creation.
type createAssignmentRequest struct {
	Assignment assignmentParams `json:"assignment"`
}

type assignmentParams struct {
	Name               string   `json:"name"`
	AssignmentGroupID  int64    `json:"assignment_group_id"`
	PointsPossible     float64  `json:"points_possible"`
	DueAt              string   `json:"due_at,omitempty"`
	Published          bool     `json:"published"`
	SubmissionTypes    []string `json:"submission_types"`
	OmitFromFinalGrade bool     `json:"omit_from_final_grade,omitempty"`
}

// writeGradeRequest is the body for a grade write. posted_grade is a
// string per the Canvas API.
type writeGradeRequest struct {
	Submission submissionParams `json:"submission"`
	Comment    *commentParams   `json:"comment,omitempty"`
}

type submissionParams struct {
	PostedGrade string `json:"posted_grade"`
}

type commentParams struct {
	TextComment string `json:"text_comment"`
}

// APIErrorDTO is the Canvas error envelope.
type APIErrorDTO struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("canvas api error: %s", e.Message)
	}
	if len(e.Errors) > 0 {
		return fmt.Sprintf("canvas api error: %s", e.Errors[0].Message)
	}
	return fmt.Sprintf("canvas api error: status %s", e.Status)
}

// toDomain maps an assignment DTO to the domain assignment.
func (d AssignmentDTO) toDomain(desc gradebook.AssignmentDescriptor) *gradebook.Assignment {
	a := &gradebook.Assignment{
		ID:      strconv.FormatInt(d.ID, 10),
		GroupID: strconv.FormatInt(d.AssignmentGroupID, 10),
		Descriptor: gradebook.AssignmentDescriptor{
			Name:    d.Name,
			Group:   desc.Group,
			Points:  d.PointsPossible,
			DirName: desc.DirName,
		},
	}
	if d.DueAt != nil {
		if due, err := time.Parse(time.RFC3339, *d.DueAt); err == nil {
			a.Descriptor.DueAt = &due
		}
	}
	return a
}
