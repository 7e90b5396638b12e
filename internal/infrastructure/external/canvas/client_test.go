package canvas

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuribz/grades-dsc/internal/domain/gradebook"
	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultClientConfig(server.URL, "test-token", "1234")
	config.MaxRetries = 2
	config.RetryBackoff = time.Millisecond
	config.RateLimiterConfig = RateLimiterConfig{
		RequestsPerSecond: 1000,
		BurstSize:         1000,
		MinInterval:       0,
		WaitTimeout:       time.Second,
	}

	client, err := NewClient(config)
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultClientConfig("https://canvas.example.edu", "tok", "1").Validate())

	noToken := DefaultClientConfig("https://canvas.example.edu", "", "1")
	assert.ErrorIs(t, noToken.Validate(), shared.ErrConfiguration)

	noCourse := DefaultClientConfig("https://canvas.example.edu", "tok", "")
	assert.ErrorIs(t, noCourse.Validate(), shared.ErrConfiguration)
}

func TestFindAssignmentAbsentGroup(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/courses/1234/assignment_groups", r.URL.Path)
		writeJSON(w, []AssignmentGroupDTO{})
	}))

	assignment, err := client.FindAssignment(context.Background(), "Homework 3", "Homework")

	require.NoError(t, err)
	assert.Nil(t, assignment)
}

func TestFindAssignmentFound(t *testing.T) {
	due := "2026-02-15T07:59:00Z"
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/courses/1234/assignment_groups":
			writeJSON(w, []AssignmentGroupDTO{{ID: 42, Name: "Homework"}})
		case "/api/v1/courses/1234/assignment_groups/42/assignments":
			writeJSON(w, []AssignmentDTO{
				{ID: 7, Name: "Homework 2", AssignmentGroupID: 42, PointsPossible: 100},
				{ID: 8, Name: "homework 3", AssignmentGroupID: 42, PointsPossible: 100, DueAt: &due},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	assignment, err := client.FindAssignment(context.Background(), "Homework 3", "Homework")

	require.NoError(t, err)
	require.NotNil(t, assignment, "name matching is case-insensitive")
	assert.Equal(t, "8", assignment.ID)
	assert.Equal(t, "42", assignment.GroupID)
	assert.Equal(t, 100.0, assignment.Descriptor.Points)
	require.NotNil(t, assignment.Descriptor.DueAt)
	assert.Equal(t, time.Date(2026, 2, 15, 7, 59, 0, 0, time.UTC), assignment.Descriptor.DueAt.UTC())
}

func TestFindAssignmentAbsentInGroup(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses/1234/assignment_groups":
			writeJSON(w, []AssignmentGroupDTO{{ID: 42, Name: "Homework"}})
		default:
			writeJSON(w, []AssignmentDTO{{ID: 7, Name: "Homework 2"}})
		}
	}))

	assignment, err := client.FindAssignment(context.Background(), "Homework 3", "Homework")

	require.NoError(t, err)
	assert.Nil(t, assignment)
}

func TestCreateAssignmentCreatesGroupWhenAbsent(t *testing.T) {
	var groupCreated, assignmentCreated bool
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/courses/1234/assignment_groups" && r.Method == http.MethodGet:
			writeJSON(w, []AssignmentGroupDTO{})
		case r.URL.Path == "/api/v1/courses/1234/assignment_groups" && r.Method == http.MethodPost:
			var req createGroupRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Homework", req.Name)
			groupCreated = true
			writeJSON(w, AssignmentGroupDTO{ID: 42, Name: "Homework"})
		case r.URL.Path == "/api/v1/courses/1234/assignments" && r.Method == http.MethodPost:
			var req createAssignmentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Homework 3", req.Assignment.Name)
			assert.Equal(t, int64(42), req.Assignment.AssignmentGroupID)
			assert.Equal(t, 100.0, req.Assignment.PointsPossible)
			assert.True(t, req.Assignment.Published)
			assert.Equal(t, []string{"none"}, req.Assignment.SubmissionTypes)
			assignmentCreated = true
			writeJSON(w, AssignmentDTO{ID: 8, Name: "Homework 3", AssignmentGroupID: 42, PointsPossible: 100})
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))

	desc := gradebook.AssignmentDescriptor{Name: "Homework 3", Group: "Homework", Points: 100}
	assignment, err := client.CreateAssignment(context.Background(), desc)

	require.NoError(t, err)
	assert.True(t, groupCreated)
	assert.True(t, assignmentCreated)
	assert.Equal(t, "8", assignment.ID)
}

func TestWriteGrade(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/courses/1234/assignments/8/submissions/sis_user_id:A100", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req writeGradeRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "87.5", req.Submission.PostedGrade)
		require.NotNil(t, req.Comment)
		assert.Equal(t, `late: "late" x0.80`, req.Comment.TextComment)

		score := 87.5
		writeJSON(w, SubmissionDTO{ID: 1, Score: &score})
	}))

	err := client.WriteGrade(context.Background(), "8", "A100", 87.5, `late: "late" x0.80`)

	assert.NoError(t, err)
}

func TestWriteGradeNoComment(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.NotContains(t, string(body), "comment")
		writeJSON(w, SubmissionDTO{ID: 1})
	}))

	assert.NoError(t, client.WriteGrade(context.Background(), "8", "A100", 1, ""))
}

func TestAccessDenialNotRetried(t *testing.T) {
	var calls int
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]string{"message": "insufficient permissions"})
	}))

	_, err := client.FindAssignment(context.Background(), "Homework 3", "Homework")

	require.Error(t, err)
	assert.True(t, shared.IsRemoteAccess(err))
	assert.Equal(t, 1, calls, "denials fail immediately")
}

func TestServerErrorRetriedThenFails(t *testing.T) {
	var calls int
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := client.WriteGrade(context.Background(), "8", "A100", 1, "")

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrGradeWrite)
	assert.ErrorIs(t, err, shared.ErrCanvasUnavailable)
	assert.ErrorIs(t, err, shared.ErrExternalService)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestServerErrorRetriedThenSucceeds(t *testing.T) {
	var calls int
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, SubmissionDTO{ID: 1})
	}))

	err := client.WriteGrade(context.Background(), "8", "A100", 1, "")

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestThrottleMappedToRateLimited(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := client.WriteGrade(context.Background(), "8", "A100", 1, "")

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCanvasRateLimited)
	assert.ErrorIs(t, err, shared.ErrRateLimited)
}

func TestMalformedResponseNotRetried(t *testing.T) {
	var calls int
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("<html>maintenance page</html>"))
	}))

	err := client.WriteGrade(context.Background(), "8", "A100", 1, "")

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCanvasInvalidResponse)
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
	assert.Equal(t, 1, calls, "a garbled body is not a transient failure")
}

func TestTimeoutMapped(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		writeJSON(w, SubmissionDTO{ID: 1})
	}))
	client.httpClient.Timeout = 5 * time.Millisecond

	err := client.WriteGrade(context.Background(), "8", "A100", 1, "")

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCanvasTimeout)
	assert.ErrorIs(t, err, shared.ErrTimeout)
}

func TestInvalidInputNotRetried(t *testing.T) {
	var calls int
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]string{"message": "invalid grade"})
	}))

	err := client.WriteGrade(context.Background(), "8", "A100", 1, "")

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Equal(t, 1, calls)
}

func TestGroupLookupCached(t *testing.T) {
	var groupCalls int
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses/1234/assignment_groups":
			groupCalls++
			writeJSON(w, []AssignmentGroupDTO{{ID: 42, Name: "Homework"}})
		default:
			writeJSON(w, []AssignmentDTO{})
		}
	}))

	ctx := context.Background()
	_, err := client.FindAssignment(ctx, "Homework 3", "Homework")
	require.NoError(t, err)
	_, err = client.FindAssignment(ctx, "Homework 4", "Homework")
	require.NoError(t, err)

	assert.Equal(t, 1, groupCalls)
}

func TestIsHealthy(t *testing.T) {
	healthy := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/courses/1234", r.URL.Path)
		writeJSON(w, map[string]any{"id": 1234})
	}))
	assert.True(t, healthy.IsHealthy(context.Background()))

	down := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	assert.False(t, down.IsHealthy(context.Background()))
}

func TestReadGrades(t *testing.T) {
	score := func(v float64) *float64 { return &v }
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/courses/1234/assignments/8/submissions", r.URL.Path)
		assert.Equal(t, "user", r.URL.Query().Get("include[]"))
		writeJSON(w, []SubmissionDTO{
			{UserID: 1, Score: score(2), User: &SubmissionUserDTO{ID: 1, SISUserID: "A100"}},
			{UserID: 2, Score: nil, User: &SubmissionUserDTO{ID: 2, SISUserID: "A200"}},
			{UserID: 3, Score: score(1), User: nil},
		})
	}))

	grades, err := client.ReadGrades(context.Background(), "8")

	require.NoError(t, err)
	assert.Equal(t, map[roster.InstitutionID]float64{"A100": 2}, grades,
		"ungraded and identity-less submissions are skipped")
}
