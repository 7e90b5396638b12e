package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yuribz/grades-dsc/internal/domain/gradebook"
	"github.com/yuribz/grades-dsc/internal/domain/roster"
	"github.com/yuribz/grades-dsc/internal/domain/shared"
	"github.com/yuribz/grades-dsc/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Canvas API client.
type ClientConfig struct {
	// BaseURL is the Canvas instance base URL (no trailing slash).
	BaseURL string

	// Token is the Canvas API access token.
	Token string

	// CourseID is the Canvas course all operations target.
	CourseID string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// RateLimiterConfig paces requests against the Canvas throttle bucket.
	RateLimiterConfig RateLimiterConfig

	// CircuitBreakerConfig for fault tolerance.
	CircuitBreakerConfig CircuitBreakerConfig

	// MaxRetries bounds transient-error retries inside a single call.
	MaxRetries int

	// RetryBackoff is the initial backoff between in-call retries.
	RetryBackoff time.Duration

	// Logger for structured logging.
	Logger *logger.Logger

	// PageSize for paginated listings.
	PageSize int
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL, token, courseID string) ClientConfig {
	return ClientConfig{
		BaseURL:              strings.TrimRight(baseURL, "/"),
		Token:                token,
		CourseID:             courseID,
		Timeout:              30 * time.Second,
		RateLimiterConfig:    DefaultRateLimiterConfig(),
		CircuitBreakerConfig: DefaultCircuitBreakerConfig(),
		MaxRetries:           2,
		RetryBackoff:         time.Second,
		PageSize:             100,
	}
}

// Validate checks required fields.
func (c ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return shared.NewDomainError("canvas", "Configure", shared.ErrConfiguration, "base URL is required")
	}
	if c.Token == "" {
		return shared.NewDomainError("canvas", "Configure", shared.ErrConfiguration, "API token is required")
	}
	if c.CourseID == "" {
		return shared.NewDomainError("canvas", "Configure", shared.ErrConfiguration, "course ID is required")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Canvas API client. It implements gradebook.Remote.
type Client struct {
	config         ClientConfig
	httpClient     *http.Client
	log            *logger.Logger
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker

	// Group IDs rarely change within a run; cache lookups.
	groupMu sync.Mutex
	groups  map[string]int64
}

var (
	_ gradebook.Remote      = (*Client)(nil)
	_ gradebook.GradeReader = (*Client)(nil)
)

// NewClient creates a new Canvas API client.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		log:            config.Logger.With(logger.Component("canvas")),
		rateLimiter:    NewRateLimiter(config.RateLimiterConfig),
		circuitBreaker: NewCircuitBreaker(config.CircuitBreakerConfig),
		groups:         make(map[string]int64),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOTE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// FindAssignment looks up an assignment by name within the named group.
// Returns (nil, nil) when either the group or the assignment is absent.
func (c *Client) FindAssignment(ctx context.Context, name, group string) (*gradebook.Assignment, error) {
	groupID, found, err := c.findGroup(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("find assignment %q: %w", name, err)
	}
	if !found {
		return nil, nil
	}

	path := fmt.Sprintf("/api/v1/courses/%s/assignment_groups/%d/assignments", url.PathEscape(c.config.CourseID), groupID)
	var dto *AssignmentDTO
	err = c.paginate(ctx, path, url.Values{}, func(body []byte) (int, error) {
		var page []AssignmentDTO
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, shared.WrapError("canvas", "Parse", shared.ErrCanvasInvalidResponse, "decode assignment list", err)
		}
		for i := range page {
			if strings.EqualFold(strings.TrimSpace(page[i].Name), strings.TrimSpace(name)) {
				dto = &page[i]
			}
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("find assignment %q: %w", name, err)
	}
	if dto == nil {
		return nil, nil
	}

	return dto.toDomain(gradebook.AssignmentDescriptor{Name: name, Group: group}), nil
}

// CreateAssignment creates the assignment, creating its group first when
// the group does not exist yet. Callers must have established absence via
// FindAssignment; this method performs no duplicate check of its own.
func (c *Client) CreateAssignment(ctx context.Context, desc gradebook.AssignmentDescriptor) (*gradebook.Assignment, error) {
	groupID, err := c.ensureGroup(ctx, desc.Group)
	if err != nil {
		return nil, fmt.Errorf("create assignment %q: %w", desc.Name, err)
	}

	params := assignmentParams{
		Name:               desc.Name,
		AssignmentGroupID:  groupID,
		PointsPossible:     desc.Points,
		Published:          true,
		SubmissionTypes:    []string{"none"},
		OmitFromFinalGrade: desc.OmitFromFinal,
	}
	if desc.DueAt != nil {
		params.DueAt = desc.DueAt.UTC().Format(time.RFC3339)
	}

	path := fmt.Sprintf("/api/v1/courses/%s/assignments", url.PathEscape(c.config.CourseID))
	var created AssignmentDTO
	if err := c.doRequest(ctx, http.MethodPost, path, createAssignmentRequest{Assignment: params}, &created); err != nil {
		return nil, fmt.Errorf("create assignment %q: %w", desc.Name, err)
	}

	c.log.Info("assignment created",
		logger.Assignment(desc.Name),
		logger.Group(desc.Group),
		logger.F("assignment_id", created.ID),
	)
	return created.toDomain(desc), nil
}

// WriteGrade upserts one student's grade. The Canvas submission update is
// idempotent: writing the same score twice leaves one grade.
func (c *Client) WriteGrade(ctx context.Context, assignmentID string, studentID roster.InstitutionID, score float64, note string) error {
	path := fmt.Sprintf("/api/v1/courses/%s/assignments/%s/submissions/sis_user_id:%s",
		url.PathEscape(c.config.CourseID),
		url.PathEscape(assignmentID),
		url.PathEscape(studentID.String()),
	)

	body := writeGradeRequest{
		Submission: submissionParams{
			PostedGrade: strconv.FormatFloat(score, 'f', -1, 64),
		},
	}
	if note != "" {
		body.Comment = &commentParams{TextComment: note}
	}

	var result SubmissionDTO
	if err := c.doRequest(ctx, http.MethodPut, path, body, &result); err != nil {
		return shared.WrapError("canvas", "WriteGrade", shared.ErrGradeWrite,
			fmt.Sprintf("student %s", studentID), err)
	}
	return nil
}

// ReadGrades lists the current grades on one assignment, keyed by SIS user
// ID. Submissions without a grade or without an SIS identity are skipped.
func (c *Client) ReadGrades(ctx context.Context, assignmentID string) (map[roster.InstitutionID]float64, error) {
	path := fmt.Sprintf("/api/v1/courses/%s/assignments/%s/submissions",
		url.PathEscape(c.config.CourseID),
		url.PathEscape(assignmentID),
	)

	grades := make(map[roster.InstitutionID]float64)
	params := url.Values{}
	params.Set("include[]", "user")
	err := c.paginate(ctx, path, params, func(body []byte) (int, error) {
		var page []SubmissionDTO
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, shared.WrapError("canvas", "Parse", shared.ErrCanvasInvalidResponse, "decode submission list", err)
		}
		for _, sub := range page {
			if sub.Score == nil || sub.User == nil || sub.User.SISUserID == "" {
				continue
			}
			grades[roster.InstitutionID(sub.User.SISUserID)] = *sub.Score
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("read grades for assignment %s: %w", assignmentID, err)
	}
	return grades, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP LOOKUP
// ══════════════════════════════════════════════════════════════════════════════

// findGroup resolves an assignment-group name to its Canvas ID.
func (c *Client) findGroup(ctx context.Context, name string) (int64, bool, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	c.groupMu.Lock()
	if id, ok := c.groups[key]; ok {
		c.groupMu.Unlock()
		return id, true, nil
	}
	c.groupMu.Unlock()

	path := fmt.Sprintf("/api/v1/courses/%s/assignment_groups", url.PathEscape(c.config.CourseID))
	var id int64
	found := false
	err := c.paginate(ctx, path, url.Values{}, func(body []byte) (int, error) {
		var page []AssignmentGroupDTO
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, shared.WrapError("canvas", "Parse", shared.ErrCanvasInvalidResponse, "decode group list", err)
		}
		for _, g := range page {
			if strings.EqualFold(strings.TrimSpace(g.Name), strings.TrimSpace(name)) {
				id = g.ID
				found = true
			}
		}
		return len(page), nil
	})
	if err != nil {
		return 0, false, err
	}

	if found {
		c.groupMu.Lock()
		c.groups[key] = id
		c.groupMu.Unlock()
	}
	return id, found, nil
}

// ensureGroup finds the group or creates it.
func (c *Client) ensureGroup(ctx context.Context, name string) (int64, error) {
	id, found, err := c.findGroup(ctx, name)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	path := fmt.Sprintf("/api/v1/courses/%s/assignment_groups", url.PathEscape(c.config.CourseID))
	var created AssignmentGroupDTO
	if err := c.doRequest(ctx, http.MethodPost, path, createGroupRequest{Name: name}, &created); err != nil {
		return 0, fmt.Errorf("create group %q: %w", name, err)
	}

	c.groupMu.Lock()
	c.groups[strings.ToLower(strings.TrimSpace(name))] = created.ID
	c.groupMu.Unlock()

	c.log.Info("assignment group created", logger.Group(name), logger.F("group_id", created.ID))
	return created.ID, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// paginate walks page=1..n of a listing until a short page. handle returns
// the number of items it saw.
func (c *Client) paginate(ctx context.Context, path string, params url.Values, handle func(body []byte) (int, error)) error {
	for page := 1; ; page++ {
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(c.config.PageSize))

		var raw json.RawMessage
		if err := c.doRequest(ctx, http.MethodGet, path+"?"+params.Encode(), nil, &raw); err != nil {
			return err
		}

		n, err := handle(raw)
		if err != nil {
			return err
		}
		if n < c.config.PageSize {
			return nil
		}
	}
}

// doRequest performs an HTTP request with rate limiting, circuit breaking,
// and bounded retries for transient failures. Access denials and client
// errors are returned immediately.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	if err := c.circuitBreaker.Allow(); err != nil {
		return shared.WrapError("canvas", "Request", shared.ErrExternalService, "circuit open", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.rateLimiter.Allow(ctx); err != nil {
			return shared.WrapError("canvas", "Request", shared.ErrRateLimited, "local rate limiter", err)
		}

		err := c.doSingleRequest(ctx, method, path, body, result)
		if err == nil {
			c.circuitBreaker.RecordSuccess()
			return nil
		}
		lastErr = err

		if !shared.IsRetryable(err) {
			c.circuitBreaker.RecordFailure()
			return err
		}

		var rateLimitErr *RateLimitError
		if errors.As(err, &rateLimitErr) {
			c.rateLimiter.RecordThrottle()
		}
	}

	c.circuitBreaker.RecordFailure()
	return fmt.Errorf("request failed after %d retries: %w", c.config.MaxRetries, lastErr)
}

// doSingleRequest performs one HTTP round trip and maps the status code
// to domain error kinds.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body any, result any) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return shared.WrapError("canvas", "Request", shared.ErrCanvasTimeout, "http timeout", err)
		}
		return shared.WrapError("canvas", "Request", shared.ErrCanvasUnavailable, "http request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return shared.WrapError("canvas", "Request", shared.ErrCanvasUnavailable, "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return shared.WrapError("canvas", "Request", shared.ErrRemoteAccess,
			fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode), apiError(respBody, resp.StatusCode))

	case resp.StatusCode == http.StatusNotFound:
		return shared.WrapError("canvas", "Request", shared.ErrNotFound,
			fmt.Sprintf("%s %s", method, path), apiError(respBody, resp.StatusCode))

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 10 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return shared.WrapError("canvas", "Request", shared.ErrCanvasRateLimited, "throttled",
			&RateLimitError{RetryAfter: retryAfter, Message: "canvas rate limit exceeded"})

	case resp.StatusCode >= 500:
		return shared.WrapError("canvas", "Request", shared.ErrCanvasUnavailable,
			fmt.Sprintf("status %d", resp.StatusCode), apiError(respBody, resp.StatusCode))

	case resp.StatusCode >= 400:
		return shared.WrapError("canvas", "Request", shared.ErrInvalidInput,
			fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode), apiError(respBody, resp.StatusCode))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return shared.WrapError("canvas", "Parse", shared.ErrCanvasInvalidResponse, "unmarshal response", err)
		}
	}
	return nil
}

// apiError decodes the Canvas error envelope, falling back to the status.
func apiError(body []byte, status int) error {
	var dto APIErrorDTO
	if err := json.Unmarshal(body, &dto); err == nil && (dto.Message != "" || len(dto.Errors) > 0) {
		return &dto
	}
	return fmt.Errorf("status %d", status)
}

// IsHealthy checks whether the course is reachable with the configured
// token.
func (c *Client) IsHealthy(ctx context.Context) bool {
	path := fmt.Sprintf("/api/v1/courses/%s", url.PathEscape(c.config.CourseID))
	var raw json.RawMessage
	return c.doSingleRequest(ctx, http.MethodGet, path, nil, &raw) == nil
}
