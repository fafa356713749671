package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"github.com/valter-silva-au/tmsync/internal/core"
	"github.com/valter-silva-au/tmsync/pkg/models"
)

const (
	defaultCacheSize = 1024
	maxResponseBytes = 4 << 20
	searchPageSize   = 10
)

// JiraClientOptions configures a JiraClient. Zero values select defaults.
type JiraClientOptions struct {
	HTTPClient *http.Client
	Retry      models.RetryConfig
	Breakers   *CircuitBreakerRegistry
	CacheSize  int
	Logger     *slog.Logger
}

// JiraClient talks to the Jira REST API. It implements core.Tracker.
//
// Transient failures (network errors, 429 and 5xx) are retried with
// exponential backoff behind a circuit breaker. Task id to issue key
// lookups are cached.
type JiraClient struct {
	cfg        models.JiraConfig
	apiBase    string
	httpClient *http.Client
	retry      models.RetryConfig
	breaker    *gobreaker.CircuitBreaker
	cache      *lru.Cache[string, string]
	logger     *slog.Logger
}

// NewJiraClient creates a client for the Jira site in cfg.
func NewJiraClient(cfg models.JiraConfig, opts JiraClientOptions) (*JiraClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, &core.ValidationError{Field: "jira.base_url", Reason: "must not be empty"}
	}
	if _, err := url.Parse(base); err != nil {
		return nil, &core.ValidationError{Field: "jira.base_url", Reason: err.Error()}
	}
	version := cfg.APIVersion
	if version == "" {
		version = "2"
	}
	cfg.APIVersion = version

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	retry := opts.Retry
	if retry.Multiplier == 0 {
		retry = DefaultRetryConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	breakers := opts.Breakers
	if breakers == nil {
		breakers = NewCircuitBreakerRegistry(models.CircuitBreakerConfig{}, logger)
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating issue cache: %w", err)
	}

	return &JiraClient{
		cfg:        cfg,
		apiBase:    base + "/rest/api/" + version,
		httpClient: httpClient,
		retry:      retry,
		breaker:    breakers.Get(core.TrackerService),
		cache:      cache,
		logger:     logger.With("component", "jira"),
	}, nil
}

// httpStatusError is a non-2xx answer from Jira.
type httpStatusError struct {
	Status  int
	Message string
}

func (e *httpStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Account is the Jira user the client authenticates as.
type Account struct {
	AccountID    string `json:"accountId"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

// Ping checks connectivity and credentials by fetching the current user.
func (c *JiraClient) Ping(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.do(ctx, http.MethodGet, "/myself", nil, nil, &acct); err != nil {
		return nil, c.classify("ping", "myself", err)
	}
	return &acct, nil
}

// GetIssue fetches one issue by key.
func (c *JiraClient) GetIssue(ctx context.Context, key string) (*models.Issue, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, &core.ValidationError{Field: "key", Reason: "issue key must not be empty"}
	}
	var issue models.Issue
	err := c.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(key), nil, nil, &issue)
	if err != nil {
		return nil, c.classify("get issue", key, err)
	}
	return &issue, nil
}

// FindIssueByTaskID returns the issue whose cross-reference field holds
// taskID, or a *core.NotFoundError.
func (c *JiraClient) FindIssueByTaskID(ctx context.Context, taskID string) (*models.Issue, error) {
	if key, ok := c.cache.Get(taskID); ok {
		issue, err := c.GetIssue(ctx, key)
		switch {
		case err == nil && c.ExtractCrossReference(issue) == taskID:
			return issue, nil
		case err == nil || core.IsNotFound(err):
			c.cache.Remove(taskID)
		default:
			return nil, err
		}
	}

	if c.cfg.CrossRefField == "" {
		return nil, &core.NotFoundError{Kind: "issue", ID: taskID}
	}

	query := url.Values{}
	query.Set("jql", crossRefJQL(c.cfg.CrossRefField, taskID))
	query.Set("maxResults", strconv.Itoa(searchPageSize))
	query.Set("fields", "*all")

	var result struct {
		Issues []models.Issue `json:"issues"`
	}
	if err := c.do(ctx, http.MethodGet, c.searchPath(), query, nil, &result); err != nil {
		return nil, c.classify("search", taskID, err)
	}
	for i := range result.Issues {
		issue := result.Issues[i]
		if c.ExtractCrossReference(&issue) == taskID {
			c.cache.Add(taskID, issue.Key)
			return &issue, nil
		}
	}
	return nil, &core.NotFoundError{Kind: "issue", ID: taskID}
}

// CreateIssue validates payload locally and creates the issue.
func (c *JiraClient) CreateIssue(ctx context.Context, payload models.IssuePayload) (*models.Issue, error) {
	if err := validateCreate(payload); err != nil {
		return nil, err
	}

	var created struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Self string `json:"self"`
	}
	if err := c.do(ctx, http.MethodPost, "/issue", nil, c.encodePayload(payload), &created); err != nil {
		return nil, c.classify("create issue", payload.Fields.Project.Key, err)
	}

	issue := &models.Issue{ID: created.ID, Key: created.Key, Self: created.Self, Fields: payload.Fields}
	if taskID := c.ExtractCrossReference(issue); taskID != "" {
		c.cache.Add(taskID, created.Key)
	}
	c.logger.Debug("created issue", "key", created.Key)
	return issue, nil
}

// UpdateIssue edits the fields present in payload.
func (c *JiraClient) UpdateIssue(ctx context.Context, key string, payload models.IssuePayload) error {
	if strings.TrimSpace(key) == "" {
		return &core.ValidationError{Field: "key", Reason: "issue key must not be empty"}
	}
	if err := c.do(ctx, http.MethodPut, "/issue/"+url.PathEscape(key), nil, c.encodePayload(payload), nil); err != nil {
		return c.classify("update issue", key, err)
	}
	return nil
}

type transition struct {
	ID   string             `json:"id"`
	Name string             `json:"name"`
	To   *models.NamedField `json:"to,omitempty"`
}

// TransitionIssueStatus moves the issue into statusName. An issue already
// in that status is left alone. A status no transition reaches is a
// *core.ValidationError.
func (c *JiraClient) TransitionIssueStatus(ctx context.Context, key, statusName string) error {
	if strings.TrimSpace(statusName) == "" {
		return &core.ValidationError{Field: "status", Reason: "status name must not be empty"}
	}
	issue, err := c.GetIssue(ctx, key)
	if err != nil {
		return err
	}
	if strings.EqualFold(issue.Fields.StatusName(), statusName) {
		return nil
	}

	path := "/issue/" + url.PathEscape(key) + "/transitions"
	var available struct {
		Transitions []transition `json:"transitions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &available); err != nil {
		return c.classify("list transitions", key, err)
	}

	match := matchTransition(available.Transitions, statusName)
	if match == nil {
		names := make([]string, 0, len(available.Transitions))
		for _, t := range available.Transitions {
			names = append(names, t.Name)
		}
		sort.Strings(names)
		return &core.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("no transition from %q to %q on %s (available: %s)", issue.Fields.StatusName(), statusName, key, strings.Join(names, ", ")),
		}
	}

	body := map[string]any{"transition": map[string]string{"id": match.ID}}
	if err := c.do(ctx, http.MethodPost, path, nil, body, nil); err != nil {
		return c.classify("transition issue", key, err)
	}
	return nil
}

// ExtractCrossReference reads the task id from the configured custom
// field. Text, number and select-option values are understood.
func (c *JiraClient) ExtractCrossReference(issue *models.Issue) string {
	if issue == nil || c.cfg.CrossRefField == "" {
		return ""
	}
	return crossRefValue(issue.Fields.Custom[c.cfg.CrossRefField])
}

func crossRefValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case map[string]any:
		return crossRefValue(val["value"])
	default:
		return ""
	}
}

func matchTransition(ts []transition, statusName string) *transition {
	for i := range ts {
		if ts[i].To != nil && strings.EqualFold(ts[i].To.Name, statusName) {
			return &ts[i]
		}
	}
	for i := range ts {
		if strings.EqualFold(ts[i].Name, statusName) {
			return &ts[i]
		}
	}
	return nil
}

func validateCreate(payload models.IssuePayload) error {
	f := payload.Fields
	if f.Project == nil || strings.TrimSpace(f.Project.Key) == "" {
		return &core.ValidationError{Field: "project", Reason: "project key is required"}
	}
	if strings.TrimSpace(f.Summary) == "" {
		return &core.ValidationError{Field: "summary", Reason: "summary is required"}
	}
	if f.IssueType == nil || strings.TrimSpace(f.IssueType.Name) == "" {
		return &core.ValidationError{Field: "issuetype", Reason: "issue type is required"}
	}
	return nil
}

// crossRefJQL builds the search clause for a custom field holding taskID.
func crossRefJQL(field, taskID string) string {
	ref := field
	if id, ok := strings.CutPrefix(field, "customfield_"); ok {
		ref = "cf[" + id + "]"
	}
	escaped := strings.ReplaceAll(strings.ReplaceAll(taskID, `\`, `\\`), `"`, `\"`)
	return fmt.Sprintf(`%s ~ "%s"`, ref, escaped)
}

func (c *JiraClient) searchPath() string {
	if c.cfg.APIVersion == "3" {
		return "/search/jql"
	}
	return "/search"
}

// encodePayload converts a plain-text description to a document node for
// API v3.
func (c *JiraClient) encodePayload(payload models.IssuePayload) any {
	if c.cfg.APIVersion != "3" || payload.Fields.Description == "" {
		return payload
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	var body map[string]map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return payload
	}
	body["fields"]["description"] = adfDocument(payload.Fields.Description)
	return body
}

func adfDocument(text string) map[string]any {
	var paragraphs []any
	for _, line := range strings.Split(text, "\n") {
		para := map[string]any{"type": "paragraph"}
		if line != "" {
			para["content"] = []any{map[string]any{"type": "text", "text": line}}
		}
		paragraphs = append(paragraphs, para)
	}
	return map[string]any{"type": "doc", "version": 1, "content": paragraphs}
}

// do performs one API call with retry. out may be nil.
func (c *JiraClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	endpoint := c.apiBase + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return doWithRetry(ctx, c.breaker, c.retry, func() error {
		var reader io.Reader
		if encoded != nil {
			reader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building request: %w", err))
		}
		req.SetBasicAuth(c.cfg.Email, c.cfg.APIToken)
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		c.logger.Debug("jira request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(bytes.TrimSpace(data)) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
			}
			return nil
		}

		statusErr := &httpStatusError{Status: resp.StatusCode, Message: jiraErrorMessage(data)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	})
}

// classify maps a transport failure onto the error taxonomy.
func (c *JiraClient) classify(op, id string, err error) error {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusBadRequest:
			return &core.ValidationError{Field: op, Reason: statusErr.Message}
		case http.StatusNotFound:
			return &core.NotFoundError{Kind: "issue", ID: id}
		}
		return &core.TransientServiceError{Service: core.TrackerService, Op: op, StatusCode: statusErr.Status, Err: err}
	}
	return &core.TransientServiceError{Service: core.TrackerService, Op: op, Err: err}
}

// maxErrorBody caps how much of a non-JSON error body is kept.
const maxErrorBody = 200

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := 0
	for i := range s {
		if i > max {
			break
		}
		cut = i
	}
	return s[:cut]
}

// jiraErrorMessage flattens Jira's {"errorMessages": [...], "errors": {...}}
// body into one line.
func jiraErrorMessage(data []byte) string {
	var body struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		msg := strings.TrimSpace(string(data))
		return truncateUTF8(msg, maxErrorBody)
	}
	parts := append([]string{}, body.ErrorMessages...)
	keys := make([]string, 0, len(body.Errors))
	for k := range body.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+body.Errors[k])
	}
	return strings.Join(parts, "; ")
}

var _ core.Tracker = (*JiraClient)(nil)
