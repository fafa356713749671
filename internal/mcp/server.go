// Package mcp provides an MCP (Model Context Protocol) server that exposes
// tmsync operations as tools for AI coding assistants.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/tmsync/internal/core"
	"github.com/valter-silva-au/tmsync/internal/observability"
	"github.com/valter-silva-au/tmsync/internal/storage"
)

// StatusSource lists sync ledger records.
type StatusSource interface {
	Filter(filter storage.SyncStateFilter) ([]storage.SyncRecord, error)
}

// Deps are the services the tools call. Any of them may be nil, in which
// case the corresponding tools report an error result.
type Deps struct {
	Sync        core.SyncService
	Status      StatusSource
	MetricsCalc observability.MetricsCalculator
	AlertEngine observability.AlertEngine
}

// Server exposes sync operations as MCP tools.
type Server struct {
	server *gomcp.Server
	deps   Deps
}

// NewServer creates a new MCP server.
func NewServer(deps Deps, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{deps: deps}
	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "tmsync", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type syncTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"the TaskMaster task id to push to Jira"`
}

type syncTaskOutput struct {
	TaskID  string `json:"task_id"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

type syncTagInput struct {
	Tag string `json:"tag" jsonschema:"the TaskMaster tag whose syncable tasks are pushed"`
}

type tagResultOutput struct {
	Tag       string `json:"tag"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Skipped   bool   `json:"skipped"`
}

type syncIssueInput struct {
	IssueKey string `json:"issue_key" jsonschema:"the Jira issue key (e.g. ADAPT-12) to pull into its task"`
}

type syncIssueOutput struct {
	IssueKey string `json:"issue_key"`
	Message  string `json:"message"`
}

type syncAllInput struct{}

type syncAllOutput struct {
	Tags  []tagResultOutput `json:"tags"`
	Count int               `json:"count"`
}

type getSyncStatusInput struct {
	Tag        string `json:"tag,omitempty" jsonschema:"only records for this tag"`
	FailedOnly bool   `json:"failed_only,omitempty" jsonschema:"only records whose last attempt failed"`
}

type recordOutput struct {
	TaskID      string `json:"task_id"`
	Tag         string `json:"tag,omitempty"`
	IssueKey    string `json:"issue_key,omitempty"`
	Direction   string `json:"direction"`
	LastSynced  string `json:"last_synced,omitempty"`
	LastAttempt string `json:"last_attempt,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	Failures    int    `json:"failures"`
}

type getSyncStatusOutput struct {
	Records []recordOutput `json:"records"`
	Count   int            `json:"count"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	TagsSynced   int            `json:"tags_synced"`
	TagErrors    int            `json:"tag_errors"`
	TasksSynced  int            `json:"tasks_synced"`
	TaskErrors   int            `json:"task_errors"`
	IssuesSynced int            `json:"issues_synced"`
	IssueErrors  int            `json:"issue_errors"`
	Cycles       int            `json:"cycles"`
	SuccessRate  float64        `json:"success_rate"`
	ErrorsByTask map[string]int `json:"errors_by_task"`
	EventCount   int            `json:"event_count"`
	OldestEvent  string         `json:"oldest_event,omitempty"`
	NewestEvent  string         `json:"newest_event,omitempty"`
	LastCycle    string         `json:"last_cycle,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "sync_task",
		Description: "Push one TaskMaster task to Jira, creating or updating its cross-referenced issue.",
	}, s.handleSyncTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "sync_tag",
		Description: "Push every syncable task of a TaskMaster tag to Jira, grouped by project.",
	}, s.handleSyncTag)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "sync_issue",
		Description: "Pull a Jira issue's summary, description, status and priority into its TaskMaster task.",
	}, s.handleSyncIssue)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "sync_all",
		Description: "Run a full sync cycle over every tag in the task file.",
	}, s.handleSyncAll)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_sync_status",
		Description: "List the last sync outcome per task, optionally filtered by tag or failures.",
	}, s.handleGetSyncStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get sync counts and error breakdowns from the event log.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate sync alerts (repeatedly failing tasks, high error rate, stale sync).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleSyncTask(ctx context.Context, _ *gomcp.CallToolRequest, input syncTaskInput) (*gomcp.CallToolResult, syncTaskOutput, error) {
	if s.deps.Sync == nil {
		return errorResult("sync service not available"), syncTaskOutput{}, nil
	}
	if input.TaskID == "" {
		return errorResult("task_id is required"), syncTaskOutput{}, nil
	}

	tag, err := s.deps.Sync.SyncTask(ctx, input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("syncing task %s: %s", input.TaskID, err)), syncTaskOutput{}, nil
	}
	return nil, syncTaskOutput{
		TaskID:  input.TaskID,
		Tag:     tag,
		Message: fmt.Sprintf("task %s synced", input.TaskID),
	}, nil
}

func (s *Server) handleSyncTag(ctx context.Context, _ *gomcp.CallToolRequest, input syncTagInput) (*gomcp.CallToolResult, tagResultOutput, error) {
	if s.deps.Sync == nil {
		return errorResult("sync service not available"), tagResultOutput{}, nil
	}
	if input.Tag == "" {
		return errorResult("tag is required"), tagResultOutput{}, nil
	}

	res, err := s.deps.Sync.SyncTag(ctx, input.Tag)
	if err != nil {
		return errorResult(fmt.Sprintf("syncing tag %s: %s", input.Tag, err)), tagResultOutput{}, nil
	}
	return nil, tagResultToOutput(res), nil
}

func (s *Server) handleSyncIssue(ctx context.Context, _ *gomcp.CallToolRequest, input syncIssueInput) (*gomcp.CallToolResult, syncIssueOutput, error) {
	if s.deps.Sync == nil {
		return errorResult("sync service not available"), syncIssueOutput{}, nil
	}
	if input.IssueKey == "" {
		return errorResult("issue_key is required"), syncIssueOutput{}, nil
	}

	if err := s.deps.Sync.SyncIssue(ctx, input.IssueKey); err != nil {
		return errorResult(fmt.Sprintf("syncing issue %s: %s", input.IssueKey, err)), syncIssueOutput{}, nil
	}
	return nil, syncIssueOutput{
		IssueKey: input.IssueKey,
		Message:  fmt.Sprintf("issue %s synced", input.IssueKey),
	}, nil
}

func (s *Server) handleSyncAll(ctx context.Context, _ *gomcp.CallToolRequest, _ syncAllInput) (*gomcp.CallToolResult, syncAllOutput, error) {
	if s.deps.Sync == nil {
		return errorResult("sync service not available"), syncAllOutput{}, nil
	}

	results, err := s.deps.Sync.SyncAll(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("running sync cycle: %s", err)), syncAllOutput{}, nil
	}
	out := syncAllOutput{Tags: make([]tagResultOutput, len(results)), Count: len(results)}
	for i, r := range results {
		out.Tags[i] = tagResultToOutput(r)
	}
	return nil, out, nil
}

func (s *Server) handleGetSyncStatus(_ context.Context, _ *gomcp.CallToolRequest, input getSyncStatusInput) (*gomcp.CallToolResult, getSyncStatusOutput, error) {
	if s.deps.Status == nil {
		return errorResult("sync ledger not available"), getSyncStatusOutput{}, nil
	}

	records, err := s.deps.Status.Filter(storage.SyncStateFilter{Tag: input.Tag, FailedOnly: input.FailedOnly})
	if err != nil {
		return errorResult(fmt.Sprintf("reading sync ledger: %s", err)), getSyncStatusOutput{}, nil
	}
	out := getSyncStatusOutput{Records: make([]recordOutput, len(records)), Count: len(records)}
	for i, r := range records {
		out.Records[i] = recordToOutput(r)
	}
	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.deps.MetricsCalc == nil {
		return errorResult("metrics calculator not available"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}
	since, err := observability.ParseSince(sinceStr, time.Now().UTC())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	m, err := s.deps.MetricsCalc.Calculate(since)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		TagsSynced:   m.TagsSynced,
		TagErrors:    m.TagErrors,
		TasksSynced:  m.TasksSynced,
		TaskErrors:   m.TaskErrors,
		IssuesSynced: m.IssuesSynced,
		IssueErrors:  m.IssueErrors,
		Cycles:       m.Cycles,
		SuccessRate:  m.SuccessRate(),
		ErrorsByTask: m.ErrorsByTask,
		EventCount:   m.EventCount,
		OldestEvent:  formatTime(m.OldestEvent),
		NewestEvent:  formatTime(m.NewestEvent),
		LastCycle:    formatTime(m.LastCycle),
	}
	if out.ErrorsByTask == nil {
		out.ErrorsByTask = map[string]int{}
	}
	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.deps.AlertEngine == nil {
		return errorResult("alert engine not available"), getAlertsOutput{}, nil
	}

	alerts, err := s.deps.AlertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{Alerts: make([]alertOutput, len(alerts)), Count: len(alerts)}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

// --- Helpers ---

func tagResultToOutput(r core.TagSyncResult) tagResultOutput {
	return tagResultOutput{Tag: r.Tag, Processed: r.Processed, Failed: r.Failed, Skipped: r.Skipped}
}

func recordToOutput(r storage.SyncRecord) recordOutput {
	out := recordOutput{
		TaskID:    r.TaskID,
		Tag:       r.Tag,
		IssueKey:  r.IssueKey,
		Direction: r.Direction,
		LastError: r.LastError,
		Failures:  r.Failures,
	}
	if !r.LastSynced.IsZero() {
		out.LastSynced = r.LastSynced.Format(time.RFC3339)
	}
	if !r.LastAttempt.IsZero() {
		out.LastAttempt = r.LastAttempt.Format(time.RFC3339)
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{ErrorsByTask: make(map[string]int)}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}
