package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/tmsync/internal/core"
	"github.com/valter-silva-au/tmsync/internal/observability"
	"github.com/valter-silva-au/tmsync/internal/storage"
)

// --- Fake implementations ---

type fakeSync struct {
	tasks   map[string]string // task id -> tag
	tags    map[string]core.TagSyncResult
	issues  map[string]bool
	pushed  []string
	pulled  []string
	cycleOK bool
}

func (f *fakeSync) SyncTask(_ context.Context, taskID string) (string, error) {
	tag, ok := f.tasks[taskID]
	if !ok {
		return "", &core.NotFoundError{Kind: "task", ID: taskID}
	}
	f.pushed = append(f.pushed, taskID)
	return tag, nil
}

func (f *fakeSync) SyncTag(_ context.Context, tag string) (core.TagSyncResult, error) {
	res, ok := f.tags[tag]
	if !ok {
		return core.TagSyncResult{Tag: tag}, &core.NotFoundError{Kind: "tag", ID: tag}
	}
	return res, nil
}

func (f *fakeSync) SyncIssue(_ context.Context, key string) error {
	if !f.issues[key] {
		return &core.NotFoundError{Kind: "issue", ID: key}
	}
	f.pulled = append(f.pulled, key)
	return nil
}

func (f *fakeSync) SyncAll(context.Context) ([]core.TagSyncResult, error) {
	if !f.cycleOK {
		return nil, errors.New("task file unreadable")
	}
	var out []core.TagSyncResult
	for _, r := range f.tags {
		out = append(out, r)
	}
	return out, nil
}

type fakeStatus struct {
	records []storage.SyncRecord
	last    storage.SyncStateFilter
}

func (f *fakeStatus) Filter(filter storage.SyncStateFilter) ([]storage.SyncRecord, error) {
	f.last = filter
	var out []storage.SyncRecord
	for _, r := range f.records {
		if filter.FailedOnly && !r.Failed() {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type fakeMetricsCalculator struct {
	metrics *observability.Metrics
	since   time.Time
}

func (f *fakeMetricsCalculator) Calculate(since time.Time) (*observability.Metrics, error) {
	f.since = since
	return f.metrics, nil
}

type fakeAlertEngine struct {
	alerts []observability.Alert
}

func (f *fakeAlertEngine) Evaluate() ([]observability.Alert, error) {
	return f.alerts, nil
}

func newFakeSync() *fakeSync {
	return &fakeSync{
		tasks:   map[string]string{"7": "feature"},
		tags:    map[string]core.TagSyncResult{"feature": {Tag: "feature", Processed: 3, Failed: 1}},
		issues:  map[string]bool{"ADAPT-1": true},
		cycleOK: true,
	}
}

// --- Test helpers ---

// callTool connects a client to the server over in-memory transports and
// calls a tool.
func callTool(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	ctx := context.Background()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)

	t1, t2 := gomcp.NewInMemoryTransports()
	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &gomcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("call tool %s: %v", toolName, err)
	}
	return result
}

func extractText(result *gomcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// decodeOutput reads the structured tool output into out.
func decodeOutput(t *testing.T, result *gomcp.CallToolResult, out any) {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	var data []byte
	if result.StructuredContent != nil {
		data, _ = json.Marshal(result.StructuredContent)
	} else {
		data = []byte(extractText(result))
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decoding tool output: %v (%s)", err, data)
	}
}

// --- Tests ---

func TestSyncTask(t *testing.T) {
	fs := newFakeSync()
	srv := NewServer(Deps{Sync: fs}, "test")

	var out syncTaskOutput
	decodeOutput(t, callTool(t, srv, "sync_task", map[string]any{"task_id": "7"}), &out)
	if out.Tag != "feature" || out.TaskID != "7" {
		t.Errorf("output = %+v", out)
	}
	if len(fs.pushed) != 1 || fs.pushed[0] != "7" {
		t.Errorf("pushed = %v", fs.pushed)
	}
}

func TestSyncTaskNotFound(t *testing.T) {
	srv := NewServer(Deps{Sync: newFakeSync()}, "test")
	result := callTool(t, srv, "sync_task", map[string]any{"task_id": "99"})
	if !result.IsError {
		t.Fatal("expected error result for unknown task")
	}
	if !strings.Contains(extractText(result), "task 99 not found") {
		t.Errorf("text = %q", extractText(result))
	}
}

func TestSyncTaskEmptyID(t *testing.T) {
	srv := NewServer(Deps{Sync: newFakeSync()}, "test")
	result := callTool(t, srv, "sync_task", map[string]any{"task_id": ""})
	if !result.IsError {
		t.Fatal("expected error result for empty task id")
	}
}

func TestSyncTag(t *testing.T) {
	srv := NewServer(Deps{Sync: newFakeSync()}, "test")

	var out tagResultOutput
	decodeOutput(t, callTool(t, srv, "sync_tag", map[string]any{"tag": "feature"}), &out)
	if out.Processed != 3 || out.Failed != 1 {
		t.Errorf("output = %+v", out)
	}

	if result := callTool(t, srv, "sync_tag", map[string]any{"tag": "missing"}); !result.IsError {
		t.Error("expected error for unknown tag")
	}
}

func TestSyncIssue(t *testing.T) {
	fs := newFakeSync()
	srv := NewServer(Deps{Sync: fs}, "test")

	var out syncIssueOutput
	decodeOutput(t, callTool(t, srv, "sync_issue", map[string]any{"issue_key": "ADAPT-1"}), &out)
	if out.IssueKey != "ADAPT-1" || len(fs.pulled) != 1 {
		t.Errorf("output = %+v, pulled = %v", out, fs.pulled)
	}

	if result := callTool(t, srv, "sync_issue", map[string]any{"issue_key": "ADAPT-2"}); !result.IsError {
		t.Error("expected error for unknown issue")
	}
}

func TestSyncAll(t *testing.T) {
	fs := newFakeSync()
	srv := NewServer(Deps{Sync: fs}, "test")

	var out syncAllOutput
	decodeOutput(t, callTool(t, srv, "sync_all", map[string]any{}), &out)
	if out.Count != 1 || out.Tags[0].Tag != "feature" {
		t.Errorf("output = %+v", out)
	}

	fs.cycleOK = false
	if result := callTool(t, srv, "sync_all", map[string]any{}); !result.IsError {
		t.Error("expected error when the cycle fails")
	}
}

func TestSyncToolsWithoutService(t *testing.T) {
	srv := NewServer(Deps{}, "test")
	for tool, args := range map[string]map[string]any{
		"sync_task":  {"task_id": "1"},
		"sync_tag":   {"tag": "x"},
		"sync_issue": {"issue_key": "A-1"},
		"sync_all":   {},
	} {
		if result := callTool(t, srv, tool, args); !result.IsError {
			t.Errorf("%s: expected error result without a sync service", tool)
		}
	}
}

func TestGetSyncStatus(t *testing.T) {
	status := &fakeStatus{records: []storage.SyncRecord{
		{TaskID: "1", Tag: "a", IssueKey: "P-1", Direction: core.DirectionPush, LastSynced: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{TaskID: "2", Tag: "a", Direction: core.DirectionPush, Failures: 2, LastError: "boom"},
	}}
	srv := NewServer(Deps{Status: status}, "test")

	var out getSyncStatusOutput
	decodeOutput(t, callTool(t, srv, "get_sync_status", map[string]any{"tag": "a", "failed_only": true}), &out)
	if out.Count != 1 || out.Records[0].TaskID != "2" || out.Records[0].LastError != "boom" {
		t.Errorf("output = %+v", out)
	}
	if status.last.Tag != "a" || !status.last.FailedOnly {
		t.Errorf("filter = %+v", status.last)
	}

	decodeOutput(t, callTool(t, srv, "get_sync_status", map[string]any{}), &out)
	if out.Count != 2 || out.Records[0].LastSynced != "2026-02-01T00:00:00Z" {
		t.Errorf("unfiltered output = %+v", out)
	}
}

func TestGetMetrics(t *testing.T) {
	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calc := &fakeMetricsCalculator{metrics: &observability.Metrics{
		TasksSynced:  3,
		TaskErrors:   1,
		Cycles:       2,
		ErrorsByTask: map[string]int{"4": 1},
		EventCount:   6,
		LastCycle:    &last,
	}}
	srv := NewServer(Deps{MetricsCalc: calc}, "test")

	var out metricsOutput
	decodeOutput(t, callTool(t, srv, "get_metrics", map[string]any{"since": "24h"}), &out)
	if out.TasksSynced != 3 || out.TaskErrors != 1 || out.SuccessRate != 75 {
		t.Errorf("output = %+v", out)
	}
	if out.LastCycle != "2026-03-01T10:00:00Z" {
		t.Errorf("last cycle = %q", out.LastCycle)
	}
	if d := time.Since(calc.since); d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("since = %v ago, want about 24h", d)
	}
}

func TestGetMetricsInvalidSince(t *testing.T) {
	calc := &fakeMetricsCalculator{metrics: &observability.Metrics{}}
	srv := NewServer(Deps{MetricsCalc: calc}, "test")
	if result := callTool(t, srv, "get_metrics", map[string]any{"since": "7w"}); !result.IsError {
		t.Error("expected error for unsupported suffix")
	}
}

func TestGetMetricsUnavailable(t *testing.T) {
	srv := NewServer(Deps{}, "test")
	if result := callTool(t, srv, "get_metrics", map[string]any{}); !result.IsError {
		t.Error("expected error without a metrics calculator")
	}
}

func TestGetAlerts(t *testing.T) {
	engine := &fakeAlertEngine{alerts: []observability.Alert{{
		ID:          "task-failing-4",
		Condition:   observability.ConditionTaskFailing,
		Severity:    observability.SeverityHigh,
		Message:     "task 4 failed to sync 3 times in a row",
		TriggeredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}}}
	srv := NewServer(Deps{AlertEngine: engine}, "test")

	var out getAlertsOutput
	decodeOutput(t, callTool(t, srv, "get_alerts", map[string]any{}), &out)
	if out.Count != 1 || out.Alerts[0].Severity != "high" || out.Alerts[0].TriggeredAt != "2026-03-01T10:00:00Z" {
		t.Errorf("output = %+v", out)
	}
}
