package core

import (
	"encoding/json"
	"strings"

	"github.com/valter-silva-au/tmsync/pkg/models"
)

// Tracker-side defaults used when a value has no mapping.
const (
	DefaultIssueType     = "Task"
	DefaultTrackerPrio   = "Medium"
	DefaultTrackerStatus = "To Do"
)

// syncLabel is attached to every issue created by the engine.
const syncLabel = "taskmaster"

// Built-in mapping tables. Config entries are merged on top of these.
var (
	defaultIssueTypes = map[string]string{
		"epic":     "Epic",
		"story":    "Story",
		"task":     "Task",
		"bug":      "Bug",
		"research": "Research",
	}

	defaultPriorities = map[string]string{
		"highest": "Highest",
		"high":    "High",
		"medium":  "Medium",
		"low":     "Low",
		"lowest":  "Lowest",
	}

	defaultStatusToTracker = map[string]string{
		"pending":     "To Do",
		"in_progress": "In Progress",
		"in-progress": "In Progress",
		"review":      "Review",
		"done":        "Done",
		"completed":   "Done",
		"cancelled":   "Done",
	}

	defaultStatusFromTracker = map[string]string{
		"To Do":       string(models.StatusPending),
		"In Progress": string(models.StatusInProgress),
		"Review":      string(models.StatusReview),
		"Done":        string(models.StatusCompleted),
		"Closed":      string(models.StatusCompleted),
	}

	defaultPriorityFromTracker = map[string]string{
		"Highest": string(models.PriorityHighest),
		"High":    string(models.PriorityHigh),
		"Medium":  string(models.PriorityMedium),
		"Low":     string(models.PriorityLow),
		"Lowest":  string(models.PriorityLowest),
	}
)

// FieldMapper translates between TaskMaster tasks and Jira issues. All
// lookups are total: unknown input falls back to a fixed default.
//
// Task-side keys are matched case-insensitively. Tracker-side keys are
// matched exactly first, then case-insensitively.
type FieldMapper struct {
	issueTypes          map[string]string
	priorities          map[string]string
	statusToTracker     map[string]string
	statusFromTracker   map[string]string
	priorityFromTracker map[string]string
	crossRefField       string
}

// NewFieldMapper builds a mapper from the built-in tables overlaid with cfg.
// crossRefField is the Jira custom field that stores the task id; it may be
// empty, in which case payloads carry no cross-reference.
func NewFieldMapper(cfg models.MappingConfig, crossRefField string) *FieldMapper {
	return &FieldMapper{
		issueTypes:          mergeTable(defaultIssueTypes, cfg.IssueTypes, true),
		priorities:          mergeTable(defaultPriorities, cfg.Priorities, true),
		statusToTracker:     mergeTable(defaultStatusToTracker, cfg.StatusToTracker, true),
		statusFromTracker:   mergeTable(defaultStatusFromTracker, cfg.StatusFromTracker, false),
		priorityFromTracker: mergeTable(defaultPriorityFromTracker, cfg.PriorityFromTracker, false),
		crossRefField:       crossRefField,
	}
}

func mergeTable(base, overrides map[string]string, lowerKeys bool) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		if lowerKeys {
			k = strings.ToLower(k)
		}
		out[k] = v
	}
	return out
}

// CrossRefField returns the configured cross-reference custom field id.
func (m *FieldMapper) CrossRefField() string { return m.crossRefField }

// IssueType maps a task type to a Jira issue type name.
func (m *FieldMapper) IssueType(t models.TaskType) string {
	if v, ok := m.issueTypes[strings.ToLower(strings.TrimSpace(string(t)))]; ok {
		return v
	}
	return DefaultIssueType
}

// Priority maps a task priority to a Jira priority name.
func (m *FieldMapper) Priority(p models.Priority) string {
	if v, ok := m.priorities[strings.ToLower(strings.TrimSpace(string(p)))]; ok {
		return v
	}
	return DefaultTrackerPrio
}

// TaskStatusToTracker maps a task status to a Jira status name.
func (m *FieldMapper) TaskStatusToTracker(s models.TaskStatus) string {
	if v, ok := m.statusToTracker[string(models.NormalizeStatus(string(s)))]; ok {
		return v
	}
	return DefaultTrackerStatus
}

// TrackerStatusToTask maps a Jira status name to a task status.
// Cancelled tasks map to Done on the way out and come back as completed;
// that loss is inherent to the tracker's vocabulary.
func (m *FieldMapper) TrackerStatusToTask(name string) models.TaskStatus {
	if v, ok := lookupTracker(m.statusFromTracker, name); ok {
		return models.TaskStatus(v)
	}
	return models.StatusPending
}

// TrackerPriorityToTask maps a Jira priority name to a task priority.
func (m *FieldMapper) TrackerPriorityToTask(name string) models.Priority {
	if v, ok := lookupTracker(m.priorityFromTracker, name); ok {
		return models.Priority(v)
	}
	return models.PriorityMedium
}

func lookupTracker(table map[string]string, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if v, ok := table[name]; ok {
		return v, true
	}
	for k, v := range table {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// summaryOf returns the task title, falling back to a legacy "summary" field.
func summaryOf(task *models.Task) string {
	if task.Title != "" {
		return task.Title
	}
	if raw, ok := task.Extra["summary"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	return ""
}

// descriptionOf returns the description, falling back to details.
func descriptionOf(task *models.Task) string {
	if task.Description != "" {
		return task.Description
	}
	return task.Details
}

// BuildCreatePayload produces the full issue-creation payload for a task.
func (m *FieldMapper) BuildCreatePayload(task *models.Task, projectKey string) models.IssuePayload {
	fields := models.IssueFields{
		Project:     &models.ProjectRef{Key: projectKey},
		Summary:     summaryOf(task),
		Description: descriptionOf(task),
		IssueType:   &models.NamedField{Name: m.IssueType(task.Type)},
		Priority:    &models.NamedField{Name: m.Priority(task.Priority)},
		Labels:      []string{syncLabel, syncLabel + "-" + task.ID.String()},
	}
	if m.crossRefField != "" {
		fields.Custom = map[string]any{m.crossRefField: task.ID.String()}
	}
	return models.IssuePayload{Fields: fields}
}

// BuildUpdatePayload produces a partial payload with only the fields whose
// source value is non-empty. Status is never included; it moves through a
// separate transition call.
func (m *FieldMapper) BuildUpdatePayload(task *models.Task) models.IssuePayload {
	var fields models.IssueFields
	if s := summaryOf(task); s != "" {
		fields.Summary = s
	}
	if d := descriptionOf(task); d != "" {
		fields.Description = d
	}
	if task.Priority != "" {
		fields.Priority = &models.NamedField{Name: m.Priority(task.Priority)}
	}
	return models.IssuePayload{Fields: fields}
}

// ApplyIssue overwrites task fields from issue where the tracker value is
// present and differs. It returns the names of the task fields it changed.
func (m *FieldMapper) ApplyIssue(task *models.Task, issue *models.Issue) []string {
	var changed []string
	f := issue.Fields

	if f.Summary != "" && f.Summary != task.Title {
		task.Title = f.Summary
		changed = append(changed, "title")
	}
	if f.Description != "" && f.Description != task.Description {
		task.Description = f.Description
		changed = append(changed, "description")
	}
	if name := f.StatusName(); name != "" {
		if s := m.TrackerStatusToTask(name); s != task.Status {
			task.Status = s
			changed = append(changed, "status")
		}
	}
	if name := f.PriorityName(); name != "" {
		if p := m.TrackerPriorityToTask(name); p != task.Priority {
			task.Priority = p
			changed = append(changed, "priority")
		}
	}
	return changed
}
