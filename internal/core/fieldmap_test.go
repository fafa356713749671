package core

import (
	"encoding/json"
	"testing"

	"github.com/valter-silva-au/tmsync/pkg/models"
)

func TestFieldMapper_DefaultTables(t *testing.T) {
	m := NewFieldMapper(models.MappingConfig{}, testCrossRef)

	issueTypes := map[models.TaskType]string{
		"epic": "Epic", "Story": "Story", "TASK": "Task", "bug": "Bug", "research": "Research",
		"": "Task", "chore": "Task",
	}
	for in, want := range issueTypes {
		if got := m.IssueType(in); got != want {
			t.Errorf("IssueType(%q) = %q, want %q", in, got, want)
		}
	}

	priorities := map[models.Priority]string{
		"highest": "Highest", "high": "High", "medium": "Medium", "low": "Low", "lowest": "Lowest",
		"": "Medium", "urgent": "Medium",
	}
	for in, want := range priorities {
		if got := m.Priority(in); got != want {
			t.Errorf("Priority(%q) = %q, want %q", in, got, want)
		}
	}

	toTracker := map[models.TaskStatus]string{
		"pending": "To Do", "in_progress": "In Progress", "in-progress": "In Progress",
		"review": "Review", "done": "Done", "completed": "Done", "cancelled": "Done",
		"deferred": "To Do",
	}
	for in, want := range toTracker {
		if got := m.TaskStatusToTracker(in); got != want {
			t.Errorf("TaskStatusToTracker(%q) = %q, want %q", in, got, want)
		}
	}

	fromTracker := map[string]models.TaskStatus{
		"To Do": "pending", "In Progress": "in_progress", "Review": "review",
		"Done": "completed", "Closed": "completed", "Blocked": "pending", "": "pending",
	}
	for in, want := range fromTracker {
		if got := m.TrackerStatusToTask(in); got != want {
			t.Errorf("TrackerStatusToTask(%q) = %q, want %q", in, got, want)
		}
	}

	prioFromTracker := map[string]models.Priority{
		"Highest": "highest", "High": "high", "Medium": "medium", "Low": "low", "Lowest": "lowest",
		"Critical": "medium",
	}
	for in, want := range prioFromTracker {
		if got := m.TrackerPriorityToTask(in); got != want {
			t.Errorf("TrackerPriorityToTask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFieldMapper_ConfigOverrides(t *testing.T) {
	m := NewFieldMapper(models.MappingConfig{
		IssueTypes:        map[string]string{"Chore": "Sub-task"},
		StatusToTracker:   map[string]string{"review": "In Review"},
		StatusFromTracker: map[string]string{"in review": "review"},
	}, testCrossRef)

	if got := m.IssueType("chore"); got != "Sub-task" {
		t.Errorf("IssueType(chore) = %q, want Sub-task", got)
	}
	if got := m.TaskStatusToTracker("review"); got != "In Review" {
		t.Errorf("TaskStatusToTracker(review) = %q, want In Review", got)
	}
	if got := m.TrackerStatusToTask("In Review"); got != models.StatusReview {
		t.Errorf("TrackerStatusToTask(In Review) = %q, want review", got)
	}
	// Built-in entries survive the overlay.
	if got := m.IssueType("bug"); got != "Bug" {
		t.Errorf("IssueType(bug) = %q, want Bug", got)
	}
}

func TestBuildCreatePayload_FallbackChains(t *testing.T) {
	m := NewFieldMapper(models.MappingConfig{}, testCrossRef)

	tk := models.Task{
		ID:      models.NewNumericTaskID(12),
		Details: "implementation notes",
		Type:    models.TaskTypeBug,
		Extra:   map[string]json.RawMessage{"summary": json.RawMessage(`"Legacy summary"`)},
	}
	p := m.BuildCreatePayload(&tk, "OPS")

	if p.Fields.Summary != "Legacy summary" {
		t.Errorf("summary = %q, want legacy fallback", p.Fields.Summary)
	}
	if p.Fields.Description != "implementation notes" {
		t.Errorf("description = %q, want details fallback", p.Fields.Description)
	}
	if p.Fields.IssueType.Name != "Bug" {
		t.Errorf("issue type = %q, want Bug", p.Fields.IssueType.Name)
	}
	if p.Fields.Project.Key != "OPS" {
		t.Errorf("project = %q, want OPS", p.Fields.Project.Key)
	}
	if p.Fields.Custom[testCrossRef] != "12" {
		t.Errorf("cross reference = %v, want 12", p.Fields.Custom[testCrossRef])
	}
	if len(p.Fields.Labels) != 2 || p.Fields.Labels[0] != "taskmaster" || p.Fields.Labels[1] != "taskmaster-12" {
		t.Errorf("labels = %v", p.Fields.Labels)
	}

	empty := models.Task{ID: models.NewTaskID("x")}
	if got := m.BuildCreatePayload(&empty, "OPS").Fields.Description; got != "" {
		t.Errorf("description = %q, want empty", got)
	}
}

func TestBuildCreatePayload_NoCrossRefField(t *testing.T) {
	m := NewFieldMapper(models.MappingConfig{}, "")
	tk := newTask("1", "a", "", "")
	if p := m.BuildCreatePayload(&tk, "P"); p.Fields.Custom != nil {
		t.Errorf("custom = %v, want nil", p.Fields.Custom)
	}
}

func TestBuildUpdatePayload_OnlyPresentFields(t *testing.T) {
	m := NewFieldMapper(models.MappingConfig{}, testCrossRef)

	tk := models.Task{ID: models.NewTaskID("1"), Title: "New", Status: models.StatusCompleted}
	p := m.BuildUpdatePayload(&tk)
	if p.Fields.Summary != "New" {
		t.Errorf("summary = %q", p.Fields.Summary)
	}
	if p.Fields.Description != "" || p.Fields.Priority != nil {
		t.Errorf("unexpected fields in %+v", p.Fields)
	}
	if p.Fields.Status != nil || p.Fields.Project != nil || p.Fields.IssueType != nil {
		t.Error("update payload must carry only summary, description and priority")
	}

	none := models.Task{ID: models.NewTaskID("2")}
	if !payloadEmpty(m.BuildUpdatePayload(&none)) {
		t.Error("expected empty payload for a task with no values")
	}
}

func TestApplyIssue_OverwritesOnlyDifferingPresentValues(t *testing.T) {
	m := NewFieldMapper(models.MappingConfig{}, testCrossRef)
	tk := models.Task{
		ID:          models.NewTaskID("1"),
		Title:       "Keep",
		Description: "Keep too",
		Status:      models.StatusPending,
		Priority:    models.PriorityLow,
	}

	changed := m.ApplyIssue(&tk, &models.Issue{Fields: models.IssueFields{
		Summary:  "Keep",
		Status:   &models.NamedField{Name: "Done"},
		Priority: &models.NamedField{Name: ""},
	}})

	if len(changed) != 1 || changed[0] != "status" {
		t.Errorf("changed = %v, want [status]", changed)
	}
	if tk.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", tk.Status)
	}
	if tk.Description != "Keep too" || tk.Priority != models.PriorityLow {
		t.Errorf("untouched fields changed: %+v", tk)
	}
}
