package core

import (
	"testing"

	"github.com/valter-silva-au/tmsync/pkg/models"
)

func TestIsSyncable(t *testing.T) {
	c := NewTagClassifier(nil, "", "")

	tests := []struct {
		name string
		task *models.Task
		want bool
	}{
		{"nil task", nil, false},
		{"nil tags", &models.Task{}, false},
		{"empty tags", &models.Task{Tags: []string{}}, false},
		{"unrelated tags", &models.Task{Tags: []string{"frontend", "cc-devx"}}, false},
		{"cc-dev prefix", &models.Task{Tags: []string{"cc-dev:proj"}}, true},
		{"atlassian prefix", &models.Task{Tags: []string{"x", "atlassian:confluence"}}, true},
		{"jira prefix", &models.Task{Tags: []string{"jira:"}}, true},
		{"prefix must lead", &models.Task{Tags: []string{"my-jira:x"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsSyncable(tt.task); got != tt.want {
				t.Errorf("IsSyncable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProjectKeyOf(t *testing.T) {
	c := NewTagClassifier(nil, "", "")

	tests := []struct {
		tags []string
		want string
	}{
		{nil, "ADAPT"},
		{[]string{"jira:x"}, "ADAPT"},
		{[]string{"cc-dev:proj"}, "PROJ"},
		{[]string{"cc-dev:alpha:extra", "cc-dev:beta"}, "ALPHA"},
		{[]string{"cc-dev:", "cc-dev:beta"}, "ADAPT"},
	}
	for _, tt := range tests {
		tk := models.Task{Tags: tt.tags}
		if got := c.ProjectKeyOf(&tk); got != tt.want {
			t.Errorf("ProjectKeyOf(%v) = %q, want %q", tt.tags, got, tt.want)
		}
	}
	if got := c.ProjectKeyOf(nil); got != "ADAPT" {
		t.Errorf("ProjectKeyOf(nil) = %q, want ADAPT", got)
	}
}

func TestTagClassifier_CustomConfig(t *testing.T) {
	c := NewTagClassifier([]string{"sync:"}, "proj:", "ops")

	tk := models.Task{Tags: []string{"cc-dev:ignored"}}
	if c.IsSyncable(&tk) {
		t.Error("cc-dev: should not be syncable with custom prefixes")
	}
	tk.Tags = []string{"sync:yes"}
	if !c.IsSyncable(&tk) {
		t.Error("sync: should be syncable")
	}
	if got := c.ProjectKeyOf(&tk); got != "OPS" {
		t.Errorf("default project = %q, want OPS", got)
	}
	if got := c.ProjectTag("WEB"); got != "proj:web" {
		t.Errorf("ProjectTag = %q, want proj:web", got)
	}
}

func TestEnsureProjectTag(t *testing.T) {
	c := NewTagClassifier(nil, "", "")

	tk := models.Task{Tags: []string{"jira:x"}}
	if !c.EnsureProjectTag(&tk, "ADAPT") {
		t.Fatal("expected tag to be added")
	}
	if !tk.HasTag("cc-dev:adapt") {
		t.Errorf("tags = %v", tk.Tags)
	}
	if c.EnsureProjectTag(&tk, "adapt") {
		t.Error("second call should not add a duplicate")
	}
	if len(tk.Tags) != 2 {
		t.Errorf("tags = %v, want 2 entries", tk.Tags)
	}
}

func TestGroupByProject_FirstSeenOrder(t *testing.T) {
	c := NewTagClassifier(nil, "", "")
	tasks := []models.Task{
		newTask("1", "", "", "", "cc-dev:b"),
		newTask("2", "", "", "", "jira:x"),
		newTask("3", "", "", "", "cc-dev:a"),
		newTask("4", "", "", "", "cc-dev:b"),
	}

	groups := c.GroupByProject(tasks)
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	wantKeys := []string{"B", "ADAPT", "A"}
	for i, g := range groups {
		if g.Key != wantKeys[i] {
			t.Errorf("group %d key = %q, want %q", i, g.Key, wantKeys[i])
		}
	}
	if ids := []string{groups[0].Tasks[0].ID.String(), groups[0].Tasks[1].ID.String()}; ids[0] != "1" || ids[1] != "4" {
		t.Errorf("group B tasks = %v, want [1 4]", ids)
	}
}
