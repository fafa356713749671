package core

import (
	"strings"

	"github.com/valter-silva-au/tmsync/pkg/models"
)

// Default tag conventions.
const (
	DefaultProjectKey       = "ADAPT"
	DefaultProjectTagPrefix = "cc-dev:"
)

// DefaultSyncTagPrefixes are the prefixes that make a task syncable.
var DefaultSyncTagPrefixes = []string{"cc-dev:", "atlassian:", "jira:"}

// ProjectGroup is a set of tasks routed to the same Jira project.
type ProjectGroup struct {
	Key   string
	Tasks []models.Task
}

// TagClassifier decides sync eligibility and project routing from task tags.
type TagClassifier struct {
	prefixes         []string
	projectTagPrefix string
	defaultProject   string
}

// NewTagClassifier creates a classifier. Empty arguments select the defaults.
func NewTagClassifier(prefixes []string, projectTagPrefix, defaultProject string) *TagClassifier {
	if len(prefixes) == 0 {
		prefixes = DefaultSyncTagPrefixes
	}
	if projectTagPrefix == "" {
		projectTagPrefix = DefaultProjectTagPrefix
	}
	if defaultProject == "" {
		defaultProject = DefaultProjectKey
	}
	return &TagClassifier{
		prefixes:         append([]string(nil), prefixes...),
		projectTagPrefix: projectTagPrefix,
		defaultProject:   strings.ToUpper(defaultProject),
	}
}

// IsSyncable reports whether the task carries at least one tag with a sync
// prefix. A nil task or a task without tags is not syncable.
func (c *TagClassifier) IsSyncable(task *models.Task) bool {
	if task == nil || len(task.Tags) == 0 {
		return false
	}
	for _, tag := range task.Tags {
		for _, p := range c.prefixes {
			if strings.HasPrefix(tag, p) {
				return true
			}
		}
	}
	return false
}

// ProjectKeyOf returns the upper-cased second colon segment of the first
// project tag, or the default project key.
func (c *TagClassifier) ProjectKeyOf(task *models.Task) string {
	if task == nil {
		return c.defaultProject
	}
	for _, tag := range task.Tags {
		if !strings.HasPrefix(tag, c.projectTagPrefix) {
			continue
		}
		// The first project tag decides, even when its key segment is empty.
		parts := strings.Split(tag, ":")
		if len(parts) >= 2 && parts[1] != "" {
			return strings.ToUpper(parts[1])
		}
		return c.defaultProject
	}
	return c.defaultProject
}

// ProjectTag returns the tag that routes a task to projectKey. The key is
// written in lower case, matching TaskMaster tag conventions; ProjectKeyOf
// upper-cases it again.
func (c *TagClassifier) ProjectTag(projectKey string) string {
	return c.projectTagPrefix + strings.ToLower(projectKey)
}

// EnsureProjectTag appends the project tag for projectKey unless the task
// already routes there. It reports whether the tag set changed.
func (c *TagClassifier) EnsureProjectTag(task *models.Task, projectKey string) bool {
	for _, tag := range task.Tags {
		if strings.HasPrefix(tag, c.projectTagPrefix) && strings.EqualFold(strings.TrimPrefix(tag, c.projectTagPrefix), projectKey) {
			return false
		}
	}
	task.Tags = append(task.Tags, c.ProjectTag(projectKey))
	return true
}

// GroupByProject partitions tasks by project key. Groups appear in the
// order their key was first seen; tasks keep their input order.
func (c *TagClassifier) GroupByProject(tasks []models.Task) []ProjectGroup {
	var groups []ProjectGroup
	index := make(map[string]int)
	for _, t := range tasks {
		key := c.ProjectKeyOf(&t)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, ProjectGroup{Key: key})
		}
		groups[i].Tasks = append(groups[i].Tasks, t)
	}
	return groups
}

// FilterSyncable returns the syncable subset of tasks in input order.
func (c *TagClassifier) FilterSyncable(tasks []models.Task) []models.Task {
	var out []models.Task
	for i := range tasks {
		if c.IsSyncable(&tasks[i]) {
			out = append(out, tasks[i])
		}
	}
	return out
}
