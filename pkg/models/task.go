package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TaskStatus is the TaskMaster lifecycle vocabulary.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Priority is the TaskMaster priority vocabulary.
type Priority string

const (
	PriorityHighest Priority = "highest"
	PriorityHigh    Priority = "high"
	PriorityMedium  Priority = "medium"
	PriorityLow     Priority = "low"
	PriorityLowest  Priority = "lowest"
)

// TaskType classifies a task. TaskMaster leaves it optional; an empty type
// maps to the tracker's default issue type.
type TaskType string

const (
	TaskTypeEpic     TaskType = "epic"
	TaskTypeStory    TaskType = "story"
	TaskTypeTask     TaskType = "task"
	TaskTypeBug      TaskType = "bug"
	TaskTypeResearch TaskType = "research"
)

// TaskID identifies a task within a tag. TaskMaster writes integer IDs for
// top-level tasks and string IDs for imported ones, so both are accepted and
// the original JSON form is kept when re-encoding.
type TaskID struct {
	value   string
	numeric bool
}

// NewTaskID returns a string-typed TaskID.
func NewTaskID(s string) TaskID {
	return TaskID{value: s}
}

// NewNumericTaskID returns an integer-typed TaskID.
func NewNumericTaskID(n int) TaskID {
	return TaskID{value: strconv.Itoa(n), numeric: true}
}

// String returns the ID as text. IDs are always compared by this form.
func (id TaskID) String() string { return id.value }

// IsZero reports whether the ID is unset.
func (id TaskID) IsZero() bool { return id.value == "" }

// MarshalJSON encodes numeric IDs as JSON numbers and everything else as strings.
func (id TaskID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON accepts a JSON string or a JSON number.
func (id *TaskID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = TaskID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding task id: %w", err)
		}
		*id = TaskID{value: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding task id %s: %w", data, err)
	}
	*id = TaskID{value: n.String(), numeric: true}
	return nil
}

// MarshalYAML stores the ID as plain text in YAML documents.
func (id TaskID) MarshalYAML() (interface{}, error) {
	return id.value, nil
}

// UnmarshalYAML reads a YAML scalar into the ID.
func (id *TaskID) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*id = TaskID{value: s}
	return nil
}

// Task is one TaskMaster task record. Only the fields the sync engine reads
// or rewrites are typed; everything else round-trips through Extra.
type Task struct {
	ID           TaskID     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Details      string     `json:"details,omitempty"`
	Status       TaskStatus `json:"status,omitempty"`
	Priority     Priority   `json:"priority,omitempty"`
	Type         TaskType   `json:"type,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Dependencies []TaskID   `json:"dependencies,omitempty"`
	Subtasks     []Task     `json:"subtasks,omitempty"`

	// Extra holds JSON fields this package does not model (testStrategy,
	// complexity, and so on) so that writing a task back loses nothing.
	Extra map[string]json.RawMessage `json:"-"`
}

// knownTaskFields are the JSON keys decoded into typed Task fields.
var knownTaskFields = map[string]bool{
	"id": true, "title": true, "description": true, "details": true,
	"status": true, "priority": true, "type": true, "tags": true,
	"dependencies": true, "subtasks": true,
}

type taskAlias Task

// UnmarshalJSON decodes the typed fields and keeps the rest in Extra.
func (t *Task) UnmarshalJSON(data []byte) error {
	var alias taskAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownTaskFields[k] {
			continue
		}
		if alias.Extra == nil {
			alias.Extra = make(map[string]json.RawMessage)
		}
		alias.Extra[k] = v
	}
	*t = Task(alias)
	return nil
}

// MarshalJSON writes the typed fields merged with Extra.
func (t Task) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(taskAlias(t))
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return typed, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(typed, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// HasTag reports whether the task carries the exact tag.
func (t *Task) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep-enough copy for the engine to mutate safely.
func (t Task) Clone() Task {
	c := t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.Dependencies != nil {
		c.Dependencies = append([]TaskID(nil), t.Dependencies...)
	}
	if t.Subtasks != nil {
		c.Subtasks = append([]Task(nil), t.Subtasks...)
	}
	if t.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(t.Extra))
		for k, v := range t.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// NormalizeStatus lower-cases a status string and trims whitespace.
func NormalizeStatus(s string) TaskStatus {
	return TaskStatus(strings.ToLower(strings.TrimSpace(s)))
}
