package models

import (
	"encoding/json"
	"strings"
)

// NamedField is the {"name": ...} shape Jira uses for status, priority and
// issue type references.
type NamedField struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ProjectRef references a Jira project by key.
type ProjectRef struct {
	ID  string `json:"id,omitempty"`
	Key string `json:"key,omitempty"`
}

// IssueFields holds the Jira fields the sync engine reads and writes.
// Custom fields (customfield_NNNNN) sit next to the standard fields in the
// Jira JSON, so they are collected into Custom on decode and flattened back
// on encode.
type IssueFields struct {
	Summary     string      `json:"summary,omitempty"`
	Description string      `json:"description,omitempty"`
	Status      *NamedField `json:"status,omitempty"`
	Priority    *NamedField `json:"priority,omitempty"`
	IssueType   *NamedField `json:"issuetype,omitempty"`
	Project     *ProjectRef `json:"project,omitempty"`
	Labels      []string    `json:"labels,omitempty"`

	Custom map[string]any `json:"-"`
}

type issueFieldsAlias IssueFields

// issueFieldsWire is the decode shape: description may be a plain string
// (API v2) or an Atlassian Document Format object (API v3).
type issueFieldsWire struct {
	issueFieldsAlias
	Description json.RawMessage `json:"description,omitempty"`
}

// UnmarshalJSON decodes standard fields and gathers custom fields.
func (f *IssueFields) UnmarshalJSON(data []byte) error {
	var wire issueFieldsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := IssueFields(wire.issueFieldsAlias)
	out.Description = decodeDescription(wire.Description)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if !strings.HasPrefix(k, "customfield_") {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		if out.Custom == nil {
			out.Custom = make(map[string]any)
		}
		out.Custom[k] = val
	}
	*f = out
	return nil
}

// MarshalJSON flattens Custom next to the standard fields.
func (f IssueFields) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(issueFieldsAlias(f))
	if err != nil {
		return nil, err
	}
	if len(f.Custom) == 0 {
		return typed, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(typed, &merged); err != nil {
		return nil, err
	}
	for k, v := range f.Custom {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// StatusName returns the status name or "" when absent.
func (f IssueFields) StatusName() string {
	if f.Status == nil {
		return ""
	}
	return f.Status.Name
}

// PriorityName returns the priority name or "" when absent.
func (f IssueFields) PriorityName() string {
	if f.Priority == nil {
		return ""
	}
	return f.Priority.Name
}

// Issue is a Jira issue as returned by the REST API.
type Issue struct {
	ID     string      `json:"id,omitempty"`
	Key    string      `json:"key"`
	Self   string      `json:"self,omitempty"`
	Fields IssueFields `json:"fields"`
}

// IssuePayload is the body of a create or edit request.
type IssuePayload struct {
	Fields IssueFields `json:"fields"`
}

// decodeDescription extracts plain text from either a JSON string or an
// Atlassian Document Format node tree.
func decodeDescription(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var node adfNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return ""
	}
	var b strings.Builder
	node.writeText(&b)
	return strings.TrimRight(b.String(), "\n")
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

func (n adfNode) writeText(b *strings.Builder) {
	if n.Type == "text" {
		b.WriteString(n.Text)
		return
	}
	if n.Type == "hardBreak" {
		b.WriteString("\n")
		return
	}
	for _, c := range n.Content {
		c.writeText(b)
	}
	if n.Type == "paragraph" || n.Type == "heading" || n.Type == "listItem" {
		b.WriteString("\n")
	}
}
