package core

import (
	"context"

	"github.com/valter-silva-au/tmsync/pkg/models"
)

// ReservedMetadataKey is the top-level entry of the task file that holds
// file metadata rather than a tag.
const ReservedMetadataKey = "metadata"

// TrackerService is the rate-limiter service name for tracker calls.
const TrackerService = "jira"

// Tracker is the issue-tracker capability the engine needs.
// Defining it here keeps core independent of the integration package.
type Tracker interface {
	// FindIssueByTaskID returns the issue cross-referenced to taskID, or a
	// *NotFoundError when there is none.
	FindIssueByTaskID(ctx context.Context, taskID string) (*models.Issue, error)
	// CreateIssue fails with *ValidationError if required fields are missing.
	CreateIssue(ctx context.Context, payload models.IssuePayload) (*models.Issue, error)
	UpdateIssue(ctx context.Context, key string, payload models.IssuePayload) error
	TransitionIssueStatus(ctx context.Context, key, statusName string) error
	// ExtractCrossReference returns the task id stored on the issue, or "".
	ExtractCrossReference(issue *models.Issue) string
}

// TaskStore is the task-file capability the engine needs.
type TaskStore interface {
	// ReadAllGroupedByTag returns every tag's tasks in file order.
	ReadAllGroupedByTag(ctx context.Context) (map[string][]models.Task, error)
	// FindTaskByID returns the task and the tag holding it, or a
	// *NotFoundError.
	FindTaskByID(ctx context.Context, taskID string) (*models.Task, string, error)
	// WriteTask replaces the matching task inside tag and must preserve
	// every sibling task and tag.
	WriteTask(ctx context.Context, tag string, task models.Task) error
	// OnChange registers a callback fired on raw storage change.
	OnChange(callback func())
}

// RateLimiter gates calls to an external service.
type RateLimiter interface {
	Wait(ctx context.Context, service string) error
}

// SyncRecorder receives per-entity outcomes for the sync-state ledger.
// It is optional; a nil recorder disables recording.
type SyncRecorder interface {
	RecordSuccess(taskID, tag, issueKey, direction string) error
	RecordFailure(taskID, tag, direction string, cause error) error
}

// Sync directions recorded in the ledger.
const (
	DirectionPush = "push" // task -> tracker
	DirectionPull = "pull" // tracker -> task
)
