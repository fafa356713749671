package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/valter-silva-au/tmsync/pkg/models"
)

// IssueFetcher loads a tracker issue by key for on-demand reverse sync.
type IssueFetcher interface {
	GetIssue(ctx context.Context, key string) (*models.Issue, error)
}

// SyncService runs engine operations on demand, resolving ids and keys
// against the task file and the tracker. The CLI and MCP server use it.
type SyncService interface {
	// SyncTask pushes one task, wherever it lives, and returns its tag.
	SyncTask(ctx context.Context, taskID string) (string, error)
	// SyncTag pushes every syncable task of tag.
	SyncTag(ctx context.Context, tag string) (TagSyncResult, error)
	// SyncIssue pulls one tracker issue into its task.
	SyncIssue(ctx context.Context, issueKey string) error
	// SyncAll runs one full change-detection cycle.
	SyncAll(ctx context.Context) ([]TagSyncResult, error)
}

type syncService struct {
	engine *SyncEngine
	store  TaskStore
	issues IssueFetcher
}

// NewSyncService creates a SyncService. issues may be nil, in which case
// SyncIssue fails.
func NewSyncService(engine *SyncEngine, store TaskStore, issues IssueFetcher) SyncService {
	return &syncService{engine: engine, store: store, issues: issues}
}

func (s *syncService) SyncTask(ctx context.Context, taskID string) (string, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return "", &ValidationError{Field: "task_id", Reason: "must not be empty"}
	}
	task, tag, err := s.store.FindTaskByID(ctx, taskID)
	if err != nil {
		return "", err
	}
	if !s.engine.Classifier().IsSyncable(task) {
		return tag, &ValidationError{Field: "tags", Reason: fmt.Sprintf("task %s has no sync tag", taskID)}
	}
	if err := s.engine.OnTaskChanged(ctx, *task, TaskSyncOptions{Tag: tag}); err != nil {
		return tag, err
	}
	return tag, nil
}

func (s *syncService) SyncTag(ctx context.Context, tag string) (TagSyncResult, error) {
	if tag == "" || tag == ReservedMetadataKey {
		return TagSyncResult{Tag: tag}, &ValidationError{Field: "tag", Reason: fmt.Sprintf("invalid tag %q", tag)}
	}
	grouped, err := s.store.ReadAllGroupedByTag(ctx)
	if err != nil {
		return TagSyncResult{Tag: tag}, fmt.Errorf("reading tasks: %w", err)
	}
	tasks, ok := grouped[tag]
	if !ok {
		return TagSyncResult{Tag: tag}, &NotFoundError{Kind: "tag", ID: tag}
	}
	return s.engine.OnTagChanged(ctx, tag, tasks), nil
}

func (s *syncService) SyncIssue(ctx context.Context, issueKey string) error {
	issueKey = strings.TrimSpace(issueKey)
	if issueKey == "" {
		return &ValidationError{Field: "issue_key", Reason: "must not be empty"}
	}
	if s.issues == nil {
		return fmt.Errorf("syncing issue %s: no tracker configured", issueKey)
	}
	issue, err := s.issues.GetIssue(ctx, issueKey)
	if err != nil {
		return err
	}
	return s.engine.OnIssueChanged(ctx, issue)
}

func (s *syncService) SyncAll(ctx context.Context) ([]TagSyncResult, error) {
	return s.engine.RunCycle(ctx)
}
