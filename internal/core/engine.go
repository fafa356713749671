package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/valter-silva-au/tmsync/pkg/models"
)

// DefaultDebounce coalesces bursts of file notifications. A single save
// from TaskMaster usually produces several fsnotify events.
const DefaultDebounce = time.Second

// EngineDeps are the collaborators injected into the sync engine.
// Limiter, Recorder and Logger may be nil.
type EngineDeps struct {
	Tracker  Tracker
	Store    TaskStore
	Limiter  RateLimiter
	Bus      *SignalBus
	Recorder SyncRecorder
	Logger   *slog.Logger
}

// TaskSyncOptions carries caller context for a single task sync.
type TaskSyncOptions struct {
	// Tag is the tag the task was read from. It is used to persist the
	// project tag added on first sync and for the sync ledger.
	Tag string
	// ProjectKey overrides the project derived from the task's tags.
	ProjectKey string
}

// TagSyncResult summarises one tag-level sync.
type TagSyncResult struct {
	Tag       string
	Processed int
	Failed    int
	// Skipped is set when another sync for the same tag was in flight or
	// syncing is disabled.
	Skipped bool
}

// SyncEngine mirrors TaskMaster tasks into Jira and applies Jira changes
// back to the task file. Each entry point is guarded by the lock table so
// that a sync which triggers its own change notification does not loop.
type SyncEngine struct {
	cfg      *models.SyncConfig
	tracker  Tracker
	store    TaskStore
	limiter  RateLimiter
	bus      *SignalBus
	recorder SyncRecorder
	logger   *slog.Logger

	mapper *FieldMapper
	tags   *TagClassifier
	locks  *SyncLockTable

	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	baseCtx context.Context
	started bool
	stopped bool
	done    chan struct{}
	cycles  sync.WaitGroup

	// cycleMu serializes the initial cycle with change-triggered cycles,
	// so a change seen mid-cycle is not skipped on the held tag lock.
	cycleMu sync.Mutex
}

// NewSyncEngine creates an engine from the startup configuration.
func NewSyncEngine(cfg *models.SyncConfig, deps EngineDeps) (*SyncEngine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("creating sync engine: configuration is nil")
	}
	if deps.Tracker == nil {
		return nil, fmt.Errorf("creating sync engine: tracker is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("creating sync engine: task store is required")
	}
	if deps.Bus == nil {
		deps.Bus = NewSignalBus()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := cfg.Sync.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &SyncEngine{
		cfg:      cfg,
		tracker:  deps.Tracker,
		store:    deps.Store,
		limiter:  deps.Limiter,
		bus:      deps.Bus,
		recorder: deps.Recorder,
		logger:   logger.With("component", "sync-engine"),
		mapper:   NewFieldMapper(cfg.Mappings, cfg.Jira.CrossRefField),
		tags:     NewTagClassifier(cfg.Sync.TagPrefixes, cfg.Sync.ProjectTagPrefix, cfg.Jira.DefaultProject),
		locks:    NewSyncLockTable(),
		debounce: debounce,
		done:     make(chan struct{}),
	}, nil
}

// Bus returns the engine's signal bus.
func (e *SyncEngine) Bus() *SignalBus { return e.bus }

// Locks returns the engine's lock table.
func (e *SyncEngine) Locks() *SyncLockTable { return e.locks }

// Mapper returns the engine's field mapper.
func (e *SyncEngine) Mapper() *FieldMapper { return e.mapper }

// Classifier returns the engine's tag classifier.
func (e *SyncEngine) Classifier() *TagClassifier { return e.tags }

// OnTagChanged syncs every syncable task of a tag, grouped by project.
// One task failing does not stop the others.
func (e *SyncEngine) OnTagChanged(ctx context.Context, tag string, tasks []models.Task) TagSyncResult {
	result := TagSyncResult{Tag: tag}
	if !e.cfg.Sync.Enabled {
		result.Skipped = true
		return result
	}

	key := TagLockKey(tag)
	if !e.locks.TryAcquire(key) {
		e.logger.Debug("tag sync already in flight", "tag", tag)
		result.Skipped = true
		return result
	}
	defer e.locks.Release(key)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("tag sync panicked: %v", r)
			e.logger.Error("tag sync aborted", "tag", tag, "error", err)
			e.bus.Publish(Signal{Name: SignalTagSyncError, TagName: tag, Err: err})
		}
	}()

	syncable := e.tags.FilterSyncable(tasks)
	if len(syncable) == 0 {
		return result
	}

	for _, group := range e.tags.GroupByProject(syncable) {
		for _, task := range group.Tasks {
			result.Processed++
			err := e.OnTaskChanged(ctx, task, TaskSyncOptions{Tag: tag, ProjectKey: group.Key})
			if err != nil {
				result.Failed++
				e.logger.Error("task sync failed", "tag", tag, "task_id", task.ID.String(), "project", group.Key, "error", err)
			}
		}
	}

	e.logger.Info("tag synced", "tag", tag, "tasks", result.Processed, "failed", result.Failed)
	e.bus.Publish(Signal{Name: SignalTagSynced, TagName: tag, TaskCount: result.Processed})
	return result
}

// OnTaskChanged creates or updates the Jira issue for one task. A failure
// is logged, signalled and recorded before being returned; tag sync ignores
// the returned error.
func (e *SyncEngine) OnTaskChanged(ctx context.Context, task models.Task, opts TaskSyncOptions) (err error) {
	if !e.cfg.Sync.Enabled {
		return nil
	}

	id := task.ID.String()
	key := TaskLockKey(id)
	if !e.locks.TryAcquire(key) {
		e.logger.Debug("task sync already in flight", "task_id", id)
		return nil
	}
	defer e.locks.Release(key)

	if !e.tags.IsSyncable(&task) {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task sync panicked: %v", r)
		}
		if err != nil {
			e.bus.Publish(Signal{Name: SignalTaskSyncError, TaskID: id, TagName: opts.Tag, Err: err})
			e.record(func(r SyncRecorder) error { return r.RecordFailure(id, opts.Tag, DirectionPush, err) })
		}
	}()

	// pushTask may append a project tag; work on a copy so the caller's
	// Tags backing array is never written.
	task = task.Clone()
	issueKey, err := e.pushTask(ctx, &task, opts)
	if err != nil {
		return fmt.Errorf("syncing task %s: %w", id, err)
	}

	e.logger.Debug("task synced", "task_id", id, "issue", issueKey)
	e.bus.Publish(Signal{Name: SignalTaskSynced, TaskID: id, TagName: opts.Tag, IssueKey: issueKey})
	e.record(func(r SyncRecorder) error { return r.RecordSuccess(id, opts.Tag, issueKey, DirectionPush) })
	return nil
}

// pushTask updates the existing issue for task or creates a new one, and
// returns the issue key.
func (e *SyncEngine) pushTask(ctx context.Context, task *models.Task, opts TaskSyncOptions) (string, error) {
	id := task.ID.String()

	if err := e.wait(ctx); err != nil {
		return "", err
	}
	existing, err := e.tracker.FindIssueByTaskID(ctx, id)
	if err != nil && !IsNotFound(err) {
		return "", fmt.Errorf("finding issue: %w", err)
	}

	if existing != nil {
		payload := e.mapper.BuildUpdatePayload(task)
		if !payloadEmpty(payload) {
			if err := e.wait(ctx); err != nil {
				return "", err
			}
			if err := e.tracker.UpdateIssue(ctx, existing.Key, payload); err != nil {
				return "", fmt.Errorf("updating issue %s: %w", existing.Key, err)
			}
		}
		if task.Status != "" {
			if err := e.transition(ctx, existing.Key, task.Status); err != nil {
				return "", err
			}
		}
		return existing.Key, nil
	}

	projectKey := opts.ProjectKey
	if projectKey == "" {
		projectKey = e.tags.ProjectKeyOf(task)
	}
	tagAdded := e.tags.EnsureProjectTag(task, projectKey)

	if err := e.wait(ctx); err != nil {
		return "", err
	}
	created, err := e.tracker.CreateIssue(ctx, e.mapper.BuildCreatePayload(task, projectKey))
	if err != nil {
		return "", fmt.Errorf("creating issue in %s: %w", projectKey, err)
	}
	e.logger.Info("issue created", "task_id", id, "issue", created.Key, "project", projectKey)

	// New issues open in the tracker's initial status.
	if task.Status != "" && e.mapper.TaskStatusToTracker(task.Status) != DefaultTrackerStatus {
		if err := e.transition(ctx, created.Key, task.Status); err != nil {
			return "", err
		}
	}

	if tagAdded && opts.Tag != "" {
		if err := e.store.WriteTask(ctx, opts.Tag, *task); err != nil {
			e.logger.Warn("persisting project tag failed", "task_id", id, "tag", opts.Tag, "error", err)
		}
	}
	return created.Key, nil
}

func (e *SyncEngine) transition(ctx context.Context, issueKey string, status models.TaskStatus) error {
	if err := e.wait(ctx); err != nil {
		return err
	}
	target := e.mapper.TaskStatusToTracker(status)
	if err := e.tracker.TransitionIssueStatus(ctx, issueKey, target); err != nil {
		return fmt.Errorf("transitioning issue %s to %q: %w", issueKey, target, err)
	}
	return nil
}

// OnIssueChanged applies a Jira issue's fields to its cross-referenced
// task. Issues without a cross-reference and tasks that no longer exist
// are skipped without error.
func (e *SyncEngine) OnIssueChanged(ctx context.Context, issue *models.Issue) (err error) {
	if !e.cfg.Sync.Enabled || issue == nil {
		return nil
	}

	taskID := e.tracker.ExtractCrossReference(issue)
	if taskID == "" {
		return nil
	}

	key := IssueLockKey(issue.Key)
	if !e.locks.TryAcquire(key) {
		e.logger.Debug("issue sync already in flight", "issue", issue.Key)
		return nil
	}
	defer e.locks.Release(key)

	tag := ""
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("issue sync panicked: %v", r)
		}
		if err != nil {
			e.logger.Error("issue sync failed", "issue", issue.Key, "task_id", taskID, "error", err)
			e.bus.Publish(Signal{Name: SignalIssueSyncError, IssueKey: issue.Key, TaskID: taskID, Err: err})
			e.record(func(r SyncRecorder) error { return r.RecordFailure(taskID, tag, DirectionPull, err) })
		}
	}()

	task, foundTag, err := e.store.FindTaskByID(ctx, taskID)
	if err != nil {
		if IsNotFound(err) {
			e.logger.Warn("task for issue not found", "issue", issue.Key, "task_id", taskID)
			return nil
		}
		return fmt.Errorf("loading task %s: %w", taskID, err)
	}
	tag = foundTag

	changed := e.mapper.ApplyIssue(task, issue)
	// An unchanged task is not rewritten: the write would fire a change
	// notification and push the same values back to the tracker.
	if len(changed) > 0 {
		if err := e.store.WriteTask(ctx, tag, *task); err != nil {
			return fmt.Errorf("writing task %s: %w", taskID, err)
		}
		e.logger.Info("task updated from issue", "issue", issue.Key, "task_id", taskID, "fields", changed)
	}

	e.bus.Publish(Signal{Name: SignalIssueSynced, IssueKey: issue.Key, TaskID: taskID, TagName: tag})
	e.record(func(r SyncRecorder) error { return r.RecordSuccess(taskID, tag, issue.Key, DirectionPull) })
	return nil
}

// RunCycle re-reads the whole task file and runs tag sync for every tag.
// It recomputes syncability from scratch rather than diffing snapshots.
func (e *SyncEngine) RunCycle(ctx context.Context) ([]TagSyncResult, error) {
	if !e.cfg.Sync.Enabled {
		return nil, nil
	}

	grouped, err := e.store.ReadAllGroupedByTag(ctx)
	if err != nil {
		e.logger.Error("reading task file failed", "error", err)
		e.bus.Publish(Signal{Name: SignalTagSyncError, Err: err})
		return nil, fmt.Errorf("reading tasks: %w", err)
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		if name == ReservedMetadataKey {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]TagSyncResult, 0, len(names))
	for _, name := range names {
		results = append(results, e.OnTagChanged(ctx, name, grouped[name]))
	}

	e.bus.Publish(Signal{Name: SignalCycle, TaskCount: len(names)})
	return results, nil
}

// Start subscribes to store change notifications, runs the initial sync
// (when enabled) and then keeps reacting to changes until ctx is done or
// Stop is called. A change that arrives during the initial sync schedules
// a follow-up cycle.
func (e *SyncEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("sync engine already started")
	}
	e.started = true
	e.baseCtx = ctx
	e.mu.Unlock()

	e.store.OnChange(e.notifyChange)

	go func() {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-e.done:
		}
	}()

	if e.cfg.Sync.InitialSync {
		e.cycleMu.Lock()
		_, err := e.RunCycle(ctx)
		e.cycleMu.Unlock()
		if err != nil {
			e.logger.Warn("initial sync failed", "error", err)
		}
	}
	return nil
}

// notifyChange restarts the debounce timer. Only the last notification of
// a burst triggers a cycle.
func (e *SyncEngine) notifyChange() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped || !e.started {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, e.debouncedCycle)
}

func (e *SyncEngine) debouncedCycle() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	ctx := e.baseCtx
	e.cycles.Add(1)
	e.mu.Unlock()
	defer e.cycles.Done()

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return
	}

	if _, err := e.RunCycle(ctx); err != nil {
		e.logger.Warn("change-triggered sync failed", "error", err)
	}
}

// Stop cancels any pending debounce timer and waits for a running
// change-triggered cycle to finish. It is safe to call more than once.
func (e *SyncEngine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.done)
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	e.cycles.Wait()
}

func (e *SyncEngine) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx, TrackerService); err != nil {
		return fmt.Errorf("waiting for %s rate limit: %w", TrackerService, err)
	}
	return nil
}

func (e *SyncEngine) record(fn func(SyncRecorder) error) {
	if e.recorder == nil {
		return
	}
	if err := fn(e.recorder); err != nil {
		e.logger.Warn("recording sync outcome failed", "error", err)
	}
}

func payloadEmpty(p models.IssuePayload) bool {
	f := p.Fields
	return f.Summary == "" && f.Description == "" && f.Priority == nil
}
