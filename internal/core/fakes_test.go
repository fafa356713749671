package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valter-silva-au/tmsync/pkg/models"
)

const testCrossRef = "customfield_10000"

// fakeTracker is an in-memory Tracker keyed by issue key.
type fakeTracker struct {
	mu          sync.Mutex
	issues      map[string]*models.Issue
	byTask      map[string]string
	created     []models.IssuePayload
	updates     map[string][]models.IssuePayload
	transitions map[string][]string
	calls       int
	nextID      int

	createErr error
	failTask  string
	// gate, when set, blocks CreateIssue until it is closed.
	gate chan struct{}
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issues:      make(map[string]*models.Issue),
		byTask:      make(map[string]string),
		updates:     make(map[string][]models.IssuePayload),
		transitions: make(map[string][]string),
	}
}

func (f *fakeTracker) FindIssueByTaskID(_ context.Context, taskID string) (*models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key, ok := f.byTask[taskID]
	if !ok {
		return nil, &NotFoundError{Kind: "issue", ID: taskID}
	}
	issue := *f.issues[key]
	return &issue, nil
}

func (f *fakeTracker) CreateIssue(_ context.Context, payload models.IssuePayload) (*models.Issue, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	taskID, _ := payload.Fields.Custom[testCrossRef].(string)
	if f.failTask != "" && taskID == f.failTask {
		return nil, &TransientServiceError{Service: "jira", Op: "create issue", StatusCode: 500, Err: fmt.Errorf("boom")}
	}
	if payload.Fields.Summary == "" {
		return nil, &ValidationError{Field: "summary", Reason: "required"}
	}
	f.nextID++
	key := fmt.Sprintf("%s-%d", payload.Fields.Project.Key, f.nextID)
	issue := &models.Issue{Key: key, Fields: payload.Fields}
	issue.Fields.Status = &models.NamedField{Name: DefaultTrackerStatus}
	f.issues[key] = issue
	if taskID != "" {
		f.byTask[taskID] = key
	}
	f.created = append(f.created, payload)
	return issue, nil
}

func (f *fakeTracker) UpdateIssue(_ context.Context, key string, payload models.IssuePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, ok := f.issues[key]; !ok {
		return &NotFoundError{Kind: "issue", ID: key}
	}
	f.updates[key] = append(f.updates[key], payload)
	return nil
}

func (f *fakeTracker) TransitionIssueStatus(_ context.Context, key, statusName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	issue, ok := f.issues[key]
	if !ok {
		return &NotFoundError{Kind: "issue", ID: key}
	}
	issue.Fields.Status = &models.NamedField{Name: statusName}
	f.transitions[key] = append(f.transitions[key], statusName)
	return nil
}

func (f *fakeTracker) ExtractCrossReference(issue *models.Issue) string {
	if issue == nil {
		return ""
	}
	s, _ := issue.Fields.Custom[testCrossRef].(string)
	return s
}

func (f *fakeTracker) GetIssue(_ context.Context, key string) (*models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[key]
	if !ok {
		return nil, &NotFoundError{Kind: "issue", ID: key}
	}
	cp := *issue
	return &cp, nil
}

func (f *fakeTracker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTracker) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// fakeStore is an in-memory TaskStore.
type fakeStore struct {
	mu       sync.Mutex
	tags     map[string][]models.Task
	writes   int
	readErr  error
	onChange []func()
}

func newFakeStore(tags map[string][]models.Task) *fakeStore {
	if tags == nil {
		tags = make(map[string][]models.Task)
	}
	return &fakeStore{tags: tags}
}

func (s *fakeStore) ReadAllGroupedByTag(context.Context) (map[string][]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := make(map[string][]models.Task, len(s.tags))
	for tag, tasks := range s.tags {
		cp := make([]models.Task, len(tasks))
		for i, t := range tasks {
			cp[i] = t.Clone()
		}
		out[tag] = cp
	}
	return out, nil
}

func (s *fakeStore) FindTaskByID(_ context.Context, id string) (*models.Task, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag, tasks := range s.tags {
		for _, t := range tasks {
			if t.ID.String() == id {
				cp := t.Clone()
				return &cp, tag, nil
			}
		}
	}
	return nil, "", &NotFoundError{Kind: "task", ID: id}
}

func (s *fakeStore) WriteTask(_ context.Context, tag string, task models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.tags[tag]
	for i := range tasks {
		if tasks[i].ID.String() == task.ID.String() {
			tasks[i] = task.Clone()
			s.writes++
			return nil
		}
	}
	return &NotFoundError{Kind: "task", ID: task.ID.String()}
}

func (s *fakeStore) OnChange(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, cb)
}

func (s *fakeStore) add(tag string, task models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[tag] = append(s.tags[tag], task)
}

func (s *fakeStore) fire() {
	s.mu.Lock()
	cbs := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (s *fakeStore) task(tag, id string) models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tags[tag] {
		if t.ID.String() == id {
			return t.Clone()
		}
	}
	return models.Task{}
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// fakeLimiter counts Wait calls.
type fakeLimiter struct {
	mu    sync.Mutex
	waits map[string]int
}

func (l *fakeLimiter) Wait(_ context.Context, service string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.waits == nil {
		l.waits = make(map[string]int)
	}
	l.waits[service]++
	return nil
}

// fakeRecorder captures ledger calls.
type fakeRecorder struct {
	mu        sync.Mutex
	successes []string
	failures  []string
}

func (r *fakeRecorder) RecordSuccess(taskID, _, issueKey, direction string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, direction+":"+taskID+":"+issueKey)
	return nil
}

func (r *fakeRecorder) RecordFailure(taskID, _, direction string, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, direction+":"+taskID)
	return nil
}

func testConfig() *models.SyncConfig {
	cfg := DefaultConfig()
	cfg.Jira.CrossRefField = testCrossRef
	cfg.Sync.InitialSync = false
	cfg.Sync.Debounce = 20 * time.Millisecond
	return cfg
}

func newTestEngine(t interface{ Fatalf(string, ...any) }, tracker *fakeTracker, store *fakeStore) *SyncEngine {
	e, err := NewSyncEngine(testConfig(), EngineDeps{Tracker: tracker, Store: store})
	if err != nil {
		t.Fatalf("NewSyncEngine: %v", err)
	}
	return e
}

func newTask(id, title string, status models.TaskStatus, priority models.Priority, tags ...string) models.Task {
	return models.Task{
		ID:       models.NewTaskID(id),
		Title:    title,
		Status:   status,
		Priority: priority,
		Tags:     tags,
	}
}

// drain returns every signal currently buffered on ch.
func drain(ch <-chan Signal) []Signal {
	var out []Signal
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, s)
		default:
			return out
		}
	}
}
