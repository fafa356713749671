package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/valter-silva-au/tmsync/internal/core"
	"github.com/valter-silva-au/tmsync/pkg/models"
)

// LegacyTag is the tag assigned to tasks in a pre-tag {"tasks": [...]} file.
const LegacyTag = "master"

// TaskMasterStore reads and writes a TaskMaster tasks.json file.
//
// The file is a JSON object keyed by tag, each value holding a "tasks"
// array and tag metadata. A top-level "metadata" entry carries file
// metadata. Every write is a read-modify-write that only replaces the
// target task, so sibling tasks, other tags and unknown fields survive.
type TaskMasterStore struct {
	path    string
	watcher *TaskFileWatcher
	now     func() time.Time

	mu sync.Mutex
}

// NewTaskMasterStore creates a store for the file at path. watcher may be
// nil, in which case OnChange registrations are ignored.
func NewTaskMasterStore(path string, watcher *TaskFileWatcher) *TaskMasterStore {
	return &TaskMasterStore{
		path:    path,
		watcher: watcher,
		now:     time.Now,
	}
}

// Path returns the task file path.
func (s *TaskMasterStore) Path() string { return s.path }

func (s *TaskMasterStore) lockPath() string { return s.path + ".lock" }

// tagEntry is one tag's section of the file.
type tagEntry struct {
	Tasks []models.Task `json:"tasks"`
}

// ReadAllGroupedByTag returns every tag's tasks in file order. A missing
// file is an empty store.
func (s *TaskMasterStore) ReadAllGroupedByTag(ctx context.Context) (map[string][]models.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	top, legacy, err := s.readTop()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]models.Task)
	if legacy {
		var tasks []models.Task
		if err := json.Unmarshal(top["tasks"], &tasks); err != nil {
			return nil, s.parseError(err)
		}
		out[LegacyTag] = tasks
		return out, nil
	}

	for name, raw := range top {
		if name == core.ReservedMetadataKey {
			continue
		}
		var entry tagEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, s.parseError(fmt.Errorf("tag %q: %w", name, err))
		}
		out[name] = entry.Tasks
	}
	return out, nil
}

// FindTaskByID searches every tag in name order and returns the first
// task whose id matches, together with its tag.
func (s *TaskMasterStore) FindTaskByID(ctx context.Context, taskID string) (*models.Task, string, error) {
	all, err := s.ReadAllGroupedByTag(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, tag := range sortedKeys(all) {
		for i := range all[tag] {
			if all[tag][i].ID.String() == taskID {
				task := all[tag][i]
				return &task, tag, nil
			}
		}
	}
	return nil, "", &core.NotFoundError{Kind: "task", ID: taskID}
}

// WriteTask replaces the task with the same id inside tag and stamps the
// file's lastUpdated metadata.
func (s *TaskMasterStore) WriteTask(ctx context.Context, tag string, task models.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task.ID.IsZero() {
		return &core.ValidationError{Field: "id", Reason: "task id must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.lockPath())
	if err != nil {
		return s.serviceError("lock", err)
	}
	defer unlock()

	top, legacy, err := s.readTop()
	if err != nil {
		return err
	}

	var section map[string]json.RawMessage
	if legacy {
		if tag != LegacyTag {
			return &core.NotFoundError{Kind: "tag", ID: tag}
		}
		section = top
	} else {
		raw, ok := top[tag]
		if !ok || tag == core.ReservedMetadataKey {
			return &core.NotFoundError{Kind: "tag", ID: tag}
		}
		if err := json.Unmarshal(raw, &section); err != nil {
			return s.parseError(fmt.Errorf("tag %q: %w", tag, err))
		}
	}

	if err := replaceTask(section, task); err != nil {
		return err
	}
	if !legacy {
		top[tag] = mustMarshal(section)
	}
	if err := stampMetadata(top, s.now()); err != nil {
		return s.parseError(err)
	}

	data, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding task file: %w", err)
	}
	if err := writeFileAtomic(s.path, append(data, '\n')); err != nil {
		return s.serviceError("write", err)
	}
	return nil
}

// OnChange delegates to the file watcher.
func (s *TaskMasterStore) OnChange(callback func()) {
	if s.watcher != nil {
		s.watcher.OnChange(callback)
	}
}

// Close stops the attached watcher.
func (s *TaskMasterStore) Close() error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	return nil
}

// readTop decodes the top-level object. legacy reports the flat
// {"tasks": [...]} layout.
func (s *TaskMasterStore) readTop() (map[string]json.RawMessage, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, false, nil
		}
		return nil, false, s.serviceError("read", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]json.RawMessage{}, false, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, false, s.parseError(err)
	}
	raw, ok := top["tasks"]
	legacy := ok && len(bytes.TrimSpace(raw)) > 0 && bytes.TrimSpace(raw)[0] == '['
	return top, legacy, nil
}

// replaceTask swaps the task object with a matching id inside section's
// "tasks" array. Other array entries are kept byte-for-byte.
func replaceTask(section map[string]json.RawMessage, task models.Task) error {
	var tasks []json.RawMessage
	if raw, ok := section["tasks"]; ok {
		if err := json.Unmarshal(raw, &tasks); err != nil {
			return fmt.Errorf("decoding tasks array: %w", err)
		}
	}

	id := task.ID.String()
	for i, raw := range tasks {
		var head struct {
			ID models.TaskID `json:"id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		if head.ID.String() != id {
			continue
		}
		encoded, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("encoding task %s: %w", id, err)
		}
		tasks[i] = encoded
		section["tasks"] = mustMarshal(tasks)
		return nil
	}
	return &core.NotFoundError{Kind: "task", ID: id}
}

// stampMetadata sets metadata.lastUpdated, keeping any other metadata keys.
func stampMetadata(top map[string]json.RawMessage, now time.Time) error {
	meta := make(map[string]json.RawMessage)
	if raw, ok := top[core.ReservedMetadataKey]; ok {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("decoding metadata: %w", err)
		}
	}
	meta["lastUpdated"] = mustMarshal(now.UTC().Format(time.RFC3339))
	top[core.ReservedMetadataKey] = mustMarshal(meta)
	return nil
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place, keeping the original file mode when one exists.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing file: %w", err)
	}
	return nil
}

func (s *TaskMasterStore) parseError(err error) error {
	return &core.TransientServiceError{Service: "taskmaster", Op: "parse " + s.path, Err: err}
}

func (s *TaskMasterStore) serviceError(op string, err error) error {
	return &core.TransientServiceError{Service: "taskmaster", Op: op + " " + s.path, Err: err}
}

func sortedKeys(m map[string][]models.Task) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mustMarshal encodes values that cannot fail to encode.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encoding %T: %v", v, err))
	}
	return data
}

var _ core.TaskStore = (*TaskMasterStore)(nil)
