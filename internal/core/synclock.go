package core

import (
	"sort"
	"sync"
)

// TagLockKey returns the lock key for a tag-level sync.
func TagLockKey(tag string) string { return "tag:" + tag }

// TaskLockKey returns the lock key for a task-level sync.
func TaskLockKey(taskID string) string { return "task:" + taskID }

// IssueLockKey returns the lock key for a reverse sync of one issue.
func IssueLockKey(key string) string { return "issue:" + key }

// SyncLockTable tracks in-flight sync operations by key. Unlike a keyed
// mutex it never blocks: a caller that loses the race skips the work.
type SyncLockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewSyncLockTable creates an empty lock table.
func NewSyncLockTable() *SyncLockTable {
	return &SyncLockTable{held: make(map[string]struct{})}
}

// TryAcquire marks key as held and returns true, or returns false if the
// key is already held.
func (l *SyncLockTable) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Release frees key. Releasing a key that is not held is a no-op.
func (l *SyncLockTable) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

// Held reports whether key is currently held.
func (l *SyncLockTable) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[key]
	return busy
}

// Active returns the held keys in sorted order.
func (l *SyncLockTable) Active() []string {
	l.mu.Lock()
	keys := make([]string, 0, len(l.held))
	for k := range l.held {
		keys = append(keys, k)
	}
	l.mu.Unlock()

	sort.Strings(keys)
	return keys
}
