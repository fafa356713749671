package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/valter-silva-au/tmsync/internal/core"
	"gopkg.in/yaml.v3"
)

// SyncRecord is the last known sync outcome for one task.
type SyncRecord struct {
	TaskID     string    `yaml:"task_id"`
	Tag        string    `yaml:"tag,omitempty"`
	IssueKey   string    `yaml:"issue_key,omitempty"`
	Direction  string    `yaml:"direction"`
	LastSynced time.Time `yaml:"last_synced,omitempty"`
	LastError  string    `yaml:"last_error,omitempty"`
	// Failures counts consecutive failures; a success resets it.
	Failures    int       `yaml:"failures"`
	LastAttempt time.Time `yaml:"last_attempt"`
}

// Failed reports whether the most recent attempt failed.
func (r SyncRecord) Failed() bool { return r.Failures > 0 }

// SyncStateFilter specifies criteria for filtering records. All specified
// fields use AND logic.
type SyncStateFilter struct {
	Tag        string
	FailedOnly bool
}

// SyncStateFile represents the top-level structure of the state file.
type SyncStateFile struct {
	Version string                `yaml:"version"`
	Records map[string]SyncRecord `yaml:"records"`
}

// SyncStateManager keeps the per-task sync ledger. It satisfies
// core.SyncRecorder.
type SyncStateManager interface {
	RecordSuccess(taskID, tag, issueKey, direction string) error
	RecordFailure(taskID, tag, direction string, cause error) error
	Get(taskID string) (*SyncRecord, error)
	All() ([]SyncRecord, error)
	Filter(filter SyncStateFilter) ([]SyncRecord, error)
	Load() error
	Save() error
}

type fileSyncStateManager struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	data SyncStateFile
}

// NewSyncStateManager creates a ledger backed by the YAML file at path.
// Every recorded outcome is saved immediately.
func NewSyncStateManager(path string) SyncStateManager {
	return &fileSyncStateManager{
		path: path,
		now:  time.Now,
		data: emptyStateFile(),
	}
}

func emptyStateFile() SyncStateFile {
	return SyncStateFile{
		Version: "1.0",
		Records: make(map[string]SyncRecord),
	}
}

func (m *fileSyncStateManager) RecordSuccess(taskID, tag, issueKey, direction string) error {
	if taskID == "" {
		return fmt.Errorf("recording sync success: task ID must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	rec := m.data.Records[taskID]
	rec.TaskID = taskID
	if tag != "" {
		rec.Tag = tag
	}
	if issueKey != "" {
		rec.IssueKey = issueKey
	}
	rec.Direction = direction
	rec.LastSynced = now
	rec.LastAttempt = now
	rec.LastError = ""
	rec.Failures = 0
	m.data.Records[taskID] = rec
	return m.saveLocked()
}

func (m *fileSyncStateManager) RecordFailure(taskID, tag, direction string, cause error) error {
	if taskID == "" {
		return fmt.Errorf("recording sync failure: task ID must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.data.Records[taskID]
	rec.TaskID = taskID
	if tag != "" {
		rec.Tag = tag
	}
	rec.Direction = direction
	rec.LastAttempt = m.now().UTC()
	rec.Failures++
	if cause != nil {
		rec.LastError = cause.Error()
	}
	m.data.Records[taskID] = rec
	return m.saveLocked()
}

func (m *fileSyncStateManager) Get(taskID string) (*SyncRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data.Records[taskID]
	if !ok {
		return nil, &core.NotFoundError{Kind: "sync record", ID: taskID}
	}
	return &rec, nil
}

func (m *fileSyncStateManager) All() ([]SyncRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]SyncRecord, 0, len(m.data.Records))
	for _, rec := range m.data.Records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].TaskID < records[j].TaskID
	})
	return records, nil
}

func (m *fileSyncStateManager) Filter(filter SyncStateFilter) ([]SyncRecord, error) {
	all, err := m.All()
	if err != nil {
		return nil, err
	}

	var result []SyncRecord
	for _, rec := range all {
		if filter.Tag != "" && rec.Tag != filter.Tag {
			continue
		}
		if filter.FailedOnly && !rec.Failed() {
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

func (m *fileSyncStateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.data = emptyStateFile()
			return nil
		}
		return fmt.Errorf("loading sync state: %w", err)
	}

	var sf SyncStateFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("loading sync state: parsing YAML: %w", err)
	}
	if sf.Records == nil {
		sf.Records = make(map[string]SyncRecord)
	}
	m.data = sf
	return nil
}

func (m *fileSyncStateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *fileSyncStateManager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return fmt.Errorf("saving sync state: creating directory: %w", err)
	}
	data, err := yaml.Marshal(&m.data)
	if err != nil {
		return fmt.Errorf("saving sync state: marshaling YAML: %w", err)
	}
	if err := writeFileAtomic(m.path, data); err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	return nil
}

var _ core.SyncRecorder = (*fileSyncStateManager)(nil)
