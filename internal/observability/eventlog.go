package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/valter-silva-au/tmsync/internal/core"
)

// Event levels.
const (
	LevelInfo  = "INFO"
	LevelError = "ERROR"
)

// Event is one persisted sync signal.
type Event struct {
	ID      string         `json:"id,omitempty"`
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Type    string         `json:"type"` // signal name, e.g. "task:synced"
	Message string         `json:"msg"`
	Data    map[string]any `json:"data,omitempty"`
}

// Event data keys.
const (
	DataTag       = "tag"
	DataTaskID    = "task_id"
	DataIssueKey  = "issue_key"
	DataTaskCount = "task_count"
	DataError     = "error"
)

// EventFilter specifies criteria for reading events.
type EventFilter struct {
	Since *time.Time
	Until *time.Time
	Type  string
	Level string
}

// EventLog defines the interface for writing and reading events.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	Close() error
}

// jsonlEventLog implements EventLog using an append-only JSONL file.
type jsonlEventLog struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewJSONLEventLog opens (creating if needed) the JSONL log at path.
func NewJSONLEventLog(path string) (EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &jsonlEventLog{path: path, file: f}, nil
}

func (l *jsonlEventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Read scans the whole log and returns matching events in file order.
// Malformed lines are skipped.
func (l *jsonlEventLog) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if matchesEventFilter(event, filter) {
			events = append(events, event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}
	return events, nil
}

func (l *jsonlEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

func matchesEventFilter(event Event, filter EventFilter) bool {
	if filter.Since != nil && event.Time.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && event.Time.After(*filter.Until) {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Level != "" && event.Level != filter.Level {
		return false
	}
	return true
}

// EventFromSignal converts a bus signal into a log record.
func EventFromSignal(sig core.Signal) Event {
	data := make(map[string]any)
	if sig.TagName != "" {
		data[DataTag] = sig.TagName
	}
	if sig.TaskID != "" {
		data[DataTaskID] = sig.TaskID
	}
	if sig.IssueKey != "" {
		data[DataIssueKey] = sig.IssueKey
	}
	if sig.Name == core.SignalTagSynced || sig.Name == core.SignalCycle {
		data[DataTaskCount] = sig.TaskCount
	}

	level := LevelInfo
	if sig.Err != nil {
		level = LevelError
		data[DataError] = sig.Err.Error()
	}
	if len(data) == 0 {
		data = nil
	}

	return Event{
		ID:      sig.ID,
		Time:    sig.Time,
		Level:   level,
		Type:    sig.Name,
		Message: signalMessage(sig),
		Data:    data,
	}
}

func signalMessage(sig core.Signal) string {
	switch sig.Name {
	case core.SignalTagSynced:
		return fmt.Sprintf("tag %s synced (%d tasks)", sig.TagName, sig.TaskCount)
	case core.SignalTagSyncError:
		return fmt.Sprintf("tag %s sync failed", sig.TagName)
	case core.SignalTaskSynced:
		return fmt.Sprintf("task %s synced to %s", sig.TaskID, sig.IssueKey)
	case core.SignalTaskSyncError:
		return fmt.Sprintf("task %s sync failed", sig.TaskID)
	case core.SignalIssueSynced:
		return fmt.Sprintf("issue %s synced to task %s", sig.IssueKey, sig.TaskID)
	case core.SignalIssueSyncError:
		return fmt.Sprintf("issue %s sync failed", sig.IssueKey)
	case core.SignalCycle:
		return fmt.Sprintf("sync cycle over %d tags", sig.TaskCount)
	default:
		return sig.Name
	}
}

// SignalRecorder persists bus signals to the event log and feeds the
// Prometheus collectors. Either sink may be nil.
type SignalRecorder struct {
	log        EventLog
	collectors *SyncCollectors
	logger     *slog.Logger
}

// NewSignalRecorder creates a recorder.
func NewSignalRecorder(log EventLog, collectors *SyncCollectors, logger *slog.Logger) *SignalRecorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SignalRecorder{log: log, collectors: collectors, logger: logger}
}

// Record handles one signal.
func (r *SignalRecorder) Record(sig core.Signal) error {
	r.collectors.Observe(sig)
	if r.log == nil {
		return nil
	}
	return r.log.Write(EventFromSignal(sig))
}

// Run records signals from ch until ch is closed or ctx is done.
func (r *SignalRecorder) Run(ctx context.Context, ch <-chan core.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.Record(sig); err != nil {
				r.logger.Warn("recording signal", "signal", sig.Name, "error", err)
			}
		}
	}
}
