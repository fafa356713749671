package observability

import (
	"fmt"
	"time"

	"github.com/valter-silva-au/tmsync/internal/core"
)

// Metrics holds sync metrics derived from the event log.
type Metrics struct {
	TagsSynced   int            `json:"tags_synced"`
	TagErrors    int            `json:"tag_errors"`
	TasksSynced  int            `json:"tasks_synced"`
	TaskErrors   int            `json:"task_errors"`
	IssuesSynced int            `json:"issues_synced"`
	IssueErrors  int            `json:"issue_errors"`
	Cycles       int            `json:"cycles"`
	ErrorsByTask map[string]int `json:"errors_by_task"`
	ErrorsByTag  map[string]int `json:"errors_by_tag"`
	EventCount   int            `json:"event_count"`
	OldestEvent  *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent  *time.Time     `json:"newest_event,omitempty"`
	LastCycle    *time.Time     `json:"last_cycle,omitempty"`
}

// SuccessRate returns the percentage of task and issue syncs that
// succeeded, or 100 when there were none.
func (m *Metrics) SuccessRate() float64 {
	ok := m.TasksSynced + m.IssuesSynced
	total := ok + m.TaskErrors + m.IssueErrors
	if total == 0 {
		return 100
	}
	return float64(ok) * 100 / float64(total)
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a MetricsCalculator reading from eventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		ErrorsByTask: make(map[string]int),
		ErrorsByTag:  make(map[string]int),
		EventCount:   len(events),
	}

	for i, event := range events {
		t := event.Time
		if i == 0 {
			m.OldestEvent = &t
		}
		m.NewestEvent = &t

		tag, _ := event.Data[DataTag].(string)
		taskID, _ := event.Data[DataTaskID].(string)

		switch event.Type {
		case core.SignalTagSynced:
			m.TagsSynced++
		case core.SignalTagSyncError:
			m.TagErrors++
			if tag != "" {
				m.ErrorsByTag[tag]++
			}
		case core.SignalTaskSynced:
			m.TasksSynced++
		case core.SignalTaskSyncError:
			m.TaskErrors++
			if taskID != "" {
				m.ErrorsByTask[taskID]++
			}
		case core.SignalIssueSynced:
			m.IssuesSynced++
		case core.SignalIssueSyncError:
			m.IssueErrors++
		case core.SignalCycle:
			m.Cycles++
			m.LastCycle = &t
		}
	}
	return m, nil
}

// ParseSince parses a window like "7d", "24h" or "30m" into the instant
// that far before now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	var num int
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if num < 0 {
		return time.Time{}, fmt.Errorf("invalid duration %q: must not be negative", s)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	case 'm':
		return now.Add(-time.Duration(num) * time.Minute), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d, h or m)", string(suffix))
	}
}
