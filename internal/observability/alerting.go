package observability

import (
	"fmt"
	"sort"
	"time"

	"github.com/valter-silva-au/tmsync/internal/core"
	"github.com/valter-silva-au/tmsync/pkg/models"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert conditions.
const (
	ConditionTaskFailing   = "task_sync_failing"
	ConditionHighErrorRate = "sync_error_rate_high"
	ConditionSyncStale     = "sync_stale"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts fire. A zero threshold disables
// its check.
type AlertThresholds struct {
	ConsecutiveFailures int `yaml:"consecutive_failures" json:"consecutive_failures"`
	ErrorRatePercent    int `yaml:"error_rate_percent" json:"error_rate_percent"`
	ErrorWindowHours    int `yaml:"error_window_hours" json:"error_window_hours"`
	StaleHours          int `yaml:"stale_hours" json:"stale_hours"`
}

// DefaultAlertThresholds returns the built-in thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		ConsecutiveFailures: 3,
		ErrorRatePercent:    20,
		ErrorWindowHours:    1,
		StaleHours:          24,
	}
}

// ThresholdsFromConfig converts the alerts config section.
func ThresholdsFromConfig(cfg models.AlertConfig) AlertThresholds {
	return AlertThresholds{
		ConsecutiveFailures: cfg.ConsecutiveFailures,
		ErrorRatePercent:    cfg.ErrorRatePercent,
		ErrorWindowHours:    cfg.ErrorWindowHours,
		StaleHours:          cfg.StaleHours,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates an AlertEngine over eventLog.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate returns triggered alerts, most severe first.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}

	var alerts []Alert
	alerts = append(alerts, ae.checkFailingTasks(events, now)...)
	alerts = append(alerts, ae.checkErrorRate(events, now)...)
	alerts = append(alerts, ae.checkStale(events, now)...)

	sort.SliceStable(alerts, func(i, j int) bool {
		return severityRank(alerts[i].Severity) < severityRank(alerts[j].Severity)
	})
	return alerts, nil
}

// checkFailingTasks flags tasks whose most recent pushes all failed.
func (ae *alertEngine) checkFailingTasks(events []Event, now time.Time) []Alert {
	limit := ae.thresholds.ConsecutiveFailures
	if limit <= 0 {
		return nil
	}

	streak := make(map[string]int)
	for _, event := range events {
		taskID, _ := event.Data[DataTaskID].(string)
		if taskID == "" {
			continue
		}
		switch event.Type {
		case core.SignalTaskSyncError:
			streak[taskID]++
		case core.SignalTaskSynced:
			streak[taskID] = 0
		}
	}

	ids := make([]string, 0, len(streak))
	for id, n := range streak {
		if n >= limit {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	alerts := make([]Alert, 0, len(ids))
	for _, id := range ids {
		alerts = append(alerts, Alert{
			ID:          "task-failing-" + id,
			Condition:   ConditionTaskFailing,
			Severity:    SeverityHigh,
			Message:     fmt.Sprintf("task %s failed to sync %d times in a row", id, streak[id]),
			TriggeredAt: now,
		})
	}
	return alerts
}

// checkErrorRate compares failed to total entity syncs inside the window.
func (ae *alertEngine) checkErrorRate(events []Event, now time.Time) []Alert {
	if ae.thresholds.ErrorRatePercent <= 0 || ae.thresholds.ErrorWindowHours <= 0 {
		return nil
	}
	cutoff := now.Add(-time.Duration(ae.thresholds.ErrorWindowHours) * time.Hour)

	var ok, failed int
	for _, event := range events {
		if event.Time.Before(cutoff) {
			continue
		}
		switch event.Type {
		case core.SignalTaskSynced, core.SignalIssueSynced:
			ok++
		case core.SignalTaskSyncError, core.SignalIssueSyncError:
			failed++
		}
	}
	total := ok + failed
	if total == 0 {
		return nil
	}
	rate := failed * 100 / total
	if rate < ae.thresholds.ErrorRatePercent {
		return nil
	}
	return []Alert{{
		ID:          "error-rate",
		Condition:   ConditionHighErrorRate,
		Severity:    SeverityMedium,
		Message:     fmt.Sprintf("%d of %d syncs failed in the last %dh (%d%%)", failed, total, ae.thresholds.ErrorWindowHours, rate),
		TriggeredAt: now,
	}}
}

// checkStale flags a log with activity but no recent change-detection cycle.
func (ae *alertEngine) checkStale(events []Event, now time.Time) []Alert {
	if ae.thresholds.StaleHours <= 0 || len(events) == 0 {
		return nil
	}
	var last time.Time
	for _, event := range events {
		if event.Type == core.SignalCycle && event.Time.After(last) {
			last = event.Time
		}
	}

	threshold := time.Duration(ae.thresholds.StaleHours) * time.Hour
	var msg string
	switch {
	case last.IsZero():
		msg = "no sync cycle has been recorded"
	case now.Sub(last) > threshold:
		msg = fmt.Sprintf("no sync cycle for more than %d hours (last at %s)", ae.thresholds.StaleHours, last.Format(time.RFC3339))
	default:
		return nil
	}
	return []Alert{{
		ID:          "sync-stale",
		Condition:   ConditionSyncStale,
		Severity:    SeverityLow,
		Message:     msg,
		TriggeredAt: now,
	}}
}

func severityRank(s AlertSeverity) int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	default:
		return 2
	}
}
