package observability

import (
	"testing"
	"time"

	"github.com/valter-silva-au/tmsync/internal/core"
)

func newTestAlertEngine(log EventLog, th AlertThresholds, now time.Time) AlertEngine {
	return &alertEngine{eventLog: log, thresholds: th, now: func() time.Time { return now }}
}

func findAlert(alerts []Alert, condition string) *Alert {
	for i := range alerts {
		if alerts[i].Condition == condition {
			return &alerts[i]
		}
	}
	return nil
}

func TestAlertEngine_FailingTaskStreak(t *testing.T) {
	log, _ := newTestLog(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	fail := func(id string, m int) Event {
		return ev(now.Add(-time.Duration(m)*time.Minute), core.SignalTaskSyncError, map[string]any{DataTaskID: id, DataError: "x"})
	}

	writeEvents(t, log,
		fail("1", 50), fail("1", 40), fail("1", 30),
		fail("2", 50), fail("2", 40),
		ev(now.Add(-35*time.Minute), core.SignalTaskSynced, map[string]any{DataTaskID: "2"}),
		fail("2", 20),
		ev(now.Add(-time.Minute), core.SignalCycle, nil),
	)

	th := AlertThresholds{ConsecutiveFailures: 3}
	alerts, err := newTestAlertEngine(log, th, now).Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1: %+v", len(alerts), alerts)
	}
	if alerts[0].ID != "task-failing-1" || alerts[0].Severity != SeverityHigh {
		t.Errorf("alert = %+v", alerts[0])
	}
}

func TestAlertEngine_ErrorRateWindow(t *testing.T) {
	log, _ := newTestLog(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	writeEvents(t, log,
		// Outside the window.
		ev(now.Add(-3*time.Hour), core.SignalTaskSyncError, map[string]any{DataTaskID: "9", DataError: "x"}),
		ev(now.Add(-3*time.Hour), core.SignalTaskSyncError, map[string]any{DataTaskID: "9", DataError: "x"}),
		ev(now.Add(-30*time.Minute), core.SignalTaskSynced, map[string]any{DataTaskID: "1"}),
		ev(now.Add(-20*time.Minute), core.SignalTaskSynced, map[string]any{DataTaskID: "2"}),
		ev(now.Add(-10*time.Minute), core.SignalIssueSyncError, map[string]any{DataIssueKey: "P-1", DataError: "x"}),
	)

	th := AlertThresholds{ErrorRatePercent: 30, ErrorWindowHours: 1}
	alerts, err := newTestAlertEngine(log, th, now).Evaluate()
	if err != nil {
		t.Fatal(err)
	}
	a := findAlert(alerts, ConditionHighErrorRate)
	if a == nil {
		t.Fatalf("expected error-rate alert, got %+v", alerts)
	}
	if a.Severity != SeverityMedium {
		t.Errorf("severity = %s", a.Severity)
	}

	th.ErrorRatePercent = 50
	alerts, _ = newTestAlertEngine(log, th, now).Evaluate()
	if findAlert(alerts, ConditionHighErrorRate) != nil {
		t.Error("33% must not trip a 50% threshold")
	}
}

func TestAlertEngine_Stale(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	th := AlertThresholds{StaleHours: 24}

	t.Run("empty log", func(t *testing.T) {
		log, _ := newTestLog(t)
		alerts, err := newTestAlertEngine(log, th, now).Evaluate()
		if err != nil {
			t.Fatal(err)
		}
		if len(alerts) != 0 {
			t.Errorf("alerts = %+v, want none", alerts)
		}
	})

	t.Run("no cycle recorded", func(t *testing.T) {
		log, _ := newTestLog(t)
		writeEvents(t, log, ev(now, core.SignalTaskSynced, map[string]any{DataTaskID: "1"}))
		alerts, _ := newTestAlertEngine(log, th, now).Evaluate()
		if a := findAlert(alerts, ConditionSyncStale); a == nil || a.Severity != SeverityLow {
			t.Errorf("alerts = %+v", alerts)
		}
	})

	t.Run("old cycle", func(t *testing.T) {
		log, _ := newTestLog(t)
		writeEvents(t, log, ev(now.Add(-25*time.Hour), core.SignalCycle, nil))
		alerts, _ := newTestAlertEngine(log, th, now).Evaluate()
		if findAlert(alerts, ConditionSyncStale) == nil {
			t.Errorf("alerts = %+v", alerts)
		}
	})

	t.Run("recent cycle", func(t *testing.T) {
		log, _ := newTestLog(t)
		writeEvents(t, log, ev(now.Add(-time.Hour), core.SignalCycle, nil))
		alerts, _ := newTestAlertEngine(log, th, now).Evaluate()
		if len(alerts) != 0 {
			t.Errorf("alerts = %+v, want none", alerts)
		}
	})
}

func TestAlertEngine_OrdersBySeverity(t *testing.T) {
	log, _ := newTestLog(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	writeEvents(t, log,
		ev(now.Add(-time.Minute), core.SignalTaskSyncError, map[string]any{DataTaskID: "1", DataError: "x"}),
	)

	alerts, err := newTestAlertEngine(log, DefaultAlertThresholds(), now).Evaluate()
	if err != nil {
		t.Fatal(err)
	}
	// One failure: below the streak threshold, 100% error rate, no cycle.
	if len(alerts) != 2 {
		t.Fatalf("alerts = %+v", alerts)
	}
	if alerts[0].Severity != SeverityMedium || alerts[1].Severity != SeverityLow {
		t.Errorf("order = %s, %s", alerts[0].Severity, alerts[1].Severity)
	}
}
