package cli

import (
	"bytes"
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/tmsync/internal/core"
	"github.com/valter-silva-au/tmsync/internal/integration"
	"github.com/valter-silva-au/tmsync/internal/observability"
	"github.com/valter-silva-au/tmsync/pkg/models"
)

// execRunE runs cmd.RunE with its output captured.
func execRunE(cmd *cobra.Command, args ...string) (string, error) {
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	defer cmd.SetOut(nil)
	err := cmd.RunE(cmd, args)
	return buf.String(), err
}

type fakeSyncService struct {
	taskTag   string
	taskErr   error
	tagResult core.TagSyncResult
	tagErr    error
	issueErr  error
	all       []core.TagSyncResult
	allErr    error

	calls []string
}

func (f *fakeSyncService) SyncTask(_ context.Context, id string) (string, error) {
	f.calls = append(f.calls, "task:"+id)
	return f.taskTag, f.taskErr
}

func (f *fakeSyncService) SyncTag(_ context.Context, tag string) (core.TagSyncResult, error) {
	f.calls = append(f.calls, "tag:"+tag)
	r := f.tagResult
	r.Tag = tag
	return r, f.tagErr
}

func (f *fakeSyncService) SyncIssue(_ context.Context, key string) error {
	f.calls = append(f.calls, "issue:"+key)
	return f.issueErr
}

func (f *fakeSyncService) SyncAll(_ context.Context) ([]core.TagSyncResult, error) {
	f.calls = append(f.calls, "all")
	return f.all, f.allErr
}

type metricsMock struct {
	calcFn func(since time.Time) (*observability.Metrics, error)
}

func (m *metricsMock) Calculate(since time.Time) (*observability.Metrics, error) {
	return m.calcFn(since)
}

type alertsMock struct {
	evaluateFn func() ([]observability.Alert, error)
}

func (m *alertsMock) Evaluate() ([]observability.Alert, error) {
	return m.evaluateFn()
}

type notifierMock struct {
	notifyFn func(alerts []observability.Alert) error
}

func (m *notifierMock) Notify(_ context.Context, alerts []observability.Alert) error {
	return m.notifyFn(alerts)
}

type pingerMock struct {
	account *integration.Account
	err     error
}

func (m *pingerMock) Ping(_ context.Context) (*integration.Account, error) {
	return m.account, m.err
}

// nopTracker answers every lookup with not found and creates nothing.
type nopTracker struct{}

func (nopTracker) FindIssueByTaskID(_ context.Context, taskID string) (*models.Issue, error) {
	return nil, &core.NotFoundError{Kind: "issue", ID: taskID}
}

func (nopTracker) CreateIssue(_ context.Context, _ models.IssuePayload) (*models.Issue, error) {
	return &models.Issue{Key: "NOP-1"}, nil
}

func (nopTracker) UpdateIssue(_ context.Context, _ string, _ models.IssuePayload) error { return nil }

func (nopTracker) TransitionIssueStatus(_ context.Context, _, _ string) error { return nil }

func (nopTracker) ExtractCrossReference(_ *models.Issue) string { return "" }
