package cli

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valter-silva-au/tmsync/internal/core"
	"github.com/valter-silva-au/tmsync/internal/integration"
	"github.com/valter-silva-au/tmsync/internal/observability"
	"github.com/valter-silva-au/tmsync/internal/storage"
	"github.com/valter-silva-au/tmsync/pkg/models"
)

// TrackerPinger checks the tracker credentials.
type TrackerPinger interface {
	Ping(ctx context.Context) (*integration.Account, error)
}

// RateBudget reports the tracker rate-limit buckets.
type RateBudget interface {
	Services() []string
	Tokens(service string) float64
}

// FileWatcher is the task file watcher started by the run command.
type FileWatcher interface {
	Start(ctx context.Context) error
	Stop()
}

// Configuration, set during app initialization in app.go.
var (
	BasePath  string
	Config    *models.SyncConfig
	ConfigMgr core.ConfigurationManager
	Logger    *slog.Logger
)

// Sync service instances. Engine, SyncSvc and Tracker stay nil when the
// Jira credentials are incomplete; SyncErr then explains why.
var (
	Engine    *core.SyncEngine
	SyncSvc   core.SyncService
	Tracker   TrackerPinger
	SyncErr   error
	SyncState storage.SyncStateManager
	Watcher   FileWatcher
	Limiter   RateBudget
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
	Recorder    *observability.SignalRecorder
	Registry    *prometheus.Registry
)
