// Package internal provides the App struct that wires all components of
// tmsync together and initializes the CLI layer.
package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valter-silva-au/tmsync/internal/cli"
	"github.com/valter-silva-au/tmsync/internal/core"
	"github.com/valter-silva-au/tmsync/internal/integration"
	"github.com/valter-silva-au/tmsync/internal/observability"
	"github.com/valter-silva-au/tmsync/internal/storage"
	"github.com/valter-silva-au/tmsync/pkg/models"
)

// HomeEnv overrides the base path holding .tmsync.yaml.
const HomeEnv = "TMSYNC_HOME"

// App holds all service dependencies for tmsync.
type App struct {
	BasePath string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.SyncConfig
	Logger    *slog.Logger

	// Storage layer
	Store     *storage.TaskMasterStore
	Watcher   *storage.TaskFileWatcher
	SyncState storage.SyncStateManager

	// Integration services. Nil when SyncErr is set.
	Limiter  *integration.RateLimiter
	Breakers *integration.CircuitBreakerRegistry
	Jira     *integration.JiraClient

	// Core services. Nil when SyncErr is set.
	Engine  *core.SyncEngine
	SyncSvc core.SyncService
	SyncErr error

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
	Registry    *prometheus.Registry
	Collectors  *observability.SyncCollectors
	Recorder    *observability.SignalRecorder
}

// NewApp creates and wires all components. basePath is the directory
// holding .tmsync.yaml; relative paths in the configuration resolve
// against it.
//
// Read-only commands work without Jira credentials: when the configuration
// is invalid or incomplete the sync services stay nil and SyncErr records
// why.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	app.Config = cfg
	app.Logger = observability.NewLogger(cfg.Log, os.Stderr)

	// --- Storage layer ---
	app.Watcher, err = storage.NewTaskFileWatcher(cfg.TasksFile, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating task file watcher: %w", err)
	}
	app.Store = storage.NewTaskMasterStore(cfg.TasksFile, app.Watcher)
	app.SyncState = storage.NewSyncStateManager(cfg.StateFile)
	if err := app.SyncState.Load(); err != nil {
		return nil, err
	}

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(cfg.EventLogPath)
	if err != nil {
		// Non-fatal: run without an audit trail.
		app.Logger.Warn("event log disabled", "path", cfg.EventLogPath, "error", err)
		app.EventLog = nil
	}
	if app.EventLog != nil {
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, observability.ThresholdsFromConfig(cfg.Alerts))
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if cfg.Notifications.SlackWebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.Notifications.SlackWebhookURL)
	}

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Collectors, err = observability.NewSyncCollectors(app.Registry, app.activeLocks)
	if err != nil {
		return nil, fmt.Errorf("registering sync collectors: %w", err)
	}
	app.Recorder = observability.NewSignalRecorder(app.EventLog, app.Collectors, app.Logger)

	// --- Sync services ---
	if err := app.initSync(); err != nil {
		app.SyncErr = err
		app.Logger.Debug("sync services disabled", "error", err)
	}

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = cfg
	cli.ConfigMgr = app.ConfigMgr
	cli.Logger = app.Logger

	cli.Engine = app.Engine
	cli.SyncSvc = app.SyncSvc
	cli.SyncErr = app.SyncErr
	cli.SyncState = app.SyncState
	cli.Watcher = app.Watcher
	cli.Limiter = nil
	if app.Limiter != nil {
		cli.Limiter = app.Limiter
	}
	// Keep cli.Tracker a nil interface rather than a typed nil pointer.
	cli.Tracker = nil
	if app.Jira != nil {
		cli.Tracker = app.Jira
	}

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier
	cli.Recorder = app.Recorder
	cli.Registry = app.Registry

	return app, nil
}

// initSync builds the Jira gateway, the engine and the sync service.
func (a *App) initSync() error {
	cfg := a.Config
	if err := a.ConfigMgr.ValidateConfig(cfg); err != nil {
		return err
	}
	if err := core.ValidateTrackerConfig(cfg); err != nil {
		return err
	}

	a.Limiter = integration.NewRateLimiter(cfg.RateLimits)
	a.Breakers = integration.NewCircuitBreakerRegistry(cfg.CircuitBreaker, a.Logger)

	jira, err := integration.NewJiraClient(cfg.Jira, integration.JiraClientOptions{
		Retry:    cfg.Retry,
		Breakers: a.Breakers,
		Logger:   a.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating jira client: %w", err)
	}

	engine, err := core.NewSyncEngine(cfg, core.EngineDeps{
		Tracker:  jira,
		Store:    a.Store,
		Limiter:  a.Limiter,
		Recorder: a.SyncState,
		Logger:   a.Logger,
	})
	if err != nil {
		return err
	}

	a.Jira = jira
	a.Engine = engine
	a.SyncSvc = core.NewSyncService(engine, a.Store, jira)
	return nil
}

// activeLocks reports the number of held sync locks for the Prometheus gauge.
func (a *App) activeLocks() int {
	if a.Engine == nil {
		return 0
	}
	return len(a.Engine.Locks().Active())
}

// Close stops the engine and the watcher and releases the event log file
// handle. It is safe to call on an App whose services are nil.
func (a *App) Close() error {
	if a.Engine != nil {
		a.Engine.Stop()
		a.Engine.Bus().Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	} else if a.Watcher != nil {
		a.Watcher.Stop()
	}
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// ResolveBasePath determines the directory holding .tmsync.yaml. It checks
// the TMSYNC_HOME env var, then walks up from the current directory looking
// for .tmsync.yaml or a .taskmaster directory, then falls back to the
// current directory.
func ResolveBasePath() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	cwd := dir
	for {
		if exists(filepath.Join(dir, core.ConfigFileName+".yaml")) || exists(filepath.Join(dir, ".taskmaster")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
