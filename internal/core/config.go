// Package core contains the sync engine for tmsync: field mapping between
// TaskMaster tasks and Jira issues, tag classification, sync locks, the
// signal bus and configuration.
package core

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/tmsync/pkg/models"
)

// ConfigFileName is the configuration file name without extension.
const ConfigFileName = ".tmsync"

// EnvPrefix is the prefix for environment overrides, e.g. TMSYNC_JIRA_API_TOKEN.
const EnvPrefix = "TMSYNC"

// ConflictLastWriteWins is the only supported conflict resolution strategy.
const ConflictLastWriteWins = "last-write-wins"

// ConfigurationManager loads and validates the tmsync configuration.
type ConfigurationManager interface {
	LoadConfig() (*models.SyncConfig, error)
	ValidateConfig(cfg *models.SyncConfig) error
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading the .tmsync.yaml file and TMSYNC_* environment variables.
type viperConfigManager struct {
	// basePath is the directory holding .tmsync.yaml. Relative file paths in
	// the configuration are resolved against it.
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager rooted at basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultRateLimits returns the built-in token bucket definitions.
func DefaultRateLimits() map[string]models.RateLimitConfig {
	return map[string]models.RateLimitConfig{
		"jira":        {RequestsPerSecond: 10, Burst: 20},
		"confluence":  {RequestsPerSecond: 5, Burst: 10},
		"servicedesk": {RequestsPerSecond: 5, Burst: 10},
	}
}

// DefaultConfig returns a SyncConfig populated with defaults.
func DefaultConfig() *models.SyncConfig {
	return &models.SyncConfig{
		Jira: models.JiraConfig{
			DefaultProject: DefaultProjectKey,
			CrossRefField:  "customfield_10000",
			APIVersion:     "2",
			Timeout:        30 * time.Second,
		},
		RateLimits: DefaultRateLimits(),
		Sync: models.SyncSettings{
			Enabled:            true,
			ConflictResolution: ConflictLastWriteWins,
			TagPrefixes:        append([]string(nil), DefaultSyncTagPrefixes...),
			ProjectTagPrefix:   DefaultProjectTagPrefix,
			Debounce:           DefaultDebounce,
			InitialSync:        true,
		},
		Retry: models.RetryConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			MaxElapsedTime:  time.Minute,
			Multiplier:      2,
		},
		CircuitBreaker: models.CircuitBreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
		},
		TasksFile:    filepath.Join(".taskmaster", "tasks", "tasks.json"),
		EventLogPath: ".tmsync_events.jsonl",
		StateFile:    ".tmsync_state.yaml",
		Log:          models.LogConfig{Level: "info", Format: "text"},
		Alerts: models.AlertConfig{
			ConsecutiveFailures: 3,
			ErrorRatePercent:    20,
			ErrorWindowHours:    1,
			StaleHours:          24,
		},
	}
}

// LoadConfig reads .tmsync.yaml from the base path and applies TMSYNC_*
// environment overrides. A missing file yields the defaults.
func (cm *viperConfigManager) LoadConfig() (*models.SyncConfig, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set Viper defaults so missing keys fall back and env overrides resolve.
	v.SetDefault("jira.base_url", "")
	v.SetDefault("jira.email", "")
	v.SetDefault("jira.api_token", "")
	v.SetDefault("jira.default_project", cfg.Jira.DefaultProject)
	v.SetDefault("jira.cross_ref_field", cfg.Jira.CrossRefField)
	v.SetDefault("jira.api_version", cfg.Jira.APIVersion)
	v.SetDefault("jira.timeout", cfg.Jira.Timeout)
	for service, rl := range cfg.RateLimits {
		v.SetDefault("rate_limits."+service+".requests_per_second", rl.RequestsPerSecond)
		v.SetDefault("rate_limits."+service+".burst", rl.Burst)
	}
	v.SetDefault("sync.enabled", cfg.Sync.Enabled)
	v.SetDefault("sync.conflict_resolution", cfg.Sync.ConflictResolution)
	v.SetDefault("sync.tag_prefixes", cfg.Sync.TagPrefixes)
	v.SetDefault("sync.project_tag_prefix", cfg.Sync.ProjectTagPrefix)
	v.SetDefault("sync.debounce", cfg.Sync.Debounce)
	v.SetDefault("sync.initial_sync", cfg.Sync.InitialSync)
	v.SetDefault("retry.initial_interval", cfg.Retry.InitialInterval)
	v.SetDefault("retry.max_interval", cfg.Retry.MaxInterval)
	v.SetDefault("retry.max_elapsed_time", cfg.Retry.MaxElapsedTime)
	v.SetDefault("retry.multiplier", cfg.Retry.Multiplier)
	v.SetDefault("circuit_breaker.consecutive_failures", cfg.CircuitBreaker.ConsecutiveFailures)
	v.SetDefault("circuit_breaker.open_timeout", cfg.CircuitBreaker.OpenTimeout)
	v.SetDefault("taskmaster.tasks_file", cfg.TasksFile)
	v.SetDefault("observability.event_log", cfg.EventLogPath)
	v.SetDefault("observability.state_file", cfg.StateFile)
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("alerts.consecutive_failures", cfg.Alerts.ConsecutiveFailures)
	v.SetDefault("alerts.error_rate_percent", cfg.Alerts.ErrorRatePercent)
	v.SetDefault("alerts.error_window_hours", cfg.Alerts.ErrorWindowHours)
	v.SetDefault("alerts.stale_hours", cfg.Alerts.StaleHours)
	v.SetDefault("notifications.slack.webhook_url", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading %s.yaml: %w", ConfigFileName, err)
		}
	}

	cfg.Jira = models.JiraConfig{
		BaseURL:        strings.TrimRight(v.GetString("jira.base_url"), "/"),
		Email:          v.GetString("jira.email"),
		APIToken:       v.GetString("jira.api_token"),
		DefaultProject: strings.ToUpper(v.GetString("jira.default_project")),
		CrossRefField:  v.GetString("jira.cross_ref_field"),
		APIVersion:     v.GetString("jira.api_version"),
		Timeout:        v.GetDuration("jira.timeout"),
	}

	// Services named in the file extend the built-in set.
	for service := range v.GetStringMap("rate_limits") {
		if _, ok := cfg.RateLimits[service]; !ok {
			cfg.RateLimits[service] = models.RateLimitConfig{}
		}
	}
	for service := range cfg.RateLimits {
		prefix := "rate_limits." + service + "."
		cfg.RateLimits[service] = models.RateLimitConfig{
			RequestsPerSecond: v.GetFloat64(prefix + "requests_per_second"),
			Burst:             v.GetInt(prefix + "burst"),
		}
	}

	cfg.Sync = models.SyncSettings{
		Enabled:            v.GetBool("sync.enabled"),
		ConflictResolution: v.GetString("sync.conflict_resolution"),
		TagPrefixes:        v.GetStringSlice("sync.tag_prefixes"),
		ProjectTagPrefix:   v.GetString("sync.project_tag_prefix"),
		Debounce:           v.GetDuration("sync.debounce"),
		InitialSync:        v.GetBool("sync.initial_sync"),
	}

	cfg.Mappings = models.MappingConfig{
		IssueTypes:          nonEmptyMap(v.GetStringMapString("mappings.issue_types")),
		Priorities:          nonEmptyMap(v.GetStringMapString("mappings.priorities")),
		StatusToTracker:     nonEmptyMap(v.GetStringMapString("mappings.status_to_tracker")),
		StatusFromTracker:   nonEmptyMap(v.GetStringMapString("mappings.status_from_tracker")),
		PriorityFromTracker: nonEmptyMap(v.GetStringMapString("mappings.priority_from_tracker")),
	}

	cfg.Retry = models.RetryConfig{
		InitialInterval: v.GetDuration("retry.initial_interval"),
		MaxInterval:     v.GetDuration("retry.max_interval"),
		MaxElapsedTime:  v.GetDuration("retry.max_elapsed_time"),
		Multiplier:      v.GetFloat64("retry.multiplier"),
	}
	cfg.CircuitBreaker = models.CircuitBreakerConfig{
		ConsecutiveFailures: v.GetUint32("circuit_breaker.consecutive_failures"),
		OpenTimeout:         v.GetDuration("circuit_breaker.open_timeout"),
	}

	cfg.TasksFile = cm.resolve(v.GetString("taskmaster.tasks_file"))
	cfg.EventLogPath = cm.resolve(v.GetString("observability.event_log"))
	cfg.StateFile = cm.resolve(v.GetString("observability.state_file"))
	cfg.MetricsAddr = v.GetString("metrics.listen_addr")
	cfg.Log = models.LogConfig{
		Level:  strings.ToLower(v.GetString("log.level")),
		Format: strings.ToLower(v.GetString("log.format")),
	}
	cfg.Alerts = models.AlertConfig{
		ConsecutiveFailures: v.GetInt("alerts.consecutive_failures"),
		ErrorRatePercent:    v.GetInt("alerts.error_rate_percent"),
		ErrorWindowHours:    v.GetInt("alerts.error_window_hours"),
		StaleHours:          v.GetInt("alerts.stale_hours"),
	}
	cfg.Notifications = models.NotificationConfig{
		SlackWebhookURL: v.GetString("notifications.slack.webhook_url"),
	}

	return cfg, nil
}

// resolve makes a configured path absolute relative to the base path.
func (cm *viperConfigManager) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cm.basePath, path)
}

func nonEmptyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"text": true, "json": true}

// ValidateConfig checks the configuration for invalid values and reports
// every problem in a single error.
func (cm *viperConfigManager) ValidateConfig(cfg *models.SyncConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.Jira.BaseURL != "" {
		u, err := url.Parse(cfg.Jira.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("jira.base_url %q is not an absolute URL", cfg.Jira.BaseURL))
		}
	}
	if cfg.Jira.APIVersion != "2" && cfg.Jira.APIVersion != "3" {
		errs = append(errs, fmt.Sprintf("jira.api_version %q is invalid, must be 2 or 3", cfg.Jira.APIVersion))
	}
	if cfg.Jira.DefaultProject == "" {
		errs = append(errs, "jira.default_project must not be empty")
	}
	if cfg.Jira.CrossRefField != "" && !strings.HasPrefix(cfg.Jira.CrossRefField, "customfield_") {
		errs = append(errs, fmt.Sprintf("jira.cross_ref_field %q must start with customfield_", cfg.Jira.CrossRefField))
	}
	if cfg.Jira.Timeout < 0 {
		errs = append(errs, "jira.timeout must not be negative")
	}

	for service, rl := range cfg.RateLimits {
		if rl.RequestsPerSecond <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limits.%s.requests_per_second must be positive, got %g", service, rl.RequestsPerSecond))
		}
		if rl.Burst < 1 {
			errs = append(errs, fmt.Sprintf("rate_limits.%s.burst must be at least 1, got %d", service, rl.Burst))
		}
	}

	if cfg.Sync.ConflictResolution != ConflictLastWriteWins {
		errs = append(errs, fmt.Sprintf("sync.conflict_resolution %q is not supported, must be %s", cfg.Sync.ConflictResolution, ConflictLastWriteWins))
	}
	if len(cfg.Sync.TagPrefixes) == 0 {
		errs = append(errs, "sync.tag_prefixes must not be empty")
	}
	for _, p := range cfg.Sync.TagPrefixes {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, "sync.tag_prefixes must not contain empty prefixes")
			break
		}
	}
	if cfg.Sync.ProjectTagPrefix == "" {
		errs = append(errs, "sync.project_tag_prefix must not be empty")
	}
	if cfg.Sync.Debounce < 0 {
		errs = append(errs, "sync.debounce must not be negative")
	}

	if cfg.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Sprintf("retry.multiplier must be at least 1, got %g", cfg.Retry.Multiplier))
	}
	if cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		errs = append(errs, "retry.max_interval must not be less than retry.initial_interval")
	}
	if cfg.CircuitBreaker.ConsecutiveFailures == 0 {
		errs = append(errs, "circuit_breaker.consecutive_failures must be at least 1")
	}

	if cfg.TasksFile == "" {
		errs = append(errs, "taskmaster.tasks_file must not be empty")
	}
	if !validLogLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level %q is invalid, must be one of: debug, info, warn, error", cfg.Log.Level))
	}
	if !validLogFormats[cfg.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format %q is invalid, must be text or json", cfg.Log.Format))
	}
	if cfg.Alerts.ConsecutiveFailures < 1 {
		errs = append(errs, "alerts.consecutive_failures must be at least 1")
	}
	if cfg.Alerts.ErrorRatePercent < 0 || cfg.Alerts.ErrorRatePercent > 100 {
		errs = append(errs, fmt.Sprintf("alerts.error_rate_percent %d must be between 0 and 100", cfg.Alerts.ErrorRatePercent))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateTrackerConfig checks that the Jira credentials needed to talk to
// the tracker are present. Read-only commands do not require them.
func ValidateTrackerConfig(cfg *models.SyncConfig) error {
	var errs []string
	if cfg.Jira.BaseURL == "" {
		errs = append(errs, "jira.base_url is required")
	}
	if cfg.Jira.Email == "" {
		errs = append(errs, "jira.email is required")
	}
	if cfg.Jira.APIToken == "" {
		errs = append(errs, "jira.api_token is required (or set TMSYNC_JIRA_API_TOKEN)")
	}
	if len(errs) > 0 {
		return &ValidationError{Field: "jira", Reason: strings.Join(errs, "; ")}
	}
	return nil
}
