package models

import "time"

// JiraConfig holds connection settings for the Jira tracker.
type JiraConfig struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	Email          string        `yaml:"email" mapstructure:"email"`
	APIToken       string        `yaml:"api_token" mapstructure:"api_token"`
	DefaultProject string        `yaml:"default_project" mapstructure:"default_project"`
	CrossRefField  string        `yaml:"cross_ref_field" mapstructure:"cross_ref_field"`
	APIVersion     string        `yaml:"api_version" mapstructure:"api_version"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// RateLimitConfig is a token bucket definition for one external service.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// SyncSettings controls the sync engine's behaviour.
type SyncSettings struct {
	Enabled            bool          `yaml:"enabled" mapstructure:"enabled"`
	ConflictResolution string        `yaml:"conflict_resolution" mapstructure:"conflict_resolution"`
	TagPrefixes        []string      `yaml:"tag_prefixes" mapstructure:"tag_prefixes"`
	ProjectTagPrefix   string        `yaml:"project_tag_prefix" mapstructure:"project_tag_prefix"`
	Debounce           time.Duration `yaml:"debounce" mapstructure:"debounce"`
	InitialSync        bool          `yaml:"initial_sync" mapstructure:"initial_sync"`
}

// MappingConfig overrides or extends the built-in field mapping tables.
type MappingConfig struct {
	IssueTypes          map[string]string `yaml:"issue_types,omitempty" mapstructure:"issue_types"`
	Priorities          map[string]string `yaml:"priorities,omitempty" mapstructure:"priorities"`
	StatusToTracker     map[string]string `yaml:"status_to_tracker,omitempty" mapstructure:"status_to_tracker"`
	StatusFromTracker   map[string]string `yaml:"status_from_tracker,omitempty" mapstructure:"status_from_tracker"`
	PriorityFromTracker map[string]string `yaml:"priority_from_tracker,omitempty" mapstructure:"priority_from_tracker"`
}

// RetryConfig configures exponential backoff for tracker calls.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" mapstructure:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time" mapstructure:"max_elapsed_time"`
	Multiplier      float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// CircuitBreakerConfig configures the per-service circuit breaker.
type CircuitBreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
}

// AlertConfig holds thresholds for sync alerts.
type AlertConfig struct {
	ConsecutiveFailures int `yaml:"consecutive_failures" mapstructure:"consecutive_failures"`
	ErrorRatePercent    int `yaml:"error_rate_percent" mapstructure:"error_rate_percent"`
	ErrorWindowHours    int `yaml:"error_window_hours" mapstructure:"error_window_hours"`
	StaleHours          int `yaml:"stale_hours" mapstructure:"stale_hours"`
}

// NotificationConfig holds outbound alert notification settings.
type NotificationConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url,omitempty" mapstructure:"slack_webhook_url"`
}

// LogConfig selects the log level and handler format.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SyncConfig is the single configuration value built at startup and passed
// into every component. Nothing downstream reads process state.
type SyncConfig struct {
	Jira           JiraConfig                 `yaml:"jira" mapstructure:"jira"`
	RateLimits     map[string]RateLimitConfig `yaml:"rate_limits" mapstructure:"rate_limits"`
	Sync           SyncSettings               `yaml:"sync" mapstructure:"sync"`
	Mappings       MappingConfig              `yaml:"mappings" mapstructure:"mappings"`
	Retry          RetryConfig                `yaml:"retry" mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig       `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	TasksFile      string                     `yaml:"tasks_file" mapstructure:"tasks_file"`
	EventLogPath   string                     `yaml:"event_log" mapstructure:"event_log"`
	StateFile      string                     `yaml:"state_file" mapstructure:"state_file"`
	MetricsAddr    string                     `yaml:"metrics_addr,omitempty" mapstructure:"metrics_addr"`
	Log            LogConfig                  `yaml:"log" mapstructure:"log"`
	Alerts         AlertConfig                `yaml:"alerts" mapstructure:"alerts"`
	Notifications  NotificationConfig         `yaml:"notifications" mapstructure:"notifications"`
}
