package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default study burst shape
	defaultBurstIdentifier     = "study-burst-completed"
	defaultNumberOfDays        = 14
	defaultMinimumRequiredDays = 10
	defaultExpiresLimit        = Duration(time.Hour)
	defaultTaskGroup           = "Measuring"
	defaultMotivation          = ActivityMotivation

	// Default daemon settings
	defaultRefreshSchedule = "*/15 * * * *"
	defaultListenAddr      = ":8080"
	defaultStoragePath     = "burstd.db"
	defaultTimezone        = "Local"
	defaultBridgeTimeout   = Duration(30 * time.Second)

	// Default monitoring settings
	defaultMetricsPrefix = "burstd"
	defaultJobName       = "burstd"

	// Default logging settings
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
	defaultLogOutput = "stdout"
)

// Well-known activity and report identifiers referenced by the engine.
const (
	ActivityDemographics     = "Demographics"
	ActivityEngagement       = "Engagement"
	ActivityMotivation       = "Motivation"
	ActivityStudyBurstSurvey = "StudyBurstReminder"
	ActivityTapping          = "Tapping"
	ActivityTremor           = "Tremor"
	ActivityWalkAndBalance   = "WalkAndBalance"
	ReportTaskReminder       = "TaskReminder"
	ReportOrderedTasks       = "OrderedTasks"
)

// Config represents the complete daemon configuration.
type Config struct {
	Study      StudyBurstConfig `yaml:"study_burst"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Storage    StorageConfig    `yaml:"storage"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Server     ServerConfig     `yaml:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Timezone names the location used for all calendar-day decisions.
	Timezone string `yaml:"timezone"`
}

// CompletionTask names the follow-up surveys due on a given burst day.
type CompletionTask struct {
	Day        int      `yaml:"day"`
	Activities []string `yaml:"activities"`
}

// StudyBurstConfig is the static description of a study burst: its length,
// the minimum required days, the grace window for partial credit, which task
// group constitutes the burst, and which follow-up tasks are due when.
type StudyBurstConfig struct {
	// Identifier is the activity identifier of the recurring burst marker.
	Identifier string `yaml:"identifier"`

	NumberOfDays        int           `yaml:"number_of_days"`
	MinimumRequiredDays int           `yaml:"minimum_required_days"`
	ExpiresLimit        Duration      `yaml:"expires_limit"`

	// TaskGroup names the activity group whose tasks make up a burst day;
	// Tasks are the group's member activity identifiers.
	TaskGroup  string   `yaml:"task_group"`
	Tasks      []string `yaml:"tasks"`
	Motivation string   `yaml:"motivation"`

	CompletionTasks []CompletionTask `yaml:"completion_tasks"`

	// EngagementGroups are the data-group sets used to pick engagement
	// content variants; each inner slice is one axis of the factorial design.
	EngagementGroups [][]string `yaml:"engagement_groups"`
}

// BridgeConfig holds the remote research-platform API settings.
type BridgeConfig struct {
	BaseURL      string   `yaml:"base_url"`
	SessionToken string   `yaml:"session_token"`
	StudyID      string   `yaml:"study_id"`
	Timeout      Duration `yaml:"timeout"`
}

// StorageConfig holds the local cache database settings.
type StorageConfig struct {
	// Path to the sqlite database file.
	Path string `yaml:"path"`
}

// RefreshConfig controls the periodic snapshot refresh.
type RefreshConfig struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string `yaml:"schedule"`
}

// ServerConfig holds the status HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// MonitoringConfig holds metrics push settings.
type MonitoringConfig struct {
	// RemoteWriteURL is the Prometheus remote-write endpoint. Empty disables
	// the push; local collectors still register.
	RemoteWriteURL string `yaml:"remote_write_url"`
	MetricsPrefix  string `yaml:"metrics_prefix"`
	JobName        string `yaml:"job_name"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the YAML config file at the given path, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults fills in default values for unset fields.
func (c *Config) SetDefaults() {
	if c.Study.Identifier == "" {
		c.Study.Identifier = defaultBurstIdentifier
	}
	if c.Study.NumberOfDays == 0 {
		c.Study.NumberOfDays = defaultNumberOfDays
	}
	if c.Study.MinimumRequiredDays == 0 {
		c.Study.MinimumRequiredDays = defaultMinimumRequiredDays
	}
	if c.Study.ExpiresLimit == 0 {
		c.Study.ExpiresLimit = defaultExpiresLimit
	}
	if c.Study.TaskGroup == "" {
		c.Study.TaskGroup = defaultTaskGroup
	}
	if c.Study.Tasks == nil {
		c.Study.Tasks = []string{ActivityTapping, ActivityTremor, ActivityWalkAndBalance}
	}
	if c.Study.Motivation == "" {
		c.Study.Motivation = defaultMotivation
	}
	if c.Study.CompletionTasks == nil {
		c.Study.CompletionTasks = []CompletionTask{
			{Day: 1, Activities: []string{ActivityStudyBurstSurvey, ActivityDemographics}},
			{Day: defaultNumberOfDays, Activities: []string{ActivityEngagement}},
		}
	}
	if c.Bridge.Timeout == 0 {
		c.Bridge.Timeout = defaultBridgeTimeout
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Refresh.Schedule == "" {
		c.Refresh.Schedule = defaultRefreshSchedule
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultListenAddr
	}
	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaultLogOutput
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	s := c.Study
	if s.Identifier == "" {
		return fmt.Errorf("study_burst.identifier is required")
	}
	if s.TaskGroup == "" {
		return fmt.Errorf("study_burst.task_group is required")
	}
	if len(s.Tasks) == 0 {
		return fmt.Errorf("study_burst.tasks must name at least one task")
	}
	if s.NumberOfDays <= 0 {
		return fmt.Errorf("study_burst.number_of_days must be positive, got %d", s.NumberOfDays)
	}
	if s.MinimumRequiredDays <= 0 {
		return fmt.Errorf("study_burst.minimum_required_days must be positive, got %d", s.MinimumRequiredDays)
	}
	if s.MinimumRequiredDays > s.NumberOfDays {
		return fmt.Errorf("study_burst.minimum_required_days (%d) exceeds number_of_days (%d)",
			s.MinimumRequiredDays, s.NumberOfDays)
	}
	if s.ExpiresLimit <= 0 {
		return fmt.Errorf("study_burst.expires_limit must be positive, got %s", s.ExpiresLimit)
	}
	for _, ct := range s.CompletionTasks {
		if ct.Day < 1 {
			return fmt.Errorf("study_burst.completion_tasks day must be >= 1, got %d", ct.Day)
		}
		if len(ct.Activities) == 0 {
			return fmt.Errorf("study_burst.completion_tasks for day %d has no activities", ct.Day)
		}
	}
	if c.Bridge.BaseURL == "" {
		return fmt.Errorf("bridge.base_url is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone name.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// CompletionTaskForDay returns the completion task due on the given burst
// day, or false when the day has none configured.
func (s StudyBurstConfig) CompletionTaskForDay(day int) (CompletionTask, bool) {
	for _, ct := range s.CompletionTasks {
		if ct.Day == day {
			return ct, true
		}
	}
	return CompletionTask{}, false
}
