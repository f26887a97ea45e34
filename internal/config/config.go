package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database" validate:"required"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" validate:"required"`
	Worker       WorkerConfig       `mapstructure:"worker" validate:"required"`
	Notify       NotifyConfig       `mapstructure:"notify"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// OrchestratorConfig contains the polling-loop settings.
type OrchestratorConfig struct {
	// PollInterval is the delay between polling cycles.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`
	// MaxConcurrent caps how many workers run at once.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"required,gt=0"`
	// ClaimTimeout is how long a claim may sit without progress before the
	// task is treated as orphaned and reclaimed.
	ClaimTimeout time.Duration `mapstructure:"claim_timeout" validate:"required"`
	// MessageTimeout is how long a message may sit in processing before it
	// is returned to pending.
	MessageTimeout time.Duration `mapstructure:"message_timeout" validate:"required"`
	// MessageBatch is the maximum number of messages pumped per cycle.
	MessageBatch int `mapstructure:"message_batch" validate:"required,gt=0"`
	// RetryBackoff is the base delay before a failed task becomes claimable
	// again; it grows exponentially with the retry count.
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"required"`
	// TaskTimeout is the wall-clock limit for one worker attempt. Workers
	// still running past it are killed and the attempt is failed, even if
	// they keep reporting progress.
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"required"`
	// ArchiveInterval is how often terminal rows are moved to the archive
	// tables. Zero disables archival.
	ArchiveInterval time.Duration `mapstructure:"archive_interval"`
	// RetentionPeriod is how long terminal rows stay in the hot tables.
	RetentionPeriod time.Duration `mapstructure:"retention_period"`
	// CascadeFailures controls whether a terminal task failure also fails
	// all transitive dependents. Off by default: dependents stay pending
	// and blocked, available for manual intervention.
	CascadeFailures bool `mapstructure:"cascade_failures"`
}

// WorkerConfig contains the settings for spawned worker processes.
type WorkerConfig struct {
	// Command is the external command a worker runs to execute a task. The
	// task description is appended to the arguments and the task context is
	// supplied on stdin.
	Command string `mapstructure:"command" validate:"required,min=1"`
	// Args are fixed arguments passed to the command before the task
	// description.
	Args []string `mapstructure:"args"`
	// WorkDir is the working directory for spawned workers. Empty means the
	// orchestrator's working directory.
	WorkDir string `mapstructure:"work_dir"`
}

// NotifyConfig contains the notification delivery settings.
type NotifyConfig struct {
	// RedisURL is the redis connection string used for channel delivery.
	// Empty disables redis delivery; notifications are logged instead.
	RedisURL string `mapstructure:"redis_url" validate:"omitempty,url"`
	// SweepBatch is the maximum number of notifications delivered per sweep.
	SweepBatch int `mapstructure:"sweep_batch" validate:"omitempty,gt=0"`
}
