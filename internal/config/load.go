package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix namespaces every environment variable read by Load, for example
// OUTRIDER_DATABASE_URL or OUTRIDER_ORCHESTRATOR_POLL_INTERVAL.
const envPrefix = "OUTRIDER"

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file in the working directory.
	v.SetConfigName("outrider")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is a real error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every configuration key with viper. Keys without a
// meaningful default get the zero value so AutomaticEnv can bind them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")

	v.SetDefault("orchestrator.poll_interval", 5*time.Second)
	v.SetDefault("orchestrator.max_concurrent", 4)
	v.SetDefault("orchestrator.claim_timeout", 30*time.Minute)
	v.SetDefault("orchestrator.message_timeout", 10*time.Minute)
	v.SetDefault("orchestrator.message_batch", 10)
	v.SetDefault("orchestrator.retry_backoff", 30*time.Second)
	v.SetDefault("orchestrator.task_timeout", time.Hour)
	v.SetDefault("orchestrator.archive_interval", time.Hour)
	v.SetDefault("orchestrator.retention_period", 7*24*time.Hour)
	v.SetDefault("orchestrator.cascade_failures", false)

	v.SetDefault("worker.command", "")
	v.SetDefault("worker.args", []string{})
	v.SetDefault("worker.work_dir", "")

	v.SetDefault("notify.redis_url", "")
	v.SetDefault("notify.sweep_batch", 50)
}
