package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load loads and validates configuration from:
// 1. Default values
// 2. The config file (configPath, or ./config.yaml when empty)
// 3. TGMIRROR_* environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Setup environment variables
	v.SetEnvPrefix("TGMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow missing config file only when no explicit path was given
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for optional configuration parameters
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	// Database defaults
	v.SetDefault("database.path", DefaultDBPath)

	v.SetDefault("source.export_dir", DefaultSourceExportDir)

	// Sync defaults
	v.SetDefault("sync.new_window_days", DefaultNewWindowDays)
	v.SetDefault("sync.edit_lookback_days", DefaultEditLookbackDays)
	v.SetDefault("sync.batch_size", DefaultBatchSize)

	// Export defaults
	v.SetDefault("export.csv_path", DefaultCSVPath)
	v.SetDefault("export.jsonl_path", DefaultJSONLPath)
	v.SetDefault("export.dedupe_key", DefaultDedupeKey)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.shutdown_timeout", DefaultServerShutdownTimeout)

	// Scheduler defaults
	v.SetDefault("scheduler.tasks.sync.enabled", true)
	v.SetDefault("scheduler.tasks.sync.schedule", DefaultSyncSchedule)
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", DefaultMaintenanceSchedule)
}
