// Package config manages application configuration from the config file,
// environment variables, and default values.
package config

import "time"

// Config defines the application configuration. Values can be set via
// config.yaml or environment variables prefixed with TGMIRROR_
// (e.g. TGMIRROR_DATABASE_PATH).
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Source    SourceConfig    `mapstructure:"source"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Export    ExportConfig    `mapstructure:"export"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig locates the SQLite message store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// SourceConfig locates the remote-source adapter input. ExportDir holds
// one Telegram Desktop JSON export file per configured scope.
type SourceConfig struct {
	ExportDir string `mapstructure:"export_dir" validate:"required"`
}

// TelegramConfig configures the optional admin bot front-end. When Enabled
// is false the token may be empty and no bot is started.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"    validate:"required_if=Enabled true"`
	AdminID int64  `mapstructure:"admin_id" validate:"required_if=Enabled true"`
}

// ScopeConfig names one synchronization unit: a chat, optionally narrowed
// to a forum topic. TopicID 0 (or negative) means the whole chat.
type ScopeConfig struct {
	ChatID  int64 `mapstructure:"chat_id" validate:"required"`
	TopicID int64 `mapstructure:"topic_id"`
}

// SyncConfig holds the reconciliation engine parameters.
type SyncConfig struct {
	Scopes           []ScopeConfig `mapstructure:"scopes"             validate:"dive"`
	NewWindowDays    int           `mapstructure:"new_window_days"    validate:"gt=0"`
	EditLookbackDays int           `mapstructure:"edit_lookback_days" validate:"gte=0"`
	BatchSize        int           `mapstructure:"batch_size"         validate:"gt=0"`
}

// ExportConfig holds artifact paths and the recognized export filters.
type ExportConfig struct {
	CSVPath   string `mapstructure:"csv_path"`
	JSONLPath string `mapstructure:"jsonl_path"`

	MinChars        int    `mapstructure:"min_chars"         validate:"gte=0"`
	SkipHashtagOnly bool   `mapstructure:"skip_hashtag_only"`
	IncludeDeleted  bool   `mapstructure:"include_deleted"`
	IncludeService  bool   `mapstructure:"include_service"`
	Dedupe          bool   `mapstructure:"dedupe"`
	DedupeKey       string `mapstructure:"dedupe_key" validate:"omitempty,oneof=content_hash text text+sender text+sender+day"`
}

// ServerConfig configures the HTTP front-end.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"             validate:"required_if=Enabled true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TaskConfig configures one scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to their cron configuration.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}
