package config

import "time"

// Default values for configuration
const (
	// Log defaults
	DefaultLogLevel = "info"
	DefaultLogJSON  = false

	// Database defaults
	DefaultDBPath = "telegram_messages.db"

	// Source defaults
	DefaultSourceExportDir = "telegram_export"

	// Sync defaults
	DefaultNewWindowDays    = 30
	DefaultEditLookbackDays = 30
	DefaultBatchSize        = 300

	// Export defaults
	DefaultCSVPath   = "telegram_messages.csv"
	DefaultJSONLPath = "telegram_messages.jsonl"
	DefaultDedupeKey = "content_hash"

	// Server defaults
	DefaultServerAddr            = ":8001"
	DefaultServerShutdownTimeout = 10 * time.Second

	// Scheduler defaults
	DefaultSyncSchedule        = "0 * * * *"
	DefaultMaintenanceSchedule = "0 4 * * 0"
)
