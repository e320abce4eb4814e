// Package config implements TOML configuration loading, validation, and
// path resolution for replicad. It supports a four-layer override chain
// (defaults -> config file -> environment -> CLI flags).
package config

// Config is the top-level configuration structure parsed from a TOML file.
// Every option lives in a named section.
type Config struct {
	Catalog  CatalogConfig  `toml:"catalog"`
	Sync     SyncConfig     `toml:"sync"`
	Copy     CopyConfig     `toml:"copy"`
	Deletion DeletionConfig `toml:"deletion"`
	History  HistoryConfig  `toml:"history"`
	Daemon   DaemonConfig   `toml:"daemon"`
	Logging  LoggingConfig  `toml:"logging"`
}

// CatalogConfig locates the transfer catalog service.
type CatalogConfig struct {
	URL         string `toml:"url"`
	DBSInstance string `toml:"dbs_instance"`
	Timeout     string `toml:"timeout"`
	UserAgent   string `toml:"user_agent"`
}

// SyncConfig controls reconciliation: parallelism and the admission
// patterns for sites and datasets. Exclusions win over inclusions; an empty
// inclusion list admits everything.
type SyncConfig struct {
	Workers          int      `toml:"workers"`
	AllowedSites     []string `toml:"allowed_sites"`
	ExcludedSites    []string `toml:"excluded_sites"`
	AllowedDatasets  []string `toml:"allowed_datasets"`
	ExcludedDatasets []string `toml:"excluded_datasets"`
}

// CopyConfig controls transfer subscriptions.
type CopyConfig struct {
	ChunkSize    string `toml:"chunk_size"`
	AutoApproval bool   `toml:"auto_approval"`
	ReadOnly     bool   `toml:"read_only"`
}

// DeletionConfig controls deletion requests. Tape sites are protected
// unless allow_tape_deletion is set.
type DeletionConfig struct {
	ChunkSize         string `toml:"chunk_size"`
	AutoApproval      bool   `toml:"auto_approval"`
	AllowTapeDeletion bool   `toml:"allow_tape_deletion"`
	TapeAutoApproval  bool   `toml:"tape_auto_approval"`
	ReadOnly          bool   `toml:"read_only"`
}

// HistoryConfig locates the request history database.
type HistoryConfig struct {
	DBPath string `toml:"db_path"`
}

// DaemonConfig controls the serve command.
type DaemonConfig struct {
	UpdateSchedule string `toml:"update_schedule"`
	MetricsAddr    string `toml:"metrics_addr"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	CatalogURL string  // --catalog-url flag
	ReadOnly   *bool   // --read-only flag, applies to copy and deletion
	LogLevel   *string // --log-level flag
}
