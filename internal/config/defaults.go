package config

import "path/filepath"

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultCatalogURL     = "https://cmsweb.cern.ch/phedex/datasvc/json/prod"
	defaultDBSInstance    = "prod/global"
	defaultTimeout        = "5m"
	defaultUserAgent      = "replicad"
	defaultWorkers        = 8
	defaultChunkSize      = "50TB"
	defaultHistoryFile    = "history.db"
	defaultUpdateSchedule = "@every 15m"
	defaultMetricsAddr    = "127.0.0.1:9713"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// This is both the starting point for TOML decoding (so unset fields retain
// defaults) and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			URL:         defaultCatalogURL,
			DBSInstance: defaultDBSInstance,
			Timeout:     defaultTimeout,
			UserAgent:   defaultUserAgent,
		},
		Sync: SyncConfig{Workers: defaultWorkers},
		Copy: CopyConfig{
			ChunkSize:    defaultChunkSize,
			AutoApproval: true,
		},
		Deletion: DeletionConfig{
			ChunkSize:    defaultChunkSize,
			AutoApproval: true,
		},
		History: HistoryConfig{DBPath: defaultHistoryPath()},
		Daemon: DaemonConfig{
			UpdateSchedule: defaultUpdateSchedule,
			MetricsAddr:    defaultMetricsAddr,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

func defaultHistoryPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return defaultHistoryFile
	}

	return filepath.Join(dir, defaultHistoryFile)
}
