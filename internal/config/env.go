package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "REPLICAD_CONFIG"
	EnvCatalogURL = "REPLICAD_CATALOG_URL"
	EnvHistoryDB  = "REPLICAD_HISTORY_DB"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // REPLICAD_CONFIG: override config file path
	CatalogURL string // REPLICAD_CATALOG_URL: catalog service base URL
	HistoryDB  string // REPLICAD_HISTORY_DB: history database path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		CatalogURL: os.Getenv(EnvCatalogURL),
		HistoryDB:  os.Getenv(EnvHistoryDB),
	}
}
