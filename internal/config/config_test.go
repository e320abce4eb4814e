package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, defaultCatalogURL, cfg.Catalog.URL)
	assert.Equal(t, "prod/global", cfg.Catalog.DBSInstance)
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, "50TB", cfg.Copy.ChunkSize)
	assert.True(t, cfg.Copy.AutoApproval)
	assert.True(t, cfg.Deletion.AutoApproval)
	assert.False(t, cfg.Deletion.AllowTapeDeletion, "tape deletion is off by default")
	assert.False(t, cfg.Deletion.TapeAutoApproval)
	assert.Equal(t, "@every 15m", cfg.Daemon.UpdateSchedule)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "auto", cfg.Logging.LogFormat)
	assert.Contains(t, cfg.History.DBPath, defaultHistoryFile)
}

func TestDefaultConfig_Validates(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestDefaultConfig_DerivedValues(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, int64(50_000_000_000_000), cfg.Copy.ChunkBytes())
	assert.Equal(t, int64(50_000_000_000_000), cfg.Deletion.ChunkBytes())
	assert.Equal(t, "5m0s", cfg.Catalog.TimeoutDuration().String())
}
