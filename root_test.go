package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/replicad/internal/blockid"
	"github.com/tonimelisma/replicad/internal/config"
	"github.com/tonimelisma/replicad/internal/inventory"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"sync", "sites", "exists", "copy", "delete", "history", "status", "serve", "reload"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestBuildLogger(t *testing.T) {
	tests := []struct {
		name      string
		lc        config.LoggingConfig
		flags     CLIFlags
		terminal  bool
		wantLevel slog.Level
		wantJSON  bool
	}{
		{"defaults on terminal", config.LoggingConfig{LogLevel: "info", LogFormat: "auto"}, CLIFlags{}, true, slog.LevelInfo, false},
		{"auto off terminal", config.LoggingConfig{LogLevel: "info", LogFormat: "auto"}, CLIFlags{}, false, slog.LevelInfo, true},
		{"explicit text", config.LoggingConfig{LogLevel: "warn", LogFormat: "text"}, CLIFlags{}, false, slog.LevelWarn, false},
		{"explicit json", config.LoggingConfig{LogLevel: "error", LogFormat: "json"}, CLIFlags{}, true, slog.LevelError, true},
		{"verbose overrides", config.LoggingConfig{LogLevel: "error", LogFormat: "text"}, CLIFlags{Verbose: true}, true, slog.LevelDebug, false},
		{"quiet overrides", config.LoggingConfig{LogLevel: "debug", LogFormat: "text"}, CLIFlags{Quiet: true}, true, slog.LevelError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			logger := buildLogger(&buf, tt.lc, tt.flags, tt.terminal)

			ctx := context.Background()
			assert.True(t, logger.Enabled(ctx, tt.wantLevel))
			if tt.wantLevel > slog.LevelDebug {
				assert.False(t, logger.Enabled(ctx, tt.wantLevel-1))
			}

			logger.Log(ctx, tt.wantLevel, "probe")
			assert.Equal(t, tt.wantJSON, json.Valid(bytes.TrimSpace(buf.Bytes())), buf.String())
		})
	}
}

func TestParseSince(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{"unix seconds", "1600000000", 1600000000, false},
		{"zero", "0", 0, false},
		{"duration", "24h", 1700000000 - 86400, false},
		{"minutes", "90m", 1700000000 - 5400, false},
		{"negative unix", "-5", 0, true},
		{"negative duration", "-1h", 0, true},
		{"garbage", "yesterday", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSince(tt.in, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeSites []*inventory.Site

func (f fakeSites) Sites(context.Context) ([]*inventory.Site, error) {
	if f == nil {
		return nil, errors.New("catalog down")
	}

	return f, nil
}

func TestAdmittedSite(t *testing.T) {
	tape := &inventory.Site{Name: "T1_US_FNAL_MSS", Storage: inventory.StorageTape}
	sites := fakeSites{inventory.NewSite("T2_CH_CERN"), tape}

	got, err := admittedSite(context.Background(), sites, "T1_US_FNAL_MSS")
	require.NoError(t, err)
	assert.Same(t, tape, got)

	_, err = admittedSite(context.Background(), sites, "T3_NOWHERE")
	assert.ErrorContains(t, err, "not admitted")

	_, err = admittedSite(context.Background(), fakeSites(nil), "T2_CH_CERN")
	assert.ErrorContains(t, err, "catalog down")
}

func testDataset(t *testing.T) *inventory.Dataset {
	t.Helper()

	ds, err := inventory.NewDataset("/A/B/RAW")
	require.NoError(t, err)

	ds.AddBlock(blockid.New(0, 1), 100)
	ds.AddBlock(blockid.New(0, 2), 200)
	ds.Size = 300

	return ds
}

func TestLookupBlocks(t *testing.T) {
	ds := testDataset(t)
	b1 := ds.FindBlock(blockid.New(0, 1))

	t.Run("found", func(t *testing.T) {
		got, err := lookupBlocks(ds, []string{b1.FullName()})
		require.NoError(t, err)
		assert.Equal(t, []*inventory.Block{b1}, got)
	})

	t.Run("other dataset", func(t *testing.T) {
		_, err := lookupBlocks(ds, []string{blockid.FullName("/C/D/RAW", blockid.New(0, 1))})
		assert.ErrorContains(t, err, "not in dataset")
	})

	t.Run("unknown block", func(t *testing.T) {
		_, err := lookupBlocks(ds, []string{blockid.FullName(ds.Name, blockid.New(0, 9))})
		assert.ErrorContains(t, err, "unknown to the catalog")
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := lookupBlocks(ds, []string{"no-separator"})
		assert.Error(t, err)
	})
}

func TestDeletionFor(t *testing.T) {
	ds := testDataset(t)
	site := &inventory.Site{Name: "T2_CH_CERN", Storage: inventory.StorageDisk}
	b1 := ds.FindBlock(blockid.New(0, 1))
	b2 := ds.FindBlock(blockid.New(0, 2))

	existing := []*inventory.BlockReplica{
		inventory.NewBlockReplica(b1, inventory.NewSite(site.Name), nil),
	}

	t.Run("whole dataset", func(t *testing.T) {
		del, err := deletionFor(ds, site, existing, nil)
		require.NoError(t, err)
		assert.Nil(t, del.Blocks)
		assert.Same(t, site, del.Replica.Site)
		assert.Len(t, del.Replica.BlockReplicas, 1)
	})

	t.Run("named block", func(t *testing.T) {
		del, err := deletionFor(ds, site, existing, []string{b1.FullName()})
		require.NoError(t, err)
		require.Len(t, del.Blocks, 1)
		assert.Same(t, existing[0], del.Blocks[0])
	})

	t.Run("block not at site", func(t *testing.T) {
		_, err := deletionFor(ds, site, existing, []string{b2.FullName()})
		assert.ErrorContains(t, err, "has no replica at T2_CH_CERN")
	})
}

func TestCopyViews(t *testing.T) {
	ds := testDataset(t)
	site := inventory.NewSite("T2_CH_CERN")

	growing := inventory.NewDatasetReplica(ds, site, true)

	partial := inventory.NewDatasetReplica(ds, site, false)
	partial.AddBlockReplica(inventory.NewBlockReplica(ds.FindBlock(blockid.New(0, 2)), site, nil))

	views := copyViews([]*inventory.DatasetReplica{growing, partial})
	require.Len(t, views, 2)

	assert.Equal(t, "dataset", views[0].Level)
	assert.Equal(t, int64(300), views[0].Size)

	assert.Equal(t, "block", views[1].Level)
	assert.Equal(t, int64(200), views[1].Size)
	assert.Equal(t, []string{blockid.FullName(ds.Name, blockid.New(0, 2))}, views[1].Blocks)
}
