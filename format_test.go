package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/replicad/internal/blockid"
	"github.com/tonimelisma/replicad/internal/inventory"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1500, "1.5 KB"},
		{"megabytes", 5_000_000, "5.0 MB"},
		{"gigabytes", 1_500_000_000, "1.5 GB"},
		{"terabytes", 50_000_000_000_000, "50.0 TB"},
		{"petabytes", 2_300_000_000_000_000, "2.3 PB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatUnix(t *testing.T) {
	assert.Equal(t, "-", formatUnix(0))
	assert.Equal(t, "2023-11-14 22:13", formatUnix(1700000000))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"NAME", "HOST", "STORAGE"}
	rows := [][]string{
		{"T2_CH_CERN", "cern.ch", "disk"},
		{"T1_US_FNAL_MSS", "fnal.gov", "tape"},
	}

	printTable(&buf, headers, rows)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	// Columns start at the same offset on every line.
	col := strings.Index(lines[0], "HOST")
	assert.Equal(t, col, strings.Index(lines[1], "cern.ch"))
	assert.Equal(t, col, strings.Index(lines[2], "fnal.gov"))
	assert.False(t, strings.HasSuffix(lines[1], " "))
}

func TestPrintReplicas(t *testing.T) {
	ds, err := inventory.NewDataset("/A/B/RAW")
	require.NoError(t, err)

	block := ds.AddBlock(blockid.New(0, 1), 2000)
	br := inventory.NewBlockReplica(block, inventory.NewSite("T2_CH_CERN"), nil)
	br.Size = 2000
	br.LastUpdate = 1700000000
	br.MarkComplete()

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printReplicas(&buf, false, []*inventory.BlockReplica{br}))

		out := buf.String()
		assert.Contains(t, out, "SITE")
		assert.Contains(t, out, "T2_CH_CERN")
		assert.Contains(t, out, block.FullName())
		assert.Contains(t, out, "(null)")
		assert.Contains(t, out, "complete")
		assert.Contains(t, out, "2.0 KB")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printReplicas(&buf, true, []*inventory.BlockReplica{br}))

		var views []replicaView
		require.NoError(t, json.Unmarshal(buf.Bytes(), &views))
		require.Len(t, views, 1)
		assert.Equal(t, replicaView{
			Site:       "T2_CH_CERN",
			Block:      block.FullName(),
			Group:      "(null)",
			State:      "complete",
			Size:       2000,
			LastUpdate: 1700000000,
		}, views[0])
	})
}

func TestPrintStatus_SortsAndMarksUnknown(t *testing.T) {
	var buf bytes.Buffer

	views := []statusView{
		{Site: "T2_B", Item: "/X/Y/Z", Known: true, Total: 100, Done: 25, LastUpdate: 1700000000},
		{Site: "T2_A", Item: "/D/E/F"},
	}

	require.NoError(t, printStatus(&buf, false, views))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "T2_A")
	assert.Contains(t, lines[1], "unknown")
	assert.Contains(t, lines[2], "25.0%")
}
