package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tonimelisma/replicad/internal/inventory"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// Size unit constants for human-readable formatting. Catalog sizes are
// decimal.
const (
	sizeKB = 1000
	sizeMB = 1000 * sizeKB
	sizeGB = 1000 * sizeMB
	sizeTB = 1000 * sizeGB
	sizePB = 1000 * sizeTB
)

// formatSize returns a human-readable size string (e.g. "1.2 TB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizePB:
		return fmt.Sprintf("%.1f PB", float64(bytes)/float64(sizePB))
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatUnix returns a compact UTC timestamp, or "-" for an unknown time.
func formatUnix(sec int64) string {
	if sec == 0 {
		return "-"
	}

	return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// replicaView is the output form of a block replica.
type replicaView struct {
	Site       string `json:"site"`
	Block      string `json:"block"`
	Group      string `json:"group"`
	State      string `json:"state"`
	Size       int64  `json:"size"`
	Custodial  bool   `json:"custodial"`
	LastUpdate int64  `json:"last_update"`
}

func newReplicaView(br *inventory.BlockReplica) replicaView {
	return replicaView{
		Site:       br.Site.Name,
		Block:      br.Block.FullName(),
		Group:      br.Group.String(),
		State:      br.Completeness().String(),
		Size:       br.Size,
		Custodial:  br.Custodial,
		LastUpdate: br.LastUpdate,
	}
}

// printReplicas writes block replicas as a table or JSON.
func printReplicas(w io.Writer, asJSON bool, replicas []*inventory.BlockReplica) error {
	views := make([]replicaView, len(replicas))
	for i, br := range replicas {
		views[i] = newReplicaView(br)
	}

	if asJSON {
		return printJSON(w, views)
	}

	rows := make([][]string, len(views))
	for i, v := range views {
		rows[i] = []string{v.Site, v.Block, v.Group, v.State, formatSize(v.Size), formatUnix(v.LastUpdate)}
	}

	printTable(w, []string{"SITE", "BLOCK", "GROUP", "STATE", "SIZE", "UPDATED"}, rows)

	return nil
}
