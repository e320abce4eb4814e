package main

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/replicad/internal/schedule"
)

// statusView is one item of a status report. Known is false when the
// catalog no longer knows the item.
type statusView struct {
	Site       string `json:"site,omitempty"`
	Item       string `json:"item"`
	Known      bool   `json:"known"`
	Total      int64  `json:"total"`
	Done       int64  `json:"done"`
	LastUpdate int64  `json:"last_update"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report the progress of copy operations and deletion requests",
	}

	cmd.AddCommand(newStatusCopyCmd())
	cmd.AddCommand(newStatusDeletionCmd())

	return cmd
}

func newStatusCopyCmd() *cobra.Command {
	var operationID int64

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Report the transfer progress of every item of a copy operation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			hist, err := openHistory(cmd.Context(), cc)
			if err != nil {
				return err
			}
			defer hist.Close()

			status, err := newCopier(cc, newCatalogClient(cc), hist, schedule.Options{}).CopyStatus(cmd.Context(), operationID)
			if err != nil {
				return err
			}

			views := make([]statusView, 0, len(status))
			for key, s := range status {
				views = append(views, newStatusView(key.Site, key.Item, s))
			}

			return printStatus(os.Stdout, cc.Flags.JSON, views)
		},
	}

	cmd.Flags().Int64Var(&operationID, "operation-id", 0, "copy operation id")
	_ = cmd.MarkFlagRequired("operation-id")

	return cmd
}

func newStatusDeletionCmd() *cobra.Command {
	var requestID int64

	cmd := &cobra.Command{
		Use:   "deletion",
		Short: "Report the datasets and blocks of a deletion request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			status, err := newDeleter(cc, newCatalogClient(cc), nil, schedule.Options{}).DeletionStatus(cmd.Context(), requestID)
			if err != nil {
				return err
			}

			views := make([]statusView, 0, len(status))
			for item, s := range status {
				views = append(views, newStatusView("", item, s))
			}

			return printStatus(os.Stdout, cc.Flags.JSON, views)
		},
	}

	cmd.Flags().Int64Var(&requestID, "request-id", 0, "catalog deletion request id")
	_ = cmd.MarkFlagRequired("request-id")

	return cmd
}

func newStatusView(site, item string, s *schedule.Status) statusView {
	v := statusView{Site: site, Item: item}
	if s != nil {
		v.Known = true
		v.Total = s.Total
		v.Done = s.Done
		v.LastUpdate = s.LastUpdate
	}

	return v
}

// printStatus writes views sorted by site then item.
func printStatus(w io.Writer, asJSON bool, views []statusView) error {
	slices.SortFunc(views, func(a, b statusView) int {
		if c := cmp.Compare(a.Site, b.Site); c != 0 {
			return c
		}

		return cmp.Compare(a.Item, b.Item)
	})

	if asJSON {
		return printJSON(w, views)
	}

	rows := make([][]string, len(views))
	for i, v := range views {
		if !v.Known {
			rows[i] = []string{v.Site, v.Item, "-", "-", "-", "unknown"}
			continue
		}

		rows[i] = []string{
			v.Site,
			v.Item,
			formatSize(v.Done),
			formatSize(v.Total),
			formatUnix(v.LastUpdate),
			progress(v.Done, v.Total),
		}
	}

	printTable(w, []string{"SITE", "ITEM", "DONE", "TOTAL", "UPDATED", "PROGRESS"}, rows)

	return nil
}

func progress(done, total int64) string {
	if total <= 0 {
		return "-"
	}

	return fmt.Sprintf("%.1f%%", float64(done)*100/float64(total))
}
