package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/replicad/internal/history"
)

type historyView struct {
	RequestID   int64     `json:"request_id"`
	Operation   string    `json:"operation"`
	OperationID int64     `json:"operation_id"`
	Approved    bool      `json:"approved"`
	CreatedAt   time.Time `json:"created_at"`
}

func newHistoryCmd() *cobra.Command {
	var (
		operation   string
		operationID int64
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the catalog requests recorded for an operation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			op := history.Operation(operation)
			if op != history.OpCopy && op != history.OpDeletion {
				return fmt.Errorf("--operation must be %q or %q, got %q", history.OpCopy, history.OpDeletion, operation)
			}

			hist, err := openHistory(cmd.Context(), cc)
			if err != nil {
				return err
			}
			defer hist.Close()

			records, err := hist.Records(cmd.Context(), op, operationID)
			if err != nil {
				return err
			}

			views := make([]historyView, len(records))
			for i, r := range records {
				views[i] = historyView{
					RequestID:   r.RequestID,
					Operation:   string(r.Operation),
					OperationID: r.OperationID,
					Approved:    r.Approved,
					CreatedAt:   r.CreatedAt,
				}
			}

			if cc.Flags.JSON {
				return printJSON(os.Stdout, views)
			}

			rows := make([][]string, len(views))
			for i, v := range views {
				rows[i] = []string{
					fmt.Sprint(v.RequestID),
					fmt.Sprint(v.Approved),
					formatUnix(v.CreatedAt.Unix()),
				}
			}

			printTable(os.Stdout, []string{"REQUEST", "APPROVED", "CREATED"}, rows)

			return nil
		},
	}

	cmd.Flags().StringVar(&operation, "operation", string(history.OpCopy), "operation kind: copy or deletion")
	cmd.Flags().Int64Var(&operationID, "operation-id", 0, "operation id")
	_ = cmd.MarkFlagRequired("operation-id")

	return cmd
}
