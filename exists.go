package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errNotFound makes "exists" exit non-zero without extra output.
var errNotFound = errors.New("replica not found")

func newExistsCmd() *cobra.Command {
	var site, dataset, block string

	cmd := &cobra.Command{
		Use:   "exists",
		Short: "Check whether a dataset or block has a replica or subscription at a site",
		Long: `Report whether the catalog holds a replica, or a pending subscription, of
the dataset or block. Exits with status 1 when it does not.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			engine, err := newEngine(cc, newCatalogClient(cc), nil, nil)
			if err != nil {
				return err
			}

			ok, err := engine.ReplicaExists(cmd.Context(), site, dataset, block)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				if err := printJSON(os.Stdout, map[string]bool{"exists": ok}); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(os.Stdout, ok)
			}

			if !ok {
				return errNotFound
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&site, "site", "", "site name")
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset name")
	cmd.Flags().StringVar(&block, "block", "", "full block name")

	return cmd
}
