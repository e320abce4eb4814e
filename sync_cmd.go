package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/replicad/internal/reconcile"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Read block replicas from the catalog",
		Long: `Query the transfer catalog and print the block replicas it reports.

Nothing is written: sync prints what the inventory would hold.`,
	}

	cmd.AddCommand(newSyncFullCmd())
	cmd.AddCommand(newSyncUpdatedCmd())
	cmd.AddCommand(newSyncDeletedCmd())

	return cmd
}

func newSyncFullCmd() *cobra.Command {
	var scope reconcile.Scope

	cmd := &cobra.Command{
		Use:   "full",
		Short: "Every block replica for a site, dataset or block",
		Long: `Print every block replica matching the scope. At least one of --site,
--dataset or --block is required. Block names have the form DATASET#UUID.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if scope.IsEmpty() {
				return fmt.Errorf("one of --site, --dataset or --block is required")
			}

			cc := mustCLIContext(cmd.Context())

			engine, err := newEngine(cc, newCatalogClient(cc), nil, nil)
			if err != nil {
				return err
			}

			replicas, err := engine.FullSync(cmd.Context(), scope)
			if err != nil {
				return err
			}

			return printReplicas(os.Stdout, cc.Flags.JSON, replicas)
		},
	}

	cmd.Flags().StringVar(&scope.Site, "site", "", "site name")
	cmd.Flags().StringVar(&scope.Dataset, "dataset", "", "dataset name")
	cmd.Flags().StringVar(&scope.Block, "block", "", "full block name")

	return cmd
}

func newSyncUpdatedCmd() *cobra.Command {
	var (
		since string
		sites []string
	)

	cmd := &cobra.Command{
		Use:   "updated",
		Short: "Block replicas updated since a time",
		Long: `Print the block replicas updated since --since at the given sites, or at
every admitted site when --site is not given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			sinceUnix, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}

			engine, err := newEngine(cc, newCatalogClient(cc), nil, nil)
			if err != nil {
				return err
			}

			if len(sites) == 0 {
				all, err := engine.Sites(cmd.Context())
				if err != nil {
					return err
				}

				for _, s := range all {
					sites = append(sites, s.Name)
				}
			}

			replicas, err := engine.IncrementalSync(cmd.Context(), sinceUnix, sites)
			if err != nil {
				return err
			}

			return printReplicas(os.Stdout, cc.Flags.JSON, replicas)
		},
	}

	cmd.Flags().StringVar(&since, "since", "24h", "unix time or duration before now")
	cmd.Flags().StringSliceVar(&sites, "site", nil, "site name (repeatable)")

	return cmd
}

func newSyncDeletedCmd() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "deleted",
		Short: "Block replicas deleted since a time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			sinceUnix, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}

			engine, err := newEngine(cc, newCatalogClient(cc), nil, nil)
			if err != nil {
				return err
			}

			replicas, err := engine.DeletionSync(cmd.Context(), sinceUnix)
			if err != nil {
				return err
			}

			return printReplicas(os.Stdout, cc.Flags.JSON, replicas)
		},
	}

	cmd.Flags().StringVar(&since, "since", "24h", "unix time or duration before now")

	return cmd
}

// parseSince accepts a unix time in seconds or a duration before now.
func parseSince(s string, now time.Time) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("--since: must not be negative, got %d", n)
		}

		return n, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("--since: want unix seconds or a duration, got %q", s)
	}

	if d < 0 {
		return 0, fmt.Errorf("--since: duration must not be negative, got %s", d)
	}

	return now.Add(-d).Unix(), nil
}
