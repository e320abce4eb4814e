package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/replicad/internal/blockid"
	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/reconcile"
	"github.com/tonimelisma/replicad/internal/schedule"
)

// mutationFlags are shared by copy and delete.
type mutationFlags struct {
	site        string
	dataset     string
	blocks      []string
	operationID int64
	comments    string
}

func (f *mutationFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.site, "site", "", "target site")
	cmd.Flags().StringVar(&f.dataset, "dataset", "", "dataset name")
	cmd.Flags().StringSliceVar(&f.blocks, "block", nil, "full block name (repeatable); omit for the whole dataset")
	cmd.Flags().Int64Var(&f.operationID, "operation-id", 0, "operation id recorded in the history")
	cmd.Flags().StringVar(&f.comments, "comments", "", "request comments")

	_ = cmd.MarkFlagRequired("site")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("operation-id")
}

func newCopyCmd() *cobra.Command {
	var (
		flags mutationFlags
		group string
	)

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Subscribe a dataset or some of its blocks to a site",
		Long: `Create transfer subscriptions at --site. Without --block the whole
dataset is subscribed, including blocks added later; with --block only the
named blocks are.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()
			catalog := newCatalogClient(cc)

			engine, err := newEngine(cc, catalog, nil, nil)
			if err != nil {
				return err
			}

			site, err := admittedSite(ctx, engine, flags.site)
			if err != nil {
				return err
			}

			ds, err := catalogDataset(ctx, engine, flags.dataset)
			if err != nil {
				return err
			}

			blocks, err := lookupBlocks(ds, flags.blocks)
			if err != nil {
				return err
			}

			owner := inventory.NewRegistry().Group(group)

			dr := inventory.NewDatasetReplica(ds, site, len(blocks) == 0)
			if dr.Growing {
				dr.Group = owner
			}

			for _, b := range blocks {
				dr.AddBlockReplica(inventory.NewBlockReplica(b, site, owner))
			}

			hist, err := openHistory(ctx, cc)
			if err != nil {
				return err
			}
			defer hist.Close()

			copier := newCopier(cc, catalog, hist, schedule.Options{})

			done, err := copier.ScheduleCopies(ctx, []*inventory.DatasetReplica{dr}, flags.operationID, flags.comments)
			if printErr := printScheduled(os.Stdout, cc.Flags.JSON, copyViews(done)); printErr != nil {
				return printErr
			}

			return err
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVar(&group, "group", "", "owning group")
	_ = cmd.MarkFlagRequired("group")

	return cmd
}

func newDeleteCmd() *cobra.Command {
	var flags mutationFlags

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Request deletion of a dataset or some of its blocks at a site",
		Long: `Create deletion requests at --site. Without --block the whole dataset
replica is removed. Tape sites are refused unless allow_tape_deletion is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()
			catalog := newCatalogClient(cc)

			engine, err := newEngine(cc, catalog, nil, nil)
			if err != nil {
				return err
			}

			site, err := admittedSite(ctx, engine, flags.site)
			if err != nil {
				return err
			}

			existing, err := engine.FullSync(ctx, reconcile.Scope{Site: site.Name, Dataset: flags.dataset})
			if err != nil {
				return err
			}

			if len(existing) == 0 {
				return fmt.Errorf("no replica of %s at %s", flags.dataset, site.Name)
			}

			ds := existing[0].Block.Dataset

			del, err := deletionFor(ds, site, existing, flags.blocks)
			if err != nil {
				return err
			}

			hist, err := openHistory(ctx, cc)
			if err != nil {
				return err
			}
			defer hist.Close()

			deleter := newDeleter(cc, catalog, hist, schedule.Options{})

			done, err := deleter.ScheduleDeletions(ctx, []schedule.Deletion{del}, flags.operationID, flags.comments)
			if printErr := printScheduled(os.Stdout, cc.Flags.JSON, deletionViews(done)); printErr != nil {
				return printErr
			}

			return err
		},
	}

	flags.bind(cmd)

	return cmd
}

type siteLister interface {
	Sites(ctx context.Context) ([]*inventory.Site, error)
}

// admittedSite returns the catalog's record of the named site, which
// carries its storage class.
func admittedSite(ctx context.Context, sites siteLister, name string) (*inventory.Site, error) {
	all, err := sites.Sites(ctx)
	if err != nil {
		return nil, err
	}

	for _, s := range all {
		if s.Name == name {
			return s, nil
		}
	}

	return nil, fmt.Errorf("site %s is unknown or not admitted", name)
}

type fullSyncer interface {
	FullSync(ctx context.Context, scope reconcile.Scope) ([]*inventory.BlockReplica, error)
}

// catalogDataset learns the dataset and its blocks from the replicas the
// catalog reports at any site.
func catalogDataset(ctx context.Context, engine fullSyncer, name string) (*inventory.Dataset, error) {
	replicas, err := engine.FullSync(ctx, reconcile.Scope{Dataset: name})
	if err != nil {
		return nil, err
	}

	if len(replicas) == 0 {
		return nil, fmt.Errorf("dataset %s has no replicas or is not admitted", name)
	}

	return replicas[0].Block.Dataset, nil
}

// lookupBlocks resolves full block names within ds.
func lookupBlocks(ds *inventory.Dataset, names []string) ([]*inventory.Block, error) {
	blocks := make([]*inventory.Block, 0, len(names))

	for _, full := range names {
		dsName, id, err := blockid.SplitFullName(full)
		if err != nil {
			return nil, err
		}

		if dsName != ds.Name {
			return nil, fmt.Errorf("block %s is not in dataset %s", full, ds.Name)
		}

		b := ds.FindBlock(id)
		if b == nil {
			return nil, fmt.Errorf("block %s is unknown to the catalog", full)
		}

		blocks = append(blocks, b)
	}

	return blocks, nil
}

// deletionFor builds the deletion of the named blocks, or of the whole
// dataset replica when names is empty, from the replicas at the site.
func deletionFor(ds *inventory.Dataset, site *inventory.Site, existing []*inventory.BlockReplica, names []string) (schedule.Deletion, error) {
	dr := inventory.NewDatasetReplica(ds, site, false)
	for _, br := range existing {
		dr.AddBlockReplica(br)
	}

	if len(names) == 0 {
		return schedule.Deletion{Replica: dr}, nil
	}

	blocks, err := lookupBlocks(ds, names)
	if err != nil {
		return schedule.Deletion{}, err
	}

	del := schedule.Deletion{Replica: dr, Blocks: make([]*inventory.BlockReplica, 0, len(blocks))}

	for _, b := range blocks {
		br := dr.FindBlockReplica(b.Name)
		if br == nil {
			return schedule.Deletion{}, fmt.Errorf("block %s has no replica at %s", b.FullName(), site.Name)
		}

		del.Blocks = append(del.Blocks, br)
	}

	return del, nil
}

// scheduledView is the output form of a confirmed copy or deletion.
type scheduledView struct {
	Dataset string   `json:"dataset"`
	Site    string   `json:"site"`
	Level   string   `json:"level"`
	Blocks  []string `json:"blocks,omitempty"`
	Size    int64    `json:"size"`
}

func copyViews(done []*inventory.DatasetReplica) []scheduledView {
	views := make([]scheduledView, 0, len(done))

	for _, dr := range done {
		v := scheduledView{Dataset: dr.Dataset.Name, Site: dr.Site.Name, Level: "block"}
		if dr.Growing {
			v.Level = "dataset"
		}

		for _, br := range dr.BlockReplicas {
			v.Blocks = append(v.Blocks, br.Block.FullName())
			v.Size += br.Block.Size
		}

		if dr.Growing && len(dr.BlockReplicas) == 0 {
			v.Size = dr.Dataset.Size
		}

		views = append(views, v)
	}

	return views
}

func deletionViews(done []schedule.Deletion) []scheduledView {
	views := make([]scheduledView, 0, len(done))

	for _, del := range done {
		v := scheduledView{Dataset: del.Replica.Dataset.Name, Site: del.Replica.Site.Name, Level: "dataset"}

		if del.Blocks == nil {
			v.Size = del.Replica.Dataset.Size
		} else {
			v.Level = "block"

			for _, br := range del.Blocks {
				v.Blocks = append(v.Blocks, br.Block.FullName())
				v.Size += br.Block.Size
			}
		}

		views = append(views, v)
	}

	return views
}

func printScheduled(w io.Writer, asJSON bool, views []scheduledView) error {
	if asJSON {
		return printJSON(w, views)
	}

	rows := make([][]string, len(views))
	for i, v := range views {
		rows[i] = []string{v.Dataset, v.Site, v.Level, fmt.Sprint(len(v.Blocks)), formatSize(v.Size)}
	}

	printTable(w, []string{"DATASET", "SITE", "LEVEL", "BLOCKS", "SIZE"}, rows)

	return nil
}
