package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/tonimelisma/replicad/internal/history"
	"github.com/tonimelisma/replicad/internal/phedex"
)

// statusChunk bounds the names passed to one subscriptions query.
const statusChunk = 35

// StatusKey identifies an item (dataset or "dataset#block" name) at a site.
type StatusKey struct {
	Site string
	Item string
}

// Status is the progress of a requested item.
type Status struct {
	Total      int64 // bytes of the item
	Done       int64 // bytes present at the site
	LastUpdate int64 // unix seconds, 0 = unknown
}

// CopyStatus reports the progress of every item requested by the copy
// operation. Items the catalog no longer knows map to nil.
func (c *Copier) CopyStatus(ctx context.Context, operationID int64) (map[StatusKey]*Status, error) {
	ids, err := c.history.RequestIDs(ctx, history.OpCopy, operationID)
	if err != nil {
		return nil, fmt.Errorf("schedule: copy status: %w", err)
	}

	status := make(map[StatusKey]*Status)
	if len(ids) == 0 {
		return status, nil
	}

	requests, err := c.catalog.TransferRequests(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("schedule: copy status: %w", err)
	}

	var sites, datasets, blocks []string

	for _, req := range requests {
		for _, n := range req.Destinations.Nodes {
			sites = append(sites, n.Name)
		}

		for _, ds := range req.Data.DBS.Datasets {
			datasets = append(datasets, ds.Name)
		}

		for _, b := range req.Data.DBS.Blocks {
			blocks = append(blocks, b.Name)
		}
	}

	sites, datasets, blocks = lo.Uniq(sites), lo.Uniq(datasets), lo.Uniq(blocks)

	for _, site := range sites {
		if err := c.datasetStatus(ctx, site, datasets, status); err != nil {
			return nil, err
		}

		if err := c.blockStatus(ctx, site, blocks, status); err != nil {
			return nil, err
		}
	}

	items := slices.Concat(datasets, blocks)

	for _, site := range sites {
		for _, name := range items {
			key := StatusKey{Site: site, Item: name}
			if _, ok := status[key]; !ok {
				status[key] = nil
			}
		}
	}

	return status, nil
}

// datasetStatus resolves dataset-level subscriptions. When fewer bytes are
// present than the dataset holds, the total is recomputed from the block
// listing because blocks may have been deleted since.
func (c *Copier) datasetStatus(ctx context.Context, site string, names []string, status map[StatusKey]*Status) error {
	for _, chunked := range lo.Chunk(names, statusChunk) {
		subs, err := c.catalog.Subscriptions(ctx, phedex.SubscriptionQuery{Node: site, Datasets: chunked})
		if err != nil {
			return fmt.Errorf("schedule: copy status: %w", err)
		}

		for _, ds := range subs {
			if len(ds.Subscriptions) == 0 {
				c.logger.Error("dataset subscription missing", slog.String("dataset", ds.Name), slog.String("site", site))
				continue
			}

			sub := ds.Subscriptions[0]
			total := ds.Bytes.Int64()
			done, _ := phedex.OptInt(sub.NodeBytes)

			if sub.NodeBytes != nil && done != total {
				recs, err := c.catalog.BlockReplicas(ctx, phedex.ReplicaQuery{Node: sub.Node, Dataset: ds.Name})
				if err != nil {
					return fmt.Errorf("schedule: copy status: %w", err)
				}

				total = 0
				for _, r := range recs {
					total += r.Bytes.Int64()
				}
			}

			updated, _ := phedex.OptInt(sub.TimeUpdate)
			status[StatusKey{Site: sub.Node, Item: ds.Name}] = &Status{Total: total, Done: done, LastUpdate: updated}
		}
	}

	return nil
}

// blockStatus resolves block-level subscriptions. A dataset answered with a
// dataset-level subscription instead of blocks means a later dataset-level
// request overrode the block ones; the block listing gives their state.
func (c *Copier) blockStatus(ctx context.Context, site string, names []string, status map[StatusKey]*Status) error {
	overridden := make(map[StatusKey]bool)

	for _, chunked := range lo.Chunk(names, statusChunk) {
		subs, err := c.catalog.Subscriptions(ctx, phedex.SubscriptionQuery{Node: site, Blocks: chunked})
		if err != nil {
			return fmt.Errorf("schedule: copy status: %w", err)
		}

		for _, ds := range subs {
			if len(ds.Blocks) == 0 {
				if err := c.overriddenStatus(ctx, ds, names, overridden, status); err != nil {
					return err
				}

				continue
			}

			for _, blk := range ds.Blocks {
				if len(blk.Subscriptions) == 0 {
					c.logger.Error("block subscription missing", slog.String("block", blk.Name), slog.String("site", site))
					continue
				}

				sub := blk.Subscriptions[0]
				done, _ := phedex.OptInt(sub.NodeBytes)
				updated, _ := phedex.OptInt(sub.TimeUpdate)
				status[StatusKey{Site: sub.Node, Item: blk.Name}] = &Status{Total: blk.Bytes.Int64(), Done: done, LastUpdate: updated}
			}
		}
	}

	return nil
}

func (c *Copier) overriddenStatus(
	ctx context.Context,
	ds phedex.SubscriptionDataset,
	requested []string,
	overridden map[StatusKey]bool,
	status map[StatusKey]*Status,
) error {
	if len(ds.Subscriptions) == 0 {
		c.logger.Error("subscription neither block-level nor dataset-level", slog.String("dataset", ds.Name))
		return nil
	}

	site := ds.Subscriptions[0].Node

	key := StatusKey{Site: site, Item: ds.Name}
	if overridden[key] {
		return nil
	}

	overridden[key] = true
	c.logger.Debug("block-level subscription overridden", slog.String("dataset", ds.Name), slog.String("site", site))

	recs, err := c.catalog.BlockReplicas(ctx, phedex.ReplicaQuery{Node: site, Dataset: ds.Name})
	if err != nil {
		return fmt.Errorf("schedule: copy status: %w", err)
	}

	prefix := ds.Name + "#"

	for _, rec := range recs {
		if !strings.HasPrefix(rec.Name, prefix) || !lo.Contains(requested, rec.Name) || len(rec.Replicas) == 0 {
			continue
		}

		rep := rec.Replicas[0]
		updated, _ := phedex.OptInt(rep.TimeUpdate)
		status[StatusKey{Site: site, Item: rec.Name}] = &Status{
			Total:      rec.Bytes.Int64(),
			Done:       rep.Bytes.Int64(),
			LastUpdate: updated,
		}
	}

	return nil
}

// DeletionStatus reports the datasets and blocks of a deletion request.
// Deletions are immediate once approved, so done equals total and the
// timestamp is the decision time. An unknown request yields an empty map.
func (d *Deleter) DeletionStatus(ctx context.Context, requestID int64) (map[string]*Status, error) {
	requests, err := d.catalog.DeleteRequests(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("schedule: deletion status: %w", err)
	}

	status := make(map[string]*Status)
	if len(requests) == 0 {
		return status, nil
	}

	req := requests[0]

	var decided int64
	if len(req.Nodes.Nodes) > 0 {
		decided, _ = phedex.OptInt(req.Nodes.Nodes[0].DecidedBy.TimeDecided)
	}

	for _, entries := range [][]phedex.NamedBytes{req.Data.DBS.Datasets, req.Data.DBS.Blocks} {
		for _, e := range entries {
			status[e.Name] = &Status{Total: e.Bytes.Int64(), Done: e.Bytes.Int64(), LastUpdate: decided}
		}
	}

	return status, nil
}
