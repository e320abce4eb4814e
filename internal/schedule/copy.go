package schedule

import (
	"context"
	"log/slog"
	"slices"

	"github.com/tonimelisma/replicad/internal/history"
	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/phedex"
)

// CopyConfig configures a Copier.
type CopyConfig struct {
	// ChunkSize bounds the cumulative bytes of one request.
	ChunkSize int64
	// AutoApproval submits requests as approved instead of request-only.
	AutoApproval bool
	// ReadOnly makes every request succeed without contacting the catalog
	// or writing history.
	ReadOnly    bool
	DBSInstance string
}

// Copier schedules subscriptions (copies) to one site at a time.
type Copier struct {
	runner
	cfg CopyConfig
}

// NewCopier returns a Copier.
func NewCopier(catalog Catalog, hist History, cfg CopyConfig, opts Options) *Copier {
	return &Copier{runner: newRunner(catalog, hist, opts), cfg: cfg}
}

// ScheduleCopies requests every replica in replicas, all of which must be at
// the same site. Growing replicas become dataset-level subscriptions owned
// by the replica's group; the others become block-level subscriptions
// grouped by each block replica's group. The result holds one
// DatasetReplica per dataset with the block replicas the catalog accepted,
// stamped with the request time. On a fatal catalog error the confirmed
// part is returned together with the error.
func (c *Copier) ScheduleCopies(
	ctx context.Context,
	replicas []*inventory.DatasetReplica,
	operationID int64,
	comments string,
) ([]*inventory.DatasetReplica, error) {
	site, err := singleSite(siteList(replicas))
	if err != nil || site == nil {
		return nil, err
	}

	datasetLevel := make(map[string][]item)
	blockLevel := make(map[string][]item)
	groups := make(map[string]*inventory.Group)

	for _, r := range replicas {
		if err := validateDataset(r.Dataset); err != nil {
			return nil, err
		}

		if r.Growing {
			g := orNull(r.Group)
			groups[g.Name] = g
			datasetLevel[g.Name] = appendUnique(datasetLevel[g.Name], item{dataset: r.Dataset})

			continue
		}

		for _, br := range r.BlockReplicas {
			g := orNull(br.Group)
			groups[g.Name] = g
			blockLevel[g.Name] = appendUnique(blockLevel[g.Name], item{dataset: r.Dataset, block: br.Block})
		}
	}

	c.logger.Info("scheduling copies",
		slog.Int("replicas", len(replicas)),
		slog.String("site", site.Name),
		slog.Int64("operation_id", operationID),
	)

	result := make(map[string]*inventory.DatasetReplica)

	var runErr error

	for _, level := range []struct {
		name  string
		items map[string][]item
	}{
		{phedex.LevelDataset, datasetLevel},
		{phedex.LevelBlock, blockLevel},
	} {
		for _, groupName := range sortedKeys(level.items) {
			group := groups[groupName]

			accepted, err := c.run(ctx, c.request(operationID, site, group, level.name, comments), level.items[groupName])
			c.collect(result, site, group, level.name, accepted)

			if err != nil {
				runErr = err
				break
			}
		}

		if runErr != nil {
			break
		}
	}

	out := make([]*inventory.DatasetReplica, 0, len(result))
	for _, name := range sortedKeys(result) {
		out = append(out, result[name])
	}

	if c.sink != nil && len(out) > 0 {
		c.sink.MergeDatasetReplicas(out)
	}

	return out, runErr
}

func (c *Copier) request(operationID int64, site *inventory.Site, group *inventory.Group, level, comments string) request {
	return request{
		operation:   history.OpCopy,
		operationID: operationID,
		site:        site,
		level:       level,
		chunkSize:   c.cfg.ChunkSize,
		dbsInstance: c.cfg.DBSInstance,
		readOnly:    c.cfg.ReadOnly,
		submit: func(ctx context.Context, data string) (int64, error) {
			return c.catalog.Subscribe(ctx, phedex.SubscriptionForm{
				Node:        site.Name,
				Group:       group.Name,
				Level:       level,
				Data:        data,
				Priority:    "low",
				RequestOnly: !c.cfg.AutoApproval,
				Comments:    comments,
			})
		},
		approve: func(context.Context, int64) bool { return c.cfg.AutoApproval },
	}
}

// collect folds accepted items into one DatasetReplica per dataset without
// duplicating a block already present.
func (c *Copier) collect(
	result map[string]*inventory.DatasetReplica,
	site *inventory.Site,
	group *inventory.Group,
	level string,
	accepted []item,
) {
	now := c.now().Unix()

	for _, it := range accepted {
		var blocks []*inventory.Block

		dr := inventory.NewDatasetReplica(it.dataset, site, false)

		if level == phedex.LevelDataset {
			dr.Growing = true
			dr.Group = group
			blocks = it.dataset.SortedBlocks()
		} else {
			blocks = []*inventory.Block{it.block}
		}

		for _, b := range blocks {
			br := inventory.NewBlockReplica(b, site, group)
			br.LastUpdate = now
			dr.AddBlockReplica(br)
		}

		if booked, ok := result[it.dataset.Name]; ok {
			booked.Merge(dr)
			continue
		}

		result[it.dataset.Name] = dr
	}
}

func siteList(replicas []*inventory.DatasetReplica) []*inventory.Site {
	sites := make([]*inventory.Site, len(replicas))
	for i, r := range replicas {
		sites[i] = r.Site
	}

	return sites
}

func orNull(g *inventory.Group) *inventory.Group {
	if g == nil {
		return inventory.NullGroup
	}

	return g
}

// appendUnique appends it unless the same dataset or block is already in
// items.
func appendUnique(items []item, it item) []item {
	if slices.ContainsFunc(items, it.same) {
		return items
	}

	return append(items, it)
}
