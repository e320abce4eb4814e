package reconcile

import (
	"context"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/replicad/internal/blockid"
	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/metrics"
	"github.com/tonimelisma/replicad/internal/phedex"
)

// Skip reasons reported to metrics.
const (
	skipInvalidName    = "invalid_name"
	skipInvalidDataset = "invalid_dataset"
	skipFiltered       = "filtered"
)

// remoteCounts are the aggregates the catalog reported for an incomplete
// replica, compared against the local copy to decide whether file detail
// must be fetched.
type remoteCounts struct {
	bytes int64
	files int64
}

// builder turns catalog records of one scope call into block replicas. It
// keeps exactly one record per (block, site); later views of the same key
// merge into the first.
type builder struct {
	reg     *inventory.Registry
	filter  Filter
	logger  *slog.Logger
	metrics *metrics.Metrics

	index     map[inventory.ReplicaKey]*inventory.BlockReplica
	byDataset map[inventory.DatasetSiteKey][]*inventory.BlockReplica
	order     []*inventory.BlockReplica
	// incomplete holds replicas still waiting for file detail.
	incomplete map[inventory.ReplicaKey]remoteCounts
}

func newBuilder(filter Filter, logger *slog.Logger, m *metrics.Metrics) *builder {
	return &builder{
		reg:        inventory.NewRegistry(),
		filter:     filter,
		logger:     logger,
		metrics:    m,
		index:      make(map[inventory.ReplicaKey]*inventory.BlockReplica),
		byDataset:  make(map[inventory.DatasetSiteKey][]*inventory.BlockReplica),
		incomplete: make(map[inventory.ReplicaKey]remoteCounts),
	}
}

// block decodes a "dataset#name" catalog name and returns its Block. Invalid
// names and filtered datasets are skipped, not errors.
func (b *builder) block(fullName string, bytes int64) (*inventory.Block, bool) {
	datasetName, id, err := blockid.SplitFullName(fullName)
	if err != nil {
		b.logger.Debug("skipping record with invalid block name",
			slog.String("block", fullName), slog.String("error", err.Error()))
		b.metrics.SkipRecord(skipInvalidName)

		return nil, false
	}

	if !b.filter.AllowDataset(datasetName) {
		b.metrics.SkipRecord(skipFiltered)
		return nil, false
	}

	dataset, err := b.reg.Dataset(datasetName)
	if err != nil {
		b.logger.Debug("skipping record with invalid dataset name",
			slog.String("dataset", datasetName), slog.String("error", err.Error()))
		b.metrics.SkipRecord(skipInvalidDataset)

		return nil, false
	}

	block := dataset.AddBlock(id, bytes)
	if block.Size == 0 {
		block.Size = bytes
	}

	return block, true
}

func (b *builder) site(name string) (*inventory.Site, bool) {
	if !b.filter.AllowSite(name) {
		b.metrics.SkipRecord(skipFiltered)
		return nil, false
	}

	return b.reg.Site(name), true
}

func (b *builder) group(name *string) *inventory.Group {
	if name == nil {
		return inventory.NullGroup
	}

	return b.reg.Group(*name)
}

// put installs br or merges it into the record already held for its key,
// and returns the record that is kept.
func (b *builder) put(br *inventory.BlockReplica) *inventory.BlockReplica {
	key := br.Key()

	if existing, ok := b.index[key]; ok {
		mergeViews(existing, br)
		return existing
	}

	b.index[key] = br
	b.order = append(b.order, br)

	dsKey := inventory.DatasetSiteKey{Dataset: key.Block.Dataset, Site: key.Site}
	b.byDataset[dsKey] = append(b.byDataset[dsKey], br)

	return br
}

// mergeViews folds a second view of the same (block, site) into dst. A
// complete view wins. Ownership comes from the later view, the timestamp is
// the newer of the two, and explicit file lists are unioned.
func mergeViews(dst, src *inventory.BlockReplica) {
	dst.Group = src.Group
	dst.Custodial = src.Custodial
	dst.LastUpdate = max(dst.LastUpdate, src.LastUpdate)

	switch {
	case dst.IsComplete():
	case src.IsComplete():
		dst.MarkComplete()
	default:
		ids := dst.FileIDs()
		for _, id := range src.FileIDs() {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}

		dst.SetFiles(ids, max(dst.Size, src.Size, fileSum(dst.Block, ids)))
	}
}

// fileSum sums the sizes of the named files of block that are known.
func fileSum(block *inventory.Block, ids []string) int64 {
	var total int64
	for _, id := range ids {
		if f, ok := block.Files[id]; ok {
			total += f.Size
		}
	}

	return total
}

// addBlockReplicas converts a blockreplicas listing. Complete entries are
// final; incomplete ones are queued for file detail.
func (b *builder) addBlockReplicas(records []phedex.BlockReplicaRecord) {
	for _, rec := range records {
		block, ok := b.block(rec.Name, rec.Bytes.Int64())
		if !ok {
			continue
		}

		block.IsOpen = rec.IsOpen.Bool()

		for _, entry := range rec.Replicas {
			site, ok := b.site(entry.Node)
			if !ok {
				continue
			}

			br := inventory.NewBlockReplica(block, site, b.group(entry.Group))
			br.Custodial = entry.Custodial.Bool()
			br.LastUpdate = entryTime(entry)

			if entry.Complete.Bool() {
				br.MarkComplete()
			} else {
				br.MarkEmpty(entry.Bytes.Int64())
			}

			kept := b.put(br)
			if kept.IsComplete() {
				delete(b.incomplete, kept.Key())
				continue
			}

			b.incomplete[kept.Key()] = remoteCounts{bytes: entry.Bytes.Int64(), files: entry.Files.Int64()}
		}
	}
}

// entryTime is the newer of the creation and update times, 0 when neither
// is reported.
func entryTime(entry phedex.BlockReplicaEntry) int64 {
	created, _ := phedex.OptInt(entry.TimeCreate)
	updated, _ := phedex.OptInt(entry.TimeUpdate)

	return max(created, updated)
}

// pendingFetches returns the replicas still waiting for file detail, in
// arrival order.
func (b *builder) pendingFetches() []*inventory.BlockReplica {
	var out []*inventory.BlockReplica
	for _, br := range b.order {
		if _, ok := b.incomplete[br.Key()]; ok {
			out = append(out, br)
		}
	}

	return out
}

// reuseLocal satisfies pending replicas from the local inventory when the
// local copy already matches the catalog's size and file count, and returns
// the replicas that still need a fetch.
func (b *builder) reuseLocal(local LocalReplicas, pending []*inventory.BlockReplica) []*inventory.BlockReplica {
	if local == nil {
		return pending
	}

	var out []*inventory.BlockReplica

	for _, br := range pending {
		key := br.Key()
		remote := b.incomplete[key]

		have, ok := local.Lookup(key)
		if !ok || have.Size != remote.bytes || int64(have.FileCount()) != remote.files {
			out = append(out, br)
			continue
		}

		if have.IsComplete() {
			br.MarkComplete()
		} else {
			br.SetFiles(have.FileIDs(), have.Size)
		}

		delete(b.incomplete, key)
		b.metrics.FileFetchSkip()
		b.logger.Debug("local replica unchanged, skipping file fetch", slog.String("replica", key.String()))
	}

	return out
}

// fetchFiles fetches file detail for every pending replica through a bounded
// worker pool and folds the results in afterwards. Workers only write their
// own result slot; the entity graph is touched on the calling goroutine.
func (b *builder) fetchFiles(ctx context.Context, catalog Catalog, workers int, pending []*inventory.BlockReplica) error {
	if len(pending) == 0 {
		return nil
	}

	results := make([][]phedex.FileBlockRecord, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, br := range pending {
		q := phedex.ReplicaQuery{Node: br.Site.Name, Block: br.Block.FullName()}

		g.Go(func() error {
			recs, err := catalog.FileReplicas(gctx, q)
			if err != nil {
				return err
			}

			results[i] = recs

			return nil
		})

		b.metrics.FileFetch()
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for i, br := range pending {
		b.foldFiles(br, results[i])
		delete(b.incomplete, br.Key())
	}

	return nil
}

// foldFiles sets br's file list, size and timestamp from a filereplicas
// answer. An answer with no files at br's site leaves the explicit-empty
// state with size zero.
func (b *builder) foldFiles(br *inventory.BlockReplica, records []phedex.FileBlockRecord) {
	want := br.Block.Key()

	var (
		ids  []string
		size int64
		last = br.LastUpdate
	)

	for _, rec := range records {
		// The catalog may spell the name in any case, with or without hyphens.
		datasetName, id, err := blockid.SplitFullName(rec.Name)
		if err != nil || (inventory.BlockKey{Dataset: datasetName, Name: id}) != want {
			continue
		}

		for _, f := range rec.Files {
			for _, r := range f.Replicas {
				if r.Node != br.Site.Name {
					continue
				}

				br.Block.AddFile(f.Name, f.Bytes.Int64())
				ids = append(ids, f.Name)
				size += f.Bytes.Int64()

				if created, ok := phedex.OptInt(r.TimeCreate); ok {
					last = max(last, created)
				}

				break
			}
		}
	}

	if len(ids) == 0 {
		b.logger.Warn("catalog returned no file detail for incomplete replica",
			slog.String("replica", br.Key().String()))
		b.metrics.Starved()
		br.MarkEmpty(0)

		return
	}

	br.SetFiles(ids, size)
	br.LastUpdate = last
}

// applySubscriptions overrides ownership with the subscription feed.
// Dataset-level subscriptions apply first to every replica of the dataset at
// the site; block-level subscriptions apply second and so take precedence.
func (b *builder) applySubscriptions(datasets []phedex.SubscriptionDataset) {
	for _, ds := range datasets {
		if !b.filter.AllowDataset(ds.Name) {
			continue
		}

		for _, sub := range ds.Subscriptions {
			if !b.filter.AllowSite(sub.Node) {
				continue
			}

			key := inventory.DatasetSiteKey{Dataset: ds.Name, Site: sub.Node}
			for _, br := range b.byDataset[key] {
				br.Group = b.group(sub.Group)
				br.Custodial = sub.Custodial.Bool()
			}
		}
	}

	for _, ds := range datasets {
		if !b.filter.AllowDataset(ds.Name) {
			continue
		}

		for _, blk := range ds.Blocks {
			b.applyBlockSubscriptions(blk)
		}
	}
}

func (b *builder) applyBlockSubscriptions(blk phedex.SubscriptionBlock) {
	datasetName, id, err := blockid.SplitFullName(blk.Name)
	if err != nil {
		b.metrics.SkipRecord(skipInvalidName)
		return
	}

	for _, sub := range blk.Subscriptions {
		if !b.filter.AllowSite(sub.Node) {
			continue
		}

		key := inventory.ReplicaKey{
			Block: inventory.BlockKey{Dataset: datasetName, Name: id},
			Site:  sub.Node,
		}

		br, ok := b.index[key]
		if !ok {
			continue
		}

		br.Group = b.group(sub.Group)
		br.Custodial = sub.Custodial.Bool()

		nodeBytes, _ := phedex.OptInt(sub.NodeBytes)
		if nodeBytes == blk.Bytes.Int64() {
			br.MarkComplete()
		} else {
			br.MarkEmpty(nodeBytes)
		}

		br.Size = nodeBytes
		// An absent time_update means unknown.
		br.LastUpdate, _ = phedex.OptInt(sub.TimeUpdate)
	}
}

func (b *builder) replicas() []*inventory.BlockReplica {
	return b.order
}
