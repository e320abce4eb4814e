package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/metrics"
	"github.com/tonimelisma/replicad/internal/phedex"
)

// Scope selects what a full sync rebuilds. Any combination may be set;
// Block is a "dataset#name" catalog name.
type Scope struct {
	Site    string
	Dataset string
	Block   string
}

// IsEmpty reports whether no selector is set.
func (s Scope) IsEmpty() bool {
	return s.Site == "" && s.Dataset == "" && s.Block == ""
}

// blockDataset returns the dataset part of Block.
func (s Scope) blockDataset() string {
	name, _, _ := strings.Cut(s.Block, "#")
	return name
}

// admitted reports whether every selector passes the filter.
func (s Scope) admitted(f Filter) bool {
	if s.Site != "" && !f.AllowSite(s.Site) {
		return false
	}

	if s.Dataset != "" && !f.AllowDataset(s.Dataset) {
		return false
	}

	if s.Block != "" && !f.AllowDataset(s.blockDataset()) {
		return false
	}

	return true
}

// FullSync rebuilds every block replica in scope. Incomplete replicas get
// their file detail fetched. When the scope names a dataset or a block the
// subscription feed is also read and overrides group, custodial flag,
// completeness, size and timestamp. An empty scope, or one the filter
// rejects, returns nothing without calling the catalog.
func (e *Engine) FullSync(ctx context.Context, scope Scope) ([]*inventory.BlockReplica, error) {
	logger := e.cycleLogger(metrics.SyncFull).With(
		slog.String("site", scope.Site),
		slog.String("dataset", scope.Dataset),
		slog.String("block", scope.Block),
	)

	if scope.IsEmpty() {
		logger.Info("full sync skipped: empty scope")
		return nil, nil
	}

	filter := e.currentFilter()
	if !scope.admitted(filter) {
		logger.Info("full sync skipped: scope not admitted")
		return nil, nil
	}

	start := time.Now()

	records, err := e.catalog.BlockReplicas(ctx, phedex.ReplicaQuery{
		Node:    scope.Site,
		Dataset: scope.Dataset,
		Block:   scope.Block,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: full sync: %w", err)
	}

	b := e.newBuilder(filter, logger)
	b.addBlockReplicas(records)

	if err := b.fetchFiles(ctx, e.catalog, e.workers, b.pendingFetches()); err != nil {
		return nil, fmt.Errorf("reconcile: full sync: file detail: %w", err)
	}

	if scope.Dataset != "" || scope.Block != "" {
		q := phedex.SubscriptionQuery{Node: scope.Site}
		if scope.Dataset != "" {
			q.Datasets = []string{scope.Dataset}
		}

		if scope.Block != "" {
			q.Blocks = []string{scope.Block}
		}

		subs, err := e.catalog.Subscriptions(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("reconcile: full sync: subscriptions: %w", err)
		}

		b.applySubscriptions(subs)
	}

	out := b.replicas()
	e.metrics.ObserveSync(metrics.SyncFull, time.Since(start), len(out))
	logger.Info("full sync complete",
		slog.Int("block_replicas", len(out)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return out, nil
}

// IncrementalSync returns the block replicas at the given sites updated
// since the unix time. Sites are fetched in parallel. A record whose size
// and file count match the local inventory reuses the local file list
// instead of fetching file detail.
func (e *Engine) IncrementalSync(ctx context.Context, since int64, sites []string) ([]*inventory.BlockReplica, error) {
	logger := e.cycleLogger(metrics.SyncIncremental).With(slog.Int64("since", since))
	filter := e.currentFilter()
	start := time.Now()

	var admitted []string
	for _, s := range sites {
		if filter.AllowSite(s) {
			admitted = append(admitted, s)
		}
	}

	results := make([][]phedex.BlockReplicaRecord, len(admitted))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, site := range admitted {
		g.Go(func() error {
			recs, err := e.catalog.BlockReplicas(gctx, phedex.ReplicaQuery{Node: site, UpdateSince: since})
			if err != nil {
				return fmt.Errorf("site %s: %w", site, err)
			}

			results[i] = recs

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconcile: incremental sync: %w", err)
	}

	// Site results are merged in site order, not completion order.
	b := e.newBuilder(filter, logger)
	for _, recs := range results {
		b.addBlockReplicas(recs)
	}

	pending := b.reuseLocal(e.local, b.pendingFetches())
	if err := b.fetchFiles(ctx, e.catalog, e.workers, pending); err != nil {
		return nil, fmt.Errorf("reconcile: incremental sync: file detail: %w", err)
	}

	out := b.replicas()
	e.metrics.ObserveSync(metrics.SyncIncremental, time.Since(start), len(out))
	logger.Info("incremental sync complete",
		slog.Int("sites", len(admitted)),
		slog.Int("block_replicas", len(out)),
		slog.Int("file_fetches", len(pending)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return out, nil
}

// DeletionSync returns bare stand-ins, owned by the null group, for block
// replicas whose removal completed since the unix time.
func (e *Engine) DeletionSync(ctx context.Context, since int64) ([]*inventory.BlockReplica, error) {
	logger := e.cycleLogger(metrics.SyncDeletion).With(slog.Int64("since", since))
	start := time.Now()

	records, err := e.catalog.Deletions(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("reconcile: deletion sync: %w", err)
	}

	b := e.newBuilder(e.currentFilter(), logger)

	for _, rec := range records {
		block, ok := b.block(rec.Name, rec.Bytes.Int64())
		if !ok {
			continue
		}

		for _, del := range rec.Deletions {
			site, ok := b.site(del.Node)
			if !ok {
				continue
			}

			br := inventory.NewBlockReplica(block, site, inventory.NullGroup)
			br.LastUpdate, _ = phedex.OptInt(del.TimeComplete)
			b.put(br)
		}
	}

	out := b.replicas()
	e.metrics.ObserveSync(metrics.SyncDeletion, time.Since(start), len(out))
	logger.Info("deletion sync complete", slog.Int("block_replicas", len(out)))

	return out, nil
}
