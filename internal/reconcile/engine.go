// Package reconcile rebuilds block replicas from the replica catalog.
//
// The catalog answers the same question through several listings with
// different latency and detail: blockreplicas carries per-site aggregates,
// filereplicas carries file detail, and subscriptions carries the freshest
// group ownership. The engine folds those partial views into exactly one
// BlockReplica per (block, site) and leaves it to the caller to merge the
// result into a shared inventory.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/metrics"
	"github.com/tonimelisma/replicad/internal/phedex"
)

// ErrEmptyScope is returned when a lookup names no site or no item.
var ErrEmptyScope = errors.New("reconcile: a site and a dataset or block are required")

// defaultWorkers bounds parallel secondary fetches when Options leaves it unset.
const defaultWorkers = 8

// Catalog is the subset of the replica catalog the engine reads.
// *phedex.Client satisfies it.
type Catalog interface {
	BlockReplicas(ctx context.Context, q phedex.ReplicaQuery) ([]phedex.BlockReplicaRecord, error)
	FileReplicas(ctx context.Context, q phedex.ReplicaQuery) ([]phedex.FileBlockRecord, error)
	Subscriptions(ctx context.Context, q phedex.SubscriptionQuery) ([]phedex.SubscriptionDataset, error)
	Deletions(ctx context.Context, completeSince int64) ([]phedex.DeletionBlock, error)
	Nodes(ctx context.Context, name string) ([]phedex.Node, error)
}

// LocalReplicas looks up what the local inventory already holds.
// *inventory.Inventory satisfies it.
type LocalReplicas interface {
	Lookup(key inventory.ReplicaKey) (*inventory.BlockReplica, bool)
}

// Options configures an Engine.
type Options struct {
	// Workers bounds the parallel secondary fetches. Zero means 8.
	Workers int
	// Filter is the admission predicate. Nil admits everything.
	Filter Filter
	// Local lets incremental sync skip file fetches for unchanged replicas.
	Local   LocalReplicas
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Engine runs reconciliation syncs against a catalog. Safe for concurrent
// use; every sync builds its entities in its own registry.
type Engine struct {
	catalog Catalog
	workers int
	local   LocalReplicas
	metrics *metrics.Metrics
	logger  *slog.Logger

	filter atomic.Pointer[filterBox]
	// sites is the last Sites() answer; syncs seed their registries from
	// it so replicas carry host and storage class.
	sites atomic.Pointer[[]*inventory.Site]
}

type filterBox struct{ Filter }

// New returns an engine reading from catalog.
func New(catalog Catalog, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	e := &Engine{
		catalog: catalog,
		workers: workers,
		local:   opts.Local,
		metrics: opts.Metrics,
		logger:  logger,
	}
	e.SetFilter(opts.Filter)

	return e
}

// SetFilter swaps the admission filter. Syncs already running keep the
// filter they started with. Nil admits everything.
func (e *Engine) SetFilter(f Filter) {
	if f == nil {
		f = AllowAll{}
	}

	e.filter.Store(&filterBox{f})
}

func (e *Engine) currentFilter() Filter {
	return e.filter.Load().Filter
}

// newBuilder returns a builder whose registry knows every site listed by
// the last Sites call.
func (e *Engine) newBuilder(filter Filter, logger *slog.Logger) *builder {
	b := newBuilder(filter, logger, e.metrics)

	if known := e.sites.Load(); known != nil {
		for _, s := range *known {
			b.reg.AddSite(s)
		}
	}

	return b
}

func (e *Engine) cycleLogger(op string) *slog.Logger {
	return e.logger.With(slog.String("op", op), slog.String("cycle_id", uuid.NewString()))
}
