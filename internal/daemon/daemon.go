// Package daemon keeps a shared replica inventory current. It bootstraps
// the inventory with one full sync per site and then applies incremental
// and deletion syncs on a cron schedule. It also reloads the admission
// patterns when the config file changes and serves Prometheus metrics.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/metrics"
	"github.com/tonimelisma/replicad/internal/reconcile"
)

// Engine is the reconciliation surface the daemon drives.
type Engine interface {
	Sites(ctx context.Context) ([]*inventory.Site, error)
	FullSync(ctx context.Context, scope reconcile.Scope) ([]*inventory.BlockReplica, error)
	IncrementalSync(ctx context.Context, since int64, sites []string) ([]*inventory.BlockReplica, error)
	DeletionSync(ctx context.Context, since int64) ([]*inventory.BlockReplica, error)
	SetFilter(f reconcile.Filter)
}

// FilterLoader re-reads the admission patterns.
type FilterLoader func() (reconcile.Filter, error)

// Options configures a Daemon.
type Options struct {
	// Schedule is a standard cron spec or descriptor ("@every 15m").
	Schedule string

	// ConfigPath is watched for changes; LoadFilter is called on each.
	// Either empty disables reloading.
	ConfigPath string
	LoadFilter FilterLoader

	// MetricsAddr is the listen address of /metrics, empty to disable.
	MetricsAddr string
	Gatherer    prometheus.Gatherer

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Daemon owns the update cycle of one Inventory.
type Daemon struct {
	engine   Engine
	inv      *inventory.Inventory
	schedule cron.Schedule
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	// since is the start of the last successful cycle, unix seconds.
	since int64
}

// New returns a Daemon. It fails when the schedule does not parse.
func New(engine Engine, inv *inventory.Inventory, opts Options) (*Daemon, error) {
	schedule, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("daemon: update schedule %q: %w", opts.Schedule, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Daemon{
		engine:   engine,
		inv:      inv,
		schedule: schedule,
		opts:     opts,
		logger:   logger,
		now:      now,
	}, nil
}

// Run bootstraps the inventory and keeps it updated until ctx is canceled.
// The metrics endpoint and the config watcher run alongside.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if d.opts.MetricsAddr != "" {
		g.Go(func() error { return d.serveMetrics(ctx) })
	}

	if d.opts.ConfigPath != "" && d.opts.LoadFilter != nil {
		g.Go(func() error {
			w, err := newFsnotifyWatcher()
			if err != nil {
				return fmt.Errorf("daemon: config watcher: %w", err)
			}

			return d.watchConfig(ctx, w)
		})
	}

	g.Go(func() error {
		if err := d.Bootstrap(ctx); err != nil {
			return err
		}

		return d.updateLoop(ctx)
	})

	return g.Wait()
}

// Bootstrap fills the inventory with a full sync of every admitted site.
func (d *Daemon) Bootstrap(ctx context.Context) error {
	start := d.now()

	sites, err := d.engine.Sites(ctx)
	if err != nil {
		return fmt.Errorf("daemon: listing sites: %w", err)
	}

	d.logger.Info("bootstrapping inventory", slog.Int("sites", len(sites)))

	for _, site := range sites {
		replicas, err := d.engine.FullSync(ctx, reconcile.Scope{Site: site.Name})
		if err != nil {
			return fmt.Errorf("daemon: full sync of %s: %w", site.Name, err)
		}

		d.apply(replicas)
	}

	d.since = start.Unix()

	d.logger.Info("inventory bootstrapped",
		slog.Int("block_replicas", d.inv.BlockReplicaCount()),
		slog.Duration("elapsed", d.now().Sub(start)),
	)

	return nil
}

// Update applies every change since the previous cycle: updated replicas
// first, then deletions. A deletion older than the replica the inventory
// holds is ignored because the block came back since.
func (d *Daemon) Update(ctx context.Context) error {
	start := d.now()

	sites, err := d.engine.Sites(ctx)
	if err != nil {
		return fmt.Errorf("daemon: listing sites: %w", err)
	}

	names := make([]string, len(sites))
	for i, s := range sites {
		names[i] = s.Name
	}

	updated, err := d.engine.IncrementalSync(ctx, d.since, names)
	if err != nil {
		return fmt.Errorf("daemon: incremental sync: %w", err)
	}

	deleted, err := d.engine.DeletionSync(ctx, d.since)
	if err != nil {
		return fmt.Errorf("daemon: deletion sync: %w", err)
	}

	applied := d.apply(updated)

	stale := make([]*inventory.BlockReplica, 0, len(deleted))
	for _, br := range deleted {
		if cur, ok := d.inv.Lookup(br.Key()); ok && cur.LastUpdate > br.LastUpdate {
			continue
		}

		stale = append(stale, br)
	}

	removed := d.inv.Remove(stale)
	d.opts.Metrics.InventoryChange(metrics.ActionRemoved, removed.Removed)

	d.logger.Info("inventory updated",
		slog.Int64("since", d.since),
		slog.Int("added", applied.Added),
		slog.Int("updated", applied.Updated),
		slog.Int("removed", removed.Removed),
	)

	d.since = start.Unix()

	return nil
}

func (d *Daemon) apply(replicas []*inventory.BlockReplica) inventory.ApplyStats {
	stats := d.inv.Apply(replicas)
	d.opts.Metrics.InventoryChange(metrics.ActionAdded, stats.Added)
	d.opts.Metrics.InventoryChange(metrics.ActionUpdated, stats.Updated)

	return stats
}

// updateLoop runs Update at each scheduled time. A failed cycle is logged
// and retried at the next one with the same since value. Cycles never
// overlap; a slow cycle skips the times it ran past.
func (d *Daemon) updateLoop(ctx context.Context) error {
	for {
		next := d.schedule.Next(d.now())

		timer := time.NewTimer(next.Sub(d.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := d.Update(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			d.logger.Error("inventory update failed", slog.String("error", err.Error()))
		}
	}
}

// Since returns the start of the last successful cycle, unix seconds.
func (d *Daemon) Since() int64 {
	return d.since
}
