package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tonimelisma/replicad/internal/config"
	"github.com/tonimelisma/replicad/internal/history"
	"github.com/tonimelisma/replicad/internal/metrics"
	"github.com/tonimelisma/replicad/internal/phedex"
	"github.com/tonimelisma/replicad/internal/reconcile"
	"github.com/tonimelisma/replicad/internal/schedule"
)

// historyDirPermissions is owner rwx, group/other rx.
const historyDirPermissions = 0o755

func newCatalogClient(cc *CLIContext) *phedex.Client {
	httpClient := &http.Client{Timeout: cc.Cfg.Catalog.TimeoutDuration()}

	return phedex.NewClient(cc.Cfg.Catalog.URL, httpClient, cc.Logger, cc.Cfg.Catalog.UserAgent)
}

// patternFilter builds the admission filter from the [sync] section.
func patternFilter(cfg *config.Config) (*reconcile.PatternFilter, error) {
	return reconcile.NewPatternFilter(reconcile.PatternSet{
		Sites:            cfg.Sync.AllowedSites,
		ExcludedSites:    cfg.Sync.ExcludedSites,
		Datasets:         cfg.Sync.AllowedDatasets,
		ExcludedDatasets: cfg.Sync.ExcludedDatasets,
	})
}

func newEngine(cc *CLIContext, catalog reconcile.Catalog, local reconcile.LocalReplicas, m *metrics.Metrics) (*reconcile.Engine, error) {
	filter, err := patternFilter(cc.Cfg)
	if err != nil {
		return nil, err
	}

	return reconcile.New(catalog, reconcile.Options{
		Workers: cc.Cfg.Sync.Workers,
		Filter:  filter,
		Local:   local,
		Metrics: m,
		Logger:  cc.Logger,
	}), nil
}

// openHistory opens the request history database, creating its directory.
func openHistory(ctx context.Context, cc *CLIContext) (*history.Store, error) {
	path := cc.Cfg.History.DBPath
	if err := os.MkdirAll(filepath.Dir(path), historyDirPermissions); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	return history.Open(ctx, path, cc.Logger)
}

func newCopier(cc *CLIContext, catalog schedule.Catalog, hist schedule.History, opts schedule.Options) *schedule.Copier {
	opts.Logger = cc.Logger

	return schedule.NewCopier(catalog, hist, schedule.CopyConfig{
		ChunkSize:    cc.Cfg.Copy.ChunkBytes(),
		AutoApproval: cc.Cfg.Copy.AutoApproval,
		ReadOnly:     cc.Cfg.Copy.ReadOnly,
		DBSInstance:  cc.Cfg.Catalog.DBSInstance,
	}, opts)
}

func newDeleter(cc *CLIContext, catalog schedule.Catalog, hist schedule.History, opts schedule.Options) *schedule.Deleter {
	opts.Logger = cc.Logger

	return schedule.NewDeleter(catalog, hist, schedule.DeletionConfig{
		ChunkSize:         cc.Cfg.Deletion.ChunkBytes(),
		AutoApproval:      cc.Cfg.Deletion.AutoApproval,
		AllowTapeDeletion: cc.Cfg.Deletion.AllowTapeDeletion,
		TapeAutoApproval:  cc.Cfg.Deletion.TapeAutoApproval,
		ReadOnly:          cc.Cfg.Deletion.ReadOnly,
		DBSInstance:       cc.Cfg.Catalog.DBSInstance,
	}, opts)
}
