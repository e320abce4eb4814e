package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/replicad/internal/config"
	"github.com/tonimelisma/replicad/internal/daemon"
	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/metrics"
	"github.com/tonimelisma/replicad/internal/reconcile"
)

// pidFileName is the daemon PID file inside the data directory.
const pidFileName = "replicad.pid"

func pidFilePath() string {
	dir := config.DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, pidFileName)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep an in-memory inventory current and serve metrics",
		Long: `Bootstrap the inventory with a full sync of every admitted site, then
apply incremental and deletion syncs on the configured schedule.

The admission patterns are reloaded when the config file changes or on
SIGHUP (see "replicad reload").`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	cleanup, err := writePIDFile(pidFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := metrics.New(reg)
	inv := inventory.New(cc.Logger)

	engine, err := newEngine(cc, newCatalogClient(cc), inv, m)
	if err != nil {
		return err
	}

	holder := config.NewHolder(cc.Cfg, cc.CfgPath)

	d, err := daemon.New(engine, inv, daemon.Options{
		Schedule:    cc.Cfg.Daemon.UpdateSchedule,
		ConfigPath:  holder.Path(),
		LoadFilter:  cc.filterLoader(holder),
		MetricsAddr: cc.Cfg.Daemon.MetricsAddr,
		Gatherer:    reg,
		Metrics:     m,
		Logger:      cc.Logger,
	})
	if err != nil {
		return err
	}

	go reloadOnSIGHUP(ctx, d, cc.Logger)

	cc.Logger.Info("daemon started",
		slog.Int("pid", os.Getpid()),
		slog.String("config", cc.CfgPath),
		slog.String("schedule", cc.Cfg.Daemon.UpdateSchedule),
	)

	return d.Run(ctx)
}

// filterLoader re-resolves the config with the original overrides, stores
// the result in holder and returns the new admission filter. Only the
// admission patterns take effect without a restart.
func (cc *CLIContext) filterLoader(holder *config.Holder) daemon.FilterLoader {
	return func() (reconcile.Filter, error) {
		cfg, _, err := config.Resolve(cc.env, cc.cli)
		if err != nil {
			return nil, err
		}

		filter, err := patternFilter(cfg)
		if err != nil {
			return nil, err
		}

		prev := holder.Config()
		if prev.Catalog != cfg.Catalog || prev.Daemon != cfg.Daemon {
			cc.Logger.Warn("catalog and daemon settings changed on reload take effect after a restart",
				slog.String("config", holder.Path()),
			)
		}

		holder.Update(cfg)

		return filter, nil
	}
}

// reloadOnSIGHUP calls d.Reload on every SIGHUP until ctx is done.
func reloadOnSIGHUP(ctx context.Context, d *daemon.Daemon, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			logger.Info("received SIGHUP, reloading admission filter")
			d.Reload()
		}
	}
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the running daemon to reload its admission patterns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := sendSIGHUP(pidFilePath()); err != nil {
				return err
			}

			cc.Statusf("Reload signal sent to the daemon.\n")

			return nil
		},
	}
}
