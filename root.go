package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/replicad/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagCatalogURL string
	flagReadOnly   bool
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is the parsed form of the persistent flags.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries what every subcommand needs: flags, the resolved
// config and a logger. PersistentPreRunE attaches it to the command context.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger

	// env and cli are kept so the daemon can re-resolve on reload.
	env config.EnvOverrides
	cli config.CLIOverrides
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext set by the root pre-run. It panics
// when missing because every command runs after that hook.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "replicad",
		Short:   "Replica inventory and transfer catalog client",
		Long:    "Reconcile a replica inventory against the transfer catalog and schedule copies and deletions.",
		Version: version,
		// Silence Cobra's default error/usage printing; main prints errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(shutdownContext(cmd.Context(), cc.Logger), cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagCatalogURL, "catalog-url", "", "catalog service base URL")
	cmd.PersistentFlags().BoolVar(&flagReadOnly, "read-only", false, "never submit copy or deletion requests")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newSitesCmd())
	cmd.AddCommand(newExistsCmd())
	cmd.AddCommand(newCopyCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReloadCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and builds the logger.
func loadConfig(cmd *cobra.Command) (*CLIContext, error) {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		CatalogURL: flagCatalogURL,
	}

	// Only pass --read-only to the resolver if the user explicitly set it.
	if cmd.Flags().Changed("read-only") {
		readOnly := flagReadOnly
		cli.ReadOnly = &readOnly
	}

	env := config.ReadEnvOverrides()

	cfg, path, err := config.Resolve(env, cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	return &CLIContext{
		Flags:   flags,
		Cfg:     cfg,
		CfgPath: path,
		Logger:  buildLogger(os.Stderr, cfg.Logging, flags, isatty.IsTerminal(os.Stderr.Fd())),
		env:     env,
		cli:     cli,
	}, nil
}

// buildLogger creates an slog.Logger from the logging config and CLI flags.
// The config level is the baseline; --verbose and --quiet override it.
// The "auto" format writes text to a terminal and JSON otherwise.
func buildLogger(w io.Writer, lc config.LoggingConfig, flags CLIFlags, terminal bool) *slog.Logger {
	level := slog.LevelInfo

	switch lc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	switch {
	case lc.LogFormat == "json", lc.LogFormat == "auto" && !terminal:
		return slog.New(slog.NewJSONHandler(w, opts))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}
