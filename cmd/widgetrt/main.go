package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"widgetrt/internal/config"
	"widgetrt/internal/system"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "widgetrt",
	Short: "widgetrt - hot-reloadable widget runtime",
	Long: `widgetrt hosts user-authored widgets compiled from source directories.

Every subdirectory of the components root is one widget. Go widgets are
built as plugins, .gox widgets are interpreted. Edits are recompiled in the
background and open instances move to the new version without losing their
identity or configuration.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd hosts widgets until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compile, load and watch widgets until interrupted",
	Long: `Scans the components root, restores persisted instances and watches
for source changes. Instance state is saved on shutdown.`,
	Args: cobra.NoArgs,
	RunE: runRuntime,
}

// compileCmd compiles widget directories once
var compileCmd = &cobra.Command{
	Use:   "compile [widget-dir...]",
	Short: "Compile widget directories and report diagnostics",
	Long: `Compiles the named widget directories, or every directory when none is
given, bypassing the staleness check. Exits non-zero if any compile fails.

Example:
  widgetrt compile clock weather`,
	RunE: compileWidgets,
}

// listCmd lists factories and widget directories
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered widget factories and directory states",
	Args:  cobra.NoArgs,
	RunE:  listWidgets,
}

// findCmd runs a selection query
var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Find or create a widget instance by capability",
	Long: `Runs the discovery policy: searches open instances, then creates one from
the best matching factory when --use allows it.

Example:
  widgetrt find --feature text-display --use any`,
	Args: cobra.NoArgs,
	RunE: findWidget,
}

// initConfigCmd writes the default configuration
var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE:  initConfig,
}

var (
	findFeatures []string
	findName     string
	findUse      string
	forceInit    bool
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.widgetrt/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	findCmd.Flags().StringSliceVar(&findFeatures, "feature", nil, "Required capability tag (repeatable)")
	findCmd.Flags().StringVar(&findName, "name", "", "Factory name or display name")
	findCmd.Flags().StringVar(&findUse, "use", "any", "open, open-standalone, none, any or new")

	initConfigCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return os.Getwd()
}

func resolveConfigPath(ws string) string {
	if configPath == "" {
		return filepath.Join(ws, ".widgetrt", "config.yaml")
	}
	if filepath.IsAbs(configPath) {
		return configPath
	}
	return filepath.Join(ws, configPath)
}

// bootRuntime loads the config and wires a runtime for cmd.
func bootRuntime(ctx context.Context, cmd *cobra.Command, watch bool) (*system.Runtime, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, err
	}
	path := resolveConfigPath(ws)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger.Debug("Booting runtime", zap.String("workspace", ws), zap.String("config", path))

	return system.BootRuntime(ctx, system.BootConfig{
		Workspace:    ws,
		Config:       cfg,
		Watch:        watch,
		SinkOverride: newStyledSink(cmd.OutOrStdout()),
	})
}

// settle waits until no compile is running or queued and every result has
// been published.
func settle(ctx context.Context, rt *system.Runtime) error {
	for {
		rt.Pipeline.Wait()
		if err := rt.Call(ctx, func() {}); err != nil {
			return err
		}
		if !rt.Progress.Compiling() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
