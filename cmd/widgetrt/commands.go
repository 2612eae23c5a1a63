package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"widgetrt/internal/config"
	"widgetrt/internal/selection"
	"widgetrt/internal/widget"
)

// runRuntime hosts widgets until SIGINT/SIGTERM.
func runRuntime(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	rt, err := bootRuntime(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	restored, err := rt.RestoreInstances(ctx)
	if err != nil {
		logger.Warn("Some instances could not be restored", zap.Error(err))
	}
	logger.Info("Runtime started",
		zap.String("root", rt.Pipeline.Root()),
		zap.Int("directories", len(rt.Pipeline.Directories())),
		zap.Int("restored", len(restored)))

	<-ctx.Done()

	saveCtx, saveCancel := context.WithTimeout(context.Background(), timeout)
	defer saveCancel()
	n, err := rt.SaveInstances(saveCtx)
	if err != nil {
		logger.Warn("Some instances could not be saved", zap.Error(err))
	}
	logger.Info("Runtime stopped", zap.Int("saved", n))
	return nil
}

// compileWidgets compiles the named directories, or all of them.
func compileWidgets(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rt, err := bootRuntime(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	// The initial scan may already be compiling stale directories.
	if err := settle(ctx, rt); err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		for _, d := range rt.Pipeline.Directories() {
			names = append(names, d.Name)
		}
	}
	for _, name := range names {
		if _, ok := rt.Pipeline.Directory(name); !ok {
			return fmt.Errorf("no widget directory %q under %s", name, rt.Pipeline.Root())
		}
		if err := rt.Pipeline.Recompile(name); err != nil {
			return err
		}
	}
	if err := settle(ctx, rt); err != nil {
		return err
	}

	var failed []string
	for _, name := range names {
		if err := rt.Progress.LastError(name); err != nil {
			failed = append(failed, name)
		}
	}
	logger.Info("Compile finished", zap.Int("directories", len(names)), zap.Int("failed", len(failed)))
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d widgets failed to compile: %s", len(failed), len(names), strings.Join(failed, ", "))
	}
	return nil
}

// listWidgets prints factories and directory states.
func listWidgets(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rt, err := bootRuntime(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	if err := settle(ctx, rt); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("Factories"))
	factories := rt.Env.Registry.All()
	if len(factories) == 0 {
		fmt.Fprintln(out, dimStyle.Render("  (none)"))
	}
	for _, f := range factories {
		fmt.Fprintln(out, renderFactory(f, rt.Env.Registry.IsPreferred(f), rt.Env.Registry.IsIgnored(f)))
	}

	fmt.Fprintln(out, titleStyle.Render("Directories"))
	dirs := rt.Pipeline.Directories()
	if len(dirs) == 0 {
		fmt.Fprintln(out, dimStyle.Render("  (none)"))
	}
	for _, d := range dirs {
		fmt.Fprintln(out, renderDirectory(d))
	}
	return nil
}

// findWidget runs one selection query.
func findWidget(cmd *cobra.Command, args []string) error {
	use, err := selection.ParseUse(findUse)
	if err != nil {
		return err
	}
	var preds []selection.Predicate
	for _, tag := range findFeatures {
		preds = append(preds, selection.HasFeature(tag))
	}
	if findName != "" {
		preds = append(preds, selection.Named(findName))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rt, err := bootRuntime(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	if err := settle(ctx, rt); err != nil {
		return err
	}
	if _, err := rt.RestoreInstances(ctx); err != nil {
		logger.Warn("Some instances could not be restored", zap.Error(err))
	}

	c, err := rt.Find(ctx, selection.All(preds...), use, nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if c == nil {
		fmt.Fprintln(out, warnStyle.Render("No widget matches"))
		return errors.New("no match")
	}

	var line string
	if err := rt.Call(ctx, func() { line = renderInstance(c) }); err != nil {
		return err
	}
	fmt.Fprintln(out, line)

	if use == selection.UseNew || use == selection.UseAny {
		if _, err := rt.SaveInstances(ctx); err != nil {
			logger.Warn("Instance state not saved", zap.Error(err))
		}
	}
	return nil
}

// initConfig writes the default configuration.
func initConfig(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	path := resolveConfigPath(ws)
	if _, err := os.Stat(path); err == nil && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	logger.Info("Wrote default config", zap.String("path", path))
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Wrote "+path))
	return nil
}

// widgetState is the one-word state of an instance.
func widgetState(c *widget.Component) string {
	switch {
	case c.IsMissingFactory():
		return "missing-factory"
	case c.IsPlaceholder():
		return "error"
	default:
		return c.State().String()
	}
}
