package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/mod/modfile"

	"widgetrt/internal/loader"
	"widgetrt/internal/logging"
)

// GoPluginToolchain builds .go widgets with `go build -buildmode=plugin`.
//
// Each build happens in a scratch module whose go.mod replaces the host
// module with its local source and every lib/<module> with its directory.
// The plugin path is unique per build so a new version loads beside the old.
type GoPluginToolchain struct {
	Binary         string   // go executable, default "go"
	HostModule     string   // module path widgets import, e.g. "widgetrt"
	HostModuleRoot string   // local source of HostModule
	BuildFlags     []string // extra flags for go build
	Env            []string // extra environment
}

// Language implements Toolchain.
func (GoPluginToolchain) Language() string { return "go" }

// SourceExt implements Toolchain.
func (GoPluginToolchain) SourceExt() string { return ".go" }

// ArtifactExt implements Toolchain.
func (GoPluginToolchain) ArtifactExt() string { return loader.PluginExt }

func (g GoPluginToolchain) binary() string {
	if g.Binary == "" {
		return "go"
	}
	return g.Binary
}

// Compile implements Toolchain.
func (g GoPluginToolchain) Compile(ctx context.Context, req Request) (string, []byte, error) {
	bin, err := exec.LookPath(g.binary())
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrToolchainMissing, g.binary(), err)
	}
	if err := os.MkdirAll(req.OutDir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "widgetrt-build-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	for _, src := range req.Sources {
		data, err := os.ReadFile(src)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read source: %w", err)
		}
		if err := os.WriteFile(filepath.Join(tmpDir, filepath.Base(src)), data, 0644); err != nil {
			return "", nil, fmt.Errorf("failed to write source: %w", err)
		}
	}

	gomod, err := g.scratchModule(req)
	if err != nil {
		return "", nil, err
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "go.mod"), gomod, 0644); err != nil {
		return "", nil, fmt.Errorf("failed to write go.mod: %w", err)
	}

	env := append(os.Environ(), "CGO_ENABLED=1", "GOFLAGS=-mod=mod")
	env = append(env, g.Env...)

	tidy := exec.CommandContext(ctx, bin, "mod", "tidy")
	tidy.Dir = tmpDir
	tidy.Env = env
	if out, err := tidy.CombinedOutput(); err != nil {
		return "", out, fmt.Errorf("go mod tidy failed: %w", err)
	}

	artifact := req.ArtifactPath(g.ArtifactExt())
	args := []string{"build", "-buildmode=plugin",
		"-ldflags", "-pluginpath=" + pluginPath(req),
		"-o", artifact}
	args = append(args, g.BuildFlags...)
	args = append(args, ".")

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = tmpDir
	cmd.Env = env
	logging.CompileDebug("Running %s %s in %s", bin, strings.Join(args, " "), tmpDir)

	out, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(artifact)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", out, fmt.Errorf("compilation interrupted: %w", ctxErr)
		}
		return "", out, fmt.Errorf("compilation failed: %w", err)
	}
	return artifact, out, nil
}

// scratchModule renders the go.mod of the scratch build module.
func (g GoPluginToolchain) scratchModule(req Request) ([]byte, error) {
	f := &modfile.File{}
	if err := f.AddModuleStmt("widgetrt.local/" + sanitize(req.Name)); err != nil {
		return nil, fmt.Errorf("failed to build go.mod: %w", err)
	}
	if err := f.AddGoStmt("1.24"); err != nil {
		return nil, fmt.Errorf("failed to build go.mod: %w", err)
	}

	if g.HostModule != "" && g.HostModuleRoot != "" {
		if err := addLocal(f, g.HostModule, g.HostModuleRoot); err != nil {
			return nil, err
		}
	}

	libs, err := libraryModules(req.LibDir)
	if err != nil {
		return nil, err
	}
	for _, lib := range libs {
		if err := addLocal(f, lib.path, lib.dir); err != nil {
			return nil, err
		}
	}

	f.Cleanup()
	return f.Format()
}

func addLocal(f *modfile.File, path, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := f.AddRequire(path, "v0.0.0"); err != nil {
		return fmt.Errorf("failed to require %s: %w", path, err)
	}
	if err := f.AddReplace(path, "", abs, ""); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

type libModule struct {
	path string // module path from its go.mod
	dir  string
}

// libraryModules lists the modules under lib/. A subdirectory without a
// go.mod is skipped.
func libraryModules(libDir string) ([]libModule, error) {
	entries, err := os.ReadDir(libDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", libDir, err)
	}
	var out []libModule
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(libDir, e.Name())
		data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
		if err != nil {
			logging.CompileDebug("Skipping library %s: %v", dir, err)
			continue
		}
		path := modfile.ModulePath(data)
		if path == "" {
			return nil, fmt.Errorf("library %s: go.mod has no module path", dir)
		}
		out = append(out, libModule{path: path, dir: dir})
	}
	return out, nil
}

func pluginPath(req Request) string {
	return "widgetrt/widget/" + sanitize(req.Name) + "/" + req.Stamp
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitize(name string) string {
	s := unsafeChars.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		return "widget"
	}
	return s
}
