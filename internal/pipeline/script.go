package pipeline

import (
	"context"
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"widgetrt/internal/loader"
)

// ScriptToolchain "compiles" interpreted .gox widgets: it checks their syntax
// and snapshots them, with lib/, into an artifact directory the loader
// evaluates in a fresh interpreter.
type ScriptToolchain struct{}

// Language implements Toolchain.
func (ScriptToolchain) Language() string { return "script" }

// SourceExt implements Toolchain.
func (ScriptToolchain) SourceExt() string { return loader.ScriptSourceExt }

// ArtifactExt implements Toolchain.
func (ScriptToolchain) ArtifactExt() string { return loader.ScriptExt }

// Compile implements Toolchain.
func (s ScriptToolchain) Compile(ctx context.Context, req Request) (string, []byte, error) {
	if out, err := checkSyntax(req.Sources); err != nil {
		return "", out, err
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	if err := os.MkdirAll(req.OutDir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	staging, err := os.MkdirTemp(req.OutDir, ".staging-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	mainDir := filepath.Join(staging, loader.ScriptMainDir)
	if err := os.MkdirAll(mainDir, 0755); err != nil {
		return "", nil, err
	}
	for _, src := range req.Sources {
		if err := copyFile(src, filepath.Join(mainDir, filepath.Base(src))); err != nil {
			return "", nil, fmt.Errorf("failed to snapshot %s: %w", filepath.Base(src), err)
		}
	}
	if err := copyTree(req.LibDir, filepath.Join(staging, loader.ScriptLibraryDir)); err != nil {
		return "", nil, fmt.Errorf("failed to snapshot libraries: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	artifact := req.ArtifactPath(s.ArtifactExt())
	if err := os.Rename(staging, artifact); err != nil {
		return "", nil, fmt.Errorf("failed to publish artifact: %w", err)
	}
	now := time.Now()
	_ = os.Chtimes(artifact, now, now)
	return artifact, nil, nil
}

// checkSyntax parses every source. The returned output lists all syntax
// errors, one per line.
func checkSyntax(sources []string) ([]byte, error) {
	fset := token.NewFileSet()
	var diags []string
	for _, src := range sources {
		f, err := parser.ParseFile(fset, src, nil, parser.AllErrors)
		if err != nil {
			if list, ok := err.(scanner.ErrorList); ok {
				for _, e := range list {
					diags = append(diags, e.Error())
				}
			} else {
				diags = append(diags, err.Error())
			}
			continue
		}
		if f.Name.Name != "main" {
			diags = append(diags, fmt.Sprintf("%s: package %s, want main", filepath.Base(src), f.Name.Name))
		}
	}
	if len(diags) > 0 {
		return []byte(strings.Join(diags, "\n")), fmt.Errorf("syntax check failed: %d error(s)", len(diags))
	}
	return nil, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyTree copies the directory tree at src to dst. A missing src is empty.
func copyTree(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}
