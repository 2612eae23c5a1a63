package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Widget directory layout.
const (
	OutDir = "out"
	LibDir = "lib"
)

// Toolchain compiles one source language into loadable artifacts.
type Toolchain interface {
	// Language names the toolchain in logs and errors.
	Language() string
	// SourceExt is the extension of the sources it compiles, e.g. ".go".
	SourceExt() string
	// ArtifactExt is the extension of the artifacts it writes to out/.
	ArtifactExt() string
	// Compile builds req into an artifact under req.OutDir. The returned
	// output is the diagnostic text on failure.
	Compile(ctx context.Context, req Request) (artifact string, output []byte, err error)
}

// Request is one compile job.
type Request struct {
	Name    string   // widget directory name
	Dir     string   // widget directory
	Sources []string // absolute source paths, sorted
	OutDir  string   // artifact directory
	LibDir  string   // private libraries, may not exist
	Stamp   string   // unique per build
}

// ArtifactPath returns the artifact path for req with extension ext.
func (r Request) ArtifactPath(ext string) string {
	return filepath.Join(r.OutDir, r.Name+"-"+r.Stamp+ext)
}

// newStamp returns a build stamp that sorts by time.
func newStamp() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

// sourcesFor lists the files in dir compiled by tc, sorted. Go test files
// are not widget sources.
func sourcesFor(dir string, tc Toolchain) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != tc.SourceExt() || strings.HasSuffix(name, "_test.go") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// detectLanguage returns the one toolchain whose sources are present in dir
// and those sources.
func detectLanguage(dir string, tcs []Toolchain) (Toolchain, []string, error) {
	var (
		found   Toolchain
		sources []string
		langs   []string
	)
	for _, tc := range tcs {
		srcs, err := sourcesFor(dir, tc)
		if err != nil {
			return nil, nil, err
		}
		if len(srcs) == 0 {
			continue
		}
		langs = append(langs, tc.Language())
		found, sources = tc, srcs
	}
	switch len(langs) {
	case 0:
		return nil, nil, ErrNoSources
	case 1:
		return found, sources, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrMixedLanguages, strings.Join(langs, ", "))
	}
}

// isSource reports whether name is compiled by one of tcs.
func isSource(name string, tcs []Toolchain) bool {
	ext := filepath.Ext(name)
	for _, tc := range tcs {
		if ext == tc.SourceExt() {
			return true
		}
	}
	return false
}
