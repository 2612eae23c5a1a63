package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMixedLanguages means a widget directory holds sources for more than
	// one toolchain.
	ErrMixedLanguages = errors.New("pipeline: mixed source languages")
	// ErrNoSources means a widget directory holds no compilable sources.
	ErrNoSources = errors.New("pipeline: no sources")
	// ErrToolchainMissing means the toolchain binary could not be found.
	ErrToolchainMissing = errors.New("pipeline: toolchain not found")
	// ErrDisposed means the directory was removed while work was in flight.
	ErrDisposed = errors.New("pipeline: directory disposed")
	// ErrRootMissing means the components root does not exist.
	ErrRootMissing = errors.New("pipeline: components root missing")
)

// CompileError describes a failed compile or a failed load of the compiled
// artifact. Output holds the toolchain's combined output, if any.
type CompileError struct {
	Dir      string
	Language string
	Output   string
	Err      error
}

func (e *CompileError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "compile %s", e.Dir)
	if e.Language != "" {
		fmt.Fprintf(&sb, " (%s)", e.Language)
	}
	fmt.Fprintf(&sb, ": %v", e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		sb.WriteString("\n")
		sb.WriteString(out)
	}
	return sb.String()
}

func (e *CompileError) Unwrap() error { return e.Err }
