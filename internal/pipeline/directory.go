package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"widgetrt/internal/debounce"
	"widgetrt/internal/logging"
	"widgetrt/internal/widget"
)

// State is a widget directory's compilation state.
type State int

const (
	StateIdle State = iota
	StateSourceChanged
	StateCompiling
	StateCompileOK
	StateCompileError
	StateLoading
	StateRegistered
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSourceChanged:
		return "source-changed"
	case StateCompiling:
		return "compiling"
	case StateCompileOK:
		return "compile-ok"
	case StateCompileError:
		return "compile-error"
	case StateLoading:
		return "loading"
	case StateRegistered:
		return "registered"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the legal moves of the directory state machine.
var transitions = map[State][]State{
	StateIdle:          {StateSourceChanged, StateCompiling, StateLoading},
	StateSourceChanged: {StateSourceChanged, StateCompiling},
	StateCompiling:     {StateCompileOK, StateCompileError},
	StateCompileOK:     {StateLoading},
	StateCompileError:  {StateIdle},
	StateLoading:       {StateRegistered, StateCompileError},
	StateRegistered:    {StateIdle},
}

func canTransition(from, to State) bool {
	if to == StateDisposed {
		return from != StateDisposed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Directory is one widget directory: one compilation unit producing one
// factory. Fields are guarded by the pipeline's mutex.
type Directory struct {
	name string
	path string

	state     State
	language  string
	factory   *widget.Factory
	artifact  string
	lastErr   error
	debouncer *debounce.Debouncer[struct{}]

	gen      uint64 // bumped on every compile start; stale results are dropped
	cancel   context.CancelFunc
	rerun    bool
	force    bool
	disposed bool
}

// setState moves d to s, logging illegal transitions.
func (d *Directory) setState(s State) {
	if !canTransition(d.state, s) {
		logging.PipelineWarn("Directory %s: unexpected transition %s -> %s", d.name, d.state, s)
	}
	logging.PipelineDebug("Directory %s: %s -> %s", d.name, d.state, s)
	d.state = s
}

func (d *Directory) busy() bool {
	return d.state == StateCompiling || d.state == StateCompileOK || d.state == StateLoading
}

// DirectoryInfo is a snapshot of a Directory.
type DirectoryInfo struct {
	Name     string
	Path     string
	State    State
	Language string
	Factory  string // identity name of the published factory
	Artifact string
	Err      error
}

func (d *Directory) info() DirectoryInfo {
	di := DirectoryInfo{
		Name:     d.name,
		Path:     d.path,
		State:    d.state,
		Language: d.language,
		Artifact: d.artifact,
		Err:      d.lastErr,
	}
	if d.factory != nil {
		di.Factory = d.factory.Name()
	}
	return di
}

// widgetDirs lists the widget directories under root, sorted. Hidden
// directories are skipped.
func widgetDirs(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootMissing, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootMissing, root)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// isResource reports whether name is a style or properties resource that is
// re-applied without recompiling.
func isResource(name string) bool {
	switch filepath.Ext(name) {
	case ".css", ".properties":
		return true
	}
	return false
}

func sortInfos(infos []DirectoryInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
}
