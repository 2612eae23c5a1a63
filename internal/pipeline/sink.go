package pipeline

import (
	"sync"

	"widgetrt/internal/logging"
)

// Sink receives compile progress. Calls arrive on the main loop.
type Sink interface {
	CompileStarted(dir string)
	// CompileFinished reports the outcome; err is nil on success and is
	// typically a *CompileError.
	CompileFinished(dir string, err error)
}

// LogSink reports compile progress to the pipeline log.
type LogSink struct{}

// CompileStarted implements Sink.
func (LogSink) CompileStarted(dir string) {
	logging.Pipeline("Compiling %s", dir)
}

// CompileFinished implements Sink.
func (LogSink) CompileFinished(dir string, err error) {
	if err != nil {
		logging.PipelineError("%v", err)
		return
	}
	logging.Pipeline("Compiled %s", dir)
}

// Progress is a Sink that counts compiles in flight and remembers the last
// result per directory.
type Progress struct {
	mu      sync.Mutex
	active  map[string]bool
	results map[string]error
	next    Sink
}

// NewProgress returns a Progress forwarding to next, which may be nil.
func NewProgress(next Sink) *Progress {
	return &Progress{active: map[string]bool{}, results: map[string]error{}, next: next}
}

// CompileStarted implements Sink.
func (p *Progress) CompileStarted(dir string) {
	p.mu.Lock()
	p.active[dir] = true
	p.mu.Unlock()
	if p.next != nil {
		p.next.CompileStarted(dir)
	}
}

// CompileFinished implements Sink.
func (p *Progress) CompileFinished(dir string, err error) {
	p.mu.Lock()
	delete(p.active, dir)
	p.results[dir] = err
	p.mu.Unlock()
	if p.next != nil {
		p.next.CompileFinished(dir, err)
	}
}

// Compiling reports whether any compile is in flight.
func (p *Progress) Compiling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active) > 0
}

// Finished reports whether a compile of dir has finished.
func (p *Progress) Finished(dir string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.results[dir]
	return ok
}

// LastError returns the outcome of the last finished compile of dir.
func (p *Progress) LastError(dir string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results[dir]
}
