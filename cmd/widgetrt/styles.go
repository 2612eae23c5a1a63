package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"widgetrt/internal/pipeline"
	"widgetrt/internal/widget"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	nameStyle  = lipgloss.NewStyle().Bold(true).Width(20)

	// Compiler output, indented under the failing directory.
	outputStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A8A8A8")).PaddingLeft(4)
)

// styledSink renders compile progress to a terminal.
type styledSink struct {
	mu  sync.Mutex
	out io.Writer
}

func newStyledSink(out io.Writer) *styledSink {
	return &styledSink{out: out}
}

// CompileStarted implements pipeline.Sink.
func (s *styledSink) CompileStarted(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "%s %s\n", dimStyle.Render("compiling"), dir)
}

// CompileFinished implements pipeline.Sink.
func (s *styledSink) CompileFinished(dir string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		fmt.Fprintf(s.out, "%s %s\n", okStyle.Render("ok"), dir)
		return
	}

	var ce *pipeline.CompileError
	if !errors.As(err, &ce) {
		fmt.Fprintf(s.out, "%s %s: %v\n", errStyle.Render("FAIL"), dir, err)
		return
	}
	fmt.Fprintf(s.out, "%s %s: %v\n", errStyle.Render("FAIL"), dir, ce.Err)
	if out := strings.TrimSpace(ce.Output); out != "" {
		fmt.Fprintln(s.out, outputStyle.Render(out))
	}
}

func renderFactory(f *widget.Factory, preferred, ignored bool) string {
	d := f.Descriptor()
	var tags []string
	if preferred {
		tags = append(tags, okStyle.Render("preferred"))
	}
	if ignored {
		tags = append(tags, warnStyle.Render("ignored"))
	}
	line := "  " + nameStyle.Render(d.DisplayName) + " " + dimStyle.Render(f.Describe())
	if len(d.Features) > 0 {
		line += " [" + strings.Join(d.Features, ", ") + "]"
	}
	if len(tags) > 0 {
		line += " " + strings.Join(tags, " ")
	}
	return line
}

func renderDirectory(d pipeline.DirectoryInfo) string {
	state := d.State.String()
	switch {
	case d.Err != nil:
		state = errStyle.Render("error")
	case d.Factory != "":
		state = okStyle.Render(state)
	default:
		state = dimStyle.Render(state)
	}
	line := fmt.Sprintf("  %s %s", nameStyle.Render(d.Name), state)
	if d.Language != "" {
		line += " " + dimStyle.Render(d.Language)
	}
	if d.Factory != "" {
		line += " -> " + d.Factory
	}
	if d.Err != nil {
		var ce *pipeline.CompileError
		if errors.As(d.Err, &ce) {
			line += ": " + ce.Err.Error()
		} else {
			line += ": " + d.Err.Error()
		}
	}
	return line
}

// renderInstance describes c. Runs on the main loop.
func renderInstance(c *widget.Component) string {
	name := c.CustomName()
	if name == "" {
		name = c.DisplayName()
	}
	return fmt.Sprintf("%s %s %s %s",
		nameStyle.Render(name),
		dimStyle.Render(c.OwnerID()),
		c.FactoryName(),
		okStyle.Render(widgetState(c)))
}
