package cli

import (
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const defaultWrap = 80

// Renderer turns assistant replies into terminal output. Without a terminal, or with
// rendering switched off, replies are printed as they came.
type Renderer struct {
	md *glamour.TermRenderer
}

// NewRenderer builds a glamour renderer when enabled and stdout is a terminal.
func NewRenderer(enabled bool) *Renderer {
	if !enabled || !IsStdoutTTY() {
		return &Renderer{}
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(terminalWidth()),
	)
	if err != nil {
		return &Renderer{}
	}
	return &Renderer{md: md}
}

// Render returns content formatted for display, falling back to the raw text.
func (r *Renderer) Render(content string) string {
	if r == nil || r.md == nil {
		return strings.TrimRight(content, "\n") + "\n"
	}
	out, err := r.md.Render(content)
	if err != nil {
		return strings.TrimRight(content, "\n") + "\n"
	}
	return out
}

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || w > defaultWrap {
		return defaultWrap
	}
	return w
}
