package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Light gray

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")). // Purple
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")) // Yellow
)

// Toaster prints short notifications between REPL lines. It satisfies
// chatstore.Notifier, so the store's delete confirmation lands here.
type Toaster struct {
	mu  sync.Mutex
	out io.Writer
}

// NewToaster returns a Toaster writing to out.
func NewToaster(out io.Writer) *Toaster {
	return &Toaster{out: out}
}

// Notify prints an informational toast.
func (t *Toaster) Notify(title, description string) {
	t.print(successStyle, title, description)
}

// Error prints a destructive toast.
func (t *Toaster) Error(title, description string) {
	t.print(errorStyle, title, description)
}

func (t *Toaster) print(style lipgloss.Style, title, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s %s\n", style.Render("["+title+"]"), description)
}
