package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// REPL reads lines from the terminal and hands them to a Session.
type REPL struct {
	line        *liner.State
	historyFile string
	session     *Session
	out         io.Writer
}

// NewREPL creates a REPL with line editing and history stored in historyFile.
func NewREPL(session *Session, out io.Writer, historyFile string) *REPL {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(complete)

	r := &REPL{
		line:        line,
		historyFile: historyFile,
		session:     session,
		out:         out,
	}
	r.loadHistory()
	return r
}

func (r *REPL) loadHistory() {
	f, err := os.Open(r.historyFile)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := r.line.ReadHistory(f); err != nil {
		slog.Warn("Failed to read REPL history", "path", r.historyFile, "error", err)
	}
}

func (r *REPL) saveHistory() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := r.line.WriteHistory(f); err != nil {
		slog.Warn("Failed to write REPL history", "path", r.historyFile, "error", err)
	}
}

// Close saves history and restores the terminal.
func (r *REPL) Close() {
	r.saveHistory()
	_ = r.line.Close()
}

// Run reads lines until /quit, Ctrl-D, Ctrl-C at the prompt, or ctx is done.
// Ctrl-C while a request is running cancels only that request.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, titleStyle.Render("NEUROBOT")+" "+infoStyle.Render("/help для списка команд"))
	r.session.ShowActive()

	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := r.line.Prompt(r.session.Prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if strings.TrimSpace(input) != "" {
			r.line.AppendHistory(input)
		}

		lineCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		keepGoing := r.session.Handle(lineCtx, input)
		stop()
		if !keepGoing {
			return nil
		}
	}
}

func complete(line string) []string {
	if !strings.HasPrefix(line, "/") || strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, name := range commandNames() {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	return out
}
