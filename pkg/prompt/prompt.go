// Package prompt asks the operator how to settle port conflicts.
package prompt

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/resolver"

	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Question is the prompt shown above the option menu
const Question = "How would you like to resolve the conflicts?"

// Options are the menu entries, in the order of their numeric answers
var Options = []string{
	"Kill existing processes and use preferred ports",
	"Find alternative available ports",
	"Exit and handle manually",
}

// LineReader reads a single answer line
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// ReadlineChooser implements resolver.Chooser on top of a terminal line editor
type ReadlineChooser struct {
	out        io.Writer
	openReader func() (LineReader, error)
}

func NewReadlineChooser() *ReadlineChooser {
	return &ReadlineChooser{
		out: os.Stdout,
		openReader: func() (LineReader, error) {
			return readline.NewEx(&readline.Config{
				Prompt:          "Enter your choice (1-3): ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
		},
	}
}

// NewChooserWithReader creates a chooser that writes the menu to out and reads answers from readers built by open
func NewChooserWithReader(out io.Writer, open func() (LineReader, error)) *ReadlineChooser {
	return &ReadlineChooser{out: out, openReader: open}
}

// Choose renders the menu and maps the answer to a strategy.
// Interrupt, end of input and cancellation all count as choosing to exit.
func (c *ReadlineChooser) Choose(ctx context.Context, conflicts []resolver.Conflict) (resolver.Strategy, error) {
	RenderMenu(c.out, conflicts)

	reader, err := c.openReader()
	if err != nil {
		return "", errors.NewIOError("failed to open prompt", err)
	}
	defer reader.Close()

	type answer struct {
		line string
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		line, err := reader.Readline()
		answers <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return resolver.StrategyAbort, nil
	case a := <-answers:
		if a.err != nil {
			if stderrors.Is(a.err, readline.ErrInterrupt) || stderrors.Is(a.err, io.EOF) {
				return resolver.StrategyAbort, nil
			}
			return "", errors.NewIOError("failed to read answer", a.err)
		}
		return ParseChoice(a.line), nil
	}
}

// RenderMenu prints the conflicting ports followed by the numbered options
func RenderMenu(w io.Writer, conflicts []resolver.Conflict) {
	fmt.Fprintln(w, text.FgYellow.Sprint("Port conflicts detected:"))
	for _, conflict := range conflicts {
		fmt.Fprintf(w, "  - %s\n", conflict)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, text.FgHiCyan.Sprint(Question))
	for i, option := range Options {
		fmt.Fprintf(w, "  %d. %s\n", i+1, option)
	}
}

// ParseChoice maps "1" to kill and "2" to alternative; every other answer exits
func ParseChoice(answer string) resolver.Strategy {
	switch strings.TrimSpace(answer) {
	case "1":
		return resolver.StrategyKill
	case "2":
		return resolver.StrategyAlternative
	}
	return resolver.StrategyAbort
}
