package maincmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mna/mainer"
	"github.com/peterh/liner"
)

// repl runs the interactive session: one persistent machine, so globals
// survive across entries, with line editing and in-process history.
func (c *Cmd) repl(ctx context.Context, stdio mainer.Stdio) error {
	m, err := c.newMachine(stdio)
	if err != nil {
		return printError(stdio, err)
	}

	fmt.Fprintf(stdio.Stdout, "%s %s (ctrl-D to exit)\n", binName, c.BuildVersion)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	for ctx.Err() == nil {
		line, err := ln.Prompt("> ")
		switch {
		case errors.Is(err, io.EOF):
			fmt.Fprintln(stdio.Stdout)
			return nil
		case errors.Is(err, liner.ErrPromptAborted):
			continue
		case err != nil:
			return printError(stdio, err)
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)

		// an error in one entry does not end the session
		if err := m.Interpret(line); err != nil {
			printDiag(stdio, err)
		}
	}
	return nil
}
