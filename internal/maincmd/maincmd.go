// Package maincmd implements the command-line front-end: running source
// files, the interactive REPL, and the bytecode/disassembly tooling
// around the compiler and machine.
package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mna/mainer"
)

const binName = "calamus"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] [<path>]
Run '%[1]s help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] [<path>]
       %[1]s help
       %[1]s -v|--version

Interpreter and all-in-one tool for the %[1]s programming language.

With no <path>, an interactive session (REPL) is started: each line is
interpreted as it is entered, and the session ends on EOF (ctrl-D).

With a <path>, the source file is compiled and executed; the exit code
is non-zero if a compile or runtime error occurred. A <path> with the
.calbin extension is loaded as serialized bytecode instead of source.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
       --serialise               Compile <path> and write the bytecode
                                 next to it as a .calbin file, without
                                 executing it.
       --disasm                  Compile <path> and print the
                                 disassembled bytecode instead of
                                 executing it.
       --suppress-print          Silence print statements (used by the
                                 test harness).
       --wasm --wat              Accepted, but this build has no wasm
                                 back-end: reports an error and exits.

The CALAMUS_GC_STRESS, CALAMUS_GC_LOG, CALAMUS_GC_NEXT and
CALAMUS_SUPPRESS_PRINT environment variables tune the machine; see the
repository documentation.
`, binName)
)

// Cmd is the command-line front-end.
type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	Serialise     bool `flag:"serialise"`
	Disasm        bool `flag:"disasm"`
	SuppressPrint bool `flag:"suppress-print"`
	Wasm          bool `flag:"wasm"`
	Wat           bool `flag:"wat"`

	args []string
}

func (c *Cmd) SetArgs(args []string) {
	c.args = args
}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}
	if len(c.args) > 1 {
		return fmt.Errorf("at most one file can be provided")
	}
	if len(c.args) == 0 && (c.Serialise || c.Disasm || c.Wasm || c.Wat) {
		return fmt.Errorf("a file is required with this flag")
	}
	return nil
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   false,
		EnvPrefix: binName + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success

	case len(c.args) == 1 && c.args[0] == "help":
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.ExitCode(64)
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	var err error
	if len(c.args) == 0 {
		err = c.repl(ctx, stdio)
	} else {
		err = c.runFile(ctx, stdio, c.args[0])
	}
	if err != nil {
		return mainer.Failure
	}
	return mainer.Success
}

var errColor = color.New(color.FgRed)

// printDiag reports a compile or runtime error on stderr, colored when
// the terminal supports it.
func printDiag(stdio mainer.Stdio, err error) {
	errColor.Fprintln(stdio.Stderr, err)
}
