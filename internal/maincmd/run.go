package maincmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mna/mainer"

	"github.com/mna/calamus/lang/compiler"
	"github.com/mna/calamus/lang/machine"
	"github.com/mna/calamus/lang/stdlib"
)

// binExt is the extension of serialized bytecode files.
const binExt = ".calbin"

func (c *Cmd) newMachine(stdio mainer.Stdio) (*machine.Machine, error) {
	cfg, err := machine.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid environment configuration: %w", err)
	}
	if c.SuppressPrint {
		cfg.SuppressPrint = true
	}

	m := machine.New(cfg)
	m.Stdout = stdio.Stdout
	m.Stderr = stdio.Stderr
	stdlib.Register(m)
	return m, nil
}

func (c *Cmd) runFile(ctx context.Context, stdio mainer.Stdio, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return printError(stdio, err)
	}

	if filepath.Ext(path) == binExt {
		return c.runBytecode(stdio, b)
	}

	src := string(b)
	switch {
	case c.Wasm, c.Wat:
		return printError(stdio, fmt.Errorf("%s: no wasm back-end is available in this build", path))

	case c.Disasm:
		fn, err := compiler.Compile(src)
		if err != nil {
			printDiag(stdio, err)
			return err
		}
		fmt.Fprint(stdio.Stdout, compiler.Disassemble(fn))
		return nil

	case c.Serialise:
		fn, err := compiler.Compile(src)
		if err != nil {
			printDiag(stdio, err)
			return err
		}
		out := strings.TrimSuffix(path, filepath.Ext(path)) + binExt
		if err := os.WriteFile(out, compiler.Serialize(fn, filepath.Base(path), b), 0600); err != nil {
			return printError(stdio, err)
		}
		return nil
	}

	m, err := c.newMachine(stdio)
	if err != nil {
		return printError(stdio, err)
	}
	if err := m.Interpret(src); err != nil {
		printDiag(stdio, err)
		return err
	}
	return nil
}

func (c *Cmd) runBytecode(stdio mainer.Stdio, b []byte) error {
	fn, _, _, err := compiler.Deserialize(b)
	if err != nil {
		return printError(stdio, err)
	}
	m, err := c.newMachine(stdio)
	if err != nil {
		return printError(stdio, err)
	}
	if err := m.RunProgram(fn); err != nil {
		printDiag(stdio, err)
		return err
	}
	return nil
}

func printError(stdio mainer.Stdio, err error) error {
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
	}
	return err
}
