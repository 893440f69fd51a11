package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()

	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// run parses the global flags and dispatches to a command.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	c := &cli{
		ctx:        ctx,
		stdin:      bufio.NewReader(stdin),
		terminalFD: terminalFD(stdin),
		stdout:     stdout,
		stderr:     stderr,
		version:    VersionInfo{Version: version, Commit: commit, Date: date},
	}

	registry := NewCommandRegistry(c.version, stdout)
	registerCommands(registry, c)

	global := flag.NewFlagSet("backoffice", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.StringVar(&c.configPath, "config", "", "path to a YAML config file")
	global.Usage = func() { registry.PrintHelp(stderr) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}

	defer func() {
		if closeErr := c.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return registry.Execute(global.Args())
}

// terminalFD returns the descriptor of an interactive stdin, or -1.
func terminalFD(stdin io.Reader) int {
	f, ok := stdin.(*os.File)
	if !ok {
		return -1
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return -1
	}
	return fd
}
