package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"qseq/internal/app"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "0.3.0-dev"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var (
		cfgPath  string
		verbose  bool
		showVer  bool
		dryRun   bool
		daemon   bool
		progName = filepath.Base(args[0])
	)
	fs := flag.NewFlagSet(progName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfgPath, "config", "", "path to config file (json or yaml)")
	fs.BoolVar(&verbose, "v", false, "be more verbose")
	fs.BoolVar(&showVer, "version", false, "show version")
	fs.BoolVar(&showVer, "V", false, "show version (shorthand)")
	fs.BoolVar(&dryRun, "dry-run", false, "don't execute any methods")
	fs.BoolVar(&daemon, "daemon", false, "repeat the sequence on daemon.schedule")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [options] sequencefile\n\noptions:\n", progName)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if showVer {
		fmt.Fprintf(stdout, "%s v%s\n", progName, version)
		return 0
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{
		ConfigPath:   cfgPath,
		SequencePath: fs.Arg(0),
		Verbose:      verbose,
		DryRun:       dryRun,
		Daemon:       daemon,
		Stdout:       stdout,
	})
	if err != nil {
		fmt.Fprintln(stderr, "fatal:", err)
		return 1
	}

	runErr := a.Run(ctx)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	_ = a.Close(closeCtx)

	switch {
	case runErr == nil:
		return 0
	case errors.Is(runErr, context.Canceled) && ctx.Err() != nil:
		fmt.Fprintln(stderr, "interrupted")
		return 130
	default:
		fmt.Fprintln(stderr, "fatal:", runErr)
		return 1
	}
}
