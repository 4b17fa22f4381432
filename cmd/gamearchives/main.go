// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// gamearchives lists, extracts and serves the contents of console game packages.
//
//	gamearchives formats
//	gamearchives ls PACKAGE [PATTERN...]
//	gamearchives cat PACKAGE PATH
//	gamearchives extract PACKAGE DEST [PATTERN...]
//	gamearchives serve PACKAGE
//	gamearchives replace PACKAGE PATH NEWFILE
//
// Secrets for encrypted packages are asked for on the terminal, or given with --key LABEL=HEX.
// If GAMEARCHIVES_KEYSTORE names a directory, accepted secrets are remembered there.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/elliotnunn/gamearchives"
	"github.com/elliotnunn/gamearchives/internal/keystore"
	"github.com/elliotnunn/gamearchives/internal/osfs"
	"github.com/spf13/pflag"
)

type options struct {
	verbose   int
	keys      map[string]string
	long      bool
	addr      string
	writeable bool
}

var commands = map[string]func(*options, []string) error{
	"formats": cmdFormats,
	"ls":      cmdLs,
	"cat":     cmdCat,
	"extract": cmdExtract,
	"serve":   cmdServe,
	"replace": cmdReplace,
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gamearchives: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var o options
	flagSet := pflag.NewFlagSet("gamearchives", pflag.ContinueOnError)
	flagSet.CountVarP(&o.verbose, "verbose", "v", "log decisions to stderr (repeat for more)")
	flagSet.StringToStringVar(&o.keys, "key", nil, "secret for a prompt, e.g. EKPFS=<64 hex digits>")
	flagSet.BoolVarP(&o.long, "long", "l", false, "ls: show stored size and format attributes")
	flagSet.StringVar(&o.addr, "addr", ":1993", "serve: listen address")
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: gamearchives [flags] formats|ls|cat|extract|serve|replace ...")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelWarn
	switch {
	case o.verbose >= 2:
		level = slog.LevelDebug
	case o.verbose == 1:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	rest := flagSet.Args()
	if len(rest) == 0 {
		flagSet.Usage()
		return errors.New("no command")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}
	return cmd(&o, rest[1:])
}

var stdin = bufio.NewReader(os.Stdin)

// prompt asks on the terminal unless the secret was given on the command line.
func (o *options) prompt(label string) string {
	if k, ok := o.keys[label]; ok {
		return k
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}

// open opens a package from the local filesystem,
// consulting and updating the keystore when one is configured.
func (o *options) open(path string) (*gamearchives.Package, error) {
	dir := os.Getenv(keystore.EnvVar)
	if dir == "" {
		return gamearchives.OpenPath(path, o.prompt, &gamearchives.OpenOptions{Writeable: o.writeable})
	}

	store, err := keystore.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	defer store.Close()

	f, err := osfs.FileAt(path, o.writeable)
	if err != nil {
		return nil, err
	}
	session := store.Wrap(keystore.Identity(f), o.prompt)
	p, err := gamearchives.Open(f, session.Passcode)
	switch {
	case err == nil:
		if err := session.Confirm(); err != nil {
			slog.Warn("keystoreWriteError", "err", err)
		}
	case errors.Is(err, gamearchives.ErrInvalidPasscode):
		if err := session.Reject(); err != nil {
			slog.Warn("keystoreWriteError", "err", err)
		}
	}
	return p, err
}
