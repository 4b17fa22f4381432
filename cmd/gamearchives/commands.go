// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/elliotnunn/gamearchives"
)

var errUsage = errors.New("wrong number of arguments")

func cmdFormats(o *options, args []string) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, d := range gamearchives.Default().Formats() {
		exts := strings.Join(d.Exts, " ")
		if exts == "" {
			exts = "(any)"
		}
		fmt.Fprintf(tw, "%s\t%s\n", d.Name, exts)
	}
	return tw.Flush()
}

func cmdLs(o *options, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	p, err := o.open(args[0])
	if err != nil {
		return err
	}
	defer p.Close()
	fmt.Printf("%s: %s, %s\n", p.Name, p.Format, humanize.IBytes(uint64(p.TotalSize)))

	patterns := args[1:]
	fsys := gamearchives.FS(p)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	err = fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !matchAny(patterns, name) {
			return nil
		}
		i, err := d.Info()
		if err != nil {
			return err
		}
		f := i.Sys().(gamearchives.File)
		if o.long {
			fmt.Fprintf(tw, "%s\t%s\t%s\t %s%s\n", humanize.IBytes(uint64(f.Size())), humanize.IBytes(uint64(f.StoredSize())),
				compressedMark(f), name, attributes(f))
		} else {
			fmt.Fprintf(tw, "%s\t %s\n", humanize.IBytes(uint64(f.Size())), name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return tw.Flush()
}

func compressedMark(f gamearchives.File) string {
	if f.Compressed() {
		return "z"
	}
	return "-"
}

func attributes(f gamearchives.File) string {
	info := f.ExtendedInfo()
	if len(info) == 0 {
		return ""
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, info[k])
	}
	return sb.String()
}

func matchAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(strings.ToLower(pat), strings.ToLower(name)); ok {
			return true
		}
	}
	return false
}

func cmdCat(o *options, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	p, err := o.open(args[0])
	if err != nil {
		return err
	}
	defer p.Close()

	f, err := gamearchives.FS(p).Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, f)
	return err
}

func cmdExtract(o *options, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	p, err := o.open(args[0])
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return <-gamearchives.ExtractInBackground(ctx, p, args[1], gamearchives.ExtractOptions{
		Include: args[2:],
		Progress: func(done, total int, path string) {
			slog.Info("extracted", "done", done, "total", total, "path", path)
		},
	})
}

func cmdServe(o *options, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	p, err := o.open(args[0])
	if err != nil {
		return err
	}
	defer p.Close()

	slog.Warn("serving", "package", p.Name, "addr", o.addr)
	return http.ListenAndServe(o.addr, http.FileServerFS(gamearchives.FS(p)))
}

func cmdReplace(o *options, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	data, err := os.ReadFile(args[2])
	if err != nil {
		return err
	}
	o.writeable = true
	p, err := o.open(args[0])
	if err != nil {
		return err
	}
	defer p.Close()

	f, err := p.Root.FileAt(args[1])
	if err != nil {
		return err
	}
	return p.Replace(f, data)
}
