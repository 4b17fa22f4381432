// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package gamearchives

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/elliotnunn/gamearchives/internal/walk"
)

type ExtractOptions struct {
	// Include limits extraction to paths matching any of these doublestar patterns,
	// e.g. "songs/**/*.mid". Matching ignores case. Empty means every file.
	Include []string

	// Progress is called after each file is written, from the extracting goroutine.
	Progress func(done, total int, path string)
}

// ExtractError names the file that was being extracted when an error occurred.
type ExtractError struct {
	Path string
	Err  error
}

func (e *ExtractError) Error() string { return "extract " + e.Path + ": " + e.Err.Error() }
func (e *ExtractError) Unwrap() error { return e.Err }

var errUnsafePath = errors.New("path escapes the destination")

// Extract writes the files of p below dest, visiting them in the order their data is stored.
// It stops at the first failure or when ctx is done.
// Files of one package must not be read elsewhere while Extract runs.
func Extract(ctx context.Context, p *Package, dest string, opts ExtractOptions) error {
	for _, pat := range opts.Include {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("include pattern %q: %w", pat, doublestar.ErrBadPattern)
		}
	}

	way, files, err := walk.FilesInDataOrder(p.Root)
	if err != nil {
		return &ExtractError{Path: p.Name, Err: err}
	}
	if len(opts.Include) > 0 {
		kept := files[:0]
		for _, f := range files {
			if included(opts.Include, f.Path) {
				kept = append(kept, f)
			}
		}
		files = kept
	}
	slog.Debug("extractOrder", "package", p.Name, "order", way, "files", len(files))

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return &ExtractError{Path: f.Path, Err: err}
		}
		slog.Debug("extractFile", "path", f.Path, "size", f.Size())
		if err := extractOne(f.File, dest, f.Path); err != nil {
			return &ExtractError{Path: f.Path, Err: err}
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(files), f.Path)
		}
	}
	return nil
}

// ExtractInBackground runs [Extract] on its own goroutine.
// The channel receives the result and is then closed.
func ExtractInBackground(ctx context.Context, p *Package, dest string, opts ExtractOptions) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- Extract(ctx, p, dest, opts)
	}()
	return ch
}

func included(patterns []string, name string) bool {
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(strings.ToLower(pat), strings.ToLower(name)); ok {
			return true
		}
	}
	return false
}

func extractOne(f File, dest, name string) error {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return errUnsafePath
	}
	target := filepath.Join(dest, local)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	s, err := f.Open()
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, s); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
