// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package gamearchives opens the package and disc-image formats of console games
// as read-only directory trees.
//
// A [Registry] holds the known formats in priority order.
// Each format first sniffs a file cheaply; a definite match is decoded at once,
// and the tentative matches are then tried in order until one decodes.
package gamearchives

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/ark"
	"github.com/elliotnunn/gamearchives/internal/fsar"
	"github.com/elliotnunn/gamearchives/internal/fsgimg"
	"github.com/elliotnunn/gamearchives/internal/pfs"
	"github.com/elliotnunn/gamearchives/internal/pkf"
	"github.com/elliotnunn/gamearchives/internal/protected"
	"github.com/elliotnunn/gamearchives/internal/psarc"
	"github.com/elliotnunn/gamearchives/internal/seven45"
	"github.com/elliotnunn/gamearchives/internal/stfs"
	"github.com/elliotnunn/gamearchives/internal/u8"
	"github.com/elliotnunn/gamearchives/internal/xiso"
	"github.com/elliotnunn/gamearchives/internal/xzwrap"
)

type (
	Package      = archive.Package
	File         = archive.File
	Dir          = archive.Dir
	Node         = archive.Node
	Stream       = archive.Stream
	Decoder      = archive.Decoder
	PasscodeFunc = archive.PasscodeFunc
)

// Builtin lists every supported format in the order they are tried.
func Builtin() []Decoder {
	return []Decoder{
		ark.Decoder,
		stfs.Decoder,
		fsar.Decoder,
		fsgimg.Decoder,
		xiso.Decoder,
		pfs.Decoder,
		psarc.Decoder,
		u8.Decoder,
		pkf.Decoder,
		seven45.Decoder,
		xzwrap.Decoder,
		protected.Decoder,
	}
}

type Registry struct {
	decoders []Decoder
}

func NewRegistry(decoders []Decoder) *Registry {
	return &Registry{decoders: append([]Decoder(nil), decoders...)}
}

// Default returns a fresh registry of the [Builtin] formats,
// as used by the package-level functions.
func Default() *Registry { return NewRegistry(Builtin()) }

// Formats lists the registered decoders in priority order.
func (r *Registry) Formats() []Decoder {
	return append([]Decoder(nil), r.decoders...)
}

// Open decodes f with the first format that claims it.
// A definite sniff match is decoded and its error returned as-is.
// Tentative matches are tried in order, moving on only when one reports a corrupt header.
// A nil pass declines every passcode prompt.
func (r *Registry) Open(f File, pass PasscodeFunc) (*Package, error) {
	if pass == nil {
		pass = func(string) string { return "" }
	}

	var maybe []Decoder
	for _, d := range r.decoders {
		switch d.Sniff(f) {
		case archive.Yes:
			slog.Debug("formatSniffed", "name", f.Name(), "format", d.Name, "sniff", archive.Yes)
			return d.Decode(f, pass)
		case archive.Maybe:
			maybe = append(maybe, d)
		}
	}
	for _, d := range maybe {
		slog.Debug("formatSniffed", "name", f.Name(), "format", d.Name, "sniff", archive.Maybe)
		p, err := d.Decode(f, pass)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrCorruptHeader) {
			return nil, err
		}
		slog.Debug("formatDecodeFailed", "name", f.Name(), "format", d.Name, "err", err)
	}
	return nil, fmt.Errorf("%s: %w", f.Name(), ErrUnsupportedFormat)
}

// OpenChild opens an archive stored inside parent.
// The child is closed when the parent is.
func (r *Registry) OpenChild(parent *Package, f File, pass PasscodeFunc) (*Package, error) {
	child, err := r.Open(f, pass)
	if err != nil {
		return nil, err
	}
	parent.Adopt(child)
	return child, nil
}

// FileDialogFilter describes the registered formats in the
// "Name (*.a;*.b)|*.a;*.b|..." form that file pickers accept.
func (r *Registry) FileDialogFilter() string {
	var sb strings.Builder
	for i, d := range r.decoders {
		if i > 0 {
			sb.WriteByte('|')
		}
		globs := "*.*"
		if len(d.Exts) > 0 {
			globs = "*" + strings.Join(d.Exts, ";*")
		}
		fmt.Fprintf(&sb, "%s (%s)|%s", d.Name, globs, globs)
	}
	return sb.String()
}

func Open(f File, pass PasscodeFunc) (*Package, error) { return Default().Open(f, pass) }

func OpenChild(parent *Package, f File, pass PasscodeFunc) (*Package, error) {
	return Default().OpenChild(parent, f, pass)
}

func FileDialogFilter() string { return Default().FileDialogFilter() }
