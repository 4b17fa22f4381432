// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package gamearchives

import (
	"fmt"
	"io"
	"io/fs"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/fskeleton"
	"github.com/elliotnunn/gamearchives/internal/osfs"
)

type OpenOptions struct {
	// Writeable opens the backing files for in-place replacement,
	// which only some formats support.
	Writeable bool

	// Registry defaults to [Default].
	Registry *Registry
}

// OpenPath opens a package stored on the local filesystem.
// Secondary volumes are found next to it by name.
func OpenPath(path string, pass PasscodeFunc, opts *OpenOptions) (*Package, error) {
	if opts == nil {
		opts = new(OpenOptions)
	}
	r := opts.Registry
	if r == nil {
		r = Default()
	}
	f, err := osfs.FileAt(path, opts.Writeable)
	if err != nil {
		return nil, err
	}
	return r.Open(f, pass)
}

// OpenReader opens a package held in r, which the caller must keep open
// until the package is closed. Formats that need sibling volumes fail with [ErrMissingVolume].
func OpenReader(name string, r io.ReaderAt, size int64, pass PasscodeFunc) (*Package, error) {
	return Default().Open(archive.Standalone(name, r, size), pass)
}

// OpenReadSeeker opens a package from a source with a single cursor.
// Reads from every file of the package are serialized on that cursor.
func OpenReadSeeker(name string, rs io.ReadSeeker, pass PasscodeFunc) (*Package, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return OpenReader(name, archive.NewShared(rs), size, pass)
}

// FS presents the package tree through [io/fs].
// Lookups ignore case, and each file's Stat().Sys() is the [File] it came from.
func FS(p *Package) fs.FS {
	return fskeleton.New(p.Root)
}
