// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package fskeleton factors out the common and error-prone code of serving
// an [archive.Dir] tree as an [fs.FS].
// Lookups are case-insensitive because the tree is;
// names reported by ReadDir keep the case stored in the archive.
package fskeleton

import (
	"io/fs"
	"slices"
	"strings"

	"github.com/elliotnunn/gamearchives/internal/archive"
)

type FS struct {
	root *archive.Dir
}

var (
	_ fs.FS        = new(FS)
	_ fs.StatFS    = new(FS)
	_ fs.ReadDirFS = new(FS)
)

// New serves the tree below root. Nothing is read until the first lookup.
func New(root *archive.Dir) *FS {
	return &FS{root: root}
}

// Open retrieves a file from the tree.
// If the file is a directory, the result will also satisfy [fs.ReadDirFile].
// Otherwise it also satisfies [io.ReaderAt] and [io.Seeker],
// and its Stat().Sys() is the underlying [archive.File].
//
// Open is safe for concurrent use by multiple goroutines,
// but each returned file must be used by one goroutine at a time.
func (l *FS) Open(name string) (_ fs.File, err error) {
	defer func() {
		if err != nil {
			err = &fs.PathError{Op: "open", Path: name, Err: err}
		}
	}()

	n, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	switch n := n.(type) {
	case *archive.Dir:
		return &lister{dir: n, info: info{n}}, nil
	case archive.File:
		s, err := n.Open()
		if err != nil {
			return nil, err
		}
		return &file{Stream: s, fi: info{n}}, nil
	}
	panic("unreachable")
}

func (l *FS) Stat(name string) (_ fs.FileInfo, err error) {
	defer func() {
		if err != nil {
			err = &fs.PathError{Op: "stat", Path: name, Err: err}
		}
	}()

	n, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	return &info{n}, nil
}

// ReadDir lists a directory sorted by name, as [fs.ReadDir] requires.
func (l *FS) ReadDir(name string) (_ []fs.DirEntry, err error) {
	defer func() {
		if err != nil {
			err = &fs.PathError{Op: "readdir", Path: name, Err: err}
		}
	}()

	n, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	d, ok := n.(*archive.Dir)
	if !ok {
		return nil, fs.ErrInvalid
	}
	return entries(d)
}

func (l *FS) lookup(name string) (archive.Node, error) {
	if !fs.ValidPath(name) {
		return nil, fs.ErrInvalid
	}
	if name == "." {
		return l.root, nil
	}
	return l.root.At(name)
}

// entries merges the subdirectories and files of d into one sorted list.
// A file hidden by a same-named directory is left out, because At prefers directories.
func entries(d *archive.Dir) ([]fs.DirEntry, error) {
	dirs, err := d.Dirs()
	if err != nil {
		return nil, err
	}
	files, err := d.Files()
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(dirs))
	list := make([]fs.DirEntry, 0, len(dirs)+len(files))
	for _, sub := range dirs {
		taken[strings.ToLower(sub.Name())] = true
		list = append(list, fs.FileInfoToDirEntry(&info{sub}))
	}
	for _, f := range files {
		if taken[strings.ToLower(f.Name())] {
			continue
		}
		list = append(list, fs.FileInfoToDirEntry(&info{f}))
	}
	slices.SortFunc(list, func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })
	return list, nil
}
