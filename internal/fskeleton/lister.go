// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package fskeleton

import (
	"io"
	"io/fs"

	"github.com/elliotnunn/gamearchives/internal/archive"
)

// An Open()ed directory
type lister struct {
	info
	dir      *archive.Dir
	children []fs.DirEntry
	listed   bool
	progress int
}

func (l *lister) Stat() (fs.FileInfo, error) { return &l.info, nil }
func (l *lister) Close() error               { return nil }

func (l *lister) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: l.Name(), Err: fs.ErrInvalid}
}

// Tricky partial-listing semantics
func (l *lister) ReadDir(count int) ([]fs.DirEntry, error) {
	if !l.listed {
		children, err := entries(l.dir)
		if err != nil {
			return nil, err
		}
		l.children, l.listed = children, true
	}

	n := len(l.children) - l.progress
	if n == 0 && count > 0 {
		return nil, io.EOF
	}
	if count > 0 && n > count {
		n = count
	}
	list := l.children[l.progress:][:n:n]
	l.progress += n
	return list, nil
}

var _ fs.ReadDirFile = new(lister) // check satisfies interface
