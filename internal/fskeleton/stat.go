// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package fskeleton

import (
	"io/fs"
	"time"

	"github.com/elliotnunn/gamearchives/internal/archive"
)

// info satisfies both [fs.FileInfo] and, through [fs.FileInfoToDirEntry], [fs.DirEntry].
// Archives in these formats carry no usable modification times.
type info struct {
	n archive.Node
}

func (i *info) Name() string {
	if i.n.Parent() == nil {
		if _, ok := i.n.(*archive.Dir); ok {
			return "."
		}
	}
	return i.n.Name()
}

func (i *info) Size() int64 {
	if f, ok := i.n.(archive.File); ok {
		return f.Size()
	}
	return 0
}

func (i *info) Mode() fs.FileMode {
	if i.IsDir() {
		return fs.ModeDir | 0o555
	}
	return 0o444
}

func (i *info) ModTime() time.Time { return time.Time{} }

func (i *info) IsDir() bool {
	_, ok := i.n.(*archive.Dir)
	return ok
}

// Sys returns the [archive.File] or [*archive.Dir] behind the entry.
func (i *info) Sys() any { return i.n }
