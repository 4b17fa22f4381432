// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package fskeleton

import (
	"io"
	"io/fs"

	"github.com/elliotnunn/gamearchives/internal/archive"
)

// An Open()ed regular file
type file struct {
	archive.Stream
	fi info
}

func (f *file) Stat() (fs.FileInfo, error) { return &f.fi, nil }

var (
	_ fs.File     = new(file)
	_ io.ReaderAt = new(file)
	_ io.Seeker   = new(file)
)
