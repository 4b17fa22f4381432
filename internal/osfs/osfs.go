// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package osfs presents a directory of the local filesystem as an [archive.Dir],
// so that a package on disk can find its sibling volumes.
// Directories are listed on first use and files are memory-mapped when opened.
package osfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/sectionreader"
	"golang.org/x/sys/unix"
)

// Dir lists the host directory at path lazily.
// With writeable set, streams opened from its files also implement [io.WriterAt].
func Dir(path string, writeable bool) *archive.Dir {
	return dir(filepath.Base(path), path, writeable)
}

func dir(name, path string, writeable bool) *archive.Dir {
	return archive.NewLazyDir(name, func(d *archive.Dir) error {
		list, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, de := range list {
			full := filepath.Join(path, de.Name())
			switch {
			case de.IsDir():
				d.AddDir(dir(de.Name(), full, writeable))
			case de.Type().IsRegular():
				info, err := de.Info()
				if err != nil {
					continue // vanished since listing
				}
				d.AddFile(&File{name: de.Name(), path: full, parent: d, size: info.Size(), writeable: writeable})
			}
		}
		return nil
	})
}

// FileAt returns the host file at path as a member of its lazily listed parent directory.
func FileAt(path string, writeable bool) (archive.File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f, err := Dir(filepath.Dir(abs), writeable).File(filepath.Base(abs))
	if errors.Is(err, archive.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	return f, err
}

type File struct {
	name      string
	path      string
	parent    *archive.Dir
	size      int64
	writeable bool
}

func (f *File) Name() string                 { return f.name }
func (f *File) Parent() *archive.Dir         { return f.parent }
func (f *File) Size() int64                  { return f.size }
func (f *File) StoredSize() int64            { return f.size }
func (f *File) Compressed() bool             { return false }
func (f *File) ExtendedInfo() map[string]any { return map[string]any{"path": f.path} }

// HostPath is the location of the file on the local filesystem.
func (f *File) HostPath() string { return f.path }

func (f *File) Open() (archive.Stream, error) {
	flag, prot := os.O_RDONLY, unix.PROT_READ
	if f.writeable {
		flag, prot = os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE
	}
	fd, err := os.OpenFile(f.path, flag, 0)
	if err != nil {
		return nil, err
	}
	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	size := info.Size()

	m := &mapping{file: fd}
	if size > 0 {
		data, err := unix.Mmap(int(fd.Fd()), 0, int(size), prot, unix.MAP_SHARED)
		if err == nil {
			m.data = data
		}
	}
	s := &stream{Reader: sectionreader.NewReader(m, 0, size), m: m}
	if f.writeable {
		return &writeableStream{s}, nil
	}
	return s, nil
}

// mapping falls back to plain file access where mmap is refused.
type mapping struct {
	file *os.File
	data []byte

	once sync.Once
	err  error
}

func (m *mapping) ReadAt(p []byte, off int64) (int, error) {
	if m.data == nil {
		return m.file.ReadAt(p, off)
	}
	if off < 0 {
		return 0, os.ErrInvalid
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *mapping) Close() error {
	m.once.Do(func() {
		var errs []error
		if m.data != nil {
			errs = append(errs, unix.Munmap(m.data))
		}
		errs = append(errs, m.file.Close())
		m.err = errors.Join(errs...)
	})
	return m.err
}

type stream struct {
	*sectionreader.Reader
	m *mapping
}

func (s *stream) Close() error { return s.m.Close() }

var errWriteBounds = errors.New("write beyond end of file")

type writeableStream struct{ *stream }

// WriteAt never grows the file.
func (w *writeableStream) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > w.Size() {
		return 0, errWriteBounds
	}
	if w.m.data == nil {
		return w.m.file.WriteAt(p, off)
	}
	return copy(w.m.data[off:], p), nil
}

var (
	_ archive.Stream = new(stream)
	_ io.WriterAt    = new(writeableStream)
)
