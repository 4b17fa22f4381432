// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package archive

import (
	"io"
	"sync"

	"github.com/elliotnunn/gamearchives/internal/sectionreader"
)

// Stream is an independent handle on a file's content.
// ReadAt never disturbs the cursor used by Read and Seek.
type Stream interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
	Size() int64
}

// NewStream presents the first n bytes of r as a Stream.
// If r is an [io.Closer] it is closed with the Stream.
func NewStream(r io.ReaderAt, n int64) Stream {
	s := &stream{Reader: sectionreader.NewReader(r, 0, n)}
	if c, ok := r.(io.Closer); ok {
		s.c = c
	}
	return s
}

type stream struct {
	*sectionreader.Reader
	c io.Closer
}

func (s *stream) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

// Shared adapts a source that only offers a single cursor,
// such as a pipe-like [io.ReadSeeker], into an [io.ReaderAt].
// Every ReadAt performs its seek and read while holding the lock,
// so streams derived from one Shared never interleave.
type Shared struct {
	mu sync.Mutex
	rs io.ReadSeeker
}

func NewShared(rs io.ReadSeeker) *Shared { return &Shared{rs: rs} }

func (s *Shared) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(s.rs, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (s *Shared) Close() error {
	if c, ok := s.rs.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadAll reads the whole content of f.
func ReadAll(f File) ([]byte, error) {
	s, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer s.Close()
	buf := make([]byte, s.Size())
	n, err := s.ReadAt(buf, 0)
	if err == io.EOF && int64(n) == s.Size() {
		err = nil
	}
	return buf[:n], err
}

// Standalone describes a file that is not part of any directory,
// such as a caller-supplied reader. The caller keeps ownership of r.
func Standalone(name string, r io.ReaderAt, size int64) *Entry {
	return NewEntry(name, size, func() (io.ReaderAt, error) {
		return struct{ io.ReaderAt }{r}, nil
	})
}
