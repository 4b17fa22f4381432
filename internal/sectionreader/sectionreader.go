// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package sectionreader provides offset+length windows over a backing [io.ReaderAt].
// Reads that would cross the end of a window are shortened, never failed.
package sectionreader

import (
	"errors"
	"io"
	"math"
)

func Section(r io.ReaderAt, off int64, n int64) *ReaderAt {
	for {
		t, ok := r.(interface {
			Outer() (io.ReaderAt, int64, int64)
		})
		if !ok {
			break
		}
		outer, outerOff, outerN := t.Outer()
		if off+n > outerN || off+n < off {
			break
		}
		r, off = outer, off+outerOff
	}

	return &ReaderAt{r, off, n}
}

type ReaderAt struct {
	r      io.ReaderAt
	off, n int64
}

func (r *ReaderAt) Outer() (io.ReaderAt, int64, int64) { return r.r, r.off, r.n }

func (s *ReaderAt) Size() int64 { return s.n }

func (s *ReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	if s.n < 0 || s.off < 0 || off < 0 || s.off+off < 0 || off >= s.n {
		return 0, io.EOF
	}

	ourlimit := s.off + s.n
	if ourlimit < s.off { // integer overflow
		ourlimit = math.MaxInt64
	}

	off += s.off
	if max := ourlimit - off; int64(len(p)) > max {
		p = p[:max]
		n, err = s.r.ReadAt(p, off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return s.r.ReadAt(p, off)
}

// Reader adds a cursor to a window. Seek clamps to [0, Size].
type Reader struct {
	ReaderAt
	pos int64
}

func NewReader(r io.ReaderAt, off, n int64) *Reader {
	return &Reader{ReaderAt: *Section(r, off, n)}
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.pos >= r.n {
		return 0, io.EOF
	}
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.pos
	case io.SeekEnd:
		offset += r.n
	default:
		return r.pos, errWhence
	}
	r.pos = min(max(offset, 0), r.n)
	return r.pos, nil
}

// Pos is the cursor position.
func (r *Reader) Pos() int64 { return r.pos }

var errWhence = errors.New("Seek: invalid whence")
