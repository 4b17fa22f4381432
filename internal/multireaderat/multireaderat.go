// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package multireaderat presents an ordered list of byte ranges as one address space.
package multireaderat

import (
	"io"
	"sort"
)

type part struct {
	r      io.ReaderAt
	off, n int64
}

// ReaderAt is a concatenation. It has no cursor of its own:
// wrap it in a [sectionreader.Reader] (as archive streams do) for Read and Seek.
// ReadAt is safe for concurrent use if the parts are.
type ReaderAt struct {
	parts  []part
	starts []int64 // cumulative, len(parts)+1
}

// Part is one member of a concatenation.
type Part struct {
	R    io.ReaderAt
	Size int64
}

// Concat joins whole readers end to end.
func Concat(parts ...Part) *ReaderAt {
	r := new(ReaderAt)
	for _, p := range parts {
		r.add(p.R, 0, p.Size)
	}
	return r.finish()
}

// Extents joins (offset, length) pairs drawn from a single backing reader.
func Extents(backing io.ReaderAt, extents []int64) *ReaderAt {
	r := new(ReaderAt)
	for i := 0; i+1 < len(extents); i += 2 {
		r.add(backing, extents[i], extents[i+1])
	}
	return r.finish()
}

func (r *ReaderAt) add(ra io.ReaderAt, off, n int64) {
	// coalesce physically adjacent extents
	if k := len(r.parts) - 1; k >= 0 && r.parts[k].r == ra && r.parts[k].off+r.parts[k].n == off {
		r.parts[k].n += n
		return
	}
	r.parts = append(r.parts, part{ra, off, n})
}

func (r *ReaderAt) finish() *ReaderAt {
	r.starts = make([]int64, len(r.parts)+1)
	for i, p := range r.parts {
		r.starts[i+1] = r.starts[i] + p.n
	}
	return r
}

func (r *ReaderAt) Size() int64 { return r.starts[len(r.starts)-1] }

func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= r.Size() {
		return 0, io.EOF
	}

	// the last part whose start is <= off
	i := sort.Search(len(r.parts), func(i int) bool { return r.starts[i+1] > off })

	n := 0
	for n < len(p) && i < len(r.parts) {
		pt := r.parts[i]
		within := off + int64(n) - r.starts[i]
		want := min(int64(len(p)-n), pt.n-within)
		got, err := pt.r.ReadAt(p[n:n+int(want)], pt.off+within)
		n += got
		if int64(got) < want {
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF // a part is shorter than declared
			}
			return n, err
		}
		i++
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
