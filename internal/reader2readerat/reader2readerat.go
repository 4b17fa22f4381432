// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package reader2readerat gives random access to forward-only streams,
// such as decompressors, by reopening them when a read goes backwards.
// Decoded blocks are kept in the shared block cache.
package reader2readerat

import (
	"io"
	"sync"

	"github.com/elliotnunn/gamearchives/internal/blockcache"
)

const blocksize = blockcache.BlockSize

type ReaderAt struct {
	r     io.Reader
	id    uint64
	open  func() error
	close func()
	l     sync.Mutex
	seek  int64
}

// If the io.Reader is an io.ReadCloser then it will be closed when I am closed
func NewFromReader(f func() (io.Reader, error)) *ReaderAt {
	r := &ReaderAt{id: blockcache.NewID()}
	r.open = func() error {
		from, err := f()
		r.r, r.seek = from, 0
		return err
	}
	r.close = func() {
		if closer, ok := r.r.(io.Closer); ok {
			closer.Close()
		}
		r.r = nil
	}
	return r
}

func (r *ReaderAt) ReadAt(buf []byte, off int64) (n int, reterr error) {
	if off < 0 {
		return 0, io.EOF
	}
	for base := off / blocksize * blocksize; base < off+int64(len(buf)); base += blocksize {
		block, err := r.block(base)
		if err != nil && err != io.EOF {
			return n, err
		}

		blockskip := max(0, off-base)
		if blockskip >= int64(len(block)) {
			return n, io.EOF
		}
		n += copy(buf[n:], block[blockskip:])
		if len(block) < blocksize {
			if n < len(buf) {
				return n, io.EOF
			}
			return n, nil
		}
	}
	return n, nil
}

// block returns the decoded block at base, which is short only at the end of the stream.
func (r *ReaderAt) block(base int64) ([]byte, error) {
	if b, ok := blockcache.Get(r.id, base); ok { // easy path
		return b, nil
	}

	r.l.Lock()
	defer r.l.Unlock()
	if r.seek > base || r.r == nil {
		r.close()
		if err := r.open(); err != nil {
			return nil, err
		}
	}

	for {
		block := make([]byte, blocksize)
		bn, err := io.ReadFull(r.r, block)
		block = block[:bn]
		at := r.seek
		r.seek += int64(bn)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		blockcache.Add(r.id, at, block)
		if at == base {
			return block, err
		}
		if err == io.EOF {
			return nil, io.EOF
		}
	}
}

func (r *ReaderAt) Close() error {
	r.l.Lock()
	defer r.l.Unlock()
	if r.r != nil {
		r.close()
	}
	return nil
}
