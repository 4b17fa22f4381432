// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package inflate opens the deflate and zlib streams found inside containers
// and gives them random access through reader2readerat.
package inflate

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/elliotnunn/gamearchives/internal/reader2readerat"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// Deflate gives random access to n stored bytes of raw deflate data at off in r.
// Each backward read restarts the decompressor.
func Deflate(r io.ReaderAt, off, n int64) *reader2readerat.ReaderAt {
	return reader2readerat.NewFromReader(func() (io.Reader, error) {
		return flate.NewReader(io.NewSectionReader(r, off, n)), nil
	})
}

// Zlib is like Deflate but expects a zlib header and checksum.
func Zlib(r io.ReaderAt, off, n int64) *reader2readerat.ReaderAt {
	return reader2readerat.NewFromReader(func() (io.Reader, error) {
		return zlib.NewReader(io.NewSectionReader(r, off, n))
	})
}

// SkipZlibHeader treats a zlib stream as raw deflate, ignoring the trailing checksum.
// Several containers store zlib data but truncate or omit the checksum.
func SkipZlibHeader(r io.ReaderAt, off, n int64) *reader2readerat.ReaderAt {
	return Deflate(r, off+2, max(n-2, 0))
}

// Block decompresses one self-contained block that must produce exactly size bytes.
func Block(src []byte, size int, isZlib bool) ([]byte, error) {
	var rd io.ReadCloser
	if isZlib {
		z, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		rd = z
	} else {
		rd = flate.NewReader(bytes.NewReader(src))
	}
	defer rd.Close()

	out := make([]byte, size)
	n, err := io.ReadFull(rd, out)
	if err != nil {
		return nil, fmt.Errorf("inflated %d of %d bytes: %w", n, size, err)
	}
	return out, nil
}

// Stream reads a whole compressed stream of unknown length, up to limit bytes.
func Stream(src io.Reader, isZlib bool, limit int64) ([]byte, error) {
	var rd io.ReadCloser
	if isZlib {
		z, err := zlib.NewReader(src)
		if err != nil {
			return nil, err
		}
		rd = z
	} else {
		rd = flate.NewReader(src)
	}
	defer rd.Close()
	if limit <= 0 {
		limit = math.MaxInt64
	}
	return io.ReadAll(io.LimitReader(rd, limit))
}
