// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package cipherstream decrypts container data on the fly.
// Every decorator is an [io.ReaderAt] whose key state can be recomputed
// for any absolute position, so directory walks may seek freely.
package cipherstream

import "io"

// readFull is ReadAt that treats a short read as EOF rather than an error.
func readFull(r io.ReaderAt, p []byte, off int64) (int, error) {
	n, err := r.ReadAt(p, off)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func clampRead(p []byte, off, size int64) ([]byte, error) {
	if off < 0 || off >= size {
		return nil, io.EOF
	}
	if int64(len(p)) > size-off {
		return p[:size-off], io.EOF
	}
	return p, nil
}
