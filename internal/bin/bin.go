// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package bin walks an in-memory header with a sticky error,
// so that a parser can read many fields and check once.
package bin

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

type Reader struct {
	b     []byte
	off   int
	order binary.ByteOrder
	err   error
}

func LE(b []byte) *Reader { return &Reader{b: b, order: binary.LittleEndian} }
func BE(b []byte) *Reader { return &Reader{b: b, order: binary.BigEndian} }

// Err is the first out-of-bounds access, if any.
func (r *Reader) Err() error { return r.err }

func (r *Reader) Pos() int { return r.off }
func (r *Reader) Len() int { return len(r.b) }

func (r *Reader) Seek(off int) {
	if off < 0 || off > len(r.b) {
		r.fail(off, 0)
		return
	}
	r.off = off
}

func (r *Reader) Skip(n int) { r.Seek(r.off + n) }

func (r *Reader) fail(off, n int) {
	if r.err == nil {
		r.err = fmt.Errorf("read %d bytes at %#x of %#x: %w", n, off, len(r.b), io.ErrUnexpectedEOF)
	}
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) []byte {
	if r.err != nil {
		return make([]byte, max(n, 0))
	}
	if n < 0 || r.off+n > len(r.b) || r.off+n < r.off {
		r.fail(r.off, n)
		return make([]byte, max(n, 0))
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8   { return r.Bytes(1)[0] }
func (r *Reader) U16() uint16 { return r.order.Uint16(r.Bytes(2)) }
func (r *Reader) U32() uint32 { return r.order.Uint32(r.Bytes(4)) }
func (r *Reader) U64() uint64 { return r.order.Uint64(r.Bytes(8)) }
func (r *Reader) I16() int16  { return int16(r.U16()) }
func (r *Reader) I32() int32  { return int32(r.U32()) }
func (r *Reader) I64() int64  { return int64(r.U64()) }

func (r *Reader) U24() uint32 {
	b := r.Bytes(3)
	if r.order == binary.BigEndian {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
}

// U40 reads a 5-byte integer.
func (r *Reader) U40() uint64 {
	b := r.Bytes(5)
	var v uint64
	if r.order == binary.BigEndian {
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
	} else {
		for i := 4; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
	}
	return v
}

// CString reads up to a NUL, consuming it.
func (r *Reader) CString() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.b[r.off:], 0)
	if i < 0 {
		r.fail(r.off, len(r.b)-r.off+1)
		return ""
	}
	s := string(r.b[r.off : r.off+i])
	r.off += i + 1
	return s
}

// LenString reads a string prefixed by a 32-bit length.
func (r *Reader) LenString() string {
	n := r.U32()
	if r.err != nil {
		return ""
	}
	if int64(n) > int64(len(r.b)-r.off) {
		r.fail(r.off, int(min(n, 1<<30)))
		return ""
	}
	return string(r.Bytes(int(n)))
}

// CStringAt reads a NUL-terminated string at an absolute offset without moving.
func CStringAt(b []byte, off int) (string, bool) {
	if off < 0 || off >= len(b) {
		return "", false
	}
	i := bytes.IndexByte(b[off:], 0)
	if i < 0 {
		return string(b[off:]), true
	}
	return string(b[off : off+i]), true
}
