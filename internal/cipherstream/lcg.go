// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package cipherstream

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Round advances the LCG keystream by one byte.
func Round(k int32) int32 {
	ret := (k-(k/0x1F31D)*0x1F31D)*0x41A7 - (k/0x1F31D)*0xB14
	if ret <= 0 {
		ret += 0x7FFFFFFF
	}
	return ret
}

// LCG decrypts a stream whose first 4 bytes seed the keystream.
// Byte p of the plaintext is at p+4 in the backing reader.
type LCG struct {
	r    io.ReaderAt
	size int64
	key  int32
	xor  byte

	mu     sync.Mutex
	curPos int64
	curKey int32
}

func NewLCG(r io.ReaderAt, backingSize int64, xor byte) (*LCG, error) {
	if backingSize < 4 {
		return nil, fmt.Errorf("lcg stream of %d bytes has no seed", backingSize)
	}
	var seed [4]byte
	if _, err := r.ReadAt(seed[:], 0); err != nil {
		return nil, err
	}
	key := Round(int32(binary.LittleEndian.Uint32(seed[:])))
	return &LCG{r: r, size: backingSize - 4, key: key, xor: xor, curKey: key}, nil
}

func (c *LCG) Size() int64 { return c.size }

// keyAt replays the schedule from the start, or from the cached position if it is not ahead.
func (c *LCG) keyAt(pos int64) int32 {
	if c.curPos > pos {
		c.curPos, c.curKey = 0, c.key
	}
	for c.curPos < pos {
		c.curKey = Round(c.curKey)
		c.curPos++
	}
	return c.curKey
}

// Crypt applies the keystream for absolute position off to p in place.
// The operation is its own inverse.
func (c *LCG) Crypt(p []byte, off int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyAt(off)
	for i := range p {
		p[i] ^= byte(c.curKey) ^ c.xor
		c.curKey = Round(c.curKey)
		c.curPos++
	}
}

func (c *LCG) ReadAt(p []byte, off int64) (int, error) {
	p, cerr := clampRead(p, off, c.size)
	if p == nil {
		return 0, cerr
	}
	n, err := readFull(c.r, p, off+4)
	c.Crypt(p[:n], off)
	if err == nil {
		err = cerr
	}
	return n, err
}
