// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package cipherstream

import (
	"crypto/aes"
	"crypto/cipher"
	"io"
)

// CTR is AES in counter mode where the 128-bit counter is incremented
// as a little-endian integer, starting from the IV.
type CTR struct {
	r     io.ReaderAt
	off   int64
	size  int64
	block cipher.Block
	iv    [16]byte
}

// NewCTR decrypts size bytes of r starting at off.
func NewCTR(r io.ReaderAt, off, size int64, key, iv []byte) (*CTR, error) {
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	c := &CTR{r: r, off: off, size: size, block: b}
	copy(c.iv[:], iv)
	return c, nil
}

func (c *CTR) Size() int64 { return c.size }

func (c *CTR) counter(blk uint64) [16]byte {
	ctr := c.iv
	carry := blk
	for i := 0; i < 16 && carry != 0; i++ {
		sum := uint64(ctr[i]) + carry&0xff
		ctr[i] = byte(sum)
		carry = carry>>8 + sum>>8
	}
	return ctr
}

// Crypt applies the keystream for absolute position off to p in place.
func (c *CTR) Crypt(p []byte, off int64) {
	var pad [16]byte
	for i := 0; i < len(p); {
		pos := off + int64(i)
		ctr := c.counter(uint64(pos / 16))
		c.block.Encrypt(pad[:], ctr[:])
		for j := int(pos % 16); j < 16 && i < len(p); j++ {
			p[i] ^= pad[j]
			i++
		}
	}
}

func (c *CTR) ReadAt(p []byte, off int64) (int, error) {
	p, cerr := clampRead(p, off, c.size)
	if p == nil {
		return 0, cerr
	}
	n, err := readFull(c.r, p, c.off+off)
	c.Crypt(p[:n], off)
	if err == nil {
		err = cerr
	}
	return n, err
}
