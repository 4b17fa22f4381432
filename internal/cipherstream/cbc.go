// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package cipherstream

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// CBCBlocks decrypts a stream made of independently CBC-encrypted blocks,
// each starting again from the same IV.
type CBCBlocks struct {
	r         io.ReaderAt
	off, size int64
	blockSize int64
	block     cipher.Block
	iv        []byte
}

// NewCBCBlocks decrypts size plaintext bytes whose first block is at off in r.
// blockSize must be a multiple of the AES block size.
func NewCBCBlocks(r io.ReaderAt, off, size int64, blockSize int, key, iv []byte) (*CBCBlocks, error) {
	if blockSize <= 0 || blockSize%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cbc block size %d is not a multiple of %d", blockSize, aes.BlockSize)
	}
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &CBCBlocks{r: r, off: off, size: size, blockSize: int64(blockSize), block: b, iv: append([]byte(nil), iv...)}, nil
}

func (c *CBCBlocks) Size() int64 { return c.size }

// DecryptCBC decrypts buf in place; a trailing partial AES block is left alone.
func DecryptCBC(b cipher.Block, iv, buf []byte) {
	whole := len(buf) / aes.BlockSize * aes.BlockSize
	cipher.NewCBCDecrypter(b, iv).CryptBlocks(buf[:whole], buf[:whole])
}

func (c *CBCBlocks) ReadAt(p []byte, off int64) (int, error) {
	p, cerr := clampRead(p, off, c.size)
	if p == nil {
		return 0, cerr
	}
	buf := make([]byte, c.blockSize)
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		base := pos / c.blockSize * c.blockSize
		got, err := readFull(c.r, buf, c.off+base)
		if err != nil && err != io.EOF {
			return n, err
		}
		DecryptCBC(c.block, c.iv, buf[:got])
		within := pos - base
		if within >= int64(got) {
			return n, io.EOF
		}
		n += copy(p[n:], buf[within:got])
	}
	return n, cerr
}
