// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package cipherstream

import (
	"crypto/aes"
	"io"

	"github.com/elliotnunn/gamearchives/internal/blockcache"
	"golang.org/x/crypto/xts"
)

// XTS is AES-128-XTS over fixed-size sectors numbered from the start of the stream.
// Sectors before startSector are stored in the clear.
type XTS struct {
	r           io.ReaderAt
	size        int64
	c           *xts.Cipher
	startSector uint64
	sectorSize  int64
	id          uint64
}

func NewXTS(r io.ReaderAt, size int64, dataKey, tweakKey []byte, startSector uint64, sectorSize int) (*XTS, error) {
	c, err := xts.NewCipher(aes.NewCipher, append(append([]byte(nil), dataKey...), tweakKey...))
	if err != nil {
		return nil, err
	}
	return &XTS{
		r:           r,
		size:        size,
		c:           c,
		startSector: startSector,
		sectorSize:  int64(sectorSize),
		id:          blockcache.NewID(),
	}, nil
}

func (x *XTS) Size() int64 { return x.size }

func (x *XTS) sector(n uint64) ([]byte, error) {
	base := int64(n) * x.sectorSize
	if b, ok := blockcache.Get(x.id, base); ok {
		return b, nil
	}
	buf := make([]byte, x.sectorSize)
	got, err := readFull(x.r, buf, base)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n >= x.startSector && got == len(buf) {
		x.c.Decrypt(buf, buf, n)
	}
	buf = buf[:got]
	blockcache.Add(x.id, base, buf)
	return buf, nil
}

func (x *XTS) ReadAt(p []byte, off int64) (int, error) {
	p, cerr := clampRead(p, off, x.size)
	if p == nil {
		return 0, cerr
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		sec, err := x.sector(uint64(pos / x.sectorSize))
		if err != nil {
			return n, err
		}
		within := pos % x.sectorSize
		if within >= int64(len(sec)) {
			return n, io.EOF
		}
		n += copy(p[n:], sec[within:])
	}
	return n, cerr
}
