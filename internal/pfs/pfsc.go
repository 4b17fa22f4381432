// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pfs

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/blockcache"
	"github.com/elliotnunn/gamearchives/internal/inflate"
)

const pfscMagic = "PFSC"

// compressedImage is a PFSC container: an image cut into sectors,
// each either stored or deflated behind a two-byte zlib header.
type compressedImage struct {
	r          io.ReaderAt
	sectorSize int64
	length     int64
	offsets    []int64
	id         uint64
}

func openCompressed(r io.ReaderAt) (*compressedImage, error) {
	var hdr [0x30]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("pfsc header: %v: %w", err, archive.ErrCorruptHeader)
	}
	if string(hdr[:4]) != pfscMagic {
		return nil, fmt.Errorf("pfsc magic: %w", archive.ErrCorruptHeader)
	}
	c := &compressedImage{
		r:          r,
		sectorSize: int64(binary.LittleEndian.Uint64(hdr[0x10:])),
		length:     int64(binary.LittleEndian.Uint64(hdr[0x28:])),
		id:         blockcache.NewID(),
	}
	mapAt := int64(binary.LittleEndian.Uint64(hdr[0x18:]))
	if c.sectorSize <= 0 || c.sectorSize > 1<<24 || c.length < 0 {
		return nil, fmt.Errorf("pfsc sector size %#x length %#x: %w", c.sectorSize, c.length, archive.ErrCorruptHeader)
	}
	n := (c.length+c.sectorSize-1)/c.sectorSize + 1
	if n > 1<<26 {
		return nil, fmt.Errorf("pfsc sector map of %d entries: %w", n, archive.ErrCorruptHeader)
	}
	raw := make([]byte, 8*n)
	if _, err := r.ReadAt(raw, mapAt); err != nil && err != io.EOF {
		return nil, fmt.Errorf("pfsc sector map: %v: %w", err, archive.ErrCorruptHeader)
	}
	c.offsets = make([]int64, n)
	for i := range c.offsets {
		c.offsets[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	for i := 1; i < len(c.offsets); i++ {
		if c.offsets[i] < c.offsets[i-1] {
			return nil, fmt.Errorf("pfsc sector %d runs backwards: %w", i-1, archive.ErrCorruptHeader)
		}
	}
	return c, nil
}

func (c *compressedImage) Size() int64 { return c.length }

func (c *compressedImage) sector(i int64) ([]byte, error) {
	base := i * c.sectorSize
	if b, ok := blockcache.Get(c.id, base); ok {
		return b, nil
	}
	start, end := c.offsets[i], c.offsets[i+1]
	want := min(c.sectorSize, c.length-base)
	stored := make([]byte, end-start)
	if _, err := c.r.ReadAt(stored, start); err != nil && err != io.EOF {
		return nil, err
	}
	var out []byte
	if end-start == c.sectorSize {
		out = stored[:want]
	} else {
		if len(stored) < 2 {
			return nil, fmt.Errorf("pfsc sector %d: %d stored bytes: %w", i, len(stored), archive.ErrCorruptHeader)
		}
		var err error
		out, err = inflate.Block(stored[2:], int(want), false)
		if err != nil {
			return nil, fmt.Errorf("pfsc sector %d: %w", i, err)
		}
	}
	blockcache.Add(c.id, base, out)
	return out, nil
}

func (c *compressedImage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("pfsc: negative offset")
	}
	if off >= c.length {
		return 0, io.EOF
	}
	var eof error
	if rest := c.length - off; int64(len(p)) > rest {
		p, eof = p[:rest], io.EOF
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		sec, err := c.sector(pos / c.sectorSize)
		if err != nil {
			return n, err
		}
		n += copy(p[n:], sec[pos%c.sectorSize:])
	}
	return n, eof
}
