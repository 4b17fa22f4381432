// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pfs

import (
	"fmt"
	"io"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/bin"
	"github.com/elliotnunn/gamearchives/internal/multireaderat"
	"github.com/elliotnunn/gamearchives/internal/sectionreader"
)

const (
	magicVersion = 1
	magicNumber  = 20130315

	modeSigned    = 1
	mode64        = 2
	modeEncrypted = 4

	inodeSizePlain  = 0xA8
	inodeSizeSigned = 0x2C8

	direntFile = 2
	direntDir  = 3

	superrootFlag = 0x20000
)

type header struct {
	id              int64
	mode            uint16
	blockSize       int64
	nblock          int64
	inodeCount      int64
	ndblock         int64
	inodeBlockCount int64
	superroot       int64
	seed            [16]byte
}

func parseHeader(b []byte) (*header, error) {
	r := bin.LE(b)
	if r.I64() != magicVersion || r.I64() != magicNumber {
		return nil, fmt.Errorf("pfs magic: %w", archive.ErrCorruptHeader)
	}
	h := &header{id: r.I64()}
	r.Skip(4) // fmode, clean, ronly, rsv
	h.mode = r.U16()
	r.Skip(2)
	h.blockSize = int64(r.I32())
	r.Skip(4) // nbackup
	h.nblock = r.I64()
	h.inodeCount = r.I64()
	h.ndblock = r.I64()
	h.inodeBlockCount = r.I64()
	h.superroot = r.I64()
	r.Seek(0x370)
	copy(h.seed[:], r.Bytes(16))
	if r.Err() != nil {
		return nil, fmt.Errorf("pfs header: %v: %w", r.Err(), archive.ErrCorruptHeader)
	}
	if h.blockSize <= 0 || h.blockSize&(h.blockSize-1) != 0 || h.inodeCount < 0 || h.inodeBlockCount < 0 {
		return nil, fmt.Errorf("pfs block size %#x, %d inodes: %w", h.blockSize, h.inodeCount, archive.ErrCorruptHeader)
	}
	return h, nil
}

func (h *header) inodeSize() int64 {
	if h.mode&modeSigned != 0 {
		return inodeSizeSigned
	}
	return inodeSizePlain
}

type inode struct {
	mode   uint16
	nlink  uint16
	flags  uint32
	size   int64
	blocks uint32
	db     [12]int32
	ib     [5]int32
}

func parseInode(b []byte, signed bool) inode {
	r := bin.LE(b)
	var in inode
	in.mode = r.U16()
	in.nlink = r.U16()
	in.flags = r.U32()
	in.size = r.I64()
	r.Seek(0x60)
	in.blocks = r.U32()
	stride := 0
	if signed {
		stride = 32 // each pointer follows its signature
	}
	for i := range in.db {
		r.Skip(stride)
		in.db[i] = r.I32()
	}
	for i := range in.ib {
		r.Skip(stride)
		in.ib[i] = r.I32()
	}
	return in
}

// contiguous reports the convention that a second pointer of -1
// means the blocks run on from the first.
func (in *inode) contiguous() bool {
	return in.db[1] == -1 || in.blocks <= 1
}

type image struct {
	r      io.ReaderAt
	h      *header
	inodes []inode
}

func readInodes(r io.ReaderAt, h *header) ([]inode, error) {
	size := h.inodeSize()
	perBlock := h.blockSize / size
	if perBlock == 0 || h.inodeCount > h.inodeBlockCount*perBlock {
		return nil, fmt.Errorf("%d inodes do not fit %d blocks: %w", h.inodeCount, h.inodeBlockCount, archive.ErrCorruptHeader)
	}
	inodes := make([]inode, 0, h.inodeCount)
	block := make([]byte, h.blockSize)
	for i := int64(0); i < h.inodeBlockCount && int64(len(inodes)) < h.inodeCount; i++ {
		if _, err := r.ReadAt(block, h.blockSize*(1+i)); err != nil {
			return nil, fmt.Errorf("inode block %d: %v: %w", i, err, archive.ErrCorruptHeader)
		}
		for j := int64(0); j < perBlock && int64(len(inodes)) < h.inodeCount; j++ {
			inodes = append(inodes, parseInode(block[j*size:][:size], h.mode&modeSigned != 0))
		}
	}
	return inodes, nil
}

func (im *image) inode(ino int64) (*inode, error) {
	if ino < 0 || ino >= int64(len(im.inodes)) {
		return nil, fmt.Errorf("inode %d of %d: %w", ino, len(im.inodes), archive.ErrCorruptHeader)
	}
	return &im.inodes[ino], nil
}

// dirBlocks lists the blocks holding a directory's entries.
// A scattered directory too big for the direct block list would need the indirect blocks.
func (im *image) dirBlocks(in *inode) ([]int64, error) {
	var list []int64
	if in.db[1] == -1 {
		for i := int64(0); i < int64(in.blocks); i++ {
			list = append(list, int64(in.db[0])+i)
		}
		return list, nil
	}
	if int(in.blocks) > len(in.db) {
		return nil, fmt.Errorf("directory of %d scattered blocks: %w", in.blocks, archive.ErrUnsupportedFeature)
	}
	for _, b := range in.db {
		if b > 0 {
			list = append(list, int64(b))
		}
	}
	return list, nil
}

type dirent struct {
	ino  int64
	typ  int32
	name string
}

// dirents reads the entries of a directory inode, stopping each block at a zero type.
func (im *image) dirents(ino int64) ([]dirent, error) {
	in, err := im.inode(ino)
	if err != nil {
		return nil, err
	}
	blocks, err := im.dirBlocks(in)
	if err != nil {
		return nil, err
	}
	bs := im.h.blockSize
	block := make([]byte, bs)
	var list []dirent
	for _, b := range blocks {
		if _, err := im.r.ReadAt(block, b*bs); err != nil && err != io.EOF {
			return nil, fmt.Errorf("directory block %d: %v: %w", b, err, archive.ErrCorruptHeader)
		}
		for pos := int64(0); pos+16 <= bs; {
			r := bin.LE(block[pos:])
			ent := r.I32()
			typ := r.I32()
			namelen := r.I32()
			entsize := r.I32()
			if typ == 0 {
				break
			}
			if namelen < 0 || int64(namelen) > bs-pos-16 || entsize < 16 {
				return nil, fmt.Errorf("dirent at block %d+%#x: %w", b, pos, archive.ErrCorruptHeader)
			}
			list = append(list, dirent{ino: int64(ent), typ: typ, name: string(r.Bytes(int(namelen)))})
			pos += int64(entsize)
		}
	}
	return list, nil
}

// parseDir fills d from a directory inode, recursing into subdirectories immediately.
func (im *image) parseDir(ino int64, d *archive.Dir, depth int) error {
	if depth > 64 {
		return fmt.Errorf("directory nesting too deep at inode %d: %w", ino, archive.ErrCorruptHeader)
	}
	ents, err := im.dirents(ino)
	if err != nil {
		return err
	}
	for _, e := range ents {
		switch e.typ {
		case direntFile:
			f, err := im.file(e.ino, e.name)
			if err != nil {
				return err
			}
			d.AddFile(f)
		case direntDir:
			sub := archive.NewDir(e.name)
			if err := im.parseDir(e.ino, sub, depth+1); err != nil {
				return err
			}
			d.AddDir(sub)
		}
	}
	return nil
}

func (im *image) file(ino int64, name string) (*archive.Entry, error) {
	in, err := im.inode(ino)
	if err != nil {
		return nil, err
	}
	bs := im.h.blockSize
	var e *archive.Entry
	switch {
	case in.contiguous():
		off := int64(in.db[0]) * bs
		e = archive.NewEntry(name, in.size, func() (io.ReaderAt, error) {
			return sectionreader.Section(im.r, off, in.size), nil
		})
		e.Set("dataLocation", off)
	case int64(in.blocks) <= int64(len(in.db)):
		var ext []int64
		for _, b := range in.db[:in.blocks] {
			ext = append(ext, int64(b)*bs, bs)
		}
		e = archive.NewEntry(name, in.size, func() (io.ReaderAt, error) {
			return multireaderat.Extents(im.r, ext), nil
		})
		e.Set("dataLocation", int64(in.db[0])*bs)
	default:
		blocks := in.blocks
		e = archive.NewEntry(name, in.size, func() (io.ReaderAt, error) {
			return nil, fmt.Errorf("%s: %d blocks need indirect pointers: %w", name, blocks, archive.ErrUnsupportedFeature)
		})
	}
	return e.Set("inode", ino).Stored(int64(in.blocks)*bs, false), nil
}
