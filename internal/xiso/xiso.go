// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package xiso reads Xbox and Xbox 360 disc images (XDVDFS).
// Directories are read on first lookup.
package xiso

import (
	"fmt"
	"io"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/bin"
	"github.com/elliotnunn/gamearchives/internal/sectionreader"
)

const formatName = "Xbox / Xbox 360 Disc Image"

var exts = []string{".iso", ".xiso"}

var Decoder = archive.Decoder{
	Name:   formatName,
	Exts:   exts,
	Sniff:  Sniff,
	Decode: Decode,
}

const (
	magic       = "MICROSOFT*XBOX*MEDIA"
	sectorSize  = 0x800
	magicSector = 32

	attrDir = 0x10
	padding = 0xFFFF

	maxDirTable = 64 << 20
)

// Disc images may carry a video partition before the game partition.
var partitions = []int64{0, 0xFB20, 0x20600, 0x2080000, 0xFD90000}

func findPartition(r io.ReaderAt) (int64, bool) {
	buf := make([]byte, len(magic))
	for _, off := range partitions {
		if n, _ := r.ReadAt(buf, off+magicSector*sectorSize); n == len(buf) && string(buf) == magic {
			return off, true
		}
	}
	return 0, false
}

func Sniff(f archive.File) archive.Sniff {
	s, err := f.Open()
	if err != nil {
		return archive.No
	}
	defer s.Close()
	if _, ok := findPartition(s); ok {
		return archive.Yes
	}
	return archive.No
}

type image struct {
	r         io.ReaderAt
	size      int64
	partition int64
}

func Decode(f archive.File, _ archive.PasscodeFunc) (*archive.Package, error) {
	s, err := f.Open()
	if err != nil {
		return nil, err
	}
	p, err := decode(f.Name(), s, s.Size())
	if err != nil {
		s.Close()
		return nil, err
	}
	p.Own(s)
	return p, nil
}

func decode(name string, r io.ReaderAt, size int64) (*archive.Package, error) {
	part, ok := findPartition(r)
	if !ok {
		return nil, fmt.Errorf("no %s volume descriptor: %w", magic, archive.ErrCorruptHeader)
	}
	var b [8]byte
	if _, err := r.ReadAt(b[:], part+magicSector*sectorSize+int64(len(magic))); err != nil {
		return nil, fmt.Errorf("xdvdfs root: %v: %w", err, archive.ErrCorruptHeader)
	}
	h := bin.LE(b[:])
	rootSector, rootSize := int64(h.U32()), int64(h.U32())
	im := &image{r: r, size: size, partition: part}
	if _, err := im.checkExtent(rootSector, rootSize); err != nil {
		return nil, err
	}
	root := archive.NewLazyDir("", im.filler(rootSector, rootSize))
	return archive.NewPackage(formatName, name, root, size), nil
}

func (im *image) checkExtent(sector, length int64) (int64, error) {
	off := im.partition + sector*sectorSize
	if off+length > im.size {
		return 0, fmt.Errorf("xdvdfs extent at sector %#x+%#x beyond image: %w", sector, length, archive.ErrCorruptHeader)
	}
	return off, nil
}

// filler reads a directory table and adds its entries to d,
// leaving subdirectories unread.
func (im *image) filler(sector, length int64) func(*archive.Dir) error {
	return func(d *archive.Dir) error {
		if length == 0 {
			return nil
		}
		if length > maxDirTable {
			return fmt.Errorf("xdvdfs directory table of %d bytes: %w", length, archive.ErrCorruptHeader)
		}
		off, err := im.checkExtent(sector, length)
		if err != nil {
			return err
		}
		table := make([]byte, length)
		if _, err := im.r.ReadAt(table, off); err != nil && err != io.EOF {
			return fmt.Errorf("xdvdfs directory table: %v: %w", err, archive.ErrCorruptHeader)
		}
		return im.walkTree(d, table)
	}
}

// walkTree visits the binary tree of entries stored in one directory table.
func (im *image) walkTree(d *archive.Dir, table []byte) error {
	seen := make(map[int]bool)
	pending := []int{0}
	for len(pending) > 0 {
		at := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if seen[at] {
			continue
		}
		seen[at] = true

		r := bin.LE(table)
		r.Seek(at)
		left, right := r.U16(), r.U16()
		if left == padding && right == padding {
			continue
		}
		sector, length := int64(r.U32()), int64(r.U32())
		attrs := r.U8()
		name := string(r.Bytes(int(r.U8())))
		if r.Err() != nil {
			return fmt.Errorf("xdvdfs entry at %#x: %v: %w", at, r.Err(), archive.ErrCorruptHeader)
		}

		if attrs&attrDir != 0 {
			d.AddDir(archive.NewLazyDir(name, im.filler(sector, length)))
		} else {
			off, err := im.checkExtent(sector, length)
			if err != nil {
				return err
			}
			d.AddFile(archive.NewEntry(name, length, func() (io.ReaderAt, error) {
				return sectionreader.Section(im.r, off, length), nil
			}).Set("sector", sector).Set("attributes", attrs))
		}
		if right != 0 {
			pending = append(pending, 4*int(right))
		}
		if left != 0 {
			pending = append(pending, 4*int(left))
		}
	}
	return nil
}
