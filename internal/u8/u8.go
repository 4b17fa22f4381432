// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package u8 reads Nintendo U8 archives.
package u8

import (
	"fmt"
	"io"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/bin"
	"github.com/elliotnunn/gamearchives/internal/sectionreader"
)

const formatName = "Nintendo U8 Archive"

var exts = []string{".arc", ".u8", ".app"}

var Decoder = archive.Decoder{
	Name:   formatName,
	Exts:   exts,
	Sniff:  Sniff,
	Decode: Decode,
}

const (
	magic    = "\x55\xAA\x38\x2D"
	nodeSize = 12

	typeFile = 0
	typeDir  = 1
)

func Sniff(f archive.File) archive.Sniff {
	if archive.HasMagic(f, 0, magic) {
		return archive.Yes
	}
	return archive.No
}

type node struct {
	typ     uint8
	nameOff uint32
	dataOff uint32
	size    uint32
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

func readNode(r *bin.Reader) node {
	return node{typ: r.U8(), nameOff: r.U24(), dataOff: r.U32(), size: r.U32()}
}

func decode(name string, r io.ReaderAt, size int64) (*archive.Package, error) {
	var hb [12]byte
	if _, err := r.ReadAt(hb[:], 0); err != nil {
		return nil, fmt.Errorf("u8 header: %v: %w", err, archive.ErrCorruptHeader)
	}
	h := bin.BE(hb[:])
	if string(h.Bytes(4)) != magic {
		return nil, fmt.Errorf("u8 magic: %w", archive.ErrCorruptHeader)
	}
	tableOff := int64(h.U32())
	tableSize := int64(h.U32()) // nodes plus string table

	var rb [nodeSize]byte
	if _, err := r.ReadAt(rb[:], tableOff); err != nil {
		return nil, fmt.Errorf("u8 root node: %v: %w", err, archive.ErrCorruptHeader)
	}
	rootNode := readNode(bin.BE(rb[:]))
	if rootNode.typ != typeDir {
		return nil, fmt.Errorf("u8 root node is not a directory: %w", archive.ErrCorruptHeader)
	}
	count := int64(rootNode.size)
	tableSize = max(tableSize, count*nodeSize)
	if tableOff+tableSize > size {
		return nil, fmt.Errorf("u8 node table of %d bytes overruns the file: %w", tableSize, archive.ErrCorruptHeader)
	}
	table := make([]byte, tableSize)
	if _, err := r.ReadAt(table, tableOff); err != nil && err != io.EOF {
		return nil, fmt.Errorf("u8 node table: %v: %w", err, archive.ErrCorruptHeader)
	}
	strs := table[count*nodeSize:]

	root := archive.NewDir("")
	type open struct {
		dir *archive.Dir
		end int64 // index of the first node after this directory
	}
	stack := []open{{root, count}}
	t := bin.BE(table)
	t.Seek(nodeSize)
	for i := int64(1); i < count; i++ {
		for len(stack) > 1 && i >= stack[len(stack)-1].end {
			stack = stack[:len(stack)-1]
		}
		cur := stack[len(stack)-1].dir
		n := readNode(t)
		nm, ok := bin.CStringAt(strs, int(n.nameOff))
		if !ok {
			return nil, fmt.Errorf("u8 node %d name at %#x: %w", i, n.nameOff, archive.ErrCorruptHeader)
		}
		switch n.typ {
		case typeDir:
			if int64(n.size) <= i || int64(n.size) > count {
				return nil, fmt.Errorf("u8 directory %s ends at node %d: %w", nm, n.size, archive.ErrCorruptHeader)
			}
			stack = append(stack, open{cur.Mkdir(nm), int64(n.size)})
		case typeFile:
			off, sz := int64(n.dataOff), int64(n.size)
			if off+sz > size {
				return nil, fmt.Errorf("u8 file %s overruns the archive: %w", nm, archive.ErrCorruptHeader)
			}
			cur.AddFile(archive.NewEntry(nm, sz, func() (io.ReaderAt, error) {
				return sectionreader.Section(r, off, sz), nil
			}).Set("offset", off))
		default:
			return nil, fmt.Errorf("u8 node %d has type %d: %w", i, n.typ, archive.ErrCorruptHeader)
		}
	}
	return archive.NewPackage(formatName, name, root, size), nil
}
