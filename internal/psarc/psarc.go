// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package psarc reads PlayStation ARchive v1.4 files with zlib compression.
package psarc

import (
	"fmt"
	"io"
	"strings"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/bin"
	"github.com/elliotnunn/gamearchives/internal/blockcache"
	"github.com/elliotnunn/gamearchives/internal/inflate"
)

const formatName = "PlayStation Archive (PSARC)"

var exts = []string{".psarc"}

var Decoder = archive.Decoder{
	Name:   formatName,
	Exts:   exts,
	Sniff:  Sniff,
	Decode: Decode,
}

const (
	magic      = "PSAR"
	headerSize = 0x20
	tocEntry   = 30
)

func Sniff(f archive.File) archive.Sniff {
	if !archive.HasMagic(f, 0, magic) {
		return archive.No
	}
	if archive.HasExt(f, ".psarc") {
		return archive.Yes
	}
	return archive.Maybe
}

type toc struct {
	blockIndex uint32
	size       int64
	offset     int64
}

type pkg struct {
	r         io.ReaderAt
	blockSize int64
	zsizes    []int64 // zero means a whole stored block
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
	hb := make([]byte, headerSize)
	if _, err := r.ReadAt(hb, 0); err != nil {
		return nil, fmt.Errorf("psarc header: %v: %w", err, archive.ErrCorruptHeader)
	}
	h := bin.BE(hb)
	if string(h.Bytes(4)) != magic {
		return nil, fmt.Errorf("psarc magic: %w", archive.ErrCorruptHeader)
	}
	if major, minor := h.U16(), h.U16(); major != 1 || minor != 4 {
		return nil, fmt.Errorf("psarc v%d.%d: %w", major, minor, archive.ErrUnsupportedFeature)
	}
	if c := string(h.Bytes(4)); c != "zlib" {
		return nil, fmt.Errorf("psarc %q compression: %w", c, archive.ErrUnsupportedFeature)
	}
	tocLen := int64(h.U32())
	entrySize := int64(h.U32())
	count := int64(h.U32())
	blockSize := int64(h.U32())
	if count == 0 || entrySize < tocEntry || blockSize == 0 || tocLen > size || headerSize+count*entrySize > tocLen {
		return nil, fmt.Errorf("psarc toc of %d entries in %d bytes: %w", count, tocLen, archive.ErrCorruptHeader)
	}

	tb := make([]byte, tocLen-headerSize)
	if _, err := r.ReadAt(tb, headerSize); err != nil && err != io.EOF {
		return nil, fmt.Errorf("psarc toc: %v: %w", err, archive.ErrCorruptHeader)
	}
	t := bin.BE(tb)
	entries := make([]toc, count)
	for i := range entries {
		t.Seek(i * int(entrySize))
		t.Skip(16) // MD5 of the path
		entries[i] = toc{blockIndex: t.U32(), size: int64(t.U40()), offset: int64(t.U40())}
	}

	p := &pkg{r: r, blockSize: blockSize}
	t.Seek(int(count * entrySize))
	width := 2
	switch {
	case blockSize > 1<<24:
		width = 4
	case blockSize > 1<<16:
		width = 3
	}
	for t.Len()-t.Pos() >= width {
		var z uint32
		switch width {
		case 2:
			z = uint32(t.U16())
		case 3:
			z = t.U24()
		default:
			z = t.U32()
		}
		p.zsizes = append(p.zsizes, int64(z))
	}
	if t.Err() != nil {
		return nil, fmt.Errorf("psarc toc: %v: %w", t.Err(), archive.ErrCorruptHeader)
	}

	manifest, err := io.ReadAll(io.NewSectionReader(p.file(entries[0]), 0, entries[0].size))
	if err != nil {
		return nil, fmt.Errorf("psarc manifest: %v: %w", err, archive.ErrCorruptHeader)
	}
	paths := strings.Split(strings.ReplaceAll(string(manifest), "\r", ""), "\n")

	root := archive.NewDir("")
	for i, e := range entries[1:] {
		if i >= len(paths) {
			break
		}
		path := strings.TrimPrefix(paths[i], "/")
		dir, fname := "", path
		if j := strings.LastIndexByte(path, '/'); j >= 0 {
			dir, fname = path[:j], path[j+1:]
		}
		if int(e.blockIndex) >= len(p.zsizes) && e.size > 0 {
			return nil, fmt.Errorf("psarc %s starts at block %d of %d: %w", path, e.blockIndex, len(p.zsizes), archive.ErrCorruptHeader)
		}
		entry := archive.NewEntry(fname, e.size, func() (io.ReaderAt, error) {
			return p.file(e), nil
		})
		entry.Stored(p.storedSize(e), true).Set("offset", e.offset)
		root.MkdirAll(dir).AddFile(entry)
	}
	return archive.NewPackage(formatName, name, root, size), nil
}

func (p *pkg) nblocks(e toc) int {
	return int((e.size + p.blockSize - 1) / p.blockSize)
}

func (p *pkg) storedSize(e toc) int64 {
	var n int64
	for i := range p.nblocks(e) {
		if z := p.zsize(int(e.blockIndex) + i); z == 0 {
			n += p.blockSize
		} else {
			n += z
		}
	}
	return n
}

func (p *pkg) zsize(i int) int64 {
	if i < len(p.zsizes) {
		return p.zsizes[i]
	}
	return 0
}

// file gives random access to one entry, one block at a time.
func (p *pkg) file(e toc) *blocks {
	b := &blocks{p: p, e: e, id: blockcache.NewID()}
	off := e.offset
	for i := range p.nblocks(e) {
		b.starts = append(b.starts, off)
		if z := p.zsize(int(e.blockIndex) + i); z == 0 {
			off += p.blockSize
		} else {
			off += z
		}
	}
	b.starts = append(b.starts, off)
	return b
}

type blocks struct {
	p      *pkg
	e      toc
	starts []int64
	id     uint64
}

// zlibHeader reports a deflate CMF/FLG pair with a valid check value, whatever the level.
func zlibHeader(b []byte) bool {
	return len(b) >= 2 && b[0]&0x0F == 8 && b[0]>>4 <= 7 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

func (b *blocks) block(i int) ([]byte, error) {
	base := int64(i) * b.p.blockSize
	if got, ok := blockcache.Get(b.id, base); ok {
		return got, nil
	}
	want := min(b.p.blockSize, b.e.size-base)
	stored := make([]byte, b.starts[i+1]-b.starts[i])
	n, err := b.p.r.ReadAt(stored, b.starts[i])
	if err != nil && err != io.EOF {
		return nil, err
	}
	stored = stored[:n]
	var out []byte
	if zlibHeader(stored) && int64(len(stored)) != want {
		out, err = inflate.Block(stored, int(want), true)
		if err != nil {
			return nil, fmt.Errorf("psarc block %d: %w", int(b.e.blockIndex)+i, err)
		}
	} else {
		out = stored[:min(int64(len(stored)), want)]
	}
	blockcache.Add(b.id, base, out)
	return out, nil
}

func (b *blocks) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("psarc: negative offset")
	}
	if off >= b.e.size {
		return 0, io.EOF
	}
	var eof error
	if rest := b.e.size - off; int64(len(p)) > rest {
		p, eof = p[:rest], io.EOF
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		blk, err := b.block(int(pos / b.p.blockSize))
		if err != nil {
			return n, err
		}
		within := pos % b.p.blockSize
		if within >= int64(len(blk)) {
			return n, io.ErrUnexpectedEOF
		}
		n += copy(p[n:], blk[within:])
	}
	return n, eof
}
