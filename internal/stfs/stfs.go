// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package stfs reads Xbox 360 CON, LIVE and PIRS packages.
package stfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/multireaderat"
	"golang.org/x/text/encoding/charmap"
)

const formatName = "Xbox 360 STFS Package"

var Decoder = archive.Decoder{
	Name:   formatName,
	Sniff:  Sniff,
	Decode: Decode,
}

func Sniff(f archive.File) archive.Sniff {
	switch string(archive.Peek(f, 0, 4)) {
	case "CON ", "LIVE", "PIRS":
		return archive.Yes
	}
	return archive.No
}

type pkg struct {
	r     io.ReaderAt
	shift uint
}

func (p *pkg) hashRecord(n int64) (hashRecord, error) {
	var b [0x18]byte
	if _, err := p.r.ReadAt(b[:], hashRecordOffset(n, p.shift)); err != nil {
		return hashRecord{}, fmt.Errorf("hash record for block %#x: %w", n, err)
	}
	return parseHashRecord(n, b[:]), nil
}

func (p *pkg) blocks(start, count int64, sequential bool) ([]int64, error) {
	if sequential {
		return sequentialBlocks(start, count), nil
	}
	return chainBlocks(start, count, p.hashRecord)
}

func (p *pkg) extents(blocks []int64) ([]int64, error) {
	ext := make([]int64, 0, 2*len(blocks))
	for _, b := range blocks {
		off := blockOffset(b, p.shift)
		if off < 0 {
			return nil, fmt.Errorf("block %#x out of range: %w", b, archive.ErrCorruptHeader)
		}
		ext = append(ext, off, blockSize)
	}
	return ext, nil
}

func Decode(f archive.File, _ archive.PasscodeFunc) (*archive.Package, error) {
	s, err := f.Open()
	if err != nil {
		return nil, err
	}
	p, err := decode(f.Name(), s)
	if err != nil {
		s.Close()
		return nil, err
	}
	return p, nil
}

func decode(name string, s archive.Stream) (*archive.Package, error) {
	hdr := make([]byte, 0x3A1)
	if _, err := s.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("stfs header: %w", archive.ErrCorruptHeader)
	}
	magic := string(hdr[:4])
	if magic != "CON " && magic != "LIVE" && magic != "PIRS" {
		return nil, fmt.Errorf("stfs magic %q: %w", magic, archive.ErrCorruptHeader)
	}

	headerSize := int32(binary.BigEndian.Uint32(hdr[0x340:]))
	p := &pkg{r: s, shift: 1}
	if ((headerSize+0xFFF)&0xF000)>>12 == 0xB {
		p.shift = 0
	}
	tableBlockCount := int64(int16(binary.LittleEndian.Uint16(hdr[0x37C:])))
	tableBlockNumber := int64(le24(hdr[0x37E:]))
	fileCount := int32(binary.LittleEndian.Uint32(hdr[0x39D:]))

	tableBlocks, err := p.blocks(tableBlockNumber, tableBlockCount, false)
	if err != nil {
		return nil, fmt.Errorf("file table: %w", err)
	}

	root := archive.NewDir("")
	dirs := map[int]*archive.Dir{-1: root}
	items := 0
	block := make([]byte, blockSize)
	dec := charmap.Windows1252.NewDecoder()
	for _, b := range tableBlocks {
		off := blockOffset(b, p.shift)
		if off < 0 {
			return nil, fmt.Errorf("file table block %#x out of range: %w", b, archive.ErrCorruptHeader)
		}
		if n, err := s.ReadAt(block, off); n < len(block) {
			return nil, fmt.Errorf("file table block %#x: short read (%v): %w", b, err, archive.ErrCorruptHeader)
		}
		for i := 0; i < blockSize/0x40; i++ {
			ent := block[0x40*i:][:0x40]
			if ent[0] == 0 {
				break
			}
			flags := ent[0x28]
			rawName := ent[:flags&0x3f]
			nameBytes, err := dec.Bytes(rawName)
			if err != nil {
				nameBytes = rawName
			}
			name := string(nameBytes)
			numBlocks := int64(le24(ent[0x29:]))
			startBlock := int64(le24(ent[0x2F:]))
			parentDir := int(int16(binary.BigEndian.Uint16(ent[0x32:])))
			size := int64(binary.BigEndian.Uint32(ent[0x34:]))
			update := int32(binary.BigEndian.Uint32(ent[0x38:]))
			access := int32(binary.BigEndian.Uint32(ent[0x3C:]))

			parent, ok := dirs[parentDir]
			if !ok {
				return nil, fmt.Errorf("%q references non-existent directory %d: %w", name, parentDir, archive.ErrCorruptHeader)
			}

			if flags&0x80 != 0 {
				d := archive.NewDir(name)
				if !parent.AddDir(d) {
					d, _ = parent.TryDir(name)
				}
				dirs[items] = d
			} else {
				parent.AddFile(p.file(name, size, startBlock, numBlocks, flags&0x40 != 0).
					Set("startBlock", startBlock).
					Set("numBlocks", numBlocks).
					Set("flags", flags).
					Set("update", update).
					Set("access", access))
			}
			items++
		}
	}

	if int(fileCount) != items {
		slog.Debug("stfsFileCountMismatch", "name", name, "header", fileCount, "table", items)
	}
	pk := archive.NewPackage(formatName, name, root, s.Size())
	pk.Own(s)
	return pk, nil
}

// file resolves the block list on first open; sequential lists are known immediately.
func (p *pkg) file(name string, size, start, count int64, sequential bool) *archive.Entry {
	var (
		once sync.Once
		ext  []int64
		err  error
	)
	return archive.NewEntry(name, size, func() (io.ReaderAt, error) {
		if count == 0 {
			return bytes.NewReader(nil), nil
		}
		once.Do(func() {
			var blocks []int64
			blocks, err = p.blocks(start, count, sequential)
			if err == nil {
				ext, err = p.extents(blocks)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return multireaderat.Extents(p.r, ext), nil
	}).Stored(count*blockSize, false)
}

func le24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
