// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package pkf reads the PACKAGE archives of PS3 SingStar titles.
package pkf

import (
	"fmt"
	"io"
	"strings"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/bin"
	"github.com/elliotnunn/gamearchives/internal/inflate"
	"github.com/elliotnunn/gamearchives/internal/sectionreader"
)

const formatName = "SingStar PKF Archive"

var exts = []string{".pkf", ".themes"}

var Decoder = archive.Decoder{
	Name:   formatName,
	Exts:   exts,
	Sniff:  Sniff,
	Decode: Decode,
}

const (
	magic     = "PACKAGE "
	zlibMagic = "ZLIB"
	tableAt   = 18
)

func Sniff(f archive.File) archive.Sniff {
	if !archive.HasExt(f, exts...) {
		return archive.No
	}
	if archive.HasMagic(f, 0, magic) {
		return archive.Yes
	}
	return archive.No
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
	hb := make([]byte, tableAt)
	if _, err := r.ReadAt(hb, 0); err != nil {
		return nil, fmt.Errorf("pkf header: %v: %w", err, archive.ErrCorruptHeader)
	}
	if string(hb[:8]) != magic {
		return nil, fmt.Errorf("pkf magic: %w", archive.ErrCorruptHeader)
	}
	tableLen := int64(bin.BE(hb[14:]).U32())
	if tableAt+tableLen > size {
		return nil, fmt.Errorf("pkf table of %d bytes overruns the file: %w", tableLen, archive.ErrCorruptHeader)
	}
	table := make([]byte, tableLen)
	if _, err := r.ReadAt(table, tableAt); err != nil && err != io.EOF {
		return nil, fmt.Errorf("pkf table: %v: %w", err, archive.ErrCorruptHeader)
	}

	root := archive.NewDir("")
	t := bin.BE(table)
	for t.Pos() < t.Len() {
		t.Skip(4) // name hash
		path := t.CString()
		off, stored := int64(t.U32()), int64(t.U32())
		if t.Err() != nil {
			return nil, fmt.Errorf("pkf entry: %v: %w", t.Err(), archive.ErrCorruptHeader)
		}
		if off+stored > size {
			return nil, fmt.Errorf("pkf %s overruns the archive: %w", path, archive.ErrCorruptHeader)
		}

		fsize, compressed := stored, false
		if stored > 12 {
			var zh [12]byte
			if _, err := r.ReadAt(zh[:], off); err == nil && string(zh[:4]) == zlibMagic {
				z := bin.BE(zh[4:])
				compressed = z.U32() != 0
				fsize = int64(z.U32())
				off += 12
				stored -= 12
			}
		}

		path = strings.ReplaceAll(path, `\`, "/")
		dir, fname := "", path
		if i := strings.LastIndexByte(path, '/'); i >= 0 {
			dir, fname = path[:i], path[i+1:]
		}
		var e *archive.Entry
		if compressed {
			e = archive.NewEntry(fname, fsize, func() (io.ReaderAt, error) {
				return inflate.SkipZlibHeader(r, off, stored), nil
			}).Stored(stored, true)
		} else {
			n := min(fsize, stored)
			e = archive.NewEntry(fname, n, func() (io.ReaderAt, error) {
				return sectionreader.Section(r, off, n), nil
			})
		}
		root.MkdirAll(dir).AddFile(e.Set("offset", off))
	}
	return archive.NewPackage(formatName, name, root, size), nil
}
