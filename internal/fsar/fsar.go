// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package fsar reads FSAR archives and their AES-CTR encrypted FSGC form.
package fsar

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/bin"
	"github.com/elliotnunn/gamearchives/internal/cipherstream"
	"github.com/elliotnunn/gamearchives/internal/inflate"
	"github.com/elliotnunn/gamearchives/internal/sectionreader"
)

const formatName = "FSAR Archive"

var exts = []string{".far"}

var Decoder = archive.Decoder{
	Name:   formatName,
	Exts:   exts,
	Sniff:  Sniff,
	Decode: Decode,
}

const (
	magic          = "FSAR"
	encryptedMagic = "FSGC"

	// Prompt is the label passed to the passcode callback for an FSGC file.
	Prompt = "FSGC"

	recordStart = 0x20
	recordSize  = 0x120
)

func Sniff(f archive.File) archive.Sniff {
	switch string(archive.Peek(f, 0, 4)) {
	case magic, encryptedMagic:
		return archive.Yes
	}
	return archive.No
}

func Decode(f archive.File, pass archive.PasscodeFunc) (*archive.Package, error) {
	s, err := f.Open()
	if err != nil {
		return nil, err
	}
	p, err := decode(f.Name(), s, s.Size(), pass)
	if err != nil {
		s.Close()
		return nil, err
	}
	p.Own(s)
	return p, nil
}

// decrypt presents the FSAR image hidden inside an FSGC file.
func decrypt(r io.ReaderAt, size int64, pass archive.PasscodeFunc) (io.ReaderAt, int64, error) {
	answer := ""
	if pass != nil {
		answer = strings.TrimSpace(pass(Prompt))
	}
	if answer == "" {
		return nil, 0, fmt.Errorf("fsgc: %w", archive.ErrPasscodeRequired)
	}
	key, err := hex.DecodeString(answer)
	if err != nil || len(key) != 16 {
		return nil, 0, fmt.Errorf("%s key must be 32 hex digits: %w", Prompt, archive.ErrInvalidPasscode)
	}
	iv := make([]byte, 16)
	if _, err := r.ReadAt(iv, 0x10); err != nil {
		return nil, 0, fmt.Errorf("fsgc iv: %v: %w", err, archive.ErrCorruptHeader)
	}
	c, err := cipherstream.NewCTR(r, 0x20, size-0x20, key, iv)
	if err != nil {
		return nil, 0, err
	}
	var m [4]byte
	if _, err := c.ReadAt(m[:], 0); err != nil || string(m[:]) != magic {
		return nil, 0, fmt.Errorf("fsgc decrypts to %q: %w", m[:], archive.ErrInvalidPasscode)
	}
	return c, c.Size(), nil
}

func decode(name string, r io.ReaderAt, size int64, pass archive.PasscodeFunc) (*archive.Package, error) {
	hdr := make([]byte, recordStart)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("fsar header: %v: %w", err, archive.ErrCorruptHeader)
	}
	if string(hdr[:4]) == encryptedMagic {
		var err error
		if r, size, err = decrypt(r, size, pass); err != nil {
			return nil, err
		}
		if _, err := r.ReadAt(hdr, 0); err != nil {
			return nil, fmt.Errorf("fsar header: %v: %w", err, archive.ErrCorruptHeader)
		}
	}
	h := bin.BE(hdr)
	if string(h.Bytes(4)) != magic {
		return nil, fmt.Errorf("fsar magic: %w", archive.ErrCorruptHeader)
	}
	h.Seek(8)
	base := int64(h.U32())
	count := int64(h.U32())
	if recordStart+count*recordSize > size {
		return nil, fmt.Errorf("%d fsar records overrun the file: %w", count, archive.ErrCorruptHeader)
	}
	recs := make([]byte, count*recordSize)
	if _, err := r.ReadAt(recs, recordStart); err != nil && err != io.EOF {
		return nil, fmt.Errorf("fsar records: %v: %w", err, archive.ErrCorruptHeader)
	}

	root := archive.NewDir("")
	for i := range count {
		rec := recs[i*recordSize:][:recordSize]
		path, _ := bin.CStringAt(rec[:0x100], 0)
		b := bin.BE(rec)
		b.Seek(0x100)
		fsize := b.I64()
		zsize := b.I64()
		off := b.I64() + base
		zipped := b.U32() != 1

		stored := fsize
		if zipped {
			stored = zsize
		}
		if fsize < 0 || stored < 0 || off < 0 || off > size || stored > size-off {
			return nil, fmt.Errorf("fsar record %d (%s) lies outside the file: %w", i, path, archive.ErrCorruptHeader)
		}

		dir, fname := splitPath(path)
		var e *archive.Entry
		if zipped {
			e = archive.NewEntry(fname, fsize, func() (io.ReaderAt, error) {
				return inflate.SkipZlibHeader(r, off, zsize), nil
			}).Stored(zsize, true)
		} else {
			e = archive.NewEntry(fname, fsize, func() (io.ReaderAt, error) {
				return sectionreader.Section(r, off, fsize), nil
			})
		}
		e.Set("offset", off)
		root.MkdirAll(dir).AddFile(e)
	}
	return archive.NewPackage(formatName, name, root, size), nil
}

func splitPath(p string) (dir, name string) {
	p = strings.ReplaceAll(p, `\`, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return "", p
}
