// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package fsgimg reads FSG-FILE-SYSTEM images, which may be split into numbered parts.
package fsgimg

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/bin"
	"github.com/elliotnunn/gamearchives/internal/multireaderat"
	"github.com/elliotnunn/gamearchives/internal/sectionreader"
)

const formatName = "FSG-FILE-SYSTEM Image"

var exts = []string{".img", ".img.part0"}

var Decoder = archive.Decoder{
	Name:   formatName,
	Exts:   exts,
	Sniff:  Sniff,
	Decode: Decode,
}

const (
	magic      = "FSG-FILE-SYSTEM"
	headerSize = 0x38
	descSize   = 8
	maxDepth   = 64
)

func Sniff(f archive.File) archive.Sniff {
	if string(archive.Peek(f, 0, 16)) == magic+"\x00" {
		return archive.Yes
	}
	return archive.No
}

// Hash is the case-insensitive path hash used to find a descriptor.
func Hash(path string) uint32 {
	path = strings.ToUpper(strings.TrimPrefix(path, "/"))
	h := uint32(2166136261)
	for i := 0; i < len(path); i++ {
		h = 1677619*h ^ uint32(path[i])
	}
	return h
}

type descriptor struct {
	typ  uint8
	off  int64
	size int64
}

type image struct {
	r       io.ReaderAt
	size    int64
	entries map[uint32]descriptor
}

// nextParts finds the numbered siblings that follow a ".partN" file.
func nextParts(f archive.File) []archive.File {
	name := f.Name()
	i := strings.LastIndex(strings.ToLower(name), ".part")
	if i < 0 || f.Parent() == nil {
		return nil
	}
	n, err := strconv.Atoi(name[i+5:])
	if err != nil {
		return nil
	}
	var list []archive.File
	for {
		n++
		next, ok := f.Parent().TryFile(name[:i+5] + strconv.Itoa(n))
		if !ok {
			return list
		}
		list = append(list, next)
	}
}

func Decode(f archive.File, _ archive.PasscodeFunc) (*archive.Package, error) {
	var streams []archive.Stream
	closeAll := func() {
		for _, s := range streams {
			s.Close()
		}
	}
	var parts []multireaderat.Part
	for _, pf := range append([]archive.File{f}, nextParts(f)...) {
		s, err := pf.Open()
		if err != nil {
			closeAll()
			return nil, err
		}
		streams = append(streams, s)
		parts = append(parts, multireaderat.Part{R: s, Size: s.Size()})
	}
	r := multireaderat.Concat(parts...)
	p, err := decode(f.Name(), r, r.Size())
	if err != nil {
		closeAll()
		return nil, err
	}
	for _, s := range streams {
		p.Own(s)
	}
	return p, nil
}

func decode(name string, r io.ReaderAt, size int64) (*archive.Package, error) {
	hb := make([]byte, headerSize)
	if _, err := r.ReadAt(hb, 0); err != nil {
		return nil, fmt.Errorf("fsg header: %v: %w", err, archive.ErrCorruptHeader)
	}
	if string(hb[:len(magic)]) != magic {
		return nil, fmt.Errorf("fsg magic: %w", archive.ErrCorruptHeader)
	}
	h := bin.BE(hb)
	h.Seek(0x20)
	base := int64(h.U32())
	h.Skip(8)
	count := int64(h.U32())
	if headerSize+count*descSize > size {
		return nil, fmt.Errorf("%d fsg descriptors overrun the image: %w", count, archive.ErrCorruptHeader)
	}

	db := make([]byte, count*descSize)
	if _, err := r.ReadAt(db, headerSize); err != nil && err != io.EOF {
		return nil, fmt.Errorf("fsg descriptors: %v: %w", err, archive.ErrCorruptHeader)
	}
	im := &image{r: r, size: size, entries: make(map[uint32]descriptor, count)}
	d := bin.BE(db)
	for range count {
		hash, typ, at := d.U32(), d.U8(), int64(d.U24())
		var loc [8]byte
		if _, err := r.ReadAt(loc[:], at); err != nil {
			return nil, fmt.Errorf("fsg descriptor %08x: %v: %w", hash, err, archive.ErrCorruptHeader)
		}
		l := bin.BE(loc[:])
		im.entries[hash] = descriptor{typ: typ, off: int64(l.U32())<<10 + base, size: int64(l.U32())}
	}

	root := archive.NewDir("")
	if err := im.listing(root, base, "", 0); err != nil {
		return nil, err
	}
	return archive.NewPackage(formatName, name, root, size), nil
}

// listing reads a run of NUL-terminated names, each prefixed D or F, ending with an empty name.
func (im *image) listing(d *archive.Dir, at int64, path string, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("fsg directory %s nested too deep: %w", path, archive.ErrCorruptHeader)
	}
	if at < 0 || at >= im.size {
		return fmt.Errorf("fsg listing of %q at %#x: %w", path, at, archive.ErrCorruptHeader)
	}
	sr := bufio.NewReader(sectionreader.NewReader(im.r, at, im.size-at))
	for {
		name, err := readCString(sr)
		if err != nil {
			return fmt.Errorf("fsg listing of %q: %v: %w", path, err, archive.ErrCorruptHeader)
		}
		if name == "" {
			return nil
		}
		short := name[1:]
		full := short
		if path != "" {
			full = path + "/" + short
		}
		desc, ok := im.entries[Hash(full)]
		if !ok {
			return fmt.Errorf("fsg %s has no descriptor: %w", full, archive.ErrCorruptHeader)
		}
		switch name[0] {
		case 'D':
			sub := archive.NewDir(short)
			if err := im.listing(sub, desc.off, full, depth+1); err != nil {
				return err
			}
			d.AddDir(sub)
		case 'F':
			if desc.off+desc.size > im.size {
				return fmt.Errorf("fsg %s overruns the image: %w", full, archive.ErrCorruptHeader)
			}
			d.AddFile(archive.NewEntry(short, desc.size, func() (io.ReaderAt, error) {
				return sectionreader.Section(im.r, desc.off, desc.size), nil
			}).Set("offset", desc.off).Set("hash", Hash(full)))
		default:
			return fmt.Errorf("fsg name %q has prefix %q: %w", short, name[0], archive.ErrCorruptHeader)
		}
	}
}

func readCString(r io.ByteReader) (string, error) {
	var sb strings.Builder
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == 0 {
			return sb.String(), nil
		}
		if sb.Len() > 1024 {
			return "", fmt.Errorf("name too long")
		}
		sb.WriteByte(c)
	}
}
