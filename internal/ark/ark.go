// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package ark reads Harmonix Ark/Hdr packages: a header, optionally encrypted,
// describing files spread across one or more .ark volumes.
package ark

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/cipherstream"
	"github.com/elliotnunn/gamearchives/internal/multireaderat"
	"github.com/elliotnunn/gamearchives/internal/sectionreader"
)

const formatName = "Ark/Hdr Package"

var exts = []string{".ark", ".hdr"}

var Decoder = archive.Decoder{
	Name:   formatName,
	Exts:   exts,
	Sniff:  Sniff,
	Decode: Decode,
}

// peekVersion recovers the version from the first 8 bytes, decrypting if needed.
func peekVersion(b []byte) (version uint32, xor byte, encrypted, ok bool) {
	if len(b) < 4 {
		return 0, 0, false, false
	}
	v := binary.LittleEndian.Uint32(b)
	if knownVersion(v) {
		return v, 0, false, true
	}
	if len(b) < 8 {
		return 0, 0, false, false
	}
	for _, xor := range []byte{0, 0xff} {
		c, err := cipherstream.NewLCG(byteReader(b), int64(len(b)), xor)
		if err != nil {
			return 0, 0, false, false
		}
		var dec [4]byte
		c.ReadAt(dec[:], 0)
		if v := binary.LittleEndian.Uint32(dec[:]); knownVersion(v) && !selfContained(v) {
			return v, xor, true, true
		}
	}
	return 0, 0, false, false
}

type byteReader []byte

func (b byteReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func Sniff(f archive.File) archive.Sniff {
	v, _, _, ok := peekVersion(archive.Peek(f, 0, 8))
	switch {
	case !ok:
		return archive.No
	case selfContained(v) && archive.HasExt(f, ".ark"):
		return archive.Yes
	case !selfContained(v) && archive.HasExt(f, ".hdr"):
		return archive.Yes
	}
	return archive.Maybe
}

type pkg struct {
	hdr     archive.Stream
	lcg     *cipherstream.LCG // nil if the header is plaintext
	content io.ReaderAt
	vols    []archive.Stream
	records map[archive.File]*record
	entries map[*record]*archive.Entry
}

func Decode(f archive.File, _ archive.PasscodeFunc) (*archive.Package, error) {
	s, err := f.Open()
	if err != nil {
		return nil, err
	}
	p := &pkg{hdr: s, records: make(map[archive.File]*record), entries: make(map[*record]*archive.Entry)}
	pk, err := p.decode(f)
	if err != nil {
		s.Close()
		for _, v := range p.vols {
			v.Close()
		}
		return nil, err
	}
	return pk, nil
}

func (p *pkg) decode(f archive.File) (*archive.Package, error) {
	first := make([]byte, 8)
	n, _ := p.hdr.ReadAt(first, 0)
	version, xor, encrypted, ok := peekVersion(first[:n])
	if !ok {
		return nil, corrupt("unknown version")
	}

	var h *header
	var err error
	if selfContained(version) {
		h, err = p.readSelfContained(version)
	} else {
		var plain []byte
		if encrypted {
			p.lcg, err = cipherstream.NewLCG(p.hdr, p.hdr.Size(), xor)
			if err != nil {
				return nil, corrupt("%v", err)
			}
			plain = make([]byte, p.lcg.Size())
			if _, err := p.lcg.ReadAt(plain, 0); err != nil && err != io.EOF {
				return nil, err
			}
		} else {
			plain = make([]byte, p.hdr.Size())
			if _, err := p.hdr.ReadAt(plain, 0); err != nil && err != io.EOF {
				return nil, err
			}
		}
		h, err = parseVolumeHeader(plain, f.Name())
		if err == nil && h.brokenV4 {
			slog.Debug("arkBrokenV4", "name", f.Name())
		}
	}
	if err != nil {
		return nil, err
	}

	if err := p.openVolumes(f, h); err != nil {
		return nil, err
	}

	root := p.buildTree(h)
	var total int64
	for _, v := range p.vols {
		total += v.Size()
	}
	if h.volumes == nil {
		total = p.hdr.Size()
	}

	pk := archive.NewPackage(formatName, f.Name(), root, total)
	pk.Own(p.hdr)
	for _, v := range p.vols {
		pk.Own(v)
	}
	if p.writeable() {
		pk.Writeable = true
		pk.SetReplacer(p.replace)
	}
	return pk, nil
}

func (p *pkg) readSelfContained(version uint32) (*header, error) {
	var b [4]byte
	if _, err := p.hdr.ReadAt(b[:], 4); err != nil {
		return nil, corrupt("file count: %v", err)
	}
	numFiles := int64(binary.LittleEndian.Uint32(b[:]))
	recLen := numFiles * 20
	if 8+recLen+4 > p.hdr.Size() {
		return nil, corrupt("%d records do not fit", numFiles)
	}
	recs := make([]byte, recLen)
	if _, err := p.hdr.ReadAt(recs, 8); err != nil && err != io.EOF {
		return nil, corrupt("records: %v", err)
	}
	if _, err := p.hdr.ReadAt(b[:], 8+recLen); err != nil {
		return nil, corrupt("string table size: %v", err)
	}
	blobLen := int64(binary.LittleEndian.Uint32(b[:]))
	if 8+recLen+4+blobLen > p.hdr.Size() {
		return nil, corrupt("string table of %d bytes does not fit", blobLen)
	}
	blob := make([]byte, blobLen)
	if _, err := p.hdr.ReadAt(blob, 8+recLen+4); err != nil && err != io.EOF {
		return nil, corrupt("string table: %v", err)
	}
	return parseSelfContained(recs, 8, blob, version)
}

// openVolumes finds each volume next to the header file.
func (p *pkg) openVolumes(f archive.File, h *header) error {
	if h.volumes == nil {
		p.content = p.hdr
		return nil
	}
	parent := f.Parent()
	parts := make([]multireaderat.Part, 0, len(h.volumes))
	for _, name := range h.volumes {
		var vf archive.File
		ok := false
		if parent != nil {
			vf, ok = parent.TryFile(name)
		}
		if !ok {
			return fmt.Errorf("ark volume %s: %w", name, archive.ErrMissingVolume)
		}
		vs, err := vf.Open()
		if err != nil {
			return fmt.Errorf("ark volume %s: %w", name, err)
		}
		p.vols = append(p.vols, vs)
		parts = append(parts, multireaderat.Part{R: vs, Size: vs.Size()})
	}
	p.content = multireaderat.Concat(parts...)
	return nil
}

// buildTree creates directories on demand, memoized by their exact path.
func (p *pkg) buildTree(h *header) *archive.Dir {
	root := archive.NewDir("")
	dirs := map[string]*archive.Dir{"": root, ".": root}
	dirFor := func(path string) *archive.Dir {
		if d, ok := dirs[path]; ok {
			return d
		}
		d := root.MkdirAll(strings.TrimPrefix(path, "./"))
		dirs[path] = d
		return d
	}

	for i := range h.records {
		rec := &h.records[i]
		e := archive.NewEntry(rec.name, int64(rec.size), func() (io.ReaderAt, error) {
			return sectionreader.Section(p.content, rec.offset, int64(rec.size)), nil
		}).Set("offset", rec.offset).Set("flags", rec.flags)
		if h.version >= 8 {
			e.Set("hash", rec.hash)
		}
		if dirFor(rec.dir).AddFile(e) {
			p.records[e] = rec
			p.entries[rec] = e
		}
	}
	return root
}
