// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package pfs reads the PS4 inode filesystem, whether bare,
// wrapped in a PFSC compressed image, or inside an encrypted package.
package pfs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/cipherstream"
	"github.com/elliotnunn/gamearchives/internal/sectionreader"
)

const formatName = "PS4 PFS Image"

var exts = []string{".dat", ".pfs", ".pkg"}

var Decoder = archive.Decoder{
	Name:   formatName,
	Exts:   exts,
	Sniff:  Sniff,
	Decode: Decode,
}

const (
	pkgMagic = "\x7fCNT"

	// Prompt is the label passed to the passcode callback for an encrypted image.
	Prompt = "EKPFS"

	keyIndex    = 1
	xtsSector   = 0x1000
	xtsFirst    = 16
	nestedName  = "pfs_image.dat"
	nestedMount = "pfs_image"
)

func Sniff(f archive.File) archive.Sniff {
	b := archive.Peek(f, 0, 16)
	switch {
	case len(b) < 16:
		return archive.No
	case binary.LittleEndian.Uint64(b) == magicVersion && binary.LittleEndian.Uint64(b[8:]) == magicNumber:
		return archive.Yes
	case string(b[:4]) == pfscMagic, string(b[:4]) == pkgMagic:
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

func decode(name string, r io.ReaderAt, size int64, pass archive.PasscodeFunc) (*archive.Package, error) {
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return nil, fmt.Errorf("pfs magic: %v: %w", err, archive.ErrCorruptHeader)
	}
	switch string(magic[:]) {
	case pkgMagic:
		var b [16]byte
		if _, err := r.ReadAt(b[:], 0x410); err != nil {
			return nil, fmt.Errorf("package image location: %v: %w", err, archive.ErrCorruptHeader)
		}
		off := int64(binary.BigEndian.Uint64(b[:]))
		n := int64(binary.BigEndian.Uint64(b[8:]))
		if off < 0 || n < 0 || off > size || n > size-off {
			return nil, fmt.Errorf("package image %#x+%#x beyond %#x: %w", off, n, size, archive.ErrCorruptHeader)
		}
		return openImage(name, "", sectionreader.Section(r, off, n), n, pass)
	case pfscMagic:
		c, err := openCompressed(r)
		if err != nil {
			return nil, err
		}
		return openImage(name, "", c, c.Size(), pass)
	}
	return openImage(name, "", r, size, pass)
}

// deriveKeys splits HMAC-SHA256(secret, be32(index) || seed) into tweak and data keys.
func deriveKeys(secret []byte, seed [16]byte) (tweak, data []byte) {
	m := hmac.New(sha256.New, secret)
	binary.Write(m, binary.BigEndian, uint32(keyIndex))
	m.Write(seed[:])
	sum := m.Sum(nil)
	return sum[:16], sum[16:]
}

func askSecret(pass archive.PasscodeFunc) ([]byte, error) {
	answer := ""
	if pass != nil {
		answer = strings.TrimSpace(pass(Prompt))
	}
	if answer == "" {
		return nil, fmt.Errorf("encrypted pfs image: %w", archive.ErrPasscodeRequired)
	}
	secret, err := hex.DecodeString(answer)
	if err != nil || len(secret) != 32 {
		return nil, fmt.Errorf("%s must be 64 hex digits: %w", Prompt, archive.ErrInvalidPasscode)
	}
	return secret, nil
}

func openImage(name, rootName string, r io.ReaderAt, size int64, pass archive.PasscodeFunc) (*archive.Package, error) {
	hb := make([]byte, 0x380)
	if _, err := r.ReadAt(hb, 0); err != nil {
		return nil, fmt.Errorf("pfs header: %v: %w", err, archive.ErrCorruptHeader)
	}
	h, err := parseHeader(hb)
	if err != nil {
		return nil, err
	}
	if h.mode&mode64 != 0 {
		return nil, fmt.Errorf("pfs mode %#x: 64-bit inodes: %w", h.mode, archive.ErrUnsupportedFeature)
	}

	encrypted := h.mode&modeEncrypted != 0
	if encrypted {
		secret, err := askSecret(pass)
		if err != nil {
			return nil, err
		}
		tweak, data := deriveKeys(secret, h.seed)
		x, err := cipherstream.NewXTS(r, size, data, tweak, xtsFirst, xtsSector)
		if err != nil {
			return nil, err
		}
		r = x
	}

	inodes, err := readInodes(r, h)
	if err != nil {
		if encrypted {
			return nil, fmt.Errorf("%v: %w", err, archive.ErrInvalidPasscode)
		}
		return nil, err
	}
	im := &image{r: r, h: h, inodes: inodes}
	if encrypted {
		super, err := im.inode(h.superroot)
		if err != nil || super.nlink != 1 || super.flags&superrootFlag == 0 {
			slog.Warn("pfsKeyRejected", "name", name)
			return nil, fmt.Errorf("superroot inode fails validation: %w", archive.ErrInvalidPasscode)
		}
	}

	rootIno := h.superroot
	ents, err := im.dirents(rootIno)
	if err != nil {
		return nil, err
	}
	for _, e := range ents {
		if e.typ == direntDir && e.name == "uroot" {
			rootIno = e.ino
			break
		}
	}
	root := archive.NewDir(rootName)
	if err := im.parseDir(rootIno, root, 0); err != nil {
		return nil, err
	}

	p := archive.NewPackage(formatName, name, root, size)
	if err := mountNested(p, pass); err != nil {
		return nil, err
	}
	return p, nil
}

// mountNested opens a compressed inner image found at the root
// and grafts its tree beside the file.
func mountNested(p *archive.Package, pass archive.PasscodeFunc) error {
	f, ok := p.Root.TryFile(nestedName)
	if !ok || !archive.HasMagic(f, 0, pfscMagic) {
		return nil
	}
	s, err := f.Open()
	if err != nil {
		return err
	}
	c, err := openCompressed(s)
	if err != nil {
		s.Close()
		return err
	}
	child, err := openImage(f.Name(), nestedMount, c, c.Size(), pass)
	if err != nil {
		s.Close()
		return fmt.Errorf("%s: %w", nestedName, err)
	}
	child.Own(s)
	p.Root.AddDir(child.Root)
	p.Adopt(child)
	return nil
}
