// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package xzwrap presents an xz-compressed file as a package holding the one file inside.
package xzwrap

import (
	"fmt"
	"io"
	"strings"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/reader2readerat"
	"github.com/therootcompany/xz"
)

const formatName = "xz Compressed File"

var exts = []string{".xz", ".txz"}

var Decoder = archive.Decoder{
	Name:   formatName,
	Exts:   exts,
	Sniff:  Sniff,
	Decode: Decode,
}

const magic = "\xfd7zXZ\x00"

func Sniff(f archive.File) archive.Sniff {
	if archive.HasMagic(f, 0, magic) {
		return archive.Yes
	}
	return archive.No
}

func changeSuffix(s string, suffixes string) string {
	for _, rule := range strings.Split(suffixes, " ") {
		from, to, _ := strings.Cut(rule, "=")
		if strings.HasSuffix(strings.ToLower(s), from) && len(s) > len(from) {
			return s[:len(s)-len(from)] + to
		}
	}
	return s
}

func Decode(f archive.File, _ archive.PasscodeFunc) (*archive.Package, error) {
	s, err := f.Open()
	if err != nil {
		return nil, err
	}
	opener := func() (io.Reader, error) {
		return xz.NewReader(io.NewSectionReader(s, 0, s.Size()), xz.DefaultDictMax)
	}

	// The stream does not record its length up front.
	rd, err := opener()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("xz: %v: %w", err, archive.ErrCorruptHeader)
	}
	size, err := io.Copy(io.Discard, rd)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("xz: %v: %w", err, archive.ErrCorruptHeader)
	}

	name := changeSuffix(f.Name(), ".xz .txz=.tar")
	root := archive.NewDir("")
	root.AddFile(archive.NewEntry(name, size, func() (io.ReaderAt, error) {
		return reader2readerat.NewFromReader(opener), nil
	}).Stored(s.Size(), true))

	p := archive.NewPackage(formatName, f.Name(), root, s.Size())
	p.Own(s)
	return p, nil
}
