// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package protected unwraps "protected" single files: an obfuscated body
// followed by a metadata trailer that determines the key.
package protected

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/cipherstream"
)

const formatName = "Protected File"

var Decoder = archive.Decoder{
	Name:   formatName,
	Sniff:  Sniff,
	Decode: Decode,
}

const (
	trailerAt = 36 // from the end, the metadata length
	minMeta   = 36
)

// metadata returns the trailer of r, or an error if it is not plausible.
func metadata(r io.ReaderAt, size int64) ([]byte, error) {
	if size < trailerAt {
		return nil, fmt.Errorf("%d bytes is too short for a protected file: %w", size, archive.ErrCorruptHeader)
	}
	var b [4]byte
	if _, err := r.ReadAt(b[:], size-trailerAt); err != nil {
		return nil, fmt.Errorf("protected trailer: %v: %w", err, archive.ErrCorruptHeader)
	}
	n := int64(int32(binary.LittleEndian.Uint32(b[:])))
	if n < minMeta || n > size {
		return nil, fmt.Errorf("protected metadata of %d bytes in %d: %w", n, size, archive.ErrCorruptHeader)
	}
	meta := make([]byte, n)
	if _, err := r.ReadAt(meta, size-n); err != nil && err != io.EOF {
		return nil, fmt.Errorf("protected metadata: %v: %w", err, archive.ErrCorruptHeader)
	}
	return meta, nil
}

// Sniff never says Yes: the trailer is only a plausibility check.
func Sniff(f archive.File) archive.Sniff {
	s, err := f.Open()
	if err != nil {
		return archive.No
	}
	defer s.Close()
	meta, err := metadata(s, s.Size())
	if err != nil {
		return archive.No
	}
	if _, err := cipherstream.KeyByte(meta); err != nil {
		return archive.No
	}
	return archive.Maybe
}

func Decode(f archive.File, _ archive.PasscodeFunc) (*archive.Package, error) {
	s, err := f.Open()
	if err != nil {
		return nil, err
	}
	meta, err := metadata(s, s.Size())
	if err != nil {
		s.Close()
		return nil, err
	}
	key, err := cipherstream.KeyByte(meta)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%v: %w", err, archive.ErrCorruptHeader)
	}

	body := s.Size() - int64(len(meta))
	plain := cipherstream.NewObfuscated(s, body, key)
	root := archive.NewDir("")
	root.AddFile(archive.NewEntry(f.Name(), body, func() (io.ReaderAt, error) {
		return plain, nil
	}).Set("keyByte", key).Set("metadataSize", len(meta)))

	p := archive.NewPackage(formatName, f.Name(), root, s.Size())
	p.Own(s)
	return p, nil
}
