// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package archive

import (
	"io"
	"strings"
)

// Sniff is the outcome of a cheap compatibility test run before a full decode.
type Sniff int

const (
	No Sniff = iota
	Maybe
	Yes
)

func (s Sniff) String() string {
	switch s {
	case Yes:
		return "yes"
	case Maybe:
		return "maybe"
	default:
		return "no"
	}
}

// PasscodeFunc supplies a secret for the named prompt, e.g. "EKPFS".
// Returning the empty string means the caller declined.
type PasscodeFunc func(prompt string) string

// Peek returns up to n bytes of f starting at off, or nil on any failure.
// It exists for sniffers, which never fail.
func Peek(f File, off int64, n int) []byte {
	s, err := f.Open()
	if err != nil {
		return nil
	}
	defer s.Close()
	buf := make([]byte, n)
	got, err := s.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil
	}
	return buf[:got]
}

// HasMagic reports whether f contains magic at off.
func HasMagic(f File, off int64, magic string) bool {
	return string(Peek(f, off, len(magic))) == magic
}

// HasExt reports whether the file name ends with one of the extensions, ignoring case.
func HasExt(f File, exts ...string) bool {
	name := strings.ToLower(f.Name())
	for _, e := range exts {
		if strings.HasSuffix(name, strings.ToLower(e)) {
			return true
		}
	}
	return false
}
