// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package archive

import (
	"errors"
	"io/fs"
)

var (
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrCorruptHeader      = errors.New("corrupt header")
	ErrMissingVolume      = errors.New("missing volume")
	ErrPasscodeRequired   = errors.New("passcode required")
	ErrInvalidPasscode    = errors.New("invalid passcode")
	ErrBlockChainBroken   = errors.New("block chain broken")
	ErrUnsupportedFeature = errors.New("unsupported feature")
	ErrNotFound           = errors.New("not found")
	ErrReadOnly           = errors.New("package is read-only")
)

// LookupError reports the first path component that could not be resolved.
type LookupError struct {
	Path    string // the whole path being resolved
	Missing string // the component that was absent
	IsDir   bool   // whether a directory was expected at that component
}

func (e *LookupError) Error() string {
	kind := "file"
	if e.IsDir {
		kind = "directory"
	}
	if e.Path == "" || e.Path == e.Missing {
		return kind + " not found: " + e.Missing
	}
	return kind + " not found: " + e.Missing + " (resolving " + e.Path + ")"
}

func (e *LookupError) Unwrap() error { return ErrNotFound }

func (e *LookupError) Is(target error) bool { return target == fs.ErrNotExist }

func notFound(whole, missing string, dir bool) error {
	return &LookupError{Path: whole, Missing: missing, IsDir: dir}
}
