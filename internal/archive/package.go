// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package archive

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Package is one decoded archive. It owns every backing resource handed to it
// and releases them exactly once, after closing any child packages.
type Package struct {
	Name      string
	Format    string
	Root      *Dir
	TotalSize int64
	Writeable bool

	replace func(File, []byte) error

	mu       sync.Mutex
	closers  []io.Closer
	children []*Package
	closed   bool
	closeErr error
}

func NewPackage(format, name string, root *Dir, totalSize int64) *Package {
	return &Package{Name: name, Format: format, Root: root, TotalSize: totalSize}
}

// Own hands c to the package, which will close it on Close.
func (p *Package) Own(c ...io.Closer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closers = append(p.closers, c...)
}

// Adopt makes child part of p's ownership chain.
func (p *Package) Adopt(child *Package) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children = append(p.children, child)
}

// Children lists the packages opened from inside p.
func (p *Package) Children() []*Package {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Package(nil), p.children...)
}

// SetReplacer enables in-place replacement for a writeable package.
func (p *Package) SetReplacer(fn func(File, []byte) error) { p.replace = fn }

// Replace overwrites the content of f with data in the backing file.
// The new content must not be larger than the old.
func (p *Package) Replace(f File, data []byte) error {
	if !p.Writeable {
		return fmt.Errorf("replace %s: %w", PathOf(f), ErrReadOnly)
	}
	if p.replace == nil {
		return fmt.Errorf("replace %s: %s packages: %w", PathOf(f), p.Format, ErrUnsupportedFeature)
	}
	if int64(len(data)) > f.Size() {
		return fmt.Errorf("replace %s: %d bytes exceeds existing %d: %w", PathOf(f), len(data), f.Size(), ErrUnsupportedFeature)
	}
	return p.replace(f, data)
}

// Close closes the children, then every owned resource. Later calls return the first result.
func (p *Package) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.closeErr
	}
	p.closed = true
	children, closers := p.children, p.closers
	p.children, p.closers = nil, nil
	p.mu.Unlock()

	var errs []error
	for _, c := range children {
		errs = append(errs, c.Close())
	}
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	err := errors.Join(errs...)

	p.mu.Lock()
	p.closeErr = err
	p.mu.Unlock()
	return err
}

// Closed reports whether Close has been called.
func (p *Package) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Decoder is the pair of functions a container format registers.
type Decoder struct {
	Name   string
	Exts   []string
	Sniff  func(File) Sniff
	Decode func(File, PasscodeFunc) (*Package, error)
}
