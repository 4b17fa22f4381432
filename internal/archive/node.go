// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package archive holds the node model shared by every container decoder:
// files, directories and the packages that own them.
package archive

import (
	"cmp"
	"io"
	"slices"
	"strings"
	"sync"
)

// Node is anything that lives in a directory tree.
type Node interface {
	Name() string
	Parent() *Dir
}

// File is a leaf of a package tree.
// Open may be called any number of times, and each call returns an independent Stream.
type File interface {
	Node
	Size() int64       // logical size
	StoredSize() int64 // bytes occupied in the container
	Compressed() bool
	ExtendedInfo() map[string]any
	Open() (Stream, error)
}

// Entry is the File implementation used by the table-driven decoders.
type Entry struct {
	name       string
	parent     *Dir
	size       int64
	stored     int64
	compressed bool
	info       map[string]any
	open       func() (io.ReaderAt, error)
}

// NewEntry describes a file of the given logical size whose content comes from open.
// The ReaderAt returned by open is clamped to size.
func NewEntry(name string, size int64, open func() (io.ReaderAt, error)) *Entry {
	return &Entry{name: name, size: size, stored: size, open: open}
}

// Stored records a stored size that differs from the logical size.
func (e *Entry) Stored(n int64, compressed bool) *Entry {
	e.stored, e.compressed = n, compressed
	return e
}

// Resize changes the logical and stored size after an in-place replacement.
// It must not race with Open.
func (e *Entry) Resize(n int64) {
	e.size, e.stored = n, n
}

// Set adds a format-specific attribute.
func (e *Entry) Set(key string, value any) *Entry {
	if e.info == nil {
		e.info = make(map[string]any)
	}
	e.info[key] = value
	return e
}

func (e *Entry) Name() string                 { return e.name }
func (e *Entry) Parent() *Dir                 { return e.parent }
func (e *Entry) Size() int64                  { return e.size }
func (e *Entry) StoredSize() int64            { return e.stored }
func (e *Entry) Compressed() bool             { return e.compressed }
func (e *Entry) ExtendedInfo() map[string]any { return e.info }

func (e *Entry) Open() (Stream, error) {
	r, err := e.open()
	if err != nil {
		return nil, err
	}
	return NewStream(r, e.size), nil
}

type parented interface{ setParent(*Dir) }

func (e *Entry) setParent(d *Dir) { e.parent = d }

type fillState int

const (
	unfilled fillState = iota
	filled
)

// Dir is a directory whose children are looked up without regard to case.
// The first child inserted under a given folded name wins;
// later inserts with the same folded name are dropped.
type Dir struct {
	name   string
	parent *Dir

	once  sync.Once
	mu    sync.Mutex
	state fillState
	fill  func(*Dir) error
	err   error
	files map[string]File
	dirs  map[string]*Dir
}

// NewDir returns an empty directory whose children are added eagerly.
func NewDir(name string) *Dir {
	return &Dir{name: name, state: filled}
}

// NewLazyDir returns a directory that calls fill on first access.
// A failed fill is remembered and reported by every later lookup.
func NewLazyDir(name string, fill func(*Dir) error) *Dir {
	return &Dir{name: name, state: unfilled, fill: fill}
}

func fold(s string) string { return strings.ToLower(s) }

func (d *Dir) Name() string { return d.name }
func (d *Dir) Parent() *Dir { return d.parent }

// Filled reports whether the children are known without further I/O.
func (d *Dir) Filled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == filled
}

// ensure runs the fill function exactly once; concurrent callers wait for it.
// The fill function may add children but must not look them up.
func (d *Dir) ensure() error {
	d.once.Do(func() {
		if d.fill == nil {
			return
		}
		err := d.fill(d)
		d.mu.Lock()
		d.state, d.err, d.fill = filled, err, nil
		d.mu.Unlock()
	})
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// AddFile inserts f and reports whether it was accepted.
func (d *Dir) AddFile(f File) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := fold(f.Name())
	if _, ok := d.files[k]; ok {
		return false
	}
	if d.files == nil {
		d.files = make(map[string]File)
	}
	if p, ok := f.(parented); ok {
		p.setParent(d)
	}
	d.files[k] = f
	return true
}

// AddDir inserts sub and reports whether it was accepted.
func (d *Dir) AddDir(sub *Dir) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := fold(sub.name)
	if _, ok := d.dirs[k]; ok {
		return false
	}
	if d.dirs == nil {
		d.dirs = make(map[string]*Dir)
	}
	sub.parent = d
	d.dirs[k] = sub
	return true
}

// Mkdir returns the subdirectory with this name, creating it if absent.
func (d *Dir) Mkdir(name string) *Dir {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := fold(name)
	if sub, ok := d.dirs[k]; ok {
		return sub
	}
	if d.dirs == nil {
		d.dirs = make(map[string]*Dir)
	}
	sub := NewDir(name)
	sub.parent = d
	d.dirs[k] = sub
	return sub
}

func (d *Dir) TryFile(name string) (File, bool) {
	if d.ensure() != nil {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[fold(name)]
	return f, ok
}

func (d *Dir) TryDir(name string) (*Dir, bool) {
	if d.ensure() != nil {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.dirs[fold(name)]
	return sub, ok
}

func (d *Dir) File(name string) (File, error) {
	if err := d.ensure(); err != nil {
		return nil, err
	}
	if f, ok := d.TryFile(name); ok {
		return f, nil
	}
	return nil, notFound(name, name, false)
}

func (d *Dir) Dir(name string) (*Dir, error) {
	if err := d.ensure(); err != nil {
		return nil, err
	}
	if sub, ok := d.TryDir(name); ok {
		return sub, nil
	}
	return nil, notFound(name, name, true)
}

// Files lists the files sorted by name.
func (d *Dir) Files() ([]File, error) {
	if err := d.ensure(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	list := make([]File, 0, len(d.files))
	for _, f := range d.files {
		list = append(list, f)
	}
	slices.SortFunc(list, func(a, b File) int { return cmp.Compare(a.Name(), b.Name()) })
	return list, nil
}

// Dirs lists the subdirectories sorted by name.
func (d *Dir) Dirs() ([]*Dir, error) {
	if err := d.ensure(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	list := make([]*Dir, 0, len(d.dirs))
	for _, sub := range d.dirs {
		list = append(list, sub)
	}
	slices.SortFunc(list, func(a, b *Dir) int { return cmp.Compare(a.name, b.name) })
	return list, nil
}

// At resolves a slash-separated path relative to d.
// Every component but the last must be a directory;
// the last may be either, with directories taking precedence.
func (d *Dir) At(p string) (Node, error) {
	dir, last, err := d.walk(p)
	if err != nil {
		return nil, err
	}
	if last == "" {
		return dir, nil
	}
	if sub, ok := dir.TryDir(last); ok {
		return sub, nil
	}
	if f, ok := dir.TryFile(last); ok {
		return f, nil
	}
	if err := dir.ensure(); err != nil {
		return nil, err
	}
	return nil, notFound(p, last, false)
}

// FileAt resolves a path that must name a file.
func (d *Dir) FileAt(p string) (File, error) {
	dir, last, err := d.walk(p)
	if err != nil {
		return nil, err
	}
	if f, ok := dir.TryFile(last); ok {
		return f, nil
	}
	if err := dir.ensure(); err != nil {
		return nil, err
	}
	return nil, notFound(p, last, false)
}

// DirAt resolves a path that must name a directory.
func (d *Dir) DirAt(p string) (*Dir, error) {
	dir, last, err := d.walk(p)
	if err != nil {
		return nil, err
	}
	if last == "" {
		return dir, nil
	}
	if sub, ok := dir.TryDir(last); ok {
		return sub, nil
	}
	if err := dir.ensure(); err != nil {
		return nil, err
	}
	return nil, notFound(p, last, true)
}

func (d *Dir) walk(p string) (*Dir, string, error) {
	parts := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	if len(parts) == 0 {
		return d, "", nil
	}
	for _, comp := range parts[:len(parts)-1] {
		sub, ok := d.TryDir(comp)
		if !ok {
			if err := d.ensure(); err != nil {
				return nil, "", err
			}
			return nil, "", notFound(p, comp, true)
		}
		d = sub
	}
	return d, parts[len(parts)-1], nil
}

// Path is the slash-separated path from the root, which has the empty path.
func (d *Dir) Path() string {
	if d.parent == nil {
		return ""
	}
	if pp := d.parent.Path(); pp != "" {
		return pp + "/" + d.name
	}
	return d.name
}

// PathOf is the slash-separated path of any node from its root.
func PathOf(n Node) string {
	if d, ok := n.(*Dir); ok {
		return d.Path()
	}
	if n.Parent() == nil {
		return n.Name()
	}
	if pp := n.Parent().Path(); pp != "" {
		return pp + "/" + n.Name()
	}
	return n.Name()
}

// MkdirAll creates every directory along a slash-separated path and returns the last.
func (d *Dir) MkdirAll(p string) *Dir {
	for _, comp := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' }) {
		d = d.Mkdir(comp)
	}
	return d
}
