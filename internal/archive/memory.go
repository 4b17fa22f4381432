// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package archive

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/elliotnunn/gamearchives/internal/sectionreader"
)

// Memory is a File held in a byte slice. Writeable memory files hand out
// streams that also implement [io.WriterAt], within the existing length.
type Memory struct {
	name      string
	parent    *Dir
	mu        sync.RWMutex
	data      []byte
	writeable bool
}

func NewMemory(name string, data []byte, writeable bool) *Memory {
	return &Memory{name: name, data: data, writeable: writeable}
}

func (m *Memory) Name() string                 { return m.name }
func (m *Memory) Parent() *Dir                 { return m.parent }
func (m *Memory) Size() int64                  { return int64(len(m.data)) }
func (m *Memory) StoredSize() int64            { return int64(len(m.data)) }
func (m *Memory) Compressed() bool             { return false }
func (m *Memory) ExtendedInfo() map[string]any { return nil }
func (m *Memory) setParent(d *Dir)             { m.parent = d }

// Bytes returns the current content.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return bytes.Clone(m.data)
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return bytes.NewReader(m.data).ReadAt(p, off)
}

var errWriteBounds = errors.New("write outside memory file")

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, errWriteBounds
	}
	return copy(m.data[off:], p), nil
}

func (m *Memory) Open() (Stream, error) {
	s := &memStream{Reader: sectionreader.NewReader(m, 0, m.Size())}
	if m.writeable {
		return &writeableMemStream{memStream: s, m: m}, nil
	}
	return s, nil
}

type memStream struct {
	*sectionreader.Reader
}

func (*memStream) Close() error { return nil }

type writeableMemStream struct {
	*memStream
	m *Memory
}

func (w *writeableMemStream) WriteAt(p []byte, off int64) (int, error) { return w.m.WriteAt(p, off) }

var _ io.WriterAt = (*writeableMemStream)(nil)
