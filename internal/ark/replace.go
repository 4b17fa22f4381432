// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ark

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/elliotnunn/gamearchives/internal/archive"
)

func (p *pkg) writeable() bool {
	if _, ok := p.hdr.(io.WriterAt); !ok {
		return false
	}
	for _, v := range p.vols {
		if _, ok := v.(io.WriterAt); !ok {
			return false
		}
	}
	return true
}

// replace overwrites a file's bytes in its volume, then its size field in the header.
// The caller has already checked that data is no larger than the file.
func (p *pkg) replace(f archive.File, data []byte) error {
	rec, ok := p.records[f]
	if !ok {
		return fmt.Errorf("replace %s: not in this package: %w", archive.PathOf(f), archive.ErrNotFound)
	}

	if err := p.writeContent(rec.offset, data); err != nil {
		return fmt.Errorf("replace %s: %w", archive.PathOf(f), err)
	}

	size := binary.LittleEndian.AppendUint32(nil, uint32(len(data)))
	pos := int64(rec.sizePos)
	if p.lcg != nil {
		p.lcg.Crypt(size, pos) // same keystream encrypts
		pos += 4
	}
	if _, err := p.hdr.(io.WriterAt).WriteAt(size, pos); err != nil {
		return fmt.Errorf("replace %s: header: %w", archive.PathOf(f), err)
	}

	rec.size = uint32(len(data))
	p.entries[rec].Resize(int64(len(data)))
	return nil
}

// writeContent maps an offset in the concatenated volumes back to individual volumes.
func (p *pkg) writeContent(off int64, data []byte) error {
	if p.vols == nil {
		_, err := p.hdr.(io.WriterAt).WriteAt(data, off)
		return err
	}
	for _, v := range p.vols {
		if len(data) == 0 {
			break
		}
		if off >= v.Size() {
			off -= v.Size()
			continue
		}
		n := min(int64(len(data)), v.Size()-off)
		if _, err := v.(io.WriterAt).WriteAt(data[:n], off); err != nil {
			return err
		}
		data, off = data[n:], 0
	}
	if len(data) > 0 {
		return fmt.Errorf("write past the last volume: %w", archive.ErrCorruptHeader)
	}
	return nil
}
