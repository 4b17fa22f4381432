// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package fsgimg

import (
	"encoding/binary"
	"testing"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = 0x400

func build() []byte {
	img := make([]byte, base+0x1000)
	be := binary.BigEndian
	copy(img, magic)
	be.PutUint32(img[0x10:], 2)
	be.PutUint32(img[0x20:], base)
	be.PutUint32(img[0x2C:], 3)

	type desc struct {
		path  string
		block uint32
		size  uint32
	}
	descs := []desc{
		{"a.txt", 2, 10},
		{"Sub", 1, 0},
		{"sub/B.txt", 3, 5},
	}
	locs := headerSize + len(descs)*descSize
	for i, d := range descs {
		rec := img[headerSize+i*descSize:]
		be.PutUint32(rec, Hash(d.path))
		loc := uint32(locs + 8*i)
		be.PutUint32(rec[4:], loc) // type byte stays zero
		be.PutUint32(img[loc:], d.block)
		be.PutUint32(img[loc+4:], d.size)
	}
	copy(img[base:], "Fa.txt\x00DSub\x00\x00")
	copy(img[base+0x400:], "Fb.txt\x00\x00")
	copy(img[base+0x800:], "alphabetic")
	copy(img[base+0xC00:], "bravo")
	return img
}

func TestHash(t *testing.T) {
	assert.Equal(t, Hash("SUB/B.TXT"), Hash("/sub/b.txt"))
	assert.Equal(t, uint32(2166136261), Hash(""))
}

func TestMultiPart(t *testing.T) {
	img := build()
	split := base + 0x804
	d := archive.NewDir("")
	f := archive.NewMemory("game.img.part0", img[:split], false)
	d.AddFile(f)
	d.AddFile(archive.NewMemory("game.img.part1", img[split:], false))
	require.Equal(t, archive.Yes, Sniff(f))

	p, err := Decode(f, nil)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, int64(len(img)), p.TotalSize)

	for path, want := range map[string]string{"a.txt": "alphabetic", "sub/b.txt": "bravo"} {
		node, err := p.Root.FileAt(path)
		require.NoError(t, err, path)
		got, err := archive.ReadAll(node)
		require.NoError(t, err)
		assert.Equal(t, want, string(got), path)
	}
}

func TestMissingDescriptor(t *testing.T) {
	img := build()
	copy(img[base+0x400:], "Fc.txt\x00\x00")
	_, err := Decode(archive.NewMemory("game.img", img, false), nil)
	assert.ErrorIs(t, err, archive.ErrCorruptHeader)
}
