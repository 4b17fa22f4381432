// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package xiso

import (
	"encoding/binary"
	"testing"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirent struct {
	left, right int // indices into the same table, -1 for none
	sector      uint32
	length      uint32
	attrs       byte
	name        string
}

// table lays out entries at 4-byte aligned offsets, first entry at zero.
func table(ents []dirent) []byte {
	var offs []int
	at := 0
	for _, e := range ents {
		offs = append(offs, at)
		at += (14 + len(e.name) + 3) &^ 3
	}
	out := make([]byte, at)
	for i, e := range ents {
		b := out[offs[i]:]
		if e.left >= 0 {
			binary.LittleEndian.PutUint16(b, uint16(offs[e.left]/4))
		}
		if e.right >= 0 {
			binary.LittleEndian.PutUint16(b[2:], uint16(offs[e.right]/4))
		}
		binary.LittleEndian.PutUint32(b[4:], e.sector)
		binary.LittleEndian.PutUint32(b[8:], e.length)
		b[12] = e.attrs
		b[13] = byte(len(e.name))
		copy(b[14:], e.name)
	}
	return out
}

func build(partition int64) []byte {
	img := make([]byte, partition+40*sectorSize)
	p := img[partition:]
	put := func(sector int, b []byte) { copy(p[sector*sectorSize:], b) }

	rootTable := table([]dirent{
		{left: 1, right: 2, sector: 37, length: 5, name: "b.txt"},
		{left: -1, right: 3, sector: 38, length: 3, name: "a.txt"},
		{left: -1, right: -1, sector: 35, length: 0x800, attrs: attrDir, name: "Sub"},
		{left: -1, right: -1, sector: 39, length: 5, name: "B.TXT"},
	})
	subTable := table([]dirent{
		{left: -1, right: -1, sector: 36, length: 7, name: "c.txt"},
	})
	put(32, []byte(magic))
	binary.LittleEndian.PutUint32(p[32*sectorSize+20:], 34)
	binary.LittleEndian.PutUint32(p[32*sectorSize+24:], uint32(len(rootTable)))
	put(34, rootTable)
	put(35, subTable)
	put(36, []byte("charlie"))
	put(37, []byte("bravo"))
	put(38, []byte("alf"))
	put(39, []byte("dupe!"))
	return img
}

func TestDecode(t *testing.T) {
	for _, part := range []int64{0, 0xFB20} {
		f := archive.NewMemory("game.iso", build(part), false)
		require.Equal(t, archive.Yes, Sniff(f), "partition %#x", part)
		p, err := Decode(f, nil)
		require.NoError(t, err)

		assert.False(t, p.Root.Filled(), "root read before first lookup")
		for path, want := range map[string]string{
			"a.txt":     "alf",
			"b.txt":     "bravo",
			"sub/c.txt": "charlie",
		} {
			node, err := p.Root.FileAt(path)
			require.NoError(t, err, path)
			got, err := archive.ReadAll(node)
			require.NoError(t, err)
			assert.Equal(t, want, string(got), path)
		}
		assert.True(t, p.Root.Filled())
		files, err := p.Root.Files()
		require.NoError(t, err)
		assert.Len(t, files, 2, "B.TXT loses to b.txt")
		require.NoError(t, p.Close())
	}
}

func TestNotXISO(t *testing.T) {
	f := archive.NewMemory("x.iso", make([]byte, 0x20000), false)
	assert.Equal(t, archive.No, Sniff(f))
	_, err := Decode(f, nil)
	assert.ErrorIs(t, err, archive.ErrCorruptHeader)
}

func TestBadSubdirectory(t *testing.T) {
	img := build(0)
	// point Sub beyond the image; the root still opens
	sub := 34*sectorSize + (14+5+3)&^3 + (14+5+3)&^3
	binary.LittleEndian.PutUint32(img[sub+4:], 0xFFFF)
	p, err := Decode(archive.NewMemory("x.iso", img, false), nil)
	require.NoError(t, err)
	_, err = p.Root.FileAt("a.txt")
	require.NoError(t, err)
	_, err = p.Root.FileAt("sub/c.txt")
	assert.ErrorIs(t, err, archive.ErrCorruptHeader)
}
