// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package stfs

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFix(t *testing.T) {
	cases := []struct {
		n, shift, expect int64
	}{
		{0, 0, 0},
		{169, 0, 169},
		{170, 0, 172},
		{171, 0, 173},
		{170, 1, 174},
		{0x70E4, 0, 0x70E4 + (0x70E4/0xAA+1) + 2},
	}
	for _, c := range cases {
		assert.Equal(t, c.expect, fix(c.n, uint(c.shift)), "fix(%#x) shift %d", c.n, c.shift)
	}
	assert.Equal(t, int64(0xC000+172*0x1000), blockOffset(170, 0))
	assert.Equal(t, int64(-1), blockOffset(0x1000000, 0))
}

func TestHashRecordOffset(t *testing.T) {
	assert.Equal(t, int64(0xB000), hashRecordOffset(0, 0))
	assert.Equal(t, int64(0xB000+3*0x18), hashRecordOffset(3, 0))
	assert.Equal(t, int64(0xA000), hashRecordOffset(0, 1))
	// block 0xAA lives in the second table, one spacing plus the level-1 table further on
	assert.Equal(t, int64(0xB000+(0xAB+1)*0x1000), hashRecordOffset(0xAA, 0))
}

func chain(links map[int64]int64) func(int64) (hashRecord, error) {
	return func(n int64) (hashRecord, error) {
		return hashRecord{index: n, next: links[n]}, nil
	}
}

func TestChain(t *testing.T) {
	links := map[int64]int64{0: 1, 1: 2, 2: 2}

	got, err := chainBlocks(0, 3, chain(links))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, got)

	_, err = chainBlocks(0, 5, chain(links))
	assert.ErrorIs(t, err, archive.ErrBlockChainBroken)

	_, err = chainBlocks(0, 4, chain(map[int64]int64{0: 1, 1: -1}))
	assert.ErrorIs(t, err, archive.ErrBlockChainBroken)

	got, err = chainBlocks(7, 2, chain(map[int64]int64{7: 4, 4: -1}))
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 4}, got)
}

func TestSequential(t *testing.T) {
	assert.Equal(t, []int64{5, 6, 7}, sequentialBlocks(5, 3))
}

func put24le(b []byte, v int) { b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16) }
func put24be(b []byte, v int) { b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v) }

func entry(name string, flags byte, numBlocks, start int, parent int16, size uint32) []byte {
	e := make([]byte, 0x40)
	copy(e, name)
	e[0x28] = flags | byte(len(name))
	put24le(e[0x29:], numBlocks)
	put24le(e[0x2C:], numBlocks)
	put24le(e[0x2F:], start)
	binary.BigEndian.PutUint16(e[0x32:], uint16(parent))
	binary.BigEndian.PutUint32(e[0x34:], size)
	return e
}

// fixture is a CON package with one directory and two files,
// one sequential and one chained through the hash table.
func fixture() []byte {
	b := make([]byte, 0x10000)
	copy(b, "CON ")
	binary.BigEndian.PutUint32(b[0x340:], 0xAD0E) // shift 0
	binary.LittleEndian.PutUint16(b[0x37C:], 1)
	put24le(b[0x37E:], 0)
	binary.LittleEndian.PutUint32(b[0x39D:], 3)

	rec := func(n, next int) { put24be(b[0xB000+n*0x18+21:], next) }
	rec(0, 0xFFFFFF)
	rec(3, 2)
	rec(2, 2)

	table := b[0xC000:]
	copy(table[0x00:], entry("Sub", 0x80, 0, 0, -1, 0))
	copy(table[0x40:], entry("a.txt", 0x40, 1, 1, -1, 5))
	copy(table[0x80:], entry("b.bin", 0, 2, 3, 0, 0x1003))

	copy(b[0xD000:], "hello")
	copy(b[0xE000:], "end")
	copy(b[0xF000:], bytes.Repeat([]byte("x"), 0x1000))
	return b
}

func TestDecode(t *testing.T) {
	f := archive.Standalone("test.con", bytes.NewReader(fixture()), 0x10000)
	require.Equal(t, archive.Yes, Sniff(f))

	p, err := Decode(f, nil)
	require.NoError(t, err)
	defer p.Close()

	a, err := p.Root.FileAt("A.TXT")
	require.NoError(t, err)
	got, err := archive.ReadAll(a)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	b, err := p.Root.FileAt("sub/b.bin")
	require.NoError(t, err)
	got, err = archive.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, append(bytes.Repeat([]byte("x"), 0x1000), "end"...), got)
	assert.Equal(t, int64(3), b.ExtendedInfo()["startBlock"])

	_, err = p.Root.FileAt("sub/missing")
	var le *archive.LookupError
	require.ErrorAs(t, err, &le)
	assert.False(t, le.IsDir)
}

func TestNotSTFS(t *testing.T) {
	f := archive.Standalone("x", bytes.NewReader([]byte("NOPE")), 4)
	assert.Equal(t, archive.No, Sniff(f))
	_, err := Decode(f, nil)
	assert.ErrorIs(t, err, archive.ErrCorruptHeader)
}

func TestTruncatedTable(t *testing.T) {
	b := fixture()[:0xC000+0x800]
	f := archive.Standalone("cut.con", bytes.NewReader(b), int64(len(b)))
	require.Equal(t, archive.Yes, Sniff(f))
	_, err := Decode(f, nil)
	assert.ErrorIs(t, err, archive.ErrCorruptHeader)
}
