// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package protected

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/cipherstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trailer() []byte {
	meta := make([]byte, 64)
	for i := range meta {
		meta[i] = byte(i*7 + 3)
	}
	binary.LittleEndian.PutUint16(meta[0xe:], 8) // 24+8 bytes participate
	binary.LittleEndian.PutUint32(meta[len(meta)-trailerAt:], uint32(len(meta)))
	return meta
}

// obfuscate is the inverse of the byte-chained XOR.
func obfuscate(plain []byte, key byte) []byte {
	out := make([]byte, len(plain))
	k := key
	for i, c := range plain {
		out[i] = c ^ k
		k = (key ^ out[i]) - byte(i)
	}
	return out
}

func TestDecode(t *testing.T) {
	meta := trailer()
	key, err := cipherstream.KeyByte(meta)
	require.NoError(t, err)
	plain := bytes.Repeat([]byte("protected content "), 20)
	data := append(obfuscate(plain, key), meta...)

	f := archive.NewMemory("song.mogg", data, false)
	assert.Equal(t, archive.Maybe, Sniff(f))
	p, err := Decode(f, nil)
	require.NoError(t, err)
	defer p.Close()

	inner, err := p.Root.FileAt("song.mogg")
	require.NoError(t, err)
	assert.Equal(t, int64(len(plain)), inner.Size())
	got, err := archive.ReadAll(inner)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	s, err := inner.Open()
	require.NoError(t, err)
	defer s.Close()
	buf := make([]byte, 9)
	_, err = s.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Equal(t, plain[100:109], buf, "random access recomputes the key")
}

func TestImplausible(t *testing.T) {
	assert.Equal(t, archive.No, Sniff(archive.NewMemory("x", []byte("short"), false)))
	junk := bytes.Repeat([]byte{0xFF}, 200)
	assert.Equal(t, archive.No, Sniff(archive.NewMemory("x", junk, false)))
	_, err := Decode(archive.NewMemory("x", junk, false), nil)
	assert.ErrorIs(t, err, archive.ErrCorruptHeader)
}
