// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pkf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	path, data string
	zip        bool
}

func build(items []item) []byte {
	be := binary.BigEndian
	var table bytes.Buffer
	for _, it := range items {
		table.Write(make([]byte, 4))
		table.WriteString(it.path)
		table.WriteByte(0)
		table.Write(make([]byte, 8)) // patched below
	}
	dataAt := tableAt + table.Len()
	var data bytes.Buffer
	tb := table.Bytes()
	pos := 0
	for _, it := range items {
		pos += 4 + len(it.path) + 1
		body := []byte(it.data)
		if it.zip {
			var z bytes.Buffer
			w, _ := zlib.NewWriterLevel(&z, zlib.BestCompression)
			w.Write(body)
			w.Close()
			hdr := []byte(zlibMagic)
			hdr = be.AppendUint32(hdr, 1)
			hdr = be.AppendUint32(hdr, uint32(len(body)))
			body = append(hdr, z.Bytes()...)
		}
		be.PutUint32(tb[pos:], uint32(dataAt+data.Len()))
		be.PutUint32(tb[pos+4:], uint32(len(body)))
		pos += 8
		data.Write(body)
	}
	out := []byte(magic)
	out = append(out, make([]byte, 6)...)
	out = be.AppendUint32(out, uint32(len(tb)))
	out = append(out, tb...)
	return append(out, data.Bytes()...)
}

var items = []item{
	{`songs\track.txt`, "a song that compresses compresses compresses well", true},
	{`cover.png`, "tiny", false},
	{`Songs\raw.bin`, "raw but longer than twelve bytes", false},
}

func TestDecode(t *testing.T) {
	f := archive.NewMemory("disc.pkf", build(items), false)
	assert.Equal(t, archive.Yes, Sniff(f))
	assert.Equal(t, archive.No, Sniff(archive.NewMemory("disc.bin", build(items), false)))

	p, err := Decode(f, nil)
	require.NoError(t, err)
	defer p.Close()
	for _, it := range items {
		path := string(bytes.ReplaceAll([]byte(it.path), []byte(`\`), []byte("/")))
		node, err := p.Root.FileAt(path)
		require.NoError(t, err, path)
		assert.Equal(t, it.zip, node.Compressed(), path)
		got, err := archive.ReadAll(node)
		require.NoError(t, err, path)
		assert.Equal(t, it.data, string(got), path)
	}
}

func TestCorrupt(t *testing.T) {
	b := build(items)
	binary.BigEndian.PutUint32(b[14:], 1<<20)
	_, err := Decode(archive.NewMemory("disc.pkf", b, false), nil)
	assert.ErrorIs(t, err, archive.ErrCorruptHeader)
}
