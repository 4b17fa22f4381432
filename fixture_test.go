// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package gamearchives

import (
	"bytes"
	"encoding/binary"
)

// u8node describes one node of a U8 archive, in table order.
// A directory's end is the index of the first node after its contents.
type u8node struct {
	name string
	dir  bool
	end  uint32
	data string
}

func buildU8(nodes []u8node) []byte {
	const tableOff, nodeSize = 0x20, 12
	be := binary.BigEndian
	var strs, data bytes.Buffer
	table := make([]byte, nodeSize*len(nodes))
	type pending struct{ at, dataOff int }
	var fix []pending
	for i, n := range nodes {
		rec := table[i*nodeSize:]
		be.PutUint32(rec, uint32(strs.Len()))
		strs.WriteString(n.name)
		strs.WriteByte(0)
		if n.dir {
			rec[0] = 1
			be.PutUint32(rec[8:], n.end)
		} else {
			fix = append(fix, pending{i*nodeSize + 4, data.Len()})
			be.PutUint32(rec[8:], uint32(len(n.data)))
			data.WriteString(n.data)
		}
	}
	be.PutUint32(table[8:], uint32(len(nodes)))
	tableSize := len(table) + strs.Len()
	dataStart := tableOff + tableSize
	for _, f := range fix {
		be.PutUint32(table[f.at:], uint32(dataStart+f.dataOff))
	}

	out := make([]byte, tableOff)
	copy(out, "\x55\xAA\x38\x2D")
	be.PutUint32(out[4:], tableOff)
	be.PutUint32(out[8:], uint32(tableSize))
	be.PutUint32(out[12:], uint32(dataStart))
	out = append(out, table...)
	out = append(out, strs.Bytes()...)
	return append(out, data.Bytes()...)
}

var inner = buildU8([]u8node{
	{dir: true, end: 2},
	{name: "nested.txt", data: "inside the inside"},
})

var sample = buildU8([]u8node{
	{dir: true, end: 6},
	{name: "songs", dir: true, end: 4},
	{name: "intro.mid", data: "MThd intro"},
	{name: "outro.mid", data: "MThd outro"},
	{name: "readme.txt", data: "hello\n"},
	{name: "inner.arc", data: string(inner)},
})
