// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package cipherstream

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
)

// Obfuscated undoes a byte-chained XOR where each key byte
// depends on the previous ciphertext byte and its position.
type Obfuscated struct {
	r          io.ReaderAt
	size       int64
	initialKey byte
}

func NewObfuscated(r io.ReaderAt, size int64, initialKey byte) *Obfuscated {
	return &Obfuscated{r: r, size: size, initialKey: initialKey}
}

func (o *Obfuscated) Size() int64 { return o.size }

func (o *Obfuscated) ReadAt(p []byte, off int64) (int, error) {
	p, cerr := clampRead(p, off, o.size)
	if p == nil {
		return 0, cerr
	}
	key := o.initialKey
	if off > 0 {
		var prev [1]byte
		if _, err := readFull(o.r, prev[:], off-1); err != nil {
			return 0, err
		}
		key = (o.initialKey ^ prev[0]) - byte(off-1)
	}
	n, err := readFull(o.r, p, off)
	for i := range p[:n] {
		c := p[i]
		p[i] ^= key
		key = (o.initialKey ^ c) - byte(off+int64(i))
	}
	if err == nil {
		err = cerr
	}
	return n, err
}

func mangle(b []byte) uint32 {
	var m uint32
	for _, c := range b {
		m = uint32(c) ^ 2*(uint32(c)+m)
	}
	return m
}

func fold(v uint32) uint32 {
	return v&0xff + v>>8&0xff + v>>16&0xff + v>>24
}

// scramble rewrites b in place and returns the final seed.
func scramble(b []byte) uint32 {
	seed := uint32(0xE3AFEC21)
	var counter byte
	for i := range b {
		tmp := uint32(b[i]) ^ fold(seed)
		b[i] = byte(tmp)
		seed = bits.RotateLeft32((tmp|(tmp|(tmp|tmp<<8)<<8)<<8)+bits.RotateLeft32(seed, int(tmp&0x1f)), 1)
		if counter > 16 {
			seed *= 2
			counter = 0
		}
		counter++
	}
	return seed
}

// KeyByte derives the initial key from the metadata trailer of a protected file.
func KeyByte(metadata []byte) (byte, error) {
	if len(metadata) < 24 {
		return 0, fmt.Errorf("protected file metadata too short: %d bytes", len(metadata))
	}
	meta := append([]byte(nil), metadata...)
	n := int(binary.LittleEndian.Uint16(meta[0xe:]))
	if 24+n > len(meta) {
		return 0, fmt.Errorf("protected file metadata claims %d bytes but has %d", 24+n, len(meta))
	}

	mangled := byte(fold(mangle(meta[4:13]) + mangle(meta[0:4]) + mangle(meta[13:14]) + mangle(meta[16:20]) + mangle(meta[24:24+n])))

	scramble(meta[24 : 24+n])
	scramble(meta[13:14])
	scramble(meta[16:20])
	scramble(meta[0:4])
	scramble(meta[4:13])

	return meta[5] ^ mangled, nil
}
