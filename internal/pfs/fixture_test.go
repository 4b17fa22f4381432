// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pfs

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"math/rand"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/flate"
	"golang.org/x/crypto/xts"
)

const testBlock = 0x10000

type layout int

const (
	contiguous layout = iota
	fragmented
	indirect
)

type tfile struct {
	path   string
	data   []byte
	layout layout
}

type tnode struct {
	name  string
	dir   bool
	kids  []*tnode
	file  *tfile
	ino   int
	block []int32
}

func (n *tnode) child(name string) *tnode {
	for _, k := range n.kids {
		if k.name == name {
			return k
		}
	}
	k := &tnode{name: name, dir: true}
	n.kids = append(n.kids, k)
	return k
}

// buildImage lays out a PFS image with a superroot holding "uroot", under which the files live.
// Fragmented files have their blocks stored in reverse order.
func buildImage(mode uint16, seed [16]byte, files []tfile) []byte {
	super := &tnode{dir: true}
	uroot := super.child("uroot")
	for i := range files {
		f := &files[i]
		d := uroot
		dir, name := path.Split(f.path)
		for _, c := range strings.Split(strings.Trim(dir, "/"), "/") {
			if c != "" {
				d = d.child(c)
			}
		}
		d.kids = append(d.kids, &tnode{name: name, file: f})
	}

	var all []*tnode
	var number func(n *tnode)
	number = func(n *tnode) {
		n.ino = len(all)
		all = append(all, n)
		sort.SliceStable(n.kids, func(i, j int) bool { return n.kids[i].name < n.kids[j].name })
		for _, k := range n.kids {
			number(k)
		}
	}
	number(super)

	next := int32(2)
	alloc := func(n int) []int32 {
		var b []int32
		for range n {
			b = append(b, next)
			next++
		}
		return b
	}
	for _, n := range all {
		switch {
		case n.dir:
			n.block = alloc(1)
		case n.file.layout == indirect:
			n.block = make([]int32, 13)
		default:
			n.block = alloc((len(n.file.data) + testBlock - 1) / testBlock)
			if n.file.layout == fragmented {
				for i, j := 0, len(n.block)-1; i < j; i, j = i+1, j-1 {
					n.block[i], n.block[j] = n.block[j], n.block[i]
				}
			}
		}
	}

	img := make([]byte, int(next)*testBlock)
	le := binary.LittleEndian
	le.PutUint64(img[0:], magicVersion)
	le.PutUint64(img[8:], magicNumber)
	le.PutUint16(img[0x1C:], mode)
	le.PutUint32(img[0x20:], testBlock)
	le.PutUint64(img[0x28:], uint64(next))
	le.PutUint64(img[0x30:], uint64(len(all)))
	le.PutUint64(img[0x40:], 1)
	le.PutUint64(img[0x48:], 0)
	copy(img[0x370:], seed[:])

	isize := inodeSizePlain
	stride := 0
	if mode&modeSigned != 0 {
		isize, stride = inodeSizeSigned, 32
	}
	for _, n := range all {
		in := img[testBlock+n.ino*isize:][:isize]
		var size int64
		blocks := len(n.block)
		if n.dir {
			le.PutUint16(in, 0x41ED)
			size = testBlock
		} else {
			le.PutUint16(in, 0x81A4)
			size = int64(len(n.file.data))
			if n.file.layout == indirect {
				size = 13 * testBlock
			}
		}
		le.PutUint16(in[2:], 1)
		if n.ino == 0 {
			le.PutUint32(in[4:], superrootFlag)
		}
		le.PutUint64(in[8:], uint64(size))
		le.PutUint32(in[0x60:], uint32(blocks))
		ptrs := make([]int32, 12)
		switch {
		case !n.dir && n.file.layout == indirect:
			for i := range ptrs {
				ptrs[i] = int32(100 + i)
			}
		case !n.dir && n.file.layout == fragmented:
			copy(ptrs, n.block)
		case blocks > 0:
			ptrs[0] = n.block[0]
			if blocks > 1 {
				ptrs[1] = -1
			}
		}
		at := 0x64
		for _, p := range ptrs {
			at += stride
			le.PutUint32(in[at:], uint32(p))
			at += 4
		}

		if n.dir {
			putDirents(img[int(n.block[0])*testBlock:][:testBlock], n)
		} else if n.file.layout != indirect {
			for i, b := range n.block {
				lo := i * testBlock
				copy(img[int(b)*testBlock:], n.file.data[lo:min(lo+testBlock, len(n.file.data))])
			}
		}
	}
	return img
}

func putDirents(block []byte, n *tnode) {
	le := binary.LittleEndian
	pos := 0
	put := func(ino, typ int, name string) {
		size := 16 + (len(name)+7)&^7
		le.PutUint32(block[pos:], uint32(ino))
		le.PutUint32(block[pos+4:], uint32(typ))
		le.PutUint32(block[pos+8:], uint32(len(name)))
		le.PutUint32(block[pos+12:], uint32(size))
		copy(block[pos+16:], name)
		pos += size
	}
	put(n.ino, 4, ".")
	for _, k := range n.kids {
		if k.dir {
			put(k.ino, direntDir, k.name)
		} else {
			put(k.ino, direntFile, k.name)
		}
	}
}

// compress wraps an image in a PFSC container. Sectors that do not shrink are stored.
func compress(img []byte) []byte {
	n := (len(img) + testBlock - 1) / testBlock
	mapAt := 0x30
	dataAt := mapAt + 8*(n+1)
	out := make([]byte, dataAt)
	copy(out, pfscMagic)
	le := binary.LittleEndian
	le.PutUint64(out[0x10:], testBlock)
	le.PutUint64(out[0x18:], uint64(mapAt))
	le.PutUint64(out[0x20:], uint64(dataAt))
	le.PutUint64(out[0x28:], uint64(len(img)))
	for i := range n {
		le.PutUint64(out[mapAt+8*i:], uint64(len(out)))
		sec := img[i*testBlock : min((i+1)*testBlock, len(img))]
		var buf bytes.Buffer
		buf.Write([]byte{0x78, 0x9C})
		w, _ := flate.NewWriter(&buf, flate.BestCompression)
		w.Write(sec)
		w.Close()
		if buf.Len() >= testBlock {
			out = append(out, sec...)
		} else {
			out = append(out, buf.Bytes()...)
		}
	}
	le.PutUint64(out[mapAt+8*n:], uint64(len(out)))
	return out
}

// encryptImage applies XTS to every sector from the first encrypted one.
func encryptImage(img, secret []byte, seed [16]byte) []byte {
	tweak, data := deriveKeys(secret, seed)
	c, err := xts.NewCipher(aes.NewCipher, append(append([]byte(nil), data...), tweak...))
	if err != nil {
		panic(err)
	}
	out := append([]byte(nil), img...)
	for s := xtsFirst; (s+1)*xtsSector <= len(out); s++ {
		sec := out[s*xtsSector:][:xtsSector]
		c.Encrypt(sec, sec, uint64(s))
	}
	return out
}

// wrapPackage prepends a package header pointing at the image.
func wrapPackage(img []byte) []byte {
	const at = 0x1000
	out := make([]byte, at, at+len(img))
	copy(out, pkgMagic)
	binary.BigEndian.PutUint64(out[0x410:], at)
	binary.BigEndian.PutUint64(out[0x418:], uint64(len(img)))
	return append(out, img...)
}

func noise(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(1)).Read(b)
	return b
}
