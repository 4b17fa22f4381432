// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package seven45 reads the encrypted .hdr.e.2 index used by Seven45 titles
// and the .pkN volumes it points into.
package seven45

import (
	"crypto/aes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/bin"
	"github.com/elliotnunn/gamearchives/internal/cipherstream"
	"github.com/elliotnunn/gamearchives/internal/sectionreader"
)

const formatName = "Seven45 Package"

var exts = []string{".hdr.e.2"}

var Decoder = archive.Decoder{
	Name:   formatName,
	Exts:   exts,
	Sniff:  Sniff,
	Decode: Decode,
}

const (
	ext       = ".hdr.e.2"
	magic     = 0x745
	blockSize = 512

	headerPassword = "The corresponding .model file does not exist for '%s'"
)

// Console releases encrypt the first block with a fixed IV instead of the one stored in it.
var consoleIV = []byte{0x0A, 0x58, 0xB8, 0xDE, 0x0A, 0x71, 0x03, 0x44, 0x5C, 0x73, 0x71, 0x7F, 0xDA, 0xCE, 0x2B, 0x64}

func headerKey() []byte {
	k := sha256.Sum256([]byte(headerPassword))
	return k[:]
}

// unlock decrypts block 0 to find the key, IV and length of the rest.
// With a nil iv the last 16 bytes of the ciphertext serve.
func unlock(r io.ReaderAt, size int64, iv []byte) (*cipherstream.CBCBlocks, error) {
	if size < blockSize {
		return nil, fmt.Errorf("%d bytes is too short for a %s header: %w", size, ext, archive.ErrCorruptHeader)
	}
	blk := make([]byte, blockSize)
	if _, err := r.ReadAt(blk, 0); err != nil {
		return nil, err
	}
	if iv == nil {
		iv = append([]byte(nil), blk[blockSize-16:]...)
	}
	c, err := aes.NewCipher(headerKey())
	if err != nil {
		return nil, err
	}
	cipherstream.DecryptCBC(c, iv, blk)
	length := int64(binary.LittleEndian.Uint32(blk[48:]))
	if length > size {
		return nil, fmt.Errorf("%s header claims %d bytes of %d: %w", ext, length, size, archive.ErrCorruptHeader)
	}
	return cipherstream.NewCBCBlocks(r, blockSize, length, blockSize, blk[16:48], blk[:16])
}

// open tries both header IVs and returns the plaintext whose magic matches.
func open(r io.ReaderAt, size int64) (*cipherstream.CBCBlocks, bool) {
	for _, iv := range [][]byte{nil, consoleIV} {
		c, err := unlock(r, size, iv)
		if err != nil {
			continue
		}
		var m [4]byte
		if _, err := c.ReadAt(m[:], 0); err == nil && binary.LittleEndian.Uint32(m[:]) == magic {
			return c, true
		}
	}
	return nil, false
}

func Sniff(f archive.File) archive.Sniff {
	if !archive.HasExt(f, ext) {
		return archive.No
	}
	s, err := f.Open()
	if err != nil {
		return archive.No
	}
	defer s.Close()
	if _, ok := open(s, s.Size()); ok {
		return archive.Yes
	}
	return archive.No
}

type fileEntry struct {
	dir    uint16
	str    uint32
	offset uint32
	size   int64
	time   int64
}

type dirEntry struct {
	hash   uint32
	parent int32
	str    uint32
}

type offsetEntry struct {
	off uint32
	vol uint16
}

func Decode(f archive.File, _ archive.PasscodeFunc) (*archive.Package, error) {
	s, err := f.Open()
	if err != nil {
		return nil, err
	}
	var vols []archive.Stream
	p, err := decode(f, s, &vols)
	if err != nil {
		s.Close()
		for _, v := range vols {
			v.Close()
		}
		return nil, err
	}
	p.Own(s)
	for _, v := range vols {
		p.Own(v)
	}
	return p, nil
}

func decode(f archive.File, s archive.Stream, vols *[]archive.Stream) (*archive.Package, error) {
	plain, ok := open(s, s.Size())
	if !ok {
		return nil, fmt.Errorf("%s header does not decrypt: %w", ext, archive.ErrCorruptHeader)
	}
	hdr := make([]byte, plain.Size())
	if _, err := plain.ReadAt(hdr, 0); err != nil && err != io.EOF {
		return nil, err
	}
	r := bin.LE(hdr)
	r.Skip(8) // magic, version
	r.Skip(4) // block size
	numFiles := int(r.U32())
	r.Skip(4)
	numDirs := int(r.U32())
	r.Skip(8)
	strAt, strLen := int(r.U32()), int(r.U32())
	numOffsets := int(r.U32())
	if r.Err() != nil || numFiles > len(hdr)/48 || numDirs > len(hdr)/12 || numOffsets > len(hdr)/8 || numDirs == 0 {
		return nil, fmt.Errorf("%s header counts: %w", ext, archive.ErrCorruptHeader)
	}

	files := make([]fileEntry, numFiles)
	for i := range files {
		r.Skip(6)
		files[i] = fileEntry{dir: r.U16(), str: r.U32(), offset: r.U32(), size: r.I64()}
		r.Skip(16)
		files[i].time = r.I64()
	}
	dirs := make([]dirEntry, numDirs)
	for i := range dirs {
		dirs[i] = dirEntry{hash: r.U32(), parent: r.I32(), str: r.U32()}
	}
	var strs []string
	r.Seek(strAt)
	for r.Err() == nil && r.Pos() < strAt+strLen {
		strs = append(strs, r.CString())
	}
	r.Seek(strAt + strLen)
	offsets := make([]offsetEntry, numOffsets)
	maxVol := 0
	for i := range offsets {
		offsets[i] = offsetEntry{off: r.U32(), vol: r.U16()}
		r.Skip(2)
		maxVol = max(maxVol, int(offsets[i].vol))
	}
	if r.Err() != nil {
		return nil, fmt.Errorf("%s header tables: %v: %w", ext, r.Err(), archive.ErrCorruptHeader)
	}
	str := func(i uint32) string {
		if int(i) < len(strs) {
			return strs[i]
		}
		return fmt.Sprintf("unnamed%d", i)
	}

	tree := make([]*archive.Dir, numDirs)
	tree[0] = archive.NewDir("")
	for i := 1; i < numDirs; i++ {
		par := int(dirs[i].parent)
		if par < 0 || par >= i {
			return nil, fmt.Errorf("%s directory %d has parent %d: %w", ext, i, par, archive.ErrCorruptHeader)
		}
		tree[i] = tree[par].Mkdir(str(dirs[i].str))
	}

	base := f.Name()[:len(f.Name())-len(ext)]
	var parent *archive.Dir
	if parent = f.Parent(); parent == nil {
		return nil, fmt.Errorf("%s.pk0: %w", base, archive.ErrMissingVolume)
	}
	total := s.Size()
	for i := 0; i <= maxVol; i++ {
		name := fmt.Sprintf("%s.pk%d", base, i)
		vf, ok := parent.TryFile(name)
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, archive.ErrMissingVolume)
		}
		vs, err := vf.Open()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		*vols = append(*vols, vs)
		total += vs.Size()
	}

	for i, fe := range files {
		if int(fe.dir) >= numDirs || int(fe.offset) >= numOffsets {
			return nil, fmt.Errorf("%s file %d points outside the tables: %w", ext, i, archive.ErrCorruptHeader)
		}
		loc := offsets[fe.offset]
		vol := (*vols)[loc.vol]
		off, size := int64(loc.off), fe.size
		if size < 0 || off+size > vol.Size() {
			return nil, fmt.Errorf("%s file %d overruns volume %d: %w", ext, i, loc.vol, archive.ErrCorruptHeader)
		}
		tree[fe.dir].AddFile(archive.NewEntry(str(fe.str), size, func() (io.ReaderAt, error) {
			return sectionreader.Section(vol, off, size), nil
		}).Set("volume", int(loc.vol)).Set("offset", off).Set("time", fe.time))
	}
	return archive.NewPackage(formatName, f.Name(), tree[0], total), nil
}
