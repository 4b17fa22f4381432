// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ark

import (
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/elliotnunn/gamearchives/internal/bin"
)

const (
	maxVersion = 10
	sentinel   = 0x4B5241 // "ARK\0", a pre-versioning layout
)

func knownVersion(v uint32) bool {
	return v >= 1 && v <= maxVersion || v == sentinel
}

// selfContained layouts keep the file data in the same file as the header.
func selfContained(v uint32) bool {
	return v <= 2 || v == sentinel
}

type record struct {
	dir, name string
	offset    int64
	size      uint32
	sizePos   int // of the size field, in the plaintext header
	flags     uint32
	hash      uint32
}

type header struct {
	version     uint32
	brokenV4    bool
	volumes     []string // nil when selfContained
	volumeSizes []int64
	extra       []string
	records     []record
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("ark: "+format+": %w", append(args, archive.ErrCorruptHeader)...)
}

// parseVolumeHeader parses versions 3 and up.
// hdrName is used to infer volume names for versions 3 and 4.
func parseVolumeHeader(b []byte, hdrName string) (*header, error) {
	r := bin.LE(b)
	v := r.U32()
	if r.Err() != nil {
		return nil, corrupt("header too short")
	}
	return parseVersion(b, v, false, hdrName)
}

func parseVersion(b []byte, version uint32, broken bool, hdrName string) (*header, error) {
	h := &header{version: version, brokenV4: broken}
	r := bin.LE(b)
	r.Seek(4)
	if version >= 6 {
		r.Skip(4 + 16) // unknown key material
	}

	numArks := r.I32()
	numArks2 := r.I32()
	if r.Err() != nil || numArks != numArks2 || numArks < 0 || int(numArks) > r.Len() {
		return nil, corrupt(".ark count mismatch")
	}

	h.volumeSizes = make([]int64, numArks)
	for i := range h.volumeSizes {
		if version == 4 || version >= 9 {
			h.volumeSizes[i] = r.I64()
			if version == 4 && h.volumeSizes[i] > math.MaxUint32 {
				return parseVersion(b, 5, true, hdrName)
			}
		} else {
			h.volumeSizes[i] = int64(r.U32())
		}
	}

	if version >= 5 {
		numPaths := r.I32()
		if numPaths != numArks {
			return nil, corrupt(".ark path count %d does not match %d volumes", numPaths, numArks)
		}
		for range numPaths {
			p := r.LenString()
			h.volumes = append(h.volumes, p[strings.LastIndexByte(p, '/')+1:])
		}
	} else {
		base := strings.TrimSuffix(hdrName, path.Ext(hdrName))
		for i := range numArks {
			h.volumes = append(h.volumes, base+"_"+strconv.Itoa(int(i))+".ark")
		}
	}

	if version >= 6 && version <= 9 {
		numChecksums := r.U32()
		r.Skip(4 * int(numChecksums))
	}

	if version >= 7 {
		numExtra := r.U32()
		if int64(numExtra) > int64(r.Len()) {
			return nil, corrupt("extra string count %d", numExtra)
		}
		for range numExtra {
			h.extra = append(h.extra, r.LenString())
		}
	}
	if r.Err() != nil {
		return nil, corrupt("volume table: %v", r.Err())
	}

	var err error
	if version >= 8 {
		err = h.parseFlatRecords(r)
	} else {
		err = h.parseIndexedRecords(r)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// parseFlatRecords reads records that carry their whole path.
func (h *header) parseFlatRecords(r *bin.Reader) error {
	numFiles := r.U32()
	if int64(numFiles) > int64(r.Len()) {
		return corrupt("file count %d", numFiles)
	}
	for range numFiles {
		var rec record
		rec.offset = r.I64()
		p := r.LenString()
		// Flat records list only stored files; this word is not a
		// validity flag as in the older layouts, so no record is skipped.
		rec.flags = r.U32()
		rec.sizePos = r.Pos()
		rec.size = r.U32()
		rec.hash = r.U32()
		if r.Err() != nil {
			return corrupt("file records: %v", r.Err())
		}
		rec.dir, rec.name = splitPath(p)
		if rec.name == "" {
			return corrupt("empty file path at record %d", len(h.records))
		}
		h.records = append(h.records, rec)
	}
	return nil
}

// parseIndexedRecords reads a filename table followed by records that index into it.
func (h *header) parseIndexedRecords(r *bin.Reader) error {
	var names []string
	if h.version == 7 {
		numNames := r.U32()
		if int64(numNames) > int64(r.Len()) {
			return corrupt("filename count %d", numNames)
		}
		names = make([]string, numNames)
		for i := range names {
			names[i] = r.LenString()
		}
	} else {
		tableSize := r.U32()
		table := r.Bytes(int(tableSize))
		numNames := r.U32()
		if r.Err() != nil || numNames > tableSize {
			return corrupt("number of filenames exceeds filename table size")
		}
		names = make([]string, numNames)
		for i := range names {
			off := r.I32()
			if off == 0 {
				continue // null name
			}
			s, ok := bin.CStringAt(table, int(off))
			if !ok {
				return corrupt("filename offset %#x outside table", off)
			}
			names[i] = s
		}
	}

	numFiles := r.U32()
	if r.Err() != nil || int64(numFiles) > int64(r.Len()) {
		return corrupt("file count %d", numFiles)
	}
	for range numFiles {
		var rec record
		if h.version == 3 || h.brokenV4 {
			rec.offset = int64(r.U32())
		} else {
			rec.offset = r.I64()
		}
		nameID := r.I32()
		dirID := r.U32()
		rec.sizePos = r.Pos()
		rec.size = r.U32()
		rec.flags = r.U32()
		if r.Err() != nil {
			return corrupt("file records: %v", r.Err())
		}
		if !recordValid(h.version, rec.flags) {
			continue
		}
		if nameID < 0 || int(nameID) >= len(names) || int64(dirID) >= int64(len(names)) || names[nameID] == "" {
			return corrupt("record %d names string %d/%d of %d", len(h.records), nameID, dirID, len(names))
		}
		rec.name, rec.dir = names[nameID], names[dirID]
		h.records = append(h.records, rec)
	}
	return nil
}

// recordValid reports whether a record's flag marks a live file.
// Version 7 inverts the sense of the flag.
func recordValid(version, flag uint32) bool {
	if version == 7 {
		return flag != 0
	}
	return flag == 0
}

// parseSelfContained reads the early layouts whose records follow a file count.
// The string table comes after the records, so the caller reads in two steps.
func parseSelfContained(recs []byte, base int, blob []byte, version uint32) (*header, error) {
	h := &header{version: version}
	r := bin.LE(recs)
	for r.Pos() < r.Len() {
		var rec record
		rec.offset = int64(r.U32())
		nameOff := r.U32()
		dirOff := r.U32()
		rec.sizePos = base + r.Pos()
		rec.size = r.U32()
		rec.flags = r.U32()
		if r.Err() != nil {
			return nil, corrupt("file records: %v", r.Err())
		}
		if !recordValid(version, rec.flags) {
			continue
		}
		name, ok := bin.CStringAt(blob, int(nameOff))
		dir, ok2 := bin.CStringAt(blob, int(dirOff))
		if !ok || !ok2 || name == "" {
			return nil, corrupt("string offsets %#x/%#x outside %d-byte table", nameOff, dirOff, len(blob))
		}
		rec.name, rec.dir = name, dir
		h.records = append(h.records, rec)
	}
	return h, nil
}

func splitPath(p string) (dir, name string) {
	p = strings.Trim(p, "/")
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}
