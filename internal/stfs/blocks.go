// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package stfs

import (
	"fmt"

	"github.com/elliotnunn/gamearchives/internal/archive"
)

const blockSize = 0x1000

// Hash tables are interleaved with data blocks at these strides.
var tableSpacing = [2][3]int64{
	{0xAB, 0x718F, 0xFE7DA},
	{0xAC, 0x723A, 0xFD00B},
}

// fix converts a data block number into a physical block index,
// skipping the hash-table blocks that precede it.
func fix(n int64, shift uint) int64 {
	adjust := int64(0)
	if n >= 0xAA {
		adjust += (n/0xAA + 1) << shift
	}
	if n >= 0x70E4 {
		adjust += (n/0x70E4 + 1) << shift
	}
	return n + adjust
}

// blockOffset is the byte offset of data block n, or -1 if n is out of range.
func blockOffset(n int64, shift uint) int64 {
	if n > 0xFFFFFF {
		return -1
	}
	return 0xC000 + fix(n, shift)*blockSize
}

func baseBlock(shift uint) int64 {
	if shift == 0 {
		return 0xB << 12
	}
	return 0xA << 12
}

// hashRecordOffset locates the 0x18-byte hash record describing block n.
func hashRecordOffset(n int64, shift uint) int64 {
	record := n % 0xAA
	tableIndex := (n / 0xAA) * tableSpacing[shift][0]
	if n >= 0xAA {
		tableIndex += (n/0x70E4 + 1) << shift
		if n >= 0x70E4 {
			tableIndex += 1 << shift
		}
	}
	return baseBlock(shift) + tableIndex*blockSize + record*0x18
}

type hashRecord struct {
	index  int64
	hash   [20]byte
	status byte
	next   int64 // -1 terminates
}

func parseHashRecord(index int64, b []byte) hashRecord {
	r := hashRecord{index: index, status: b[20]}
	copy(r.hash[:], b[:20])
	r.next = int64(b[21])<<16 | int64(b[22])<<8 | int64(b[23])
	if r.next == 0xFFFFFF {
		r.next = -1
	}
	return r
}

// sequentialBlocks is the block list of a file whose blocks are contiguous.
func sequentialBlocks(start, count int64) []int64 {
	list := make([]int64, count)
	for i := range list {
		list[i] = start + int64(i)
	}
	return list
}

// chainBlocks walks the hash-table chain from start until count blocks are collected.
func chainBlocks(start, count int64, lookup func(int64) (hashRecord, error)) ([]int64, error) {
	list := make([]int64, 0, max(count, 0))
	cur, remain := start, count
	for remain > 0 {
		rec, err := lookup(cur)
		if err != nil {
			return nil, err
		}
		list = append(list, cur)
		remain--
		if rec.next == rec.index || rec.next == -1 {
			break
		}
		cur = rec.next
	}
	if remain > 0 || len(list) == 0 {
		return nil, fmt.Errorf("chain from block %#x gave %d of %d blocks: %w",
			start, len(list), count, archive.ErrBlockChainBroken)
	}
	return list, nil
}
