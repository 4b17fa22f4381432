// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package blockcache is a process-wide cache of decoded blocks
// (decompressed or decrypted) shared by every open package.
package blockcache

import (
	"encoding/binary"
	"math"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"
)

const BlockSize = 4096

// EnvVar sets the cache budget in megabytes.
const EnvVar = "GAMEARCHIVES_CACHE_MB"

type key struct {
	id   uint64
	base int64
}

var (
	mu     sync.Mutex
	cache  *tinylfu.T[key, []byte]
	nextID atomic.Uint64
)

func init() {
	n := max(budget()/BlockSize, 16)
	cache = tinylfu.New[key, []byte](n, n*10, hash)
}

func budget() int {
	if e := os.Getenv(EnvVar); e != "" {
		f, err := strconv.ParseFloat(e, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			panic("malformed " + EnvVar + " environment variable, should be a number of megabytes: " + e)
		}
		return int(f * 1024 * 1024)
	}
	return 256 * 1024 * 1024
}

func hash(k key) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:], k.id)
	binary.LittleEndian.PutUint64(b[8:], uint64(k.base))
	return xxhash.Sum64(b[:])
}

// NewID returns a key prefix that no other caller will receive.
func NewID() uint64 { return nextID.Add(1) }

func Get(id uint64, base int64) ([]byte, bool) {
	mu.Lock()
	defer mu.Unlock()
	return cache.Get(key{id, base})
}

// Add stores a block. The caller must not modify b afterwards.
func Add(id uint64, base int64, b []byte) {
	mu.Lock()
	defer mu.Unlock()
	cache.Add(key{id, base}, b)
}
