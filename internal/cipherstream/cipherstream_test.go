// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package cipherstream

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"io"
	"testing"

	"golang.org/x/crypto/xts"
)

func plaintext(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i>>8)
	}
	return b
}

// lcgEncrypt builds a seeded LCG stream using the same schedule.
func lcgEncrypt(seed int32, plain []byte, xor byte) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(seed))
	k := Round(seed)
	for _, c := range plain {
		out = append(out, c^byte(k)^xor)
		k = Round(k)
	}
	return out
}

func TestRound(t *testing.T) {
	cases := []struct{ in, out int32 }{
		{1, 0x41A7},
		{0, 0x7FFFFFFF},
		{0x1F31D, 0x7FFFFFFF - 0xB14},
	}
	for _, c := range cases {
		if got := Round(c.in); got != c.out {
			t.Errorf("Round(%#x) = %#x, expected %#x", c.in, got, c.out)
		}
	}
}

func TestLCGSelfInverse(t *testing.T) {
	plain := plaintext(3000)
	for _, xor := range []byte{0, 0xff} {
		enc := lcgEncrypt(0x12345678, plain, xor)
		c, err := NewLCG(bytes.NewReader(enc), int64(len(enc)), xor)
		if err != nil {
			t.Fatal(err)
		}
		if c.Size() != int64(len(plain)) {
			t.Fatalf("size %d, expected %d", c.Size(), len(plain))
		}
		got := make([]byte, len(plain))
		if _, err := c.ReadAt(got, 0); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("xor %#x: decrypted text differs", xor)
		}

		// applying the keystream twice is the identity
		again := append([]byte(nil), got...)
		c.Crypt(again, 0)
		c.Crypt(again, 0)
		if !bytes.Equal(again, plain) {
			t.Errorf("xor %#x: Crypt is not its own inverse", xor)
		}
	}
}

func TestLCGBackwardSeek(t *testing.T) {
	plain := plaintext(500)
	enc := lcgEncrypt(-99, plain, 0)
	c, _ := NewLCG(bytes.NewReader(enc), int64(len(enc)), 0)

	for _, off := range []int64{400, 10, 399, 0, 250, 250} {
		buf := make([]byte, 20)
		n, err := c.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			t.Fatal(err)
		}
		if !bytes.Equal(buf[:n], plain[off:off+int64(n)]) {
			t.Errorf("read at %d after seeking around differs from sequential", off)
		}
	}

	n, err := c.ReadAt(make([]byte, 50), 480)
	if n != 20 || err != io.EOF {
		t.Errorf("expected a short read at the end, got %d %v", n, err)
	}
}

func TestCTRCounterIsLittleEndian(t *testing.T) {
	c, err := NewCTR(bytes.NewReader(nil), 0, 0, make([]byte, 16), []byte{0xff, 0xff, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	ctr := c.counter(1)
	if ctr[0] != 0 || ctr[1] != 0 || ctr[2] != 1 {
		t.Errorf("expected the carry to ripple upwards, got % x", ctr[:4])
	}
}

func TestCTR(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")
	plain := plaintext(100)

	// build the ciphertext block by block with ECB
	b, _ := aes.NewCipher(key)
	ref, _ := NewCTR(nil, 0, 0, key, iv)
	enc := append([]byte(nil), plain...)
	for i := 0; i < len(enc); i += 16 {
		ctr := ref.counter(uint64(i / 16))
		var pad [16]byte
		b.Encrypt(pad[:], ctr[:])
		for j := i; j < min(i+16, len(enc)); j++ {
			enc[j] ^= pad[j-i]
		}
	}

	backing := append([]byte("HEADER"), enc...)
	c, err := NewCTR(bytes.NewReader(backing), 6, int64(len(enc)), key, iv)
	if err != nil {
		t.Fatal(err)
	}
	for _, off := range []int64{0, 5, 17, 90} {
		buf := make([]byte, 10)
		n, _ := c.ReadAt(buf, off)
		if !bytes.Equal(buf[:n], plain[off:off+int64(n)]) {
			t.Errorf("CTR read at %d: got % x", off, buf[:n])
		}
	}
}

func TestXTS(t *testing.T) {
	dataKey := []byte("datakey_datakey_")
	tweakKey := []byte("tweakkeytweakkey")
	const sector = 0x1000
	plain := plaintext(sector * 20)

	enc := append([]byte(nil), plain...)
	c, _ := xts.NewCipher(aes.NewCipher, append(append([]byte(nil), dataKey...), tweakKey...))
	for s := 16; s < 20; s++ {
		c.Encrypt(enc[s*sector:(s+1)*sector], plain[s*sector:(s+1)*sector], uint64(s))
	}

	x, err := NewXTS(bytes.NewReader(enc), int64(len(enc)), dataKey, tweakKey, 16, sector)
	if err != nil {
		t.Fatal(err)
	}
	for _, off := range []int64{0, 16*sector - 5, 18*sector + 100, 17 * sector} {
		buf := make([]byte, 300)
		n, err := x.ReadAt(buf, off)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(buf[:n], plain[off:off+int64(n)]) {
			t.Errorf("XTS read at %#x differs", off)
		}
	}
}

func TestCBCBlocks(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	iv := bytes.Repeat([]byte{9}, 16)
	plain := plaintext(512 * 3)

	b, _ := aes.NewCipher(key)
	enc := append(make([]byte, 512), plain...)
	for i := 512; i < len(enc); i += 512 {
		cipher.NewCBCEncrypter(b, iv).CryptBlocks(enc[i:i+512], enc[i:i+512])
	}

	c, err := NewCBCBlocks(bytes.NewReader(enc), 512, 1000, 512, key, iv)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2000)
	n, err := c.ReadAt(buf, 0)
	if n != 1000 || err != io.EOF {
		t.Fatalf("expected 1000 bytes then EOF, got %d %v", n, err)
	}
	if !bytes.Equal(buf[:n], plain[:1000]) {
		t.Error("CBC blocks decrypted wrongly")
	}
	n, _ = c.ReadAt(buf[:40], 500)
	if !bytes.Equal(buf[:n], plain[500:540]) {
		t.Error("CBC read across a block boundary decrypted wrongly")
	}
}

func obfuscate(plain []byte, initial byte) []byte {
	out := make([]byte, len(plain))
	key := initial
	for i, c := range plain {
		out[i] = c ^ key
		key = (initial ^ out[i]) - byte(i)
	}
	return out
}

func TestObfuscated(t *testing.T) {
	plain := plaintext(1000)
	enc := obfuscate(plain, 0x5a)
	o := NewObfuscated(bytes.NewReader(enc), int64(len(enc)), 0x5a)
	for _, off := range []int64{0, 1, 999, 500, 256} {
		buf := make([]byte, 16)
		n, _ := o.ReadAt(buf, off)
		if !bytes.Equal(buf[:n], plain[off:off+int64(n)]) {
			t.Errorf("obfuscated read at %d differs", off)
		}
	}
}

func TestKeyByteDeterministic(t *testing.T) {
	meta := make([]byte, 64)
	for i := range meta {
		meta[i] = byte(i * 3)
	}
	binary.LittleEndian.PutUint16(meta[0xe:], 8)
	saved := append([]byte(nil), meta...)

	a, err := KeyByte(meta)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := KeyByte(meta)
	if a != b {
		t.Error("KeyByte is not deterministic")
	}
	if !bytes.Equal(meta, saved) {
		t.Error("KeyByte modified its argument")
	}

	binary.LittleEndian.PutUint16(meta[0xe:], 100)
	if _, err := KeyByte(meta); err == nil {
		t.Error("expected an error for an oversized trailer length")
	}
}
