// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package reader2readerat_test

import (
	"encoding/hex"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/elliotnunn/gamearchives/internal/reader2readerat"
)

type reader byte

func (r *reader) Read(p []byte) (n int, err error) {
	switch rand.Intn(3) {
	case 0:
		p = p[:len(p)-len(p)/2]
	case 1:
		p = nil
	case 2:
	}

	for i := range p {
		p[i] = byte(*r)
		*r++
	}
	return len(p), nil
}

func TestDecompressionCache(t *testing.T) {
	ra := reader2readerat.NewFromReader(func() (io.Reader, error) {
		var newreader reader
		return &newreader, nil
	})

	for range 100 {
		offset := int64(rand.Intn(10000))
		buf := make([]byte, rand.Intn(10000))
		n, err := ra.ReadAt(buf, offset)
		if err != nil {
			t.Errorf("got error %v", err)
		}
		if n != len(buf) {
			t.Errorf("expected %d bytes, got %d", len(buf), n)
		}
		for i, c := range buf[:n] {
			if c != byte(offset)+byte(i) {
				t.Errorf("expected to start with byte %02x, got %s", byte(offset), hex.EncodeToString(buf[:n]))
				break
			}
		}
	}
}

func TestEndOfStream(t *testing.T) {
	opens := 0
	ra := reader2readerat.NewFromReader(func() (io.Reader, error) {
		opens++
		return strings.NewReader(strings.Repeat("x", 5000)), nil
	})
	defer ra.Close()

	buf := make([]byte, 100)
	n, err := ra.ReadAt(buf, 4950)
	if n != 50 || err != io.EOF {
		t.Errorf("expected 50 bytes and EOF, got %d %v", n, err)
	}
	n, err = ra.ReadAt(buf, 6000)
	if n != 0 || err != io.EOF {
		t.Errorf("expected 0 bytes and EOF past the end, got %d %v", n, err)
	}
	n, err = ra.ReadAt(buf, 0)
	if n != 100 || err != nil {
		t.Errorf("expected a backward read to succeed, got %d %v", n, err)
	}
	if opens == 0 {
		t.Error("the stream was never opened")
	}
}
