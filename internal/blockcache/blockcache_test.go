// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package blockcache

import "testing"

func TestRoundTrip(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Fatal("NewID returned a duplicate")
	}
	Add(a, 4096, []byte("hello"))
	if got, ok := Get(a, 4096); !ok || string(got) != "hello" {
		t.Errorf("expected cached block, got %q %v", got, ok)
	}
	if _, ok := Get(b, 4096); ok {
		t.Error("a block leaked between ids")
	}
	if _, ok := Get(a, 0); ok {
		t.Error("a block leaked between offsets")
	}
}

func TestHashSpreads(t *testing.T) {
	if hash(key{1, 0}) == hash(key{0, 1}) {
		t.Error("id and offset should not be interchangeable in the hash")
	}
}
