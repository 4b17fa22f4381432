// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package osfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmp, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "Main.HDR"), []byte("header bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "main_0.ark"), []byte("volume zero"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "empty"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "sub", "deep.txt"), []byte("deep"), 0o644))
	return tmp
}

func TestListing(t *testing.T) {
	tmp := populate(t)
	d := Dir(tmp, false)
	assert.False(t, d.Filled())

	files, err := d.Files()
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.Equal(t, []string{"Main.HDR", "empty", "main_0.ark"}, names)
	assert.True(t, d.Filled())

	f, err := d.FileAt("SUB/DEEP.TXT")
	require.NoError(t, err)
	b, err := archive.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "deep", string(b))
	assert.Equal(t, "sub/deep.txt", archive.PathOf(f))
}

func TestSiblings(t *testing.T) {
	tmp := populate(t)
	f, err := FileAt(filepath.Join(tmp, "main.hdr"), false)
	require.NoError(t, err)
	assert.Equal(t, "Main.HDR", f.Name())

	vol, ok := f.Parent().TryFile("MAIN_0.ARK")
	require.True(t, ok)
	b, err := archive.ReadAll(vol)
	require.NoError(t, err)
	assert.Equal(t, "volume zero", string(b))

	_, err = FileAt(filepath.Join(tmp, "absent"), false)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEmptyFile(t *testing.T) {
	tmp := populate(t)
	f, err := FileAt(filepath.Join(tmp, "empty"), false)
	require.NoError(t, err)
	s, err := f.Open()
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestWriteable(t *testing.T) {
	tmp := populate(t)
	f, err := FileAt(filepath.Join(tmp, "main_0.ark"), true)
	require.NoError(t, err)
	s, err := f.Open()
	require.NoError(t, err)

	w, ok := s.(io.WriterAt)
	require.True(t, ok)
	_, err = w.WriteAt([]byte("ONE!"), 7)
	require.NoError(t, err)
	_, err = w.WriteAt([]byte("overflow"), 8)
	assert.Error(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	b, err := os.ReadFile(filepath.Join(tmp, "main_0.ark"))
	require.NoError(t, err)
	assert.Equal(t, "volume ONE!", string(b))

	ro, err := FileAt(filepath.Join(tmp, "main_0.ark"), false)
	require.NoError(t, err)
	s, err = ro.Open()
	require.NoError(t, err)
	defer s.Close()
	_, ok = s.(io.WriterAt)
	assert.False(t, ok)
}
