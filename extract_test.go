// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package gamearchives

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSample(t *testing.T) *Package {
	t.Helper()
	p, err := OpenReader("sample.arc", bytes.NewReader(sample), int64(len(sample)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestExtractAll(t *testing.T) {
	p := openSample(t)
	dest := t.TempDir()

	var seen []string
	err := Extract(context.Background(), p, dest, ExtractOptions{
		Progress: func(done, total int, path string) {
			assert.Equal(t, 4, total)
			assert.Equal(t, len(seen)+1, done)
			seen = append(seen, path)
		},
	})
	require.NoError(t, err)

	// U8 data is laid out in table order
	assert.Equal(t, []string{"songs/intro.mid", "songs/outro.mid", "readme.txt", "inner.arc"}, seen)

	b, err := os.ReadFile(filepath.Join(dest, "songs", "outro.mid"))
	require.NoError(t, err)
	assert.Equal(t, "MThd outro", string(b))
	b, err = os.ReadFile(filepath.Join(dest, "inner.arc"))
	require.NoError(t, err)
	assert.Equal(t, inner, b)
}

func TestExtractInclude(t *testing.T) {
	p := openSample(t)
	dest := t.TempDir()

	err := Extract(context.Background(), p, dest, ExtractOptions{Include: []string{"SONGS/*.mid"}})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dest, "songs", "intro.mid"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dest, "readme.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = Extract(context.Background(), p, dest, ExtractOptions{Include: []string{"songs/[.mid"}})
	assert.Error(t, err)
}

func TestExtractCancelled(t *testing.T) {
	p := openSample(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := <-ExtractInBackground(ctx, p, t.TempDir(), ExtractOptions{})
	var ee *ExtractError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "songs/intro.mid", ee.Path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractNamesFailingFile(t *testing.T) {
	broken := errors.New("media error")
	root := archive.NewDir("")
	root.AddFile(archive.NewEntry("good", 2, func() (io.ReaderAt, error) { return strings.NewReader("ok"), nil }).Set("offset", int64(0)))
	root.AddFile(archive.NewEntry("bad", 2, func() (io.ReaderAt, error) { return nil, broken }).Set("offset", int64(2)))
	p := archive.NewPackage("test", "test", root, 4)

	dest := t.TempDir()
	err := Extract(context.Background(), p, dest, ExtractOptions{})
	var ee *ExtractError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "bad", ee.Path)
	assert.ErrorIs(t, err, broken)

	b, err := os.ReadFile(filepath.Join(dest, "good"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(b))
}

func TestExtractRejectsEscapes(t *testing.T) {
	root := archive.NewDir("")
	root.AddFile(archive.NewMemory("..", []byte("x"), false))
	p := archive.NewPackage("test", "test", root, 1)

	err := Extract(context.Background(), p, t.TempDir(), ExtractOptions{})
	assert.ErrorIs(t, err, errUnsafePath)
}
