// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package walk lists the files of a package in the order their data is stored,
// so that bulk reads move forwards through the backing file.
package walk

import (
	"cmp"
	"slices"

	"github.com/elliotnunn/gamearchives/internal/archive"
)

type File struct {
	Path string
	archive.File
	key [2]uint64
}

// Location keys, most specific first. A file's volume (if any) sorts before its offset.
var keys = []string{"offset", "dataLocation", "startBlock", "sector"}

// FilesInDataOrder walks the tree below root and reports how it ordered the result:
// "no-files", "walk-order" when no file has a location key,
// or the name of the key that was used.
// The key is the one carried by the first file in walk order that has any;
// files without it keep their walk order after all the others.
// A directory that fails to fill stops the walk and its error is returned.
func FilesInDataOrder(root *archive.Dir) (string, []File, error) {
	var list []File
	if err := recurse(root, "", &list); err != nil {
		return "", nil, err
	}
	if len(list) == 0 {
		return "no-files", nil, nil
	}

	var way string
	for _, f := range list {
		if k, ok := getkey(f.File); ok {
			way = k
			break
		}
	}
	if way == "" {
		return "walk-order", list, nil
	}
	for i := range list {
		list[i].key, _ = locate(list[i].File, way)
	}
	slices.SortStableFunc(list, func(a, b File) int {
		if c := cmp.Compare(a.key[0], b.key[0]); c != 0 {
			return c
		}
		return cmp.Compare(a.key[1], b.key[1])
	})
	return way, list, nil
}

func recurse(d *archive.Dir, name string, list *[]File) error {
	files, err := d.Files()
	if err != nil {
		return err
	}
	for _, f := range files {
		*list = append(*list, File{Path: join(name, f.Name()), File: f})
	}
	dirs, err := d.Dirs()
	if err != nil {
		return err
	}
	for _, sub := range dirs {
		if err := recurse(sub, join(name, sub.Name()), list); err != nil {
			return err
		}
	}
	return nil
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func getkey(f archive.File) (string, bool) {
	info := f.ExtendedInfo()
	for _, k := range keys {
		if _, ok := number(info[k]); ok {
			return k, true
		}
	}
	return "", false
}

func locate(f archive.File, way string) ([2]uint64, bool) {
	info := f.ExtendedInfo()
	off, ok := number(info[way])
	if !ok {
		return [2]uint64{^uint64(0), ^uint64(0)}, false // unknown goes last
	}
	vol, _ := number(info["volume"])
	return [2]uint64{vol, off}, true
}

func number(v any) (uint64, bool) {
	switch t := v.(type) {
	case int:
		return uint64(t), true
	case int32:
		return uint64(t), true
	case int64:
		return uint64(t), true
	case uint16:
		return uint64(t), true
	case uint32:
		return uint64(t), true
	case uint64:
		return t, true
	}
	return 0, false
}
