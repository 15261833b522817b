// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package fsutil

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
)

// FSFromLayers exposes the merged contents of one or more layers as an io/fs filesystem, reading
// everything in to memory.  Later layers shadow earlier ones, the same as applying them in order.
//
// Hardlinks are resolved to their targets; whiteout entries are not interpreted (they show up as
// ordinary files, which is fine for the read-only inspection this is for).
func FSFromLayers(layers ...ociv1.Layer) (fs.FS, error) {
	ret := &layerFS{
		entries: make(map[string]*layerEntry),
	}
	for _, layer := range layers {
		if err := ret.addLayer(layer); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// FSFromTars is FSFromLayers for bare uncompressed tar streams.
func FSFromTars(tars ...io.Reader) (fs.FS, error) {
	ret := &layerFS{
		entries: make(map[string]*layerEntry),
	}
	for _, r := range tars {
		if err := ret.addTar(tar.NewReader(r)); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

type layerEntry struct {
	header  tar.Header
	content []byte
}

type layerFS struct {
	entries map[string]*layerEntry
}

func (lfs *layerFS) addLayer(layer ociv1.Layer) (err error) {
	maybeSetErr := func(_err error) {
		if _err != nil && err == nil {
			err = _err
		}
	}

	layerReader, err := layer.Uncompressed()
	if err != nil {
		return err
	}
	defer func() {
		maybeSetErr(layerReader.Close())
	}()

	return lfs.addTar(tar.NewReader(layerReader))
}

func (lfs *layerFS) addTar(tarReader *tar.Reader) error {
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		name := path.Clean(strings.TrimPrefix(header.Name, "/"))
		if name == "." || !fs.ValidPath(name) {
			continue
		}
		entry := &layerEntry{
			header: *header,
		}
		entry.header.Name = name
		switch header.Typeflag {
		case tar.TypeReg:
			content, err := io.ReadAll(tarReader)
			if err != nil {
				return err
			}
			entry.content = content
		case tar.TypeLink:
			target := path.Clean(strings.TrimPrefix(header.Linkname, "/"))
			if targetEntry, ok := lfs.entries[target]; ok {
				entry.content = targetEntry.content
				entry.header.Typeflag = tar.TypeReg
				entry.header.Size = targetEntry.header.Size
			}
		}
		lfs.entries[name] = entry
	}
	return nil
}

// lookup finds the entry for name, synthesizing a directory entry if name exists only implicitly
// as a parent of other entries.
func (lfs *layerFS) lookup(name string) (*layerEntry, bool) {
	if name == "." {
		return &layerEntry{header: tar.Header{
			Typeflag: tar.TypeDir,
			Name:     ".",
			Mode:     0o755,
		}}, true
	}
	if entry, ok := lfs.entries[name]; ok {
		return entry, true
	}
	prefix := name + "/"
	for entryName := range lfs.entries {
		if strings.HasPrefix(entryName, prefix) {
			return &layerEntry{header: tar.Header{
				Typeflag: tar.TypeDir,
				Name:     name,
				Mode:     0o755,
			}}, true
		}
	}
	return nil, false
}

func (lfs *layerFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	entry, ok := lfs.lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if entry.header.Typeflag == tar.TypeDir {
		children, err := lfs.ReadDir(name)
		if err != nil {
			return nil, err
		}
		return &layerDir{info: entry.header.FileInfo(), children: children}, nil
	}
	return &layerFile{
		info:   entry.header.FileInfo(),
		Reader: bytes.NewReader(entry.content),
	}, nil
}

func (lfs *layerFS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	entry, ok := lfs.lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return entry.header.FileInfo(), nil
}

func (lfs *layerFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	if _, ok := lfs.lookup(name); !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	seen := make(map[string]fs.DirEntry)
	for entryName, entry := range lfs.entries {
		dir := path.Dir(entryName)
		base := path.Base(entryName)
		switch {
		case dir == name:
			seen[base] = fs.FileInfoToDirEntry(entry.header.FileInfo())
		case strings.HasPrefix(dir, name+"/") || (name == "." && dir != "."):
			// An entry deeper down implies a child directory.
			rel := entryName
			if name != "." {
				rel = strings.TrimPrefix(entryName, name+"/")
			}
			child := rel[:strings.IndexByte(rel, '/')]
			if _, ok := seen[child]; !ok {
				childEntry, _ := lfs.lookup(path.Join(name, child))
				seen[child] = fs.FileInfoToDirEntry(childEntry.header.FileInfo())
			}
		}
	}
	ret := make([]fs.DirEntry, 0, len(seen))
	for _, dirent := range seen {
		ret = append(ret, dirent)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name() < ret[j].Name()
	})
	return ret, nil
}

type layerFile struct {
	info fs.FileInfo
	*bytes.Reader
}

func (f *layerFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *layerFile) Close() error               { return nil }

type layerDir struct {
	info     fs.FileInfo
	children []fs.DirEntry
	offset   int
}

func (d *layerDir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *layerDir) Close() error               { return nil }
func (d *layerDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.Name(), Err: errors.New("is a directory")}
}

func (d *layerDir) ReadDir(n int) ([]fs.DirEntry, error) {
	remaining := d.children[d.offset:]
	if n <= 0 {
		d.offset = len(d.children)
		return remaining, nil
	}
	if len(remaining) == 0 {
		return nil, io.EOF
	}
	if n > len(remaining) {
		n = len(remaining)
	}
	d.offset += n
	return remaining[:n], nil
}

var _ fs.StatFS = (*layerFS)(nil)
var _ fs.ReadDirFS = (*layerFS)(nil)
