// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package dir deals with getting directory trees in to layers and
// package payloads: an on-disk build prefix becomes a list of file
// references, optionally re-rooted under a prefix directory and
// chown'ed for the target image.
package dir

import (
	"archive/tar"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	ociv1tarball "github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/nsls2forge/condabuild/pkg/fsutil"
)

type Prefix struct {
	DirName string

	Mode int

	Ownership
}

type Ownership struct {
	UID   int
	UName string

	GID   int
	GName string
}

// FilesFromDir walks dirname and returns its contents as FileReferences with io/fs-style names
// relative to dirname.  Directories are included; files with the same inode become hardlinks of
// the first one seen; symlink targets are preserved.
func FilesFromDir(dirname string) ([]fsutil.FileReference, error) {
	return filesFromDir(dirname, "", nil)
}

func filesFromDir(dirname, prefixDir string, chown *Ownership) ([]fsutil.FileReference, error) {
	type logEntry struct {
		Name string
		Info fs.FileInfo
	}

	var log []logEntry
	var ret []fsutil.FileReference

	err := filepath.Walk(dirname, func(filename string, info fs.FileInfo, e error) error {
		if e != nil {
			return e
		}
		name, err := filepath.Rel(dirname, filename)
		if err != nil {
			return err
		}
		name = filepath.ToSlash(name)
		if name == "." {
			return nil
		}
		if prefixDir != "" {
			name = path.Join(prefixDir, name)
		}
		defer func() {
			log = append(log, logEntry{
				Name: name,
				Info: info,
			})
		}()

		var linkname string
		if info.Mode()&fs.ModeSymlink != 0 {
			linkname, err = os.Readlink(filename)
			if err != nil {
				return err
			}
		}
		header, err := tar.FileInfoHeader(info, linkname)
		if err != nil {
			return err
		}
		header.Name = name
		for _, entry := range log {
			if os.SameFile(entry.Info, info) {
				header.Typeflag = tar.TypeLink
				header.Linkname = entry.Name
				header.Size = 0
				break
			}
		}
		if chown != nil {
			if chown.UID >= 0 {
				header.Uid = chown.UID
			}
			if chown.UName != "" {
				header.Uname = chown.UName
			}
			if chown.GID >= 0 {
				header.Gid = chown.GID
			}
			if chown.GName != "" {
				header.Gname = chown.GName
			}
		}

		var content []byte
		if header.Typeflag == tar.TypeReg {
			content, err = os.ReadFile(filename)
			if err != nil {
				return err
			}
		}
		ret = append(ret, &fsutil.InMemFileReference{
			// The embedded FileInfo's Sys() is the header itself, so link targets and
			// ownership survive the round-trip through tar.FileInfoHeader.
			FileInfo:  header.FileInfo(),
			MFullName: name,
			MContent:  content,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func LayerFromDir(
	dirname string,
	prefix *Prefix,
	chown *Ownership,
	clampTime time.Time,
	opts ...ociv1tarball.LayerOption,
) (ociv1.Layer, error) {
	var vfs []fsutil.FileReference

	prefixDir := ""
	if prefix != nil {
		prefixDir = prefix.DirName
		if prefix.Mode == 0 {
			prefix.Mode = 0o755
		}
		for dir := prefix.DirName; dir != "."; dir = path.Dir(dir) {
			header := &tar.Header{
				Name:     dir,
				Typeflag: tar.TypeDir,
				ModTime:  clampTime,

				Mode:  int64(prefix.Mode),
				Uid:   prefix.UID,
				Uname: prefix.UName,
				Gid:   prefix.GID,
				Gname: prefix.GName,
			}
			vfs = append(vfs, &fsutil.InMemFileReference{
				FileInfo:  header.FileInfo(),
				MFullName: dir,
			})
		}
	}

	files, err := filesFromDir(dirname, prefixDir, chown)
	if err != nil {
		return nil, err
	}
	vfs = append(vfs, files...)

	return fsutil.LayerFromFileReferences(vfs, clampTime, opts...)
}
