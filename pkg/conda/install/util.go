// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package install

import (
	"archive/tar"
	"io"
	"io/fs"
	"path"

	"github.com/nsls2forge/condabuild/pkg/fsutil"
	"github.com/nsls2forge/condabuild/pkg/python"
)

type ref struct {
	fs.FileInfo
	fullName string
	linkname string
	open     func() (io.ReadCloser, error)
}

func (r *ref) FullName() string             { return r.fullName }
func (r *ref) Name() string                 { return path.Base(r.fullName) }
func (r *ref) Linkname() string             { return r.linkname }
func (r *ref) Open() (io.ReadCloser, error) { return r.open() }

var (
	_ fsutil.FileReference = (*ref)(nil)
	_ fsutil.Symlinker     = (*ref)(nil)
)

func linknameOf(file fsutil.FileReference) string {
	if symlinker, ok := file.(fsutil.Symlinker); ok {
		return symlinker.Linkname()
	}
	return ""
}

// remake rebuilds file's header, letting mutate adjust it, without touching
// the content.
func remake(file fsutil.FileReference, fullName string, mutate func(*tar.Header)) (fsutil.FileReference, error) {
	header, err := tar.FileInfoHeader(file, linknameOf(file))
	if err != nil {
		return nil, err
	}
	header.Name = fullName
	if mutate != nil {
		mutate(header)
	}
	return &ref{
		FileInfo: header.FileInfo(),
		fullName: fullName,
		linkname: header.Linkname,
		open:     file.Open,
	}, nil
}

func renamed(file fsutil.FileReference, dstName string) fsutil.FileReference {
	moved, err := remake(file, dstName, nil)
	if err != nil {
		// FileInfoHeader only fails on irregular files, which conda packages
		// do not contain; fall back to the original name rather than lose the
		// file.
		return file
	}
	return moved
}

func chown(file fsutil.FileReference, plat python.Platform) (fsutil.FileReference, error) {
	return remake(file, file.FullName(), func(header *tar.Header) {
		header.Uid = plat.UID
		header.Gid = plat.GID
		header.Uname = plat.UName
		header.Gname = plat.GName
	})
}

func resized(file fsutil.FileReference, size int64) fs.FileInfo {
	header, err := tar.FileInfoHeader(file, "")
	if err != nil {
		return file
	}
	header.Size = size
	return header.FileInfo()
}

func readAll(file fsutil.FileReference) ([]byte, error) {
	reader, err := file.Open()
	if err != nil {
		return nil, err
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	return content, reader.Close()
}
