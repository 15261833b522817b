// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package fsutil deals in layers-as-files: turning lists of files in to
// OCI layers and back, and opening layerfiles/imagefiles from disk.
package fsutil

import (
	"archive/tar"
	"bytes"
	"io"
	"io/fs"
	"sort"
	"strings"
	"time"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	ociv1tarball "github.com/google/go-containerregistry/pkg/v1/tarball"
)

type FileReference interface {
	fs.FileInfo

	// FullName should follow io/fs rules: it should use forward-slashes, and it should be an
	// absolute path but without the leading "/".
	FullName() string

	Open() (io.ReadCloser, error)
}

// A Symlinker is a FileReference that knows its symlink target.  Plain
// FileReferences with a symlink mode bit get written with an empty target.
type Symlinker interface {
	Linkname() string
}

// TarFromFileReferences writes vfs to w as a tar stream, sorted by path and
// with timestamps clamped to clampTime.
func TarFromFileReferences(w io.Writer, vfs []FileReference, clampTime time.Time) error {
	sortFileReferences(vfs)

	tarWriter := tar.NewWriter(w)
	for _, file := range vfs {
		var linkname string
		if symlinker, ok := file.(Symlinker); ok {
			linkname = symlinker.Linkname()
		}
		header, err := tar.FileInfoHeader(file, linkname)
		if err != nil {
			return err
		}
		header.Name = file.FullName()
		if header.ModTime.After(clampTime) {
			header.ModTime = clampTime
		}
		if header.AccessTime.After(clampTime) {
			header.AccessTime = clampTime
		}
		if header.ChangeTime.After(clampTime) {
			header.ChangeTime = clampTime
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if header.Typeflag == tar.TypeReg {
			reader, err := file.Open()
			if err != nil {
				return err
			}
			if _, err := io.Copy(tarWriter, reader); err != nil {
				_ = reader.Close()
				return err
			}
			if err := reader.Close(); err != nil {
				return err
			}
		}
	}
	return tarWriter.Close()
}

func sortFileReferences(vfs []FileReference) {
	sort.Slice(vfs, func(i, j int) bool {
		// Do a part-wise comparison, rather than a simple string compare on .Fullname(),
		// because "-" < "/" < EOF.
		iParts := strings.Split(vfs[i].FullName(), "/")
		jParts := strings.Split(vfs[j].FullName(), "/")
		for idx := 0; idx < len(iParts) || idx < len(jParts); idx++ {
			var iPart, jPart string
			if idx < len(iParts) {
				iPart = iParts[idx]
			}
			if idx < len(jParts) {
				jPart = jParts[idx]
			}
			if iPart != jPart {
				return iPart < jPart
			}
		}
		return false
	})
}

func LayerFromFileReferences(
	vfs []FileReference,
	clampTime time.Time,
	opts ...ociv1tarball.LayerOption,
) (ociv1.Layer, error) {
	var byteWriter bytes.Buffer
	if err := TarFromFileReferences(&byteWriter, vfs, clampTime); err != nil {
		return nil, err
	}

	byteSlice := byteWriter.Bytes()
	return ociv1tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(byteSlice)), nil
	}, opts...)
}
