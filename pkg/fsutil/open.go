// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package fsutil

import (
	"bytes"
	"io"
	"io/fs"
	"os"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	ociv1tarball "github.com/google/go-containerregistry/pkg/v1/tarball"
)

// PathOpener adapts a filename to the re-openable reader contract that
// go-containerregistry's tarball loaders want.  Regular files re-open on each
// access; anything else (a pipe, `<(...)` substitution) is slurped in to
// memory once, since it cannot be rewound.
func PathOpener(filename string) ociv1tarball.Opener {
	fi, err := os.Stat(filename)
	switch {
	case err != nil:
		return func() (io.ReadCloser, error) {
			return nil, err
		}
	case fi.Mode().IsRegular():
		return func() (io.ReadCloser, error) {
			return os.Open(filename)
		}
	default:
		content, err := os.ReadFile(filename)
		return func() (io.ReadCloser, error) {
			if err != nil {
				return nil, err
			}
			return io.NopCloser(bytes.NewReader(content)), nil
		}
	}
}

// OpenImage reads an imagefile (a `docker save`-style tarball).
func OpenImage(filename string) (ociv1.Image, error) {
	img, err := ociv1tarball.Image(PathOpener(filename), nil)
	if err != nil {
		return nil, &fs.PathError{
			Op:   "open imagefile",
			Path: filename,
			Err:  err,
		}
	}
	return img, nil
}

// OpenLayer reads a layerfile (a bare layer tarball, possibly compressed).
func OpenLayer(filename string) (ociv1.Layer, error) {
	layer, err := ociv1tarball.LayerFromOpener(PathOpener(filename))
	if err != nil {
		return nil, &fs.PathError{
			Op:   "open layerfile",
			Path: filename,
			Err:  err,
		}
	}
	return layer, nil
}
