// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package envlayer merges several conda package layers in to one environment
// layer.  Unlike general image-layer squashing there are no whiteouts to
// honor; packages are not supposed to delete each other's files, and two
// packages shipping the same file is an error (conda's "ClobberError") rather
// than a shadowing.
package envlayer

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	ociv1tarball "github.com/google/go-containerregistry/pkg/v1/tarball"
)

type Options struct {
	// Clobber makes a same-path regular-file collision a last-layer-wins
	// overwrite instead of an error.
	Clobber bool
}

// A ClobberError reports two layers shipping the same regular file.
type ClobberError struct {
	Path        string
	FirstLayer  int
	SecondLayer int
}

func (e *ClobberError) Error() string {
	return fmt.Sprintf("path %q exists in both layer %d and layer %d",
		e.Path, e.FirstLayer, e.SecondLayer)
}

type fileEntry struct {
	Header *tar.Header
	Body   []byte
	// Layer is the index of the layer the entry came from, for error
	// reporting.
	Layer int
}

// Merge unions the layers in to a single layer.  Directory entries dedupe
// (first wins); same-path non-directory collisions error unless opts.Clobber.
func Merge(layers []ociv1.Layer, opts Options, layerOpts ...ociv1tarball.LayerOption) (ociv1.Layer, error) {
	entries := make(map[string]fileEntry)
	for layerIdx, layer := range layers {
		if err := mergeLayer(entries, layerIdx, layer, opts); err != nil {
			return nil, fmt.Errorf("envlayer.Merge: %w", err)
		}
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var byteWriter bytes.Buffer
	tarWriter := tar.NewWriter(&byteWriter)
	for _, name := range names {
		entry := entries[name]
		if err := tarWriter.WriteHeader(entry.Header); err != nil {
			return nil, fmt.Errorf("envlayer.Merge: %w", err)
		}
		if _, err := tarWriter.Write(entry.Body); err != nil {
			return nil, fmt.Errorf("envlayer.Merge: %w", err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return nil, fmt.Errorf("envlayer.Merge: %w", err)
	}

	byteSlice := byteWriter.Bytes()
	return ociv1tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(byteSlice)), nil
	}, layerOpts...)
}

func mergeLayer(entries map[string]fileEntry, layerIdx int, layer ociv1.Layer, opts Options) (err error) {
	layerReader, err := layer.Uncompressed()
	if err != nil {
		return fmt.Errorf("layer %d: %w", layerIdx, err)
	}
	defer func() {
		if closeErr := layerReader.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	tarReader := tar.NewReader(layerReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("layer %d: %w", layerIdx, err)
		}

		cleanName := path.Clean(strings.TrimPrefix(header.Name, "/"))
		if strings.HasPrefix(cleanName, "../") || cleanName == ".." {
			return fmt.Errorf("layer %d: file outside of root: %q", layerIdx, header.Name)
		}
		if cleanName == "." {
			continue
		}
		if strings.HasPrefix(path.Base(cleanName), ".wh.") {
			return fmt.Errorf("layer %d: unexpected whiteout entry %q", layerIdx, header.Name)
		}
		header.Name = cleanName
		if header.Typeflag == tar.TypeDir {
			header.Name += "/"
		}

		body, err := io.ReadAll(tarReader)
		if err != nil {
			return fmt.Errorf("layer %d: %w", layerIdx, err)
		}

		prev, collides := entries[cleanName]
		if collides {
			if header.Typeflag == tar.TypeDir && prev.Header.Typeflag == tar.TypeDir {
				continue // first wins, they're interchangeable
			}
			if !opts.Clobber {
				return &ClobberError{
					Path:        cleanName,
					FirstLayer:  prev.Layer,
					SecondLayer: layerIdx,
				}
			}
		}
		entries[cleanName] = fileEntry{
			Header: header,
			Body:   body,
			Layer:  layerIdx,
		}
	}
	return nil
}
