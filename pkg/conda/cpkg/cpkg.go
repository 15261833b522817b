// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package cpkg reads and writes conda package files.
//
// There are two formats in the wild.  Format 1 (".tar.bz2") is a bzip2'd
// tarball holding the payload and an `info/` metadata directory side by side.
// Format 2 (".conda") is a zip file holding a `metadata.json` plus the same
// two trees as separate zstd'd tarballs, so the metadata can be pulled without
// decompressing the payload.  We read both and write format 2; Go's bzip2 has
// no compressor.
package cpkg

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/nsls2forge/condabuild/pkg/fsutil"
)

// A FilenameInfo is the `<name>-<version>-<build>` triple that package
// filenames encode.
type FilenameInfo struct {
	Name    string
	Version string
	Build   string
	// Ext is ".tar.bz2" or ".conda".
	Ext string
}

func (info FilenameInfo) Stem() string {
	return info.Name + "-" + info.Version + "-" + info.Build
}

func (info FilenameInfo) String() string {
	return info.Stem() + info.Ext
}

// ParseFilename splits a package filename in to its name/version/build triple.
// The split is from the right, since names may themselves contain dashes
// ("scikit-image-0.12.3-np111py35_1.tar.bz2").
func ParseFilename(fname string) (*FilenameInfo, error) {
	var ext string
	switch {
	case strings.HasSuffix(fname, ".tar.bz2"):
		ext = ".tar.bz2"
	case strings.HasSuffix(fname, ".conda"):
		ext = ".conda"
	default:
		return nil, fmt.Errorf("cpkg.ParseFilename: %q: not a .tar.bz2 or .conda filename", fname)
	}
	stem := strings.TrimSuffix(fname, ext)

	buildSep := strings.LastIndex(stem, "-")
	if buildSep < 1 {
		return nil, fmt.Errorf("cpkg.ParseFilename: %q: no build string", fname)
	}
	versionSep := strings.LastIndex(stem[:buildSep], "-")
	if versionSep < 1 {
		return nil, fmt.Errorf("cpkg.ParseFilename: %q: no version", fname)
	}
	return &FilenameInfo{
		Name:    stem[:versionSep],
		Version: stem[versionSep+1 : buildSep],
		Build:   stem[buildSep+1:],
		Ext:     ext,
	}, nil
}

// A Package is an opened package file, held in memory as its uncompressed
// metadata and payload tarballs.  For format 1 the two are the same tarball.
type Package struct {
	Filename string

	infoTar    []byte
	payloadTar []byte
	combined   bool
}

// Open opens a package file from disk.
func Open(filename string) (*Package, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("cpkg.Open: %w", err)
	}
	return Parse(path.Base(strings.ReplaceAll(filename, "\\", "/")), content)
}

// Parse opens a package from bytes already in hand, sniffing the format from
// the file magic rather than trusting the filename extension.
func Parse(fname string, content []byte) (*Package, error) {
	switch {
	case bytes.HasPrefix(content, []byte("BZh")):
		return parseV1(fname, content)
	case bytes.HasPrefix(content, []byte("PK")):
		return parseV2(fname, content)
	default:
		return nil, fmt.Errorf("cpkg.Parse: %q: neither a bzip2 nor a zip file", fname)
	}
}

func parseV1(fname string, content []byte) (*Package, error) {
	tarBytes, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(content)))
	if err != nil {
		return nil, fmt.Errorf("cpkg.Parse: %q: bzip2: %w", fname, err)
	}
	return &Package{
		Filename:   fname,
		infoTar:    tarBytes,
		payloadTar: tarBytes,
		combined:   true,
	}, nil
}

func parseV2(fname string, content []byte) (*Package, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("cpkg.Parse: %q: %w", fname, err)
	}
	ret := &Package{Filename: fname}
	for _, member := range zipReader.File {
		var dst *[]byte
		switch {
		case strings.HasPrefix(member.Name, "info-") && strings.HasSuffix(member.Name, ".tar.zst"):
			dst = &ret.infoTar
		case strings.HasPrefix(member.Name, "pkg-") && strings.HasSuffix(member.Name, ".tar.zst"):
			dst = &ret.payloadTar
		default:
			// metadata.json, and whatever else future formats add.
			continue
		}
		memberReader, err := member.Open()
		if err != nil {
			return nil, fmt.Errorf("cpkg.Parse: %q: %q: %w", fname, member.Name, err)
		}
		zstReader, err := zstd.NewReader(memberReader)
		if err != nil {
			_ = memberReader.Close()
			return nil, fmt.Errorf("cpkg.Parse: %q: %q: %w", fname, member.Name, err)
		}
		*dst, err = io.ReadAll(zstReader)
		zstReader.Close()
		_ = memberReader.Close()
		if err != nil {
			return nil, fmt.Errorf("cpkg.Parse: %q: %q: %w", fname, member.Name, err)
		}
	}
	if ret.infoTar == nil || ret.payloadTar == nil {
		return nil, fmt.Errorf("cpkg.Parse: %q: missing info- or pkg- member", fname)
	}
	return ret, nil
}

// FS returns the package's full contents, `info/` included, as a filesystem.
func (pkg *Package) FS() (fs.FS, error) {
	if pkg.combined {
		return fsutil.FSFromTars(bytes.NewReader(pkg.infoTar))
	}
	return fsutil.FSFromTars(bytes.NewReader(pkg.infoTar), bytes.NewReader(pkg.payloadTar))
}

// Files returns the payload file entries (everything outside of `info/`),
// symlinks included.
func (pkg *Package) Files() ([]fsutil.FileReference, error) {
	var ret []fsutil.FileReference
	tarReader := tar.NewReader(bytes.NewReader(pkg.payloadTar))
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("cpkg: %q: %w", pkg.Filename, err)
		}
		name := path.Clean(strings.TrimPrefix(header.Name, "/"))
		if name == "." || !fs.ValidPath(name) {
			continue
		}
		if pkg.combined && (name == "info" || strings.HasPrefix(name, "info/")) {
			continue
		}
		ref := &fileRef{
			FileInfo: header.FileInfo(),
			fullName: name,
			linkname: header.Linkname,
		}
		if header.Typeflag == tar.TypeReg {
			ref.content, err = io.ReadAll(tarReader)
			if err != nil {
				return nil, fmt.Errorf("cpkg: %q: %q: %w", pkg.Filename, name, err)
			}
		}
		ret = append(ret, ref)
	}
	return ret, nil
}

type fileRef struct {
	fs.FileInfo
	fullName string
	content  []byte
	linkname string
}

func (fr *fileRef) FullName() string { return fr.fullName }
func (fr *fileRef) Name() string     { return path.Base(fr.fullName) }
func (fr *fileRef) Linkname() string { return fr.linkname }
func (fr *fileRef) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(fr.content)), nil
}

var (
	_ fsutil.FileReference = (*fileRef)(nil)
	_ fsutil.Symlinker     = (*fileRef)(nil)
)
