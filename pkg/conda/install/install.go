// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package install turns a conda package file in to an OCI layer rooted at an
// environment prefix, performing the link-time steps conda itself would:
// prefix-placeholder rewriting, noarch spreading, and entry-point script
// generation.
package install

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"text/template"
	"time"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	ociv1tarball "github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/nsls2forge/condabuild/pkg/conda/cpkg"
	"github.com/nsls2forge/condabuild/pkg/fsutil"
	"github.com/nsls2forge/condabuild/pkg/python"
	"github.com/nsls2forge/condabuild/pkg/reproducible"
)

// A PostInstallHook runs after files are placed but before the layer is
// serialized; it may add, remove, or replace entries in vfs.
type PostInstallHook func(ctx context.Context, vfs map[string]fsutil.FileReference) error

type Options struct {
	Hooks []PostInstallHook

	LayerOpts []ociv1tarball.LayerOption
}

// A PlaceholderTooShortError means a binary file's baked-in placeholder cannot
// hold the install prefix.
type PlaceholderTooShortError struct {
	Path        string
	Placeholder string
	Prefix      string
}

func (e *PlaceholderTooShortError) Error() string {
	return fmt.Sprintf("binary file %q: placeholder %q (%d bytes) is too short for prefix %q (%d bytes)",
		e.Path, e.Placeholder, len(e.Placeholder), e.Prefix, len(e.Prefix))
}

// InstallPackage places pkg's payload under prefix and returns it as a layer.
// Timestamps clamp to reproducible.Now(), and files are chowned to the
// platform's configured ownership.
func InstallPackage(
	ctx context.Context,
	plat python.Platform,
	prefix string,
	pkg *cpkg.Package,
	opts Options,
) (_ ociv1.Layer, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("install.InstallPackage: %q: %w", pkg.Filename, err)
		}
	}()

	info, err := pkg.Info()
	if err != nil {
		return nil, err
	}
	files, err := pkg.Files()
	if err != nil {
		return nil, err
	}

	prefix = strings.TrimRight(prefix, "/")
	if !strings.HasPrefix(prefix, "/") {
		return nil, fmt.Errorf("prefix %q is not absolute", prefix)
	}

	hasPrefix := make(map[string]cpkg.HasPrefixEntry, len(info.HasPrefix))
	for _, entry := range info.HasPrefix {
		hasPrefix[entry.Path] = entry
	}

	vfs := make(map[string]fsutil.FileReference, len(files))
	for _, file := range files {
		srcName := file.FullName()
		dstName, err := placedName(plat, info, prefix, srcName)
		if err != nil {
			return nil, err
		}
		if dstName == "" {
			continue
		}

		placed := file
		if entry, ok := hasPrefix[srcName]; ok {
			placed, err = rewritePlaceholder(file, dstName, entry, prefix)
			if err != nil {
				return nil, err
			}
		} else if isNoArchPython(info) && strings.HasPrefix(srcName, "python-scripts/") {
			placed = rewriteShebang(file, dstName, plat)
		}
		if placed == file {
			placed = renamed(file, dstName)
		}
		vfs[dstName] = placed
	}

	if isNoArchPython(info) && info.Link != nil {
		if err := createEntryPoints(plat, info.Link.NoArch.EntryPoints, vfs); err != nil {
			return nil, err
		}
	}

	for _, hook := range opts.Hooks {
		if err := hook(ctx, vfs); err != nil {
			return nil, fmt.Errorf("post-install hook: %w", err)
		}
	}

	clampTime := reproducible.Now()
	addParentDirs(vfs, clampTime)

	refs := make([]fsutil.FileReference, 0, len(vfs))
	for _, file := range vfs {
		ref, err := chown(file, plat)
		if err != nil {
			return nil, fmt.Errorf("chown: %w", err)
		}
		refs = append(refs, ref)
	}

	return fsutil.LayerFromFileReferences(refs, clampTime, opts.LayerOpts...)
}

func isNoArchPython(info *cpkg.Info) bool {
	if info.Index.NoArch == "python" {
		return true
	}
	return info.Link != nil && info.Link.NoArch.Type == "python"
}

// placedName maps a payload path to its location in the layer (an io/fs-style
// path, no leading slash).  Arch-specific payloads land under the prefix
// verbatim; noarch:python payloads spread site-packages/ and python-scripts/
// in to the platform's real directories.
func placedName(plat python.Platform, info *cpkg.Info, prefix, srcName string) (string, error) {
	if isNoArchPython(info) {
		switch {
		case strings.HasPrefix(srcName, "site-packages/"):
			return path.Join(plat.Scheme.PureLib[1:], strings.TrimPrefix(srcName, "site-packages/")), nil
		case strings.HasPrefix(srcName, "python-scripts/"):
			return path.Join(plat.Scheme.Scripts[1:], strings.TrimPrefix(srcName, "python-scripts/")), nil
		case srcName == "site-packages" || srcName == "python-scripts":
			return "", nil
		}
	}
	return path.Join(prefix[1:], srcName), nil
}

func rewritePlaceholder(
	file fsutil.FileReference,
	dstName string,
	entry cpkg.HasPrefixEntry,
	prefix string,
) (fsutil.FileReference, error) {
	content, err := readAll(file)
	if err != nil {
		return nil, err
	}
	switch entry.Mode {
	case cpkg.PrefixText:
		content = bytes.ReplaceAll(content, []byte(entry.Placeholder), []byte(prefix))
	case cpkg.PrefixBinary:
		content, err = binaryReplace(content, []byte(entry.Placeholder), []byte(prefix))
		if err != nil {
			return nil, &PlaceholderTooShortError{
				Path:        entry.Path,
				Placeholder: entry.Placeholder,
				Prefix:      prefix,
			}
		}
	default:
		return nil, fmt.Errorf("%q: unknown has_prefix mode %q", entry.Path, entry.Mode)
	}
	return &fsutil.InMemFileReference{
		FileInfo:  resized(file, int64(len(content))),
		MFullName: dstName,
		MContent:  content,
	}, nil
}

var errPrefixTooLong = fmt.Errorf("prefix longer than placeholder")

// binaryReplace swaps placeholder for newPrefix inside NUL-terminated strings,
// padding with NULs so offsets within the binary stay put.
func binaryReplace(data, placeholder, newPrefix []byte) ([]byte, error) {
	if len(newPrefix) > len(placeholder) {
		return nil, errPrefixTooLong
	}
	pad := bytes.Repeat([]byte{0}, len(placeholder)-len(newPrefix))

	var out bytes.Buffer
	for {
		idx := bytes.Index(data, placeholder)
		if idx < 0 {
			out.Write(data)
			return out.Bytes(), nil
		}
		out.Write(data[:idx])
		rest := data[idx+len(placeholder):]
		// The padding goes at the end of the C string the placeholder starts,
		// not right after the prefix, so the string content stays intact.
		strEnd := bytes.IndexByte(rest, 0)
		if strEnd < 0 {
			strEnd = len(rest)
		}
		out.Write(newPrefix)
		out.Write(rest[:strEnd])
		out.Write(pad)
		data = rest[strEnd:]
	}
}

var reShebangPython = regexp.MustCompile(`^#!python[0-9.]*`)

// rewriteShebang points a `#!python` placeholder shebang at the platform
// interpreter; files without the placeholder pass through untouched.
func rewriteShebang(file fsutil.FileReference, dstName string, plat python.Platform) fsutil.FileReference {
	content, err := readAll(file)
	if err != nil {
		return file
	}
	if !reShebangPython.Match(content) {
		return file
	}
	content = reShebangPython.ReplaceAll(content, []byte("#!"+plat.ConsoleShebang))
	return &fsutil.InMemFileReference{
		FileInfo:  resized(file, int64(len(content))),
		MFullName: dstName,
		MContent:  content,
	}
}

var entryPointTmpl = template.Must(template.
	New("entry_point.py").
	Parse(`#!{{ .Shebang }}
# -*- coding: utf-8 -*-
import sys
from {{ .Module }} import {{ .ImportName }}
if __name__ == '__main__':
    sys.exit({{ .Func }}())
`))

var reEntryPoint = regexp.MustCompile(`^\s*(\S+)\s*=\s*([\w.]+):([\w.]+)\s*$`)

// createEntryPoints generates scripts for link.json `entry_points` specs of
// the form `name = module:func`.
func createEntryPoints(plat python.Platform, specs []string, vfs map[string]fsutil.FileReference) error {
	for _, spec := range specs {
		match := reEntryPoint.FindStringSubmatch(spec)
		if match == nil {
			return fmt.Errorf("entry point %q: expected \"name = module:func\"", spec)
		}
		name, module, funcName := match[1], match[2], match[3]

		var buf bytes.Buffer
		if err := entryPointTmpl.Execute(&buf, map[string]string{
			"Shebang":    plat.ConsoleShebang,
			"Module":     module,
			"ImportName": strings.SplitN(funcName, ".", 2)[0],
			"Func":       funcName,
		}); err != nil {
			return fmt.Errorf("entry point %q: %w", spec, err)
		}
		fullName := path.Join(plat.Scheme.Scripts[1:], name)
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     fullName,
			Mode:     0o755,
			Size:     int64(buf.Len()),
			ModTime:  reproducible.Now(),
		}
		vfs[fullName] = &fsutil.InMemFileReference{
			FileInfo:  header.FileInfo(),
			MFullName: fullName,
			MContent:  buf.Bytes(),
		}
	}
	return nil
}

// addParentDirs synthesizes directory entries so every file's ancestors exist.
func addParentDirs(vfs map[string]fsutil.FileReference, clampTime time.Time) {
	for filename := range vfs {
		for dir := path.Dir(filename); dir != "."; dir = path.Dir(dir) {
			if _, exists := vfs[dir]; !exists {
				vfs[dir] = &fsutil.InMemFileReference{
					FileInfo: (&tar.Header{
						Typeflag: tar.TypeDir,
						Name:     dir,
						Mode:     0o755,
						ModTime:  clampTime,
					}).FileInfo(),
					MFullName: dir,
					MContent:  nil,
				}
			}
		}
	}
}
