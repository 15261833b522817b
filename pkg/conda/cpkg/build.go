// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package cpkg

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/nsls2forge/condabuild/pkg/fsutil"
)

// Build writes a format-2 ".conda" file.  The output is deterministic: member
// order is fixed, file lists are sorted, and every timestamp is clamped to
// clampTime.
//
// info.Files is computed from the payload if left empty.
func Build(w io.Writer, info *Info, payload []fsutil.FileReference, clampTime time.Time) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cpkg.Build: %w", err)
		}
	}()

	if info.Index.Name == "" || info.Index.Version == "" {
		return fmt.Errorf("index.json needs at least a name and a version")
	}
	stem := FilenameInfo{
		Name:    info.Index.Name,
		Version: info.Index.Version,
		Build:   info.Index.Build,
	}.Stem()

	if len(info.Files) == 0 {
		for _, file := range payload {
			if file.IsDir() {
				continue
			}
			info.Files = append(info.Files, file.FullName())
		}
		sort.Strings(info.Files)
	}

	infoVFS, err := infoFiles(info, clampTime)
	if err != nil {
		return err
	}

	zipWriter := zip.NewWriter(w)
	if err := writeZipMember(zipWriter, "metadata.json", clampTime, func(dst io.Writer) error {
		_, err := dst.Write([]byte("{\"conda_pkg_format_version\": 2}\n"))
		return err
	}); err != nil {
		return err
	}
	if err := writeZipMember(zipWriter, "info-"+stem+".tar.zst", clampTime, func(dst io.Writer) error {
		return writeTarZst(dst, infoVFS, clampTime)
	}); err != nil {
		return err
	}
	if err := writeZipMember(zipWriter, "pkg-"+stem+".tar.zst", clampTime, func(dst io.Writer) error {
		return writeTarZst(dst, payload, clampTime)
	}); err != nil {
		return err
	}
	return zipWriter.Close()
}

// infoFiles renders the `info/` tree from the parsed metadata.
func infoFiles(info *Info, clampTime time.Time) ([]fsutil.FileReference, error) {
	var ret []fsutil.FileReference
	add := func(fullName string, content []byte) {
		ret = append(ret, &fileRef{
			FileInfo: (&tar.Header{
				Typeflag: tar.TypeReg,
				Name:     fullName,
				Mode:     0o644,
				Size:     int64(len(content)),
				ModTime:  clampTime,
			}).FileInfo(),
			fullName: fullName,
			content:  content,
		})
	}

	indexJSON, err := json.MarshalIndent(info.Index, "", "  ")
	if err != nil {
		return nil, err
	}
	add("info/index.json", append(indexJSON, '\n'))

	aboutJSON, err := json.MarshalIndent(info.About, "", "  ")
	if err != nil {
		return nil, err
	}
	add("info/about.json", append(aboutJSON, '\n'))

	add("info/files", []byte(strings.Join(info.Files, "\n")+"\n"))

	if len(info.HasPrefix) > 0 {
		var buf bytes.Buffer
		for _, entry := range info.HasPrefix {
			placeholder := entry.Placeholder
			if strings.ContainsAny(placeholder, " \t") {
				placeholder = strconv.Quote(placeholder)
			}
			fmt.Fprintf(&buf, "%s %s %s\n", placeholder, entry.Mode, entry.Path)
		}
		add("info/has_prefix", buf.Bytes())
	}

	if info.Link != nil {
		linkJSON, err := json.MarshalIndent(info.Link, "", "  ")
		if err != nil {
			return nil, err
		}
		add("info/link.json", append(linkJSON, '\n'))
	}

	return ret, nil
}

// writeZipMember adds one member, stored rather than deflated since the
// members are already zstd streams, with its timestamp clamped.
func writeZipMember(zipWriter *zip.Writer, name string, clampTime time.Time, fn func(io.Writer) error) error {
	dst, err := zipWriter.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: clampTime,
	})
	if err != nil {
		return err
	}
	return fn(dst)
}

func writeTarZst(dst io.Writer, vfs []fsutil.FileReference, clampTime time.Time) error {
	// Single-threaded encoding keeps the frame layout reproducible.
	zstWriter, err := zstd.NewWriter(dst, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return err
	}
	if err := fsutil.TarFromFileReferences(zstWriter, vfs, clampTime); err != nil {
		_ = zstWriter.Close()
		return err
	}
	return zstWriter.Close()
}
