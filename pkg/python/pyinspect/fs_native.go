// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package pyinspect

import (
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/datawire/dlib/dexec"
)

// NativeFS inspects the host's own filesystem and PATH.
type NativeFS struct{}

var _ FS = NativeFS{}

func (NativeFS) Split(path string) (dir, file string) { return filepath.Split(path) }
func (NativeFS) Join(elem ...string) string           { return filepath.Join(elem...) }

func (NativeFS) Stat(name string) (FileInfo, error) {
	if !filepath.IsAbs(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	fileinfo, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	raw := fileinfo.Sys().(*syscall.Stat_t) //nolint:forcetypeassert // if not, this is a bug and it should crash
	usr, err := user.LookupId(strconv.FormatUint(uint64(raw.Uid), 10))
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	grp, err := user.LookupGroupId(strconv.FormatUint(uint64(raw.Gid), 10))
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return &fileInfo{
		FileInfo: fileinfo,
		uid:      int(raw.Uid),
		gid:      int(raw.Gid),
		uname:    usr.Username,
		gname:    grp.Name,
	}, nil
}

func (NativeFS) LookPath(file string) (string, error) {
	val, err := dexec.LookPath(file)
	if err != nil {
		// Unwrap dexec's error type so callers get a plain PathError, but keep
		// any deeper wrappers intact.
		//nolint:errorlint
		if eerr, ok := err.(*dexec.Error); ok {
			err = &fs.PathError{
				Op:   "lookpath",
				Path: file,
				Err:  eerr.Err,
			}
		}
	}
	return val, err
}
