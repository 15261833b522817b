// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package envlayer_test

import (
	"archive/tar"
	"io/fs"
	"testing"
	"time"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsls2forge/condabuild/pkg/conda/envlayer"
	"github.com/nsls2forge/condabuild/pkg/fsutil"
	"github.com/nsls2forge/condabuild/pkg/testutil"
)

func mkLayer(t *testing.T, files map[string]string) ociv1.Layer {
	t.Helper()
	clamp := time.Unix(1462060800, 0)
	var refs []fsutil.FileReference
	for fullName, content := range files {
		typeflag := byte(tar.TypeReg)
		mode := int64(0o644)
		if content == "DIR" {
			typeflag = tar.TypeDir
			mode = 0o755
		}
		refs = append(refs, &fsutil.InMemFileReference{
			FileInfo: (&tar.Header{
				Typeflag: typeflag,
				Name:     fullName,
				Mode:     mode,
				Size:     int64(len(content)),
				ModTime:  clamp,
			}).FileInfo(),
			MFullName: fullName,
			MContent:  []byte(content),
		})
	}
	layer, err := fsutil.LayerFromFileReferences(refs, clamp)
	require.NoError(t, err)
	return layer
}

func TestMergeUnion(t *testing.T) {
	t.Parallel()
	a := mkLayer(t, map[string]string{
		"lib":                     "DIR",
		"lib/python3.5":           "DIR",
		"lib/python3.5/numpy.py":  "numpy",
	})
	b := mkLayer(t, map[string]string{
		"lib":                     "DIR",
		"lib/python3.5":           "DIR",
		"lib/python3.5/skxray.py": "skxray",
	})

	merged, err := envlayer.Merge([]ociv1.Layer{a, b}, envlayer.Options{})
	require.NoError(t, err)

	vfs, err := fsutil.FSFromLayers(merged)
	require.NoError(t, err)
	for _, name := range []string{"lib/python3.5/numpy.py", "lib/python3.5/skxray.py"} {
		_, err := fs.Stat(vfs, name)
		assert.NoError(t, err, name)
	}
}

func TestMergeClobberError(t *testing.T) {
	t.Parallel()
	a := mkLayer(t, map[string]string{"bin/python": "interpreter"})
	b := mkLayer(t, map[string]string{"bin/python": "other interpreter"})

	_, err := envlayer.Merge([]ociv1.Layer{a, b}, envlayer.Options{})
	require.Error(t, err)
	var clobber *envlayer.ClobberError
	require.ErrorAs(t, err, &clobber)
	assert.Equal(t, "bin/python", clobber.Path)
	assert.Equal(t, 0, clobber.FirstLayer)
	assert.Equal(t, 1, clobber.SecondLayer)
}

func TestMergeClobberAllowed(t *testing.T) {
	t.Parallel()
	a := mkLayer(t, map[string]string{"etc/motd": "first"})
	b := mkLayer(t, map[string]string{"etc/motd": "second"})

	merged, err := envlayer.Merge([]ociv1.Layer{a, b}, envlayer.Options{Clobber: true})
	require.NoError(t, err)

	vfs, err := fsutil.FSFromLayers(merged)
	require.NoError(t, err)
	content, err := fs.ReadFile(vfs, "etc/motd")
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))
}

func TestMergeDeterministic(t *testing.T) {
	t.Parallel()
	mk := func() []ociv1.Layer {
		return []ociv1.Layer{
			mkLayer(t, map[string]string{"lib": "DIR", "lib/numpy.py": "numpy"}),
			mkLayer(t, map[string]string{"lib": "DIR", "lib/skxray.py": "skxray"}),
		}
	}
	first, err := envlayer.Merge(mk(), envlayer.Options{})
	require.NoError(t, err)
	second, err := envlayer.Merge(mk(), envlayer.Options{})
	require.NoError(t, err)
	testutil.AssertEqualLayers(t, first, second)
}

func TestMergeRejectsWhiteouts(t *testing.T) {
	t.Parallel()
	a := mkLayer(t, map[string]string{"usr/.wh.deleted": ""})
	_, err := envlayer.Merge([]ociv1.Layer{a}, envlayer.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whiteout")
}
