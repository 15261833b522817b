// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package imports_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsls2forge/condabuild/pkg/conda/imports"
)

func testContext(t *testing.T) context.Context {
	return dlog.NewTestContext(t, false)
}

var skxrayModules = []string{
	"skxray",
	"skxray.core",
	"skxray.calibration",
	"skxray.constants",
	"skxray.dpc",
	"skxray.feature",
	"skxray.image",
	"skxray.recip",
	"skxray.spectroscopy",
	"skxray.fitting",
	"skxray.fitting.api",
}

func skxrayTree(withDPC bool) fstest.MapFS {
	vfs := fstest.MapFS{
		"lib/python3.5/site-packages/skxray/__init__.py":         {},
		"lib/python3.5/site-packages/skxray/core.py":             {},
		"lib/python3.5/site-packages/skxray/calibration.py":      {},
		"lib/python3.5/site-packages/skxray/constants.py":        {},
		"lib/python3.5/site-packages/skxray/feature.py":          {},
		"lib/python3.5/site-packages/skxray/image.py":            {},
		"lib/python3.5/site-packages/skxray/recip.py":            {},
		"lib/python3.5/site-packages/skxray/spectroscopy.py":     {},
		"lib/python3.5/site-packages/skxray/fitting/__init__.py": {},
		"lib/python3.5/site-packages/skxray/fitting/api.py":      {},
	}
	if withDPC {
		vfs["lib/python3.5/site-packages/skxray/dpc.py"] = &fstest.MapFile{}
	}
	return vfs
}

func TestCheckAllPresent(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	tgt := &imports.PrefixTarget{
		FS:           skxrayTree(true),
		SitePackages: "lib/python3.5/site-packages",
	}
	report := imports.Check(ctx, tgt, skxrayModules)
	require.Len(t, report.Results, 11)
	assert.True(t, report.OK())
	assert.Empty(t, report.Failed())
}

func TestCheckOneMissing(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	tgt := &imports.PrefixTarget{
		FS:           skxrayTree(false),
		SitePackages: "lib/python3.5/site-packages",
	}
	report := imports.Check(ctx, tgt, skxrayModules)
	require.Len(t, report.Results, 11, "one failure must not stop the remaining checks")
	assert.False(t, report.OK())

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "skxray.dpc", failed[0].Module)
	assert.Error(t, failed[0].Err)
}

func TestCheckMissingAncestor(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	// fitting/ exists but has no __init__.py, so fitting.api is unreachable
	// even though api.py is right there.
	tgt := &imports.PrefixTarget{FS: fstest.MapFS{
		"skxray/__init__.py":    {},
		"skxray/fitting/api.py": {},
	}}
	report := imports.Check(ctx, tgt, []string{"skxray", "skxray.fitting.api"})
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "skxray.fitting.api", failed[0].Module)
	assert.Contains(t, failed[0].Err.Error(), "ancestor")
}

func TestCheckExtensionModules(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	tgt := &imports.PrefixTarget{FS: fstest.MapFS{
		"numpy/__init__.py":                      {},
		"numpy/core/__init__.py":                 {},
		"numpy/core/multiarray.so":               {},
		"lmfit/__init__.py":                      {},
		"lmfit/_ckin.cpython-35m-x86_64-linux-gnu.so": {},
		"win_thing/__init__.py":                  {},
		"win_thing/ext.pyd":                      {},
	}}
	report := imports.Check(ctx, tgt, []string{
		"numpy.core.multiarray",
		"lmfit._ckin",
		"win_thing.ext",
		"numpy.core.missing",
	})
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "numpy.core.missing", failed[0].Module)
}
