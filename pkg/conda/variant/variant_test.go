// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package variant_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nsls2forge/condabuild/pkg/conda/variant"
)

func TestFromEnv(t *testing.T) {
	t.Parallel()
	v := variant.FromEnv(map[string]string{
		"CONDA_SUBDIR": "linux-64",
		"CONDA_PY":     "3.5",
		"CONDA_NPY":    "111",
	})
	assert.Equal(t, variant.Variant{Subdir: "linux-64", Py: "35", Np: "111"}, v)
	assert.Equal(t, "3.5", v.PyVer())
	assert.Equal(t, "1.11", v.NpVer())
	assert.Equal(t, "np111py35", v.BuildTag())
	assert.Equal(t, 35, v.PyInt())
	assert.Equal(t, 111, v.NpInt())
}

func TestBuildTag(t *testing.T) {
	t.Parallel()
	testcases := map[string]struct {
		Variant variant.Variant
		Exp     string
	}{
		"both":      {variant.Variant{Py: "35", Np: "111"}, "np111py35"},
		"py-only":   {variant.Variant{Py: "27"}, "py27"},
		"np-only":   {variant.Variant{Np: "110"}, "np110"},
		"unpinned":  {variant.Variant{}, ""},
		"py2-short": {variant.Variant{Py: "2"}, "py2"},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.Exp, tc.Variant.BuildTag())
		})
	}
}

func TestIs(t *testing.T) {
	t.Parallel()
	linux := variant.Variant{Subdir: "linux-64", Py: "35"}
	assert.True(t, linux.Is("linux"))
	assert.True(t, linux.Is("unix"))
	assert.True(t, linux.Is("x86_64"))
	assert.True(t, linux.Is("py3k"))
	assert.False(t, linux.Is("osx"))
	assert.False(t, linux.Is("win"))
	assert.False(t, linux.Is("py2k"))
	assert.False(t, linux.Is("no-such-ident"))

	win32 := variant.Variant{Subdir: "win-32", Py: "27"}
	assert.True(t, win32.Is("win"))
	assert.True(t, win32.Is("x86"))
	assert.False(t, win32.Is("unix"))
	assert.True(t, win32.Is("py2k"))
}

func TestExpand(t *testing.T) {
	t.Parallel()
	base := variant.Variant{Subdir: "linux-64"}
	got := variant.Matrix{
		Py: []string{"2.7", "3.5"},
		Np: []string{"1.10", "1.11"},
	}.Expand(base)
	exp := []variant.Variant{
		{Subdir: "linux-64", Py: "27", Np: "110"},
		{Subdir: "linux-64", Py: "27", Np: "111"},
		{Subdir: "linux-64", Py: "35", Np: "110"},
		{Subdir: "linux-64", Py: "35", Np: "111"},
	}
	assert.Equal(t, exp, got)

	// an empty axis keeps the base pin
	got = variant.Matrix{Py: []string{"35"}}.Expand(variant.Variant{Np: "111"})
	assert.Equal(t, []variant.Variant{{Py: "35", Np: "111"}}, got)
}
