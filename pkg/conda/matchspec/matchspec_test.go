// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package matchspec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsls2forge/condabuild/pkg/conda/matchspec"
)

func TestMatch(t *testing.T) {
	t.Parallel()
	testcases := map[string]struct {
		Spec    string
		Name    string
		Version string
		Build   string
		Exp     bool
	}{
		"bare-name":          {"six", "six", "1.10.0", "py35_0", true},
		"bare-name-miss":     {"six", "numpy", "1.10.0", "py35_0", false},
		"name-case":          {"Six", "SIX", "1.10.0", "", true},
		"fuzzy":              {"numpy 1.11*", "numpy", "1.11.3", "py35_0", true},
		"fuzzy-string":       {"numpy 1.11*", "numpy", "1.110", "py35_0", true},
		"fuzzy-miss":         {"numpy 1.11*", "numpy", "1.12.0", "py35_0", false},
		"fuzzy-dot-star":     {"numpy 1.11.*", "numpy", "1.11.3", "", true},
		"fuzzy-eq-spelling":  {"numpy =1.11", "numpy", "1.11.3", "", true},
		"range":              {"python >=3.5,<3.6", "python", "3.5.2", "", true},
		"range-low":          {"python >=3.5,<3.6", "python", "3.4.5", "", false},
		"range-high":         {"python >=3.5,<3.6", "python", "3.6.0", "", false},
		"or":                 {"python 2.7|3.5*", "python", "3.5.2", "", true},
		"or-first":           {"python 2.7|3.5*", "python", "2.7", "", true},
		"or-miss":            {"python 2.7|3.5*", "python", "3.4", "", false},
		"or-binds-tighter":   {"foo 1.0|2.0,<2.5", "foo", "2.0", "", true},
		"or-and-excludes":    {"foo 1.0|2.5,<2.5", "foo", "2.5", "", false},
		"exact-version":      {"scipy 0.17.1", "scipy", "0.17.1", "", true},
		"exact-version-norm": {"scipy 0.17.1", "scipy", "0.17.1.0", "", true},
		"not-equal":          {"scipy !=0.17.0", "scipy", "0.17.1", "", true},
		"not-equal-miss":     {"scipy !=0.17.0", "scipy", "0.17.0", "", false},
		"build-exact":        {"skxray 0.0.5 np111py35_0", "skxray", "0.0.5", "np111py35_0", true},
		"build-miss":         {"skxray 0.0.5 np111py35_0", "skxray", "0.0.5", "np110py27_0", false},
		"build-glob":         {"skxray 0.0.5 np111*", "skxray", "0.0.5", "np111py35_0", true},
		"build-glob-mid":     {"skxray 0.0.5 *py35*", "skxray", "0.0.5", "np111py35_0", true},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			spec, err := matchspec.Parse(tc.Spec)
			require.NoError(t, err)
			assert.Equal(t, tc.Exp, spec.MatchStr(tc.Name, tc.Version, tc.Build))
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	for _, str := range []string{
		"",
		"   ",
		"name version build extra",
		"bad~name",
		"numpy 1.11,,1.12",
		"numpy >=",
	} {
		str := str
		t.Run(str, func(t *testing.T) {
			t.Parallel()
			_, err := matchspec.Parse(str)
			assert.Error(t, err)
		})
	}
}

func TestString(t *testing.T) {
	t.Parallel()
	testcases := []string{
		"six",
		"numpy 1.11*",
		"python >=3.5,<3.6",
		"python 2.7|3.5*",
		"skxray 0.0.5 np111py35_0",
	}
	for _, str := range testcases {
		str := str
		t.Run(str, func(t *testing.T) {
			t.Parallel()
			spec, err := matchspec.Parse(str)
			require.NoError(t, err)
			assert.Equal(t, str, spec.String())
		})
	}
}
