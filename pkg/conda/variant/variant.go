// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package variant models the (subdir, python, numpy) ABI triple that a
// conda build is pinned to, and the "np111py35" style tags that triple
// renders to in build strings and package filenames.
package variant

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

type Variant struct {
	// Subdir is the conda platform subdirectory ("linux-64", "osx-64", "noarch", ...).
	Subdir string
	// Py and Np are ABI digit strings ("35", "111"); empty means unpinned.
	Py string
	Np string
}

// FromEnv reads CONDA_SUBDIR, CONDA_PY, and CONDA_NPY from an environment map,
// accepting both dotted ("3.5") and digit ("35") spellings.
func FromEnv(environ map[string]string) Variant {
	return Variant{
		Subdir: environ["CONDA_SUBDIR"],
		Py:     normalizeTag(environ["CONDA_PY"]),
		Np:     normalizeTag(environ["CONDA_NPY"]),
	}
}

func normalizeTag(str string) string {
	return strings.ReplaceAll(strings.TrimSpace(str), ".", "")
}

// PyVer returns the dotted python version ("3.5") for the "35" tag; "" when unpinned.
func (v Variant) PyVer() string { return dotted(v.Py) }

// NpVer returns the dotted numpy version ("1.11") for the "111" tag; "" when unpinned.
func (v Variant) NpVer() string { return dotted(v.Np) }

// dotted re-inserts the dot after the major version digit.  Conda's tags put the
// major version first and everything else after: "35" is python 3.5, "111" is
// numpy 1.11, "2" is python 2.
func dotted(tag string) string {
	if len(tag) < 2 {
		return tag
	}
	return tag[:1] + "." + tag[1:]
}

// BuildTag returns the "np111py35" tag for the variant; the np part is omitted
// when numpy is unpinned, and the whole tag is "" when python is also unpinned.
func (v Variant) BuildTag() string {
	var ret string
	if v.Np != "" {
		ret += "np" + v.Np
	}
	if v.Py != "" {
		ret += "py" + v.Py
	}
	return ret
}

// Is reports whether the selector identifier ident is true under this variant.
// Unknown identifiers are false; PyInt-style comparisons are handled by the
// selector evaluator, not here.
func (v Variant) Is(ident string) bool {
	switch ident {
	case "linux":
		return strings.HasPrefix(v.Subdir, "linux-")
	case "osx":
		return strings.HasPrefix(v.Subdir, "osx-")
	case "win":
		return strings.HasPrefix(v.Subdir, "win-")
	case "unix":
		return strings.HasPrefix(v.Subdir, "linux-") || strings.HasPrefix(v.Subdir, "osx-")
	case "x86":
		return strings.HasSuffix(v.Subdir, "-32") || strings.HasSuffix(v.Subdir, "-64")
	case "x86_64":
		return strings.HasSuffix(v.Subdir, "-64")
	case "py2k":
		return strings.HasPrefix(v.Py, "2")
	case "py3k":
		return strings.HasPrefix(v.Py, "3")
	default:
		return false
	}
}

// PyInt returns the python tag as an integer for selector comparisons
// ("py == 35"); 0 when unpinned.
func (v Variant) PyInt() int { return tagInt(v.Py) }

// NpInt returns the numpy tag as an integer for selector comparisons; 0 when
// unpinned.
func (v Variant) NpInt() int { return tagInt(v.Np) }

func tagInt(tag string) int {
	ret := 0
	for _, r := range tag {
		if r < '0' || r > '9' {
			return 0
		}
		ret = ret*10 + int(r-'0')
	}
	return ret
}

// A Matrix is the set of python/numpy versions to loop a build over.
type Matrix struct {
	Py []string
	Np []string
}

// Expand returns the cartesian product of the matrix applied over base, input
// order preserved.  An empty axis keeps base's pin for that axis.
func (m Matrix) Expand(base Variant) []Variant {
	pys := m.Py
	if len(pys) == 0 {
		pys = []string{base.Py}
	}
	nps := m.Np
	if len(nps) == 0 {
		nps = []string{base.Np}
	}
	ret := make([]Variant, 0, len(pys)*len(nps))
	for _, py := range pys {
		for _, np := range nps {
			ret = append(ret, Variant{
				Subdir: base.Subdir,
				Py:     normalizeTag(py),
				Np:     normalizeTag(np),
			})
		}
	}
	return ret
}

// Flags is the shared --subdir/--py/--np flag set that every subcommand
// operating on a variant mounts.
type Flags struct {
	Subdir string
	Py     string
	Np     string
}

func AddFlags(flagset *pflag.FlagSet) *Flags {
	ret := &Flags{}
	flagset.StringVar(&ret.Subdir, "subdir", "", "Target platform `SUBDIR` (\"linux-64\", \"noarch\", ...)")
	flagset.StringVar(&ret.Py, "py", "", "Python ABI `VERSION` to pin (\"3.5\" or \"35\")")
	flagset.StringVar(&ret.Np, "np", "", "NumPy ABI `VERSION` to pin (\"1.11\" or \"111\")")
	return ret
}

// Variant resolves the flags over the process environment: explicit flags win,
// then CONDA_SUBDIR/CONDA_PY/CONDA_NPY.
func (f *Flags) Variant(environ map[string]string) Variant {
	ret := FromEnv(environ)
	if f.Subdir != "" {
		ret.Subdir = f.Subdir
	}
	if f.Py != "" {
		ret.Py = normalizeTag(f.Py)
	}
	if f.Np != "" {
		ret.Np = normalizeTag(f.Np)
	}
	return ret
}

// String is the "linux-64 np111py35" human spelling used in logs.
func (v Variant) String() string {
	parts := make([]string, 0, 2)
	if v.Subdir != "" {
		parts = append(parts, v.Subdir)
	}
	if tag := v.BuildTag(); tag != "" {
		parts = append(parts, tag)
	}
	if len(parts) == 0 {
		return "(unpinned)"
	}
	return strings.Join(parts, " ")
}

// GoString implements fmt.GoStringer.
func (v Variant) GoString() string {
	return fmt.Sprintf("variant.Variant{Subdir:%q, Py:%q, Np:%q}", v.Subdir, v.Py, v.Np)
}
