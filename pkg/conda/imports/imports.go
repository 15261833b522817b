// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package imports is the post-build smoke test: try to import each module the
// recipe's test section names, and report per-module verdicts.
package imports

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"
	ociv1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/nsls2forge/condabuild/pkg/conda/cpkg"
	"github.com/nsls2forge/condabuild/pkg/fsutil"
)

// A Target is a built artifact that modules can be looked for in.
type Target interface {
	// TryImport reports whether the dotted module name is importable; a nil
	// error means it is.
	TryImport(ctx context.Context, module string) error
}

type Result struct {
	Module string
	Err    error
}

type Report struct {
	Results []Result
}

// OK reports whether every module imported.
func (r *Report) OK() bool {
	for _, result := range r.Results {
		if result.Err != nil {
			return false
		}
	}
	return true
}

func (r *Report) Failed() []Result {
	var ret []Result
	for _, result := range r.Results {
		if result.Err != nil {
			ret = append(ret, result)
		}
	}
	return ret
}

// Check tries every module, in the order given; it never stops early, so the
// report always has one result per module.
func Check(ctx context.Context, tgt Target, modules []string) *Report {
	ret := &Report{Results: make([]Result, 0, len(modules))}
	for _, module := range modules {
		err := tgt.TryImport(ctx, module)
		if err != nil {
			dlog.Errorf(ctx, "import %s: %v", module, err)
		} else {
			dlog.Infof(ctx, "import %s: ok", module)
		}
		ret.Results = append(ret.Results, Result{Module: module, Err: err})
	}
	return ret
}

// A PrefixTarget probes a site-packages tree statically, without running any
// Python: `a.b.c` is importable iff the tree has `a/b/c/__init__.py`,
// `a/b/c.py`, or an extension module, with every ancestor being a package.
//
// This misses import-time failures inside the module body, but it needs no
// interpreter matching the target, which matters when the artifact is built
// for a foreign platform.
type PrefixTarget struct {
	FS fs.FS
	// SitePackages is the site-packages directory within FS; empty means FS
	// is rooted at site-packages already.
	SitePackages string
}

// NewPrefixTarget probes an on-disk environment prefix.
func NewPrefixTarget(prefixDir, pythonXY string) *PrefixTarget {
	return &PrefixTarget{
		FS:           os.DirFS(prefixDir),
		SitePackages: "lib/python" + pythonXY + "/site-packages",
	}
}

// NewPackageTarget probes a package file's payload directly, before any
// install step.
func NewPackageTarget(pkg *cpkg.Package) (*PrefixTarget, error) {
	vfs, err := pkg.FS()
	if err != nil {
		return nil, err
	}
	sitePackages := ""
	// The payload carries its install location; find the site-packages root.
	_ = fs.WalkDir(vfs, ".", func(p string, d fs.DirEntry, e error) error {
		if e != nil || !d.IsDir() {
			return nil
		}
		if d.Name() == "site-packages" && sitePackages == "" {
			sitePackages = p
			return fs.SkipDir
		}
		return nil
	})
	return &PrefixTarget{FS: vfs, SitePackages: sitePackages}, nil
}

// NewLayerTarget probes the merged contents of OCI layers.
func NewLayerTarget(sitePackages string, layers ...ociv1.Layer) (*PrefixTarget, error) {
	vfs, err := fsutil.FSFromLayers(layers...)
	if err != nil {
		return nil, err
	}
	return &PrefixTarget{FS: vfs, SitePackages: strings.Trim(sitePackages, "/")}, nil
}

func (tgt *PrefixTarget) TryImport(_ context.Context, module string) error {
	parts := strings.Split(module, ".")

	// Every ancestor must be a package directory, or the child can't be
	// reached no matter what files exist under it.
	for i := 1; i < len(parts); i++ {
		ancestor := strings.Join(parts[:i], ".")
		dir := tgt.join(parts[:i]...)
		if !tgt.exists(dir + "/__init__.py") {
			return fmt.Errorf("module %q: ancestor package %q is missing", module, ancestor)
		}
	}

	base := tgt.join(parts...)
	if tgt.exists(base + "/__init__.py") {
		return nil
	}
	if tgt.exists(base + ".py") {
		return nil
	}
	if tgt.extModuleExists(parts) {
		return nil
	}
	return fmt.Errorf("module %q: no package, module file, or extension module found", module)
}

func (tgt *PrefixTarget) join(parts ...string) string {
	if tgt.SitePackages == "" {
		return strings.Join(parts, "/")
	}
	return tgt.SitePackages + "/" + strings.Join(parts, "/")
}

func (tgt *PrefixTarget) exists(name string) bool {
	_, err := fs.Stat(tgt.FS, name)
	return err == nil
}

// extModuleExists looks for `c.so`, `c.pyd`, or a tagged `c.*.so` next to
// where `c.py` would be.
func (tgt *PrefixTarget) extModuleExists(parts []string) bool {
	dir := "."
	if len(parts) > 1 {
		dir = tgt.join(parts[:len(parts)-1]...)
	} else if tgt.SitePackages != "" {
		dir = tgt.SitePackages
	}
	leaf := parts[len(parts)-1]

	entries, err := fs.ReadDir(tgt.FS, dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == leaf+".so" || name == leaf+".pyd" {
			return true
		}
		if strings.HasPrefix(name, leaf+".") && strings.HasSuffix(name, ".so") {
			return true
		}
	}
	return false
}

// An ExecTarget actually runs the target interpreter, one
// `python -c "import <m>"` per module.
type ExecTarget struct {
	// Python is the interpreter command line to append `-c "import m"` to;
	// typically just []string{"python"}, but may be longer for a wrapper
	// ("docker run --rm img python").
	Python []string
}

func (tgt ExecTarget) TryImport(ctx context.Context, module string) error {
	args := append(append([]string(nil), tgt.Python[1:]...), "-c", "import "+module)
	cmd := dexec.CommandContext(ctx, tgt.Python[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := strings.TrimSpace(string(out))
		if lines := strings.Split(tail, "\n"); len(lines) > 3 {
			tail = strings.Join(lines[len(lines)-3:], "\n")
		}
		return fmt.Errorf("import %s: %w: %s", module, err, tail)
	}
	return nil
}

var (
	_ Target = (*PrefixTarget)(nil)
	_ Target = ExecTarget{}
)
