// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package buildrun executes a recipe's build script under conda-build's
// environment contract and collects the files the script installed in to the
// build prefix.
package buildrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"

	"github.com/nsls2forge/condabuild/pkg/conda/recipe"
	"github.com/nsls2forge/condabuild/pkg/conda/variant"
	"github.com/nsls2forge/condabuild/pkg/dir"
	"github.com/nsls2forge/condabuild/pkg/fsutil"
)

type Config struct {
	Recipe    *recipe.Recipe
	RecipeDir string
	Variant   variant.Variant

	// Prefix is the build prefix the script installs in to; it is created if
	// missing.  Files already present are not counted as payload.
	Prefix string

	// Environ is the base environment; nil means os.Environ().
	Environ []string

	// GitEnviron is the GIT_* contract from gitdescribe.Environ; may be nil
	// for non-git sources.
	GitEnviron map[string]string
}

// Run executes the build script and returns the files it left in the prefix,
// sorted, new files only.
func Run(ctx context.Context, cfg Config) (_ []fsutil.FileReference, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("buildrun.Run: %w", err)
		}
	}()

	srcDir := cfg.RecipeDir
	if cfg.Recipe.Source.Path != "" {
		srcDir = filepath.Join(cfg.RecipeDir, filepath.FromSlash(cfg.Recipe.Source.Path))
	}
	srcDir, err = filepath.Abs(srcDir)
	if err != nil {
		return nil, err
	}
	recipeDir, err := filepath.Abs(cfg.RecipeDir)
	if err != nil {
		return nil, err
	}
	prefix, err := filepath.Abs(cfg.Prefix)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(prefix, 0o755); err != nil {
		return nil, err
	}

	before, err := snapshot(prefix)
	if err != nil {
		return nil, err
	}

	cmd, scriptName, err := buildCommand(ctx, cfg.Recipe, recipeDir)
	if err != nil {
		return nil, err
	}
	cmd.Dir = srcDir
	cmd.Env = buildEnviron(cfg, prefix, srcDir, recipeDir)

	dlog.Infof(ctx, "running %s in %s", scriptName, srcDir)
	if err := cmd.Run(); err != nil {
		var exitErr *dexec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("build script %s: exit status %d", scriptName, exitErr.ExitCode())
		}
		return nil, fmt.Errorf("build script %s: %w", scriptName, err)
	}

	files, err := dir.FilesFromDir(prefix)
	if err != nil {
		return nil, err
	}
	payload := make([]fsutil.FileReference, 0, len(files))
	for _, file := range files {
		if _, existed := before[file.FullName()]; existed {
			continue
		}
		payload = append(payload, file)
	}
	sort.Slice(payload, func(i, j int) bool {
		return payload[i].FullName() < payload[j].FullName()
	})
	dlog.Infof(ctx, "build script %s installed %d files", scriptName, len(payload))
	return payload, nil
}

func buildCommand(ctx context.Context, r *recipe.Recipe, recipeDir string) (*dexec.Cmd, string, error) {
	if r.Build.Script != "" {
		return dexec.CommandContext(ctx, "sh", "-c", r.Build.Script), "build.script", nil
	}
	scriptFile := filepath.Join(recipeDir, "build.sh")
	if _, err := os.Stat(scriptFile); err != nil {
		return nil, "", fmt.Errorf("recipe has no build.script and no build.sh: %w", err)
	}
	return dexec.CommandContext(ctx, "bash", "-e", scriptFile), "build.sh", nil
}

func buildEnviron(cfg Config, prefix, srcDir, recipeDir string) []string {
	environ := cfg.Environ
	if environ == nil {
		environ = os.Environ()
	}
	ret := append([]string(nil), environ...)
	ret = append(ret,
		"PREFIX="+prefix,
		"SRC_DIR="+srcDir,
		"RECIPE_DIR="+recipeDir,
		"PYTHON="+filepath.Join(prefix, "bin", "python"),
		"PY_VER="+cfg.Variant.PyVer(),
		"NPY_VER="+cfg.Variant.NpVer(),
		"CONDA_PY="+cfg.Variant.Py,
		"CONDA_NPY="+cfg.Variant.Np,
		"CONDA_SUBDIR="+cfg.Variant.Subdir,
	)
	keys := make([]string, 0, len(cfg.GitEnviron))
	for key := range cfg.GitEnviron {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		ret = append(ret, key+"="+cfg.GitEnviron[key])
	}
	return ret
}

// snapshot records the io/fs-style names already present under root.
func snapshot(root string) (map[string]struct{}, error) {
	ret := make(map[string]struct{})
	files, err := dir.FilesFromDir(root)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		ret[file.FullName()] = struct{}{}
	}
	return ret, nil
}
