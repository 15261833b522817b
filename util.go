// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/nsls2forge/condabuild/pkg/conda/cache"
	"github.com/nsls2forge/condabuild/pkg/conda/channel"
	"github.com/nsls2forge/condabuild/pkg/conda/recipe"
	"github.com/nsls2forge/condabuild/pkg/conda/variant"
)

// recipeFlags is the flag set shared by every subcommand that consumes a
// recipe: where the recipe is, what variant to render it under, and the
// template environment.
type recipeFlags struct {
	File    string
	GitDir  string
	Environ []string
	Variant *variant.Flags
}

func addRecipeFlags(cmd *cobra.Command) *recipeFlags {
	ret := &recipeFlags{}
	cmd.Flags().StringVarP(&ret.File, "file", "f", ".",
		"Recipe `meta.yaml` file or recipe directory")
	cmd.Flags().StringVar(&ret.GitDir, "git-dir", "",
		"Git work tree to derive GIT_DESCRIBE_* template values from")
	cmd.Flags().StringArrayVarP(&ret.Environ, "env", "e", nil,
		"Set `KEY=VALUE` in the template environment (overrides the process environment)")
	ret.Variant = variant.AddFlags(cmd.Flags())
	return ret
}

// load returns the recipe template text and the recipe directory.
func (f *recipeFlags) load() (src []byte, recipeDir string, err error) {
	info, err := os.Stat(f.File)
	if err != nil {
		return nil, "", err
	}
	if info.IsDir() {
		src, err := recipe.Load(f.File)
		return src, f.File, err
	}
	src, err = os.ReadFile(f.File)
	return src, filepath.Dir(f.File), err
}

func (f *recipeFlags) renderConfig() (recipe.RenderConfig, error) {
	environ := environMap(os.Environ())
	for _, kv := range f.Environ {
		key, val, ok := cutKeyValue(kv)
		if !ok {
			return recipe.RenderConfig{}, fmt.Errorf("-e %q: expected KEY=VALUE", kv)
		}
		environ[key] = val
	}
	return recipe.RenderConfig{
		Environ: environ,
		Variant: f.Variant.Variant(environ),
		GitDir:  f.GitDir,
	}, nil
}

func environMap(environ []string) map[string]string {
	ret := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, val, ok := cutKeyValue(kv); ok {
			if _, exists := ret[key]; !exists { // first match wins, like syscall.Getenv
				ret[key] = val
			}
		}
	}
	return ret
}

func cutKeyValue(kv string) (key, val string, ok bool) {
	idx := strings.IndexByte(kv, '=')
	if idx <= 0 {
		return "", "", false
	}
	return kv[:idx], kv[idx+1:], true
}

// channelFlags is the flag set shared by the subcommands that talk to conda
// channels.
type channelFlags struct {
	Channels []string
	CacheDir string
	NoCache  bool
}

func addChannelFlags(cmd *cobra.Command) *channelFlags {
	ret := &channelFlags{}
	cmd.Flags().StringArrayVar(&ret.Channels, "channel", nil,
		"Channel `URL_OR_DIR` to resolve against; repeatable, earlier channels win")
	cmd.Flags().StringVar(&ret.CacheDir, "cache", "",
		"Repodata cache `DIR` (default: the user cache directory)")
	cmd.Flags().BoolVar(&ret.NoCache, "no-cache", false,
		"Do not cache repodata")
	return ret
}

// clients builds one channel client per --channel, all sharing a repodata
// cache unless caching is off.  Call the returned cleanup when done.
func (f *channelFlags) clients(ctx context.Context) ([]channel.Client, func()) {
	var repoCache *cache.Cache
	if !f.NoCache {
		dir := f.CacheDir
		if dir == "" {
			if base, err := os.UserCacheDir(); err == nil {
				dir = filepath.Join(base, "condabuild", "repodata")
			}
		}
		if dir != "" {
			opened, err := cache.Open(dir)
			if err != nil {
				dlog.Warnf(ctx, "repodata cache disabled: %v", err)
			} else {
				repoCache = opened
			}
		}
	}

	clients := make([]channel.Client, len(f.Channels))
	for i, base := range f.Channels {
		clients[i] = channel.Client{
			BaseURL: base,
			Cache:   repoCache,
		}
	}
	return clients, func() {
		if repoCache != nil {
			_ = repoCache.Close()
		}
	}
}
