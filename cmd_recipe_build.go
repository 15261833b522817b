// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/conda/buildrun"
	"github.com/nsls2forge/condabuild/pkg/conda/channel"
	"github.com/nsls2forge/condabuild/pkg/conda/cpkg"
	"github.com/nsls2forge/condabuild/pkg/conda/imports"
	"github.com/nsls2forge/condabuild/pkg/conda/recipe"
	"github.com/nsls2forge/condabuild/pkg/conda/variant"
	"github.com/nsls2forge/condabuild/pkg/gitdescribe"
	"github.com/nsls2forge/condabuild/pkg/reproducible"
)

func init() {
	var flags struct {
		Prefix string
		Output string
	}
	rflags := (*recipeFlags)(nil)
	cflags := (*channelFlags)(nil)
	cmd := &cobra.Command{
		Use:   "build [flags]",
		Short: "Render a recipe, run its build script, and emit a .conda package",
		Long: "Render the recipe under the active variant, gate on dependency " +
			"resolvability when channels are given, run the build script, package the " +
			"prefix's new files as a v2 .conda file, and run the recipe's import " +
			"smoke-tests against the artifact.  A failed import check leaves the " +
			"artifact in place but exits nonzero.",
		Args: cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			src, recipeDir, err := rflags.load()
			if err != nil {
				return err
			}
			cfg, err := rflags.renderConfig()
			if err != nil {
				return err
			}
			rendered, err := recipe.Render(ctx, src, cfg)
			if err != nil {
				return err
			}
			r, err := recipe.Parse(rendered)
			if err != nil {
				return err
			}
			if err := r.Validate(); err != nil {
				return err
			}

			// The resolvability gate, before any building.
			if len(cflags.Channels) > 0 {
				clients, closeCache := cflags.clients(ctx)
				idx, err := channel.GetIndex(ctx, clients, buildSubdir(r, cfg.Variant))
				closeCache()
				if err != nil {
					return err
				}
				specs := append(append([]string(nil), r.Requirements.Build...), r.Requirements.Run...)
				if err := idx.CheckDepends(specs).Err(); err != nil {
					return err
				}
			}

			prefix := flags.Prefix
			if prefix == "" {
				prefix, err = os.MkdirTemp("", "condabuild-prefix.")
				if err != nil {
					return err
				}
				defer func() {
					_ = os.RemoveAll(prefix)
				}()
			}

			var gitEnviron map[string]string
			if rflags.GitDir != "" {
				if info, err := gitdescribe.Describe(rflags.GitDir); err != nil {
					dlog.Debugf(ctx, "git describe: %v", err)
				} else {
					gitEnviron = info.Environ()
				}
			}

			payload, err := buildrun.Run(ctx, buildrun.Config{
				Recipe:     r,
				RecipeDir:  recipeDir,
				Variant:    cfg.Variant,
				Prefix:     prefix,
				GitEnviron: gitEnviron,
			})
			if err != nil {
				return err
			}

			info := packageInfo(r, cfg.Variant)
			outName := flags.Output
			if outName == "" {
				outName = cpkg.FilenameInfo{
					Name:    info.Index.Name,
					Version: info.Index.Version,
					Build:   info.Index.Build,
					Ext:     ".conda",
				}.String()
			}
			outFile, err := os.Create(outName)
			if err != nil {
				return err
			}
			if err := cpkg.Build(outFile, info, payload, reproducible.Now()); err != nil {
				_ = outFile.Close()
				return err
			}
			if err := outFile.Close(); err != nil {
				return err
			}
			dlog.Infof(ctx, "wrote %s (%d payload files)", outName, len(payload))

			// The import gate: the artifact stays put either way.
			if len(r.Test.Imports) > 0 {
				pkg, err := cpkg.Open(outName)
				if err != nil {
					return err
				}
				tgt, err := imports.NewPackageTarget(pkg)
				if err != nil {
					return err
				}
				report := imports.Check(ctx, tgt, r.Test.Imports)
				printImportReport(report)
				if !report.OK() {
					return fmt.Errorf("%d of %d imports failed (artifact kept at %s)",
						len(report.Failed()), len(report.Results), outName)
				}
			}
			return nil
		},
	}
	rflags = addRecipeFlags(cmd)
	cflags = addChannelFlags(cmd)
	cmd.Flags().StringVar(&flags.Prefix, "prefix", "",
		"Build prefix `DIR` (default: a throwaway temporary directory)")
	cmd.Flags().StringVarP(&flags.Output, "output", "o", "",
		"Output `FILE` (default: NAME-VERSION-BUILD.conda in the working directory)")

	argparserRecipe.AddCommand(cmd)
}

// buildSubdir is the repodata subdir the build resolves against.
func buildSubdir(r *recipe.Recipe, v variant.Variant) string {
	switch {
	case r.Build.Noarch != "":
		return "noarch"
	case v.Subdir != "":
		return v.Subdir
	default:
		return "linux-64"
	}
}

// packageInfo assembles the artifact's info/ metadata from the rendered
// recipe and the active variant.
func packageInfo(r *recipe.Recipe, v variant.Variant) *cpkg.Info {
	buildStr := r.Build.String
	num := r.Build.Number.IntValue()
	if buildStr == "" {
		switch {
		case r.Build.Noarch == "python":
			buildStr = fmt.Sprintf("py_%d", num)
		case v.BuildTag() != "":
			buildStr = fmt.Sprintf("%s_%d", v.BuildTag(), num)
		default:
			buildStr = strconv.Itoa(num)
		}
	}

	info := &cpkg.Info{
		Index: cpkg.IndexJSON{
			Name:        r.Package.Name,
			Version:     r.Package.Version,
			Build:       buildStr,
			BuildNumber: num,
			Depends:     r.Requirements.Run,
			License:     r.About.License,
			Subdir:      buildSubdir(r, v),
			NoArch:      r.Build.Noarch,
			Timestamp:   reproducible.Now().UnixMilli(),
		},
		About: cpkg.AboutJSON{
			Home:    r.About.Home,
			License: r.About.License,
			Summary: r.About.Summary,
		},
	}
	if r.Build.Noarch == "python" && len(r.Build.EntryPoints) > 0 {
		link := &cpkg.LinkJSON{PackageMetadataVersion: 1}
		link.NoArch.Type = "python"
		link.NoArch.EntryPoints = r.Build.EntryPoints
		info.Link = link
	}
	return info
}
