// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/conda/cpkg"
	"github.com/nsls2forge/condabuild/pkg/conda/recipe"
	"github.com/nsls2forge/condabuild/pkg/dir"
	"github.com/nsls2forge/condabuild/pkg/reproducible"
)

func init() {
	var flags struct {
		Prefix string
		Output string
	}
	rflags := (*recipeFlags)(nil)
	cmd := &cobra.Command{
		Use:   "build [flags] --prefix DIR",
		Short: "Package an already-staged prefix directory as a .conda file",
		Long: "Take a prefix directory that a build script already populated " +
			"(`recipe build --prefix` does the staging and the packaging in one go) " +
			"and write it as a v2 .conda package, with info/ metadata rendered from " +
			"the recipe.",
		Args: cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			src, _, err := rflags.load()
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

			payload, err := dir.FilesFromDir(flags.Prefix)
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
			return nil
		},
	}
	rflags = addRecipeFlags(cmd)
	cmd.Flags().StringVar(&flags.Prefix, "prefix", "",
		"Staged prefix `DIR` whose contents become the package payload")
	cmd.Flags().StringVarP(&flags.Output, "output", "o", "",
		"Output `FILE` (default: NAME-VERSION-BUILD.conda in the working directory)")
	if err := cmd.MarkFlagRequired("prefix"); err != nil {
		panic(err)
	}

	argparserPkg.AddCommand(cmd)
}
