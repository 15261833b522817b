// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/spf13/cobra"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/conda/cpkg"
	"github.com/nsls2forge/condabuild/pkg/conda/imports"
	"github.com/nsls2forge/condabuild/pkg/conda/recipe"
	"github.com/nsls2forge/condabuild/pkg/fsutil"
)

func printImportReport(report *imports.Report) {
	for _, result := range report.Results {
		if result.Err != nil {
			fmt.Fprintf(os.Stdout, "fail %s: %v\n", result.Module, result.Err)
		} else {
			fmt.Fprintf(os.Stdout, "ok %s\n", result.Module)
		}
	}
}

func init() {
	var flags struct {
		Package      string
		Prefix       string
		LayerFiles   []string
		SitePackages string
		Python       string
		Modules      []string
	}
	rflags := (*recipeFlags)(nil)
	cmd := &cobra.Command{
		Use:   "imports [flags]",
		Short: "Smoke-test that the recipe's modules are importable from an artifact",
		Long: "For each module name, verify it can be imported from the chosen " +
			"artifact: a package file, an installed prefix, layer files, or a live " +
			"Python interpreter.  Module names come from -m flags, or from the " +
			"recipe's test.imports list.  Every module is checked; a nonzero exit " +
			"means at least one failed, and the artifact is left in place.",
		Args: cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			modules := flags.Modules
			if len(modules) == 0 {
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
				modules = r.Test.Imports
			}
			if len(modules) == 0 {
				return fmt.Errorf("nothing to check: no -m flags and no test.imports in the recipe")
			}

			var tgt imports.Target
			switch {
			case flags.Package != "":
				pkg, err := cpkg.Open(flags.Package)
				if err != nil {
					return err
				}
				tgt, err = imports.NewPackageTarget(pkg)
				if err != nil {
					return err
				}
			case flags.Prefix != "":
				cfg, err := rflags.renderConfig()
				if err != nil {
					return err
				}
				pyXY := cfg.Variant.PyVer()
				if pyXY == "" {
					return fmt.Errorf("--prefix needs a python version (--py or CONDA_PY)")
				}
				tgt = imports.NewPrefixTarget(flags.Prefix, pyXY)
			case len(flags.LayerFiles) > 0:
				sitePackages := flags.SitePackages
				if sitePackages == "" {
					cfg, err := rflags.renderConfig()
					if err != nil {
						return err
					}
					pyXY := cfg.Variant.PyVer()
					if pyXY == "" {
						return fmt.Errorf("--layerfile needs --site-packages, or a python version (--py or CONDA_PY)")
					}
					sitePackages = "lib/python" + pyXY + "/site-packages"
				}
				layers := make([]ociv1.Layer, 0, len(flags.LayerFiles))
				for _, layerpath := range flags.LayerFiles {
					layer, err := fsutil.OpenLayer(layerpath)
					if err != nil {
						return err
					}
					layers = append(layers, layer)
				}
				layerTgt, err := imports.NewLayerTarget(sitePackages, layers...)
				if err != nil {
					return err
				}
				tgt = layerTgt
			case flags.Python != "":
				tgt = imports.ExecTarget{Python: []string{flags.Python}}
			default:
				return fmt.Errorf("one of --package, --prefix, --layerfile, or --python is required")
			}

			report := imports.Check(ctx, tgt, modules)
			printImportReport(report)
			if !report.OK() {
				return fmt.Errorf("%d of %d imports failed", len(report.Failed()), len(report.Results))
			}
			return nil
		},
	}
	rflags = addRecipeFlags(cmd)
	cmd.Flags().StringVar(&flags.Package, "package", "", "Check inside a `.conda/.tar.bz2` package file")
	cmd.Flags().StringVar(&flags.Prefix, "prefix", "", "Check an installed environment prefix `DIR`")
	cmd.Flags().StringArrayVar(&flags.LayerFiles, "layerfile", nil,
		"Check inside layer `FILE`s (repeatable)")
	cmd.Flags().StringVar(&flags.SitePackages, "site-packages", "",
		"io/fs-style `PATH` of the site-packages directory inside the layers")
	cmd.Flags().StringVar(&flags.Python, "python", "",
		"Check by running `EXE` -c 'import ...' for each module")
	cmd.Flags().StringArrayVarP(&flags.Modules, "module", "m", nil,
		"Dotted module `NAME` to check (repeatable; default: the recipe's test.imports)")

	argparserCheck.AddCommand(cmd)
}
