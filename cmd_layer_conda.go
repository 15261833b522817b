// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/conda/cpkg"
	"github.com/nsls2forge/condabuild/pkg/conda/install"
	"github.com/nsls2forge/condabuild/pkg/conda/variant"
	"github.com/nsls2forge/condabuild/pkg/fsutil"
	"github.com/nsls2forge/condabuild/pkg/python"
)

func init() {
	var flags struct {
		PlatFile string
		Prefix   string
		Variant  *variant.Flags
	}
	cmd := &cobra.Command{
		Use:   "conda [flags] IN_PKGFILE >OUT_LAYERFILE",
		Short: "Turn a conda package in to a layer",
		Long: "Given a conda package file (v1 .tar.bz2 or v2 .conda), install it " +
			"under an environment prefix and emit the result as a layer." +
			"\n\n" +
			"The target environment comes from --platform-file, a YAML file in the " +
			"shape that `condabuild python inspect` emits.  When all you know is the " +
			"prefix directory, --prefix synthesizes a minimal platform from it; that " +
			"needs a Python version (--py or CONDA_PY) to locate site-packages, and " +
			"skips .pyc generation.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var plat python.Platform
			var prefix string
			var opts install.Options
			switch {
			case flags.PlatFile != "" && flags.Prefix != "":
				return fmt.Errorf("--platform-file and --prefix are mutually exclusive")
			case flags.PlatFile != "":
				yamlBytes, err := os.ReadFile(flags.PlatFile)
				if err != nil {
					return err
				}
				var platFile struct {
					python.Platform
					PyCompile []string
				}
				if err := sigsyaml.Unmarshal(yamlBytes, &platFile, sigsyaml.DisallowUnknownFields); err != nil {
					return fmt.Errorf("%s: %w", flags.PlatFile, err)
				}
				plat = platFile.Platform
				if err := plat.Init(); err != nil {
					return err
				}
				prefix = plat.Scheme.Data
				if len(platFile.PyCompile) > 0 {
					plat.PyCompile, err = python.ExternalCompiler(platFile.PyCompile...)
					if err != nil {
						return err
					}
					opts.Hooks = append(opts.Hooks, install.CompilePyc(plat))
				}
			case flags.Prefix != "":
				prefix = flags.Prefix
				pyXY := flags.Variant.Variant(environMap(os.Environ())).PyVer()
				if pyXY == "" {
					return fmt.Errorf("--prefix needs a python version (--py or CONDA_PY)")
				}
				sitePackages := path.Join(prefix, "lib", "python"+pyXY, "site-packages")
				plat = python.Platform{
					ConsoleShebang: path.Join(prefix, "bin", "python"),
					Scheme: python.Scheme{
						PureLib: sitePackages,
						PlatLib: sitePackages,
						Headers: path.Join(prefix, "include", "python"+pyXY),
						Scripts: path.Join(prefix, "bin"),
						Data:    prefix,
					},
				}
				if err := plat.Init(); err != nil {
					return err
				}
			default:
				return fmt.Errorf("one of --platform-file or --prefix is required")
			}

			pkg, err := cpkg.Open(args[0])
			if err != nil {
				return err
			}
			layer, err := install.InstallPackage(ctx, plat, prefix, pkg, opts)
			if err != nil {
				return err
			}
			return fsutil.WriteLayer(layer, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flags.PlatFile, "platform-file", "",
		"Read `IN_YAML_FILE` to determine details about the target platform")
	cmd.Flags().StringVar(&flags.Prefix, "prefix", "",
		"Environment prefix `DIR` to install under (instead of --platform-file)")
	flags.Variant = variant.AddFlags(cmd.Flags())

	argparserLayer.AddCommand(cmd)
}
