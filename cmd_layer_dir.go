// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/dir"
	"github.com/nsls2forge/condabuild/pkg/fsutil"
	"github.com/nsls2forge/condabuild/pkg/reproducible"
)

func init() {
	var flagPrefix string
	cmd := &cobra.Command{
		Use:   "dir [flags] IN_DIRNAME >OUT_LAYERFILE",
		Short: "Create a layer from a directory",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prefix *dir.Prefix
			if flagPrefix != "" {
				prefix = &dir.Prefix{DirName: flagPrefix}
			}
			layer, err := dir.LayerFromDir(args[0], prefix, nil, reproducible.Now())
			if err != nil {
				return err
			}
			return fsutil.WriteLayer(layer, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagPrefix, "prefix", "",
		"Add a `PREFIX` to the filenames in the directory; forward-slash separated, "+
			`absolute, but NOT starting with a slash.  For example, "opt/conda".`)
	argparserLayer.AddCommand(cmd)
}
