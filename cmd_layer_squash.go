// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"os"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/spf13/cobra"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/conda/envlayer"
	"github.com/nsls2forge/condabuild/pkg/fsutil"
)

func init() {
	var flagClobber bool
	cmd := &cobra.Command{
		Use:   "squash [flags] IN_LAYERFILES... >OUT_LAYERFILE",
		Short: "Merge several package layers in to one environment layer",
		Long: "Union several layers (one conda package each, usually) in to a " +
			"single environment layer.  Two layers shipping the same regular file " +
			"is an error unless --clobber is given, in which case the last layer " +
			"wins, like conda's own --clobber.",
		Args: cliutil.WrapPositionalArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			layers := make([]ociv1.Layer, 0, len(args))
			for _, layerpath := range args {
				layer, err := fsutil.OpenLayer(layerpath)
				if err != nil {
					return err
				}
				layers = append(layers, layer)
			}

			layer, err := envlayer.Merge(layers, envlayer.Options{Clobber: flagClobber})
			if err != nil {
				return err
			}
			return fsutil.WriteLayer(layer, os.Stdout)
		},
	}
	cmd.Flags().BoolVar(&flagClobber, "clobber", false,
		"On a file collision, let the last layer win instead of erroring")
	argparserLayer.AddCommand(cmd)
}
