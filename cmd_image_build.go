// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"os"
	"path"
	"strings"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	ociv1tarball "github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/spf13/cobra"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/fsutil"
)

func init() {
	var flags struct {
		Base      string
		EnvPrefix string
	}
	cmd := &cobra.Command{
		Use:   "build [flags] IN_LAYERFILES... >OUT_IMAGEFILE",
		Short: "Combine layers in to a complete image",
		Long: "Append the layers to the base image (or to the empty image) and " +
			"write the result as a tarball.  With --env-prefix, the image config " +
			"activates the environment: PREFIX/bin goes at the front of PATH and " +
			"CONDA_PREFIX is set.",
		Args: cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := empty.Image
			if flags.Base != "" {
				var err error
				base, err = fsutil.OpenImage(flags.Base)
				if err != nil {
					return err
				}
			}

			layers := make([]ociv1.Layer, 0, len(args))
			for _, layerpath := range args {
				layer, err := fsutil.OpenLayer(layerpath)
				if err != nil {
					return err
				}
				layers = append(layers, layer)
			}

			img, err := mutate.AppendLayers(base, layers...)
			if err != nil {
				return err
			}
			if flags.EnvPrefix != "" {
				img, err = activateEnv(img, flags.EnvPrefix)
				if err != nil {
					return err
				}
			}
			return ociv1tarball.Write(nil, img, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flags.Base, "base", "", "Use `IN_IMAGEFILE` as the base of the image")
	cmd.Flags().StringVar(&flags.EnvPrefix, "env-prefix", "",
		"Environment `PREFIX` to activate in the image config (PATH and CONDA_PREFIX)")

	argparserImage.AddCommand(cmd)
}

// activateEnv adjusts the image config the way `conda activate` adjusts a
// shell: PREFIX/bin first on PATH, CONDA_PREFIX set.
func activateEnv(img ociv1.Image, prefix string) (ociv1.Image, error) {
	cfgFile, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	cfg := cfgFile.Config.DeepCopy()

	binDir := path.Join(prefix, "bin")
	env := cfg.Env
	pathIdx := -1
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			pathIdx = i
			break
		}
	}
	if pathIdx >= 0 {
		env[pathIdx] = "PATH=" + binDir + ":" + strings.TrimPrefix(env[pathIdx], "PATH=")
	} else {
		env = append(env, "PATH="+binDir)
	}
	var keep []string
	for _, kv := range env {
		if !strings.HasPrefix(kv, "CONDA_PREFIX=") {
			keep = append(keep, kv)
		}
	}
	cfg.Env = append(keep, "CONDA_PREFIX="+prefix)

	return mutate.Config(img, *cfg)
}
