// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/conda/channel"
	"github.com/nsls2forge/condabuild/pkg/conda/recipe"
)

func init() {
	rflags := (*recipeFlags)(nil)
	cflags := (*channelFlags)(nil)
	cmd := &cobra.Command{
		Use:   "deps [flags]",
		Short: "Check that every recipe dependency resolves against the channels",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
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

			clients, closeCache := cflags.clients(ctx)
			defer closeCache()
			idx, err := channel.GetIndex(ctx, clients, buildSubdir(r, cfg.Variant))
			if err != nil {
				return err
			}

			specs := append(append(append([]string(nil),
				r.Requirements.Build...), r.Requirements.Run...), r.Test.Requires...)
			report := idx.CheckDepends(specs)
			for _, verdict := range report.Verdicts {
				if verdict.Err != nil {
					fmt.Fprintf(os.Stdout, "fail %s: %v\n", verdict.Spec, verdict.Err)
				} else {
					fmt.Fprintf(os.Stdout, "ok %s -> %s\n", verdict.Spec, verdict.Best.Filename)
				}
			}
			return report.Err()
		},
	}
	rflags = addRecipeFlags(cmd)
	cflags = addChannelFlags(cmd)
	if err := cmd.MarkFlagRequired("channel"); err != nil {
		panic(err)
	}

	argparserCheck.AddCommand(cmd)
}
