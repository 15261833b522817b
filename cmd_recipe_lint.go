// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/conda/recipe"
)

func init() {
	rflags := (*recipeFlags)(nil)
	cmd := &cobra.Command{
		Use:   "lint [flags]",
		Short: "Report problems in a recipe without building it",
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

			problems := recipe.Lint(ctx, src, cfg)
			fatal := 0
			for _, problem := range problems {
				fmt.Fprintln(os.Stdout, problem)
				if problem.Fatal {
					fatal++
				}
			}
			if fatal > 0 {
				return fmt.Errorf("%d fatal problem(s)", fatal)
			}
			return nil
		},
	}
	rflags = addRecipeFlags(cmd)

	argparserRecipe.AddCommand(cmd)
}
