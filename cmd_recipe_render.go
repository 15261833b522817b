// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/conda/recipe"
)

func init() {
	var flagFormat string
	rflags := (*recipeFlags)(nil)
	cmd := &cobra.Command{
		Use:   "render [flags] >OUT",
		Short: "Render a recipe template to a static manifest",
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
			parsed, err := recipe.Parse(rendered)
			if err != nil {
				return err
			}
			if err := parsed.Validate(); err != nil {
				return err
			}

			switch flagFormat {
			case "yaml":
				_, err = os.Stdout.Write(rendered)
			case "json":
				var jsonBytes []byte
				jsonBytes, err = sigsyaml.YAMLToJSON(rendered)
				if err == nil {
					_, err = fmt.Println(string(jsonBytes))
				}
			default:
				return fmt.Errorf("invalid --format %q: expected \"yaml\" or \"json\"", flagFormat)
			}
			return err
		},
	}
	rflags = addRecipeFlags(cmd)
	cmd.Flags().StringVar(&flagFormat, "format", "yaml", "Output `FORMAT`: \"yaml\" or \"json\"")

	argparserRecipe.AddCommand(cmd)
}
