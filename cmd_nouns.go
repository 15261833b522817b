// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"github.com/spf13/cobra"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
)

func nounCommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " {[flags]|SUBCOMMAND...}",
		Short: short,
		Args:  cliutil.OnlySubcommands,
		RunE:  cliutil.RunSubcommands,
	}
}

var (
	argparserRecipe = nounCommand("recipe", "Render, lint, and build conda recipes")
	argparserCheck  = nounCommand("check", "Run the dependency and import gates")
	argparserPkg    = nounCommand("pkg", "Work with conda package files")
	argparserLayer  = nounCommand("layer", "Create layers from packages and directories")
	argparserImage  = nounCommand("image", "Combine layers in to images")
	argparserPython = nounCommand("python", "Inspect Python environments")
	argparserAmira  = nounCommand("amira", "Inspect and export AmiraMesh data files")
)

func init() {
	argparser.AddCommand(argparserRecipe)
	argparser.AddCommand(argparserCheck)
	argparser.AddCommand(argparserPkg)
	argparser.AddCommand(argparserLayer)
	argparser.AddCommand(argparserImage)
	argparser.AddCommand(argparserPython)
	argparser.AddCommand(argparserAmira)
}
