// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"os"

	"github.com/spf13/cobra"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/conda/cpkg"
)

func init() {
	cmd := &cobra.Command{
		Use:   "inspect [flags] IN_PKGFILE",
		Short: "Dump a package file's info/ metadata as YAML",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := cpkg.Open(args[0])
			if err != nil {
				return err
			}
			info, err := pkg.Info()
			if err != nil {
				return err
			}
			out := struct {
				Filename string `json:"filename"`
				*cpkg.Info
			}{
				Filename: pkg.Filename,
				Info:     info,
			}
			bs, err := sigsyaml.Marshal(out)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(bs)
			return err
		},
	}

	argparserPkg.AddCommand(cmd)
}
