// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/nsls2forge/condabuild/pkg/amira"
	"github.com/nsls2forge/condabuild/pkg/cliutil"
)

func init() {
	cmd := &cobra.Command{
		Use:   "inspect [flags] IN_AMFILE",
		Short: "Dump an AmiraMesh file's header as YAML",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() {
				_ = fh.Close()
			}()

			md, err := amira.ReadHeader(fh)
			if err != nil {
				return err
			}
			bs, err := yaml.Marshal(md)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(bs)
			return err
		},
	}

	argparserAmira.AddCommand(cmd)
}
