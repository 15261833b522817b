// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nsls2forge/condabuild/pkg/amira"
	"github.com/nsls2forge/condabuild/pkg/cliutil"
)

func init() {
	var flagFormat string
	cmd := &cobra.Command{
		Use:   "export [flags] IN_AMFILE >OUT",
		Short: "Decode an AmiraMesh file's volume data",
		Long: "Decode the volume (RLE-compressed or raw) and write it to stdout: " +
			"--format npy for a NumPy .npy file, --format raw for the bare decoded " +
			"bytes in C order.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() {
				_ = fh.Close()
			}()

			_, arr, err := amira.Decode(fh)
			if err != nil {
				return err
			}
			switch flagFormat {
			case "npy":
				return amira.WriteNPY(os.Stdout, arr)
			case "raw":
				_, err := os.Stdout.Write(arr.Data)
				return err
			default:
				return fmt.Errorf("invalid --format %q: expected \"npy\" or \"raw\"", flagFormat)
			}
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "",
		"Output `FORMAT`: \"npy\" or \"raw\"")
	if err := cmd.MarkFlagRequired("format"); err != nil {
		panic(err)
	}

	argparserAmira.AddCommand(cmd)
}
