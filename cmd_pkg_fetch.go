// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"io"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nsls2forge/condabuild/pkg/cliutil"
	"github.com/nsls2forge/condabuild/pkg/conda/channel"
	"github.com/nsls2forge/condabuild/pkg/conda/matchspec"
)

// fetchBar returns a byte-count progress bar on stderr, or an invisible one
// when stderr is not a terminal or --quiet is given.
func fetchBar(length int64, desc string, quiet bool) *progressbar.ProgressBar {
	if quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}
	return progressbar.DefaultBytes(length, desc)
}

func init() {
	var flags struct {
		Subdir string
		Quiet  bool
	}
	cflags := (*channelFlags)(nil)
	cmd := &cobra.Command{
		Use:   "fetch [flags] MATCHSPEC >OUT_PKGFILE",
		Short: "Download the best package matching a spec to stdout",
		Long: "Resolve MATCHSPEC against the channels, download the winning " +
			"candidate, and stream it to stdout.  The download is verified against " +
			"the size and digest its repodata record declares.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			spec, err := matchspec.Parse(args[0])
			if err != nil {
				return err
			}

			clients, closeCache := cflags.clients(ctx)
			defer closeCache()
			idx, err := channel.GetIndex(ctx, clients, flags.Subdir)
			if err != nil {
				return err
			}
			rec, err := idx.Resolve(*spec)
			if err != nil {
				return err
			}
			dlog.Infof(ctx, "resolved %q to %s/%s", args[0], rec.Subdir, rec.Filename)

			bar := fetchBar(rec.Size, rec.Filename, flags.Quiet)
			n, err := clients[rec.Channel].Download(ctx, rec, io.MultiWriter(os.Stdout, bar))
			_ = bar.Finish()
			if err != nil {
				return err
			}
			dlog.Infof(ctx, "wrote %d bytes", n)
			return nil
		},
	}
	cflags = addChannelFlags(cmd)
	cmd.Flags().StringVar(&flags.Subdir, "subdir", "linux-64",
		"Repodata `SUBDIR` to resolve in (the noarch subdir is always consulted too)")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false,
		"Do not draw a progress bar")
	if err := cmd.MarkFlagRequired("channel"); err != nil {
		panic(err)
	}

	argparserPkg.AddCommand(cmd)
}
