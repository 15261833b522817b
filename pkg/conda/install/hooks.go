// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package install

import (
	"context"
	"fmt"
	"strings"

	"github.com/nsls2forge/condabuild/pkg/fsutil"
	"github.com/nsls2forge/condabuild/pkg/python"
	"github.com/nsls2forge/condabuild/pkg/reproducible"
)

// CompilePyc returns a hook that byte-compiles every placed .py file with the
// platform's compiler and adds the resulting .pyc files to the layer.
func CompilePyc(plat python.Platform) PostInstallHook {
	return func(ctx context.Context, vfs map[string]fsutil.FileReference) error {
		var srcs []fsutil.FileReference
		for _, file := range vfs {
			if !strings.HasSuffix(file.Name(), ".py") {
				continue
			}
			srcs = append(srcs, file)
		}
		if len(srcs) == 0 {
			return nil
		}
		outs, err := plat.PyCompile(ctx, reproducible.Now(), []string{
			plat.Scheme.PureLib,
			plat.Scheme.PlatLib,
		}, srcs)
		if err != nil {
			return fmt.Errorf("py_compile: %w", err)
		}
		for _, newFile := range outs {
			vfs[newFile.FullName()] = newFile
		}
		return nil
	}
}
