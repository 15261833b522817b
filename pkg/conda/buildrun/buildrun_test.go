// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package buildrun_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsls2forge/condabuild/pkg/conda/buildrun"
	"github.com/nsls2forge/condabuild/pkg/conda/recipe"
	"github.com/nsls2forge/condabuild/pkg/conda/variant"
)

func testContext(t *testing.T) context.Context {
	return dlog.NewTestContext(t, false)
}

func TestRunInlineScript(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	recipeDir := t.TempDir()
	prefix := t.TempDir()
	// A file that predates the build must not count as payload.
	require.NoError(t, os.WriteFile(filepath.Join(prefix, "preexisting"), []byte("x"), 0o644))

	r := &recipe.Recipe{
		Package: recipe.Package{Name: "x", Version: "1.0"},
		Build: recipe.Build{
			Script: `mkdir -p "$PREFIX/lib" &&
printf '%s\n' "$PY_VER" > "$PREFIX/lib/pyver" &&
printf '%s\n' "$GIT_DESCRIBE_TAG" > "$PREFIX/lib/tag"`,
		},
	}

	payload, err := buildrun.Run(ctx, buildrun.Config{
		Recipe:     r,
		RecipeDir:  recipeDir,
		Variant:    variant.Variant{Subdir: "linux-64", Py: "35", Np: "111"},
		Prefix:     prefix,
		GitEnviron: map[string]string{"GIT_DESCRIBE_TAG": "v0.1.0"},
	})
	require.NoError(t, err)

	names := make([]string, 0, len(payload))
	for _, file := range payload {
		names = append(names, file.FullName())
	}
	assert.Contains(t, names, "lib/pyver")
	assert.Contains(t, names, "lib/tag")
	assert.NotContains(t, names, "preexisting")

	content, err := os.ReadFile(filepath.Join(prefix, "lib", "pyver"))
	require.NoError(t, err)
	assert.Equal(t, "3.5\n", string(content))
	content, err = os.ReadFile(filepath.Join(prefix, "lib", "tag"))
	require.NoError(t, err)
	assert.Equal(t, "v0.1.0\n", string(content))
}

func TestRunScriptFile(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	recipeDir := t.TempDir()
	prefix := t.TempDir()
	script := "#!/bin/bash\nset -e\ntouch \"$PREFIX/from-build-sh\"\ntest \"$RECIPE_DIR\" = " +
		"\"" + recipeDir + "\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(recipeDir, "build.sh"), []byte(script), 0o755))

	payload, err := buildrun.Run(ctx, buildrun.Config{
		Recipe:    &recipe.Recipe{Package: recipe.Package{Name: "x", Version: "1.0"}},
		RecipeDir: recipeDir,
		Variant:   variant.Variant{Subdir: "linux-64", Py: "35", Np: "111"},
		Prefix:    prefix,
	})
	require.NoError(t, err)
	require.Len(t, payload, 1)
	assert.Equal(t, "from-build-sh", payload[0].FullName())
}

func TestRunFailure(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	_, err := buildrun.Run(ctx, buildrun.Config{
		Recipe: &recipe.Recipe{
			Package: recipe.Package{Name: "x", Version: "1.0"},
			Build:   recipe.Build{Script: "exit 3"},
		},
		RecipeDir: t.TempDir(),
		Prefix:    t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
}
