// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package install_test

import (
	"archive/tar"
	"bytes"
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsls2forge/condabuild/pkg/conda/cpkg"
	"github.com/nsls2forge/condabuild/pkg/conda/install"
	"github.com/nsls2forge/condabuild/pkg/fsutil"
	"github.com/nsls2forge/condabuild/pkg/python"
)

func testContext(t *testing.T) context.Context {
	return dlog.NewTestContext(t, false)
}

func testPlatform(t *testing.T) python.Platform {
	plat := python.Platform{
		ConsoleShebang: "/opt/env/bin/python",
		Scheme: python.Scheme{
			PureLib: "/opt/env/lib/python3.5/site-packages",
			PlatLib: "/opt/env/lib/python3.5/site-packages",
			Headers: "/opt/env/include/python3.5",
			Scripts: "/opt/env/bin",
			Data:    "/opt/env",
		},
		UID:   0,
		GID:   0,
		UName: "root",
		GName: "root",
	}
	require.NoError(t, plat.Init())
	return plat
}

func memFile(fullName string, content []byte, mode int64) fsutil.FileReference {
	return &fsutil.InMemFileReference{
		FileInfo: (&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     fullName,
			Mode:     mode,
			Size:     int64(len(content)),
			ModTime:  time.Unix(1462060800, 0),
		}).FileInfo(),
		MFullName: fullName,
		MContent:  content,
	}
}

func buildPackage(t *testing.T, info *cpkg.Info, payload []fsutil.FileReference) *cpkg.Package {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, cpkg.Build(&buf, info, payload, time.Unix(1462060800, 0)))
	fname := cpkg.FilenameInfo{
		Name: info.Index.Name, Version: info.Index.Version, Build: info.Index.Build, Ext: ".conda",
	}.String()
	pkg, err := cpkg.Parse(fname, buf.Bytes())
	require.NoError(t, err)
	return pkg
}

func TestInstallPlacesUnderPrefix(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	plat := testPlatform(t)

	pkg := buildPackage(t,
		&cpkg.Info{Index: cpkg.IndexJSON{Name: "skxray", Version: "0.0.5", Build: "np111py35_0"}},
		[]fsutil.FileReference{
			memFile("lib/python3.5/site-packages/skxray/__init__.py", []byte("__version__ = '0.0.5'\n"), 0o644),
		})

	layer, err := install.InstallPackage(ctx, plat, "/opt/env", pkg, install.Options{})
	require.NoError(t, err)

	vfs, err := fsutil.FSFromLayers(layer)
	require.NoError(t, err)
	_, err = fs.Stat(vfs, "opt/env/lib/python3.5/site-packages/skxray/__init__.py")
	assert.NoError(t, err)
	// Parent directories got synthesized.
	fi, err := fs.Stat(vfs, "opt/env/lib")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestInstallTextPlaceholder(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	plat := testPlatform(t)

	pkg := buildPackage(t,
		&cpkg.Info{
			Index: cpkg.IndexJSON{Name: "x", Version: "1.0", Build: "0"},
			HasPrefix: []cpkg.HasPrefixEntry{
				{Placeholder: "/build/placehold", Mode: cpkg.PrefixText, Path: "bin/x-tool"},
			},
		},
		[]fsutil.FileReference{
			memFile("bin/x-tool", []byte("#!/build/placehold/bin/python\nprint('hi')\n"), 0o755),
		})

	layer, err := install.InstallPackage(ctx, plat, "/opt/env", pkg, install.Options{})
	require.NoError(t, err)

	vfs, err := fsutil.FSFromLayers(layer)
	require.NoError(t, err)
	content, err := fs.ReadFile(vfs, "opt/env/bin/x-tool")
	require.NoError(t, err)
	assert.Equal(t, "#!/opt/env/bin/python\nprint('hi')\n", string(content))
}

func TestInstallBinaryPlaceholder(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	plat := testPlatform(t)

	placeholder := "/build/very-long-placeholder-prefix"
	orig := append(append([]byte("\x7fELF junk "), []byte(placeholder+"/lib\x00more junk")...), 0x01)
	pkg := buildPackage(t,
		&cpkg.Info{
			Index: cpkg.IndexJSON{Name: "x", Version: "1.0", Build: "0"},
			HasPrefix: []cpkg.HasPrefixEntry{
				{Placeholder: placeholder, Mode: cpkg.PrefixBinary, Path: "lib/libx.so"},
			},
		},
		[]fsutil.FileReference{memFile("lib/libx.so", orig, 0o755)})

	layer, err := install.InstallPackage(ctx, plat, "/opt/env", pkg, install.Options{})
	require.NoError(t, err)

	vfs, err := fsutil.FSFromLayers(layer)
	require.NoError(t, err)
	content, err := fs.ReadFile(vfs, "opt/env/lib/libx.so")
	require.NoError(t, err)
	assert.Len(t, content, len(orig), "binary rewrite must not change the file size")
	assert.Contains(t, string(content), "/opt/env/lib\x00")
	assert.NotContains(t, string(content), placeholder)
}

func TestInstallBinaryPlaceholderTooShort(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	plat := testPlatform(t)

	pkg := buildPackage(t,
		&cpkg.Info{
			Index: cpkg.IndexJSON{Name: "x", Version: "1.0", Build: "0"},
			HasPrefix: []cpkg.HasPrefixEntry{
				{Placeholder: "/b", Mode: cpkg.PrefixBinary, Path: "lib/libx.so"},
			},
		},
		[]fsutil.FileReference{memFile("lib/libx.so", []byte("/b\x00"), 0o755)})

	_, err := install.InstallPackage(ctx, plat, "/opt/env", pkg, install.Options{})
	require.Error(t, err)
	var tooShort *install.PlaceholderTooShortError
	assert.ErrorAs(t, err, &tooShort)
}

func TestInstallNoArchSpread(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	plat := testPlatform(t)

	info := &cpkg.Info{
		Index: cpkg.IndexJSON{Name: "lmfit", Version: "0.9.3", Build: "py_0", NoArch: "python"},
		Link:  &cpkg.LinkJSON{PackageMetadataVersion: 1},
	}
	info.Link.NoArch.Type = "python"
	info.Link.NoArch.EntryPoints = []string{"lmfit-cli = lmfit.cli:main"}

	pkg := buildPackage(t, info, []fsutil.FileReference{
		memFile("site-packages/lmfit/__init__.py", []byte(""), 0o644),
		memFile("python-scripts/lmfit-helper", []byte("#!python\nprint('x')\n"), 0o755),
	})

	layer, err := install.InstallPackage(ctx, plat, "/opt/env", pkg, install.Options{})
	require.NoError(t, err)

	vfs, err := fsutil.FSFromLayers(layer)
	require.NoError(t, err)

	_, err = fs.Stat(vfs, "opt/env/lib/python3.5/site-packages/lmfit/__init__.py")
	assert.NoError(t, err, "site-packages/ spreads in to purelib")

	helper, err := fs.ReadFile(vfs, "opt/env/bin/lmfit-helper")
	require.NoError(t, err)
	assert.Equal(t, "#!/opt/env/bin/python\nprint('x')\n", string(helper))

	script, err := fs.ReadFile(vfs, "opt/env/bin/lmfit-cli")
	require.NoError(t, err)
	assert.Contains(t, string(script), "#!/opt/env/bin/python")
	assert.Contains(t, string(script), "from lmfit.cli import main")
	fi, err := fs.Stat(vfs, "opt/env/bin/lmfit-cli")
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o755), fi.Mode().Perm())
}

func TestInstallHook(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	plat := testPlatform(t)

	pkg := buildPackage(t,
		&cpkg.Info{Index: cpkg.IndexJSON{Name: "x", Version: "1.0", Build: "0"}},
		[]fsutil.FileReference{memFile("share/doc/x/README", []byte("hi"), 0o644)})

	layer, err := install.InstallPackage(ctx, plat, "/opt/env", pkg, install.Options{
		Hooks: []install.PostInstallHook{
			func(_ context.Context, vfs map[string]fsutil.FileReference) error {
				delete(vfs, "opt/env/share/doc/x/README")
				return nil
			},
		},
	})
	require.NoError(t, err)

	vfs, err := fsutil.FSFromLayers(layer)
	require.NoError(t, err)
	_, err = fs.Stat(vfs, "opt/env/share/doc/x/README")
	assert.Error(t, err)
}
