// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package channel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsls2forge/condabuild/pkg/conda/channel"
	"github.com/nsls2forge/condabuild/pkg/conda/matchspec"
)

func testContext(t *testing.T) context.Context {
	return dlog.NewTestContext(t, false)
}

func repodataWith(subdir string, recs ...channel.Record) *channel.RepoData {
	ret := &channel.RepoData{
		Packages:      make(map[string]channel.Record),
		PackagesConda: make(map[string]channel.Record),
	}
	ret.Info.Subdir = subdir
	for _, rec := range recs {
		rec.Subdir = subdir
		ret.Packages[rec.Filename] = rec
	}
	return ret
}

func TestCandidatesOrdering(t *testing.T) {
	t.Parallel()
	idx := channel.IndexFromRepoData(repodataWith("linux-64",
		channel.Record{Name: "numpy", Version: "1.10.4", Build: "py35_0", Filename: "numpy-1.10.4-py35_0.tar.bz2"},
		channel.Record{Name: "numpy", Version: "1.11.0", Build: "py35_0", BuildNumber: 0, Filename: "numpy-1.11.0-py35_0.tar.bz2"},
		channel.Record{Name: "numpy", Version: "1.11.0", Build: "py35_2", BuildNumber: 2, Filename: "numpy-1.11.0-py35_2.tar.bz2"},
		channel.Record{Name: "numpy", Version: "1.9.3", Build: "py27_0", Filename: "numpy-1.9.3-py27_0.tar.bz2"},
	))

	spec, err := matchspec.Parse("numpy")
	require.NoError(t, err)
	candidates := idx.Candidates(*spec)
	require.Len(t, candidates, 4)
	// Newest version first, then highest build number.
	assert.Equal(t, "numpy-1.11.0-py35_2.tar.bz2", candidates[0].Filename)
	assert.Equal(t, "numpy-1.11.0-py35_0.tar.bz2", candidates[1].Filename)
	assert.Equal(t, "numpy-1.10.4-py35_0.tar.bz2", candidates[2].Filename)
	assert.Equal(t, "numpy-1.9.3-py27_0.tar.bz2", candidates[3].Filename)

	spec, err = matchspec.Parse("numpy 1.11*")
	require.NoError(t, err)
	assert.Len(t, idx.Candidates(*spec), 2)
}

func TestIndexFirstChannelWins(t *testing.T) {
	t.Parallel()
	idx := channel.IndexFromRepoData(
		repodataWith("linux-64",
			channel.Record{Name: "six", Version: "1.10.0", Build: "py35_0", BuildNumber: 7, Filename: "six-1.10.0-py35_0.tar.bz2"}),
		repodataWith("linux-64",
			channel.Record{Name: "six", Version: "1.10.0", Build: "py35_0", BuildNumber: 0, Filename: "six-1.10.0-py35_0.tar.bz2"}),
	)
	spec, err := matchspec.Parse("six")
	require.NoError(t, err)
	candidates := idx.Candidates(*spec)
	require.Len(t, candidates, 1)
	assert.Equal(t, 7, candidates[0].BuildNumber)
}

func TestCheckDepends(t *testing.T) {
	t.Parallel()
	idx := channel.IndexFromRepoData(repodataWith("linux-64",
		channel.Record{Name: "python", Version: "3.5.1", Build: "0", Filename: "python-3.5.1-0.tar.bz2"},
		channel.Record{Name: "numpy", Version: "1.11.0", Build: "py35_0", Filename: "numpy-1.11.0-py35_0.tar.bz2"},
		channel.Record{Name: "six", Version: "1.10.0", Build: "py35_0", Filename: "six-1.10.0-py35_0.tar.bz2"},
	))

	report := idx.CheckDepends([]string{"python", "numpy 1.11*", "six", "xraylib"})
	require.Len(t, report.Verdicts, 4)
	assert.NoError(t, report.Verdicts[0].Err)
	assert.NoError(t, report.Verdicts[1].Err)
	assert.Equal(t, "numpy-1.11.0-py35_0.tar.bz2", report.Verdicts[1].Best.Filename)
	assert.NoError(t, report.Verdicts[2].Err)
	assert.Error(t, report.Verdicts[3].Err)

	err := report.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xraylib")
	assert.NotContains(t, err.Error(), "numpy")
}

func TestGetRepoDataHTTP(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/channel/linux-64/repodata.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"info": {"subdir": "linux-64"},
			"packages": {
				"skxray-0.0.5-np111py35_0.tar.bz2": {
					"name": "skxray", "version": "0.0.5", "build": "np111py35_0",
					"build_number": 0, "depends": ["python", "numpy"]
				}
			}
		}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := channel.Client{BaseURL: srv.URL + "/channel"}
	repodata, err := c.GetRepoData(ctx, "linux-64")
	require.NoError(t, err)
	require.Len(t, repodata.Packages, 1)
	rec := repodata.Packages["skxray-0.0.5-np111py35_0.tar.bz2"]
	assert.Equal(t, "skxray", rec.Name)
	assert.Equal(t, "skxray-0.0.5-np111py35_0.tar.bz2", rec.Filename)
}

func TestGetRepoDataHTMLFallback(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/pkgs/linux-64/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pkgs/linux-64/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<html><body><pre>
<a href="skxray-0.0.5-np111py35_0.tar.bz2">skxray-0.0.5-np111py35_0.tar.bz2</a>
<a href="six-1.10.0-py35_0.conda">six-1.10.0-py35_0.conda</a>
<a href="../">../</a>
</pre></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := channel.Client{BaseURL: srv.URL + "/pkgs"}
	repodata, err := c.GetRepoData(ctx, "linux-64")
	require.NoError(t, err)
	require.Len(t, repodata.Packages, 1)
	require.Len(t, repodata.PackagesConda, 1)
	assert.Equal(t, "skxray", repodata.Packages["skxray-0.0.5-np111py35_0.tar.bz2"].Name)
	assert.Equal(t, "1.10.0", repodata.PackagesConda["six-1.10.0-py35_0.conda"].Version)
}

func TestGetRepoDataDir(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "noarch"), 0o777))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "noarch", "lmfit-0.9.3-py_0.tar.bz2"), []byte("not really a package"), 0o666))

	c := channel.Client{BaseURL: dir}
	repodata, err := c.GetRepoData(ctx, "noarch")
	require.NoError(t, err)
	require.Len(t, repodata.Packages, 1)
	assert.Equal(t, "lmfit", repodata.Packages["lmfit-0.9.3-py_0.tar.bz2"].Name)
}
