// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package channel speaks the conda channel protocol: `<base>/<subdir>/repodata.json`
// indexes over HTTP or plain directories, with an HTML-autoindex fallback for
// servers that serve package files but no repodata.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/net/html"

	"github.com/nsls2forge/condabuild/pkg/conda/cache"
	"github.com/nsls2forge/condabuild/pkg/conda/cpkg"
	"github.com/nsls2forge/condabuild/pkg/htmlutil"
)

// RepoData is one `<subdir>/repodata.json` document.
type RepoData struct {
	Info struct {
		Subdir string `json:"subdir"`
	} `json:"info"`
	// Packages maps `.tar.bz2` filenames to records; PackagesConda maps
	// `.conda` filenames.
	Packages      map[string]Record `json:"packages"`
	PackagesConda map[string]Record `json:"packages.conda"`
	Removed       []string          `json:"removed,omitempty"`
}

// A Record is one package file's entry in repodata.
type Record struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int      `json:"build_number"`
	Depends     []string `json:"depends,omitempty"`
	License     string   `json:"license,omitempty"`
	MD5         string   `json:"md5,omitempty"`
	SHA256      string   `json:"sha256,omitempty"`
	Size        int64    `json:"size,omitempty"`
	Subdir      string   `json:"subdir,omitempty"`
	Timestamp   int64    `json:"timestamp,omitempty"`

	// Filename is the repodata map key, filled in after parsing.
	Filename string `json:"-"`
	// Channel is the position of the owning channel in the client list an
	// Index was built from; 0 outside of an Index.
	Channel int `json:"-"`
}

type Client struct {
	// BaseURL is the channel base: an http(s) URL, a file:// URL, or a plain
	// directory path.
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	// Cache, if non-nil, is consulted before HTTP and filled after.
	Cache    *cache.Cache
	CacheTTL time.Duration
}

const defaultCacheTTL = time.Hour

func (c *Client) fillDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.UserAgent == "" {
		c.UserAgent = "github.com/nsls2forge/condabuild/pkg/conda/channel"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaultCacheTTL
	}
}

type HTTPError struct {
	URL        string
	Status     string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %q => HTTP %s", e.URL, e.Status)
}

// isFilePath reports whether the channel base is a plain directory rather than
// something to speak HTTP to.
func (c Client) isFilePath() (string, bool) {
	if strings.HasPrefix(c.BaseURL, "file://") {
		return strings.TrimPrefix(c.BaseURL, "file://"), true
	}
	if !strings.Contains(c.BaseURL, "://") {
		return c.BaseURL, true
	}
	return "", false
}

func (c Client) get(ctx context.Context, requestURL string) (_ []byte, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("GET %q => %w", requestURL, err)
		}
	}()
	c.fillDefaults()

	if c.Cache != nil {
		if content, ok, err := c.Cache.Get(requestURL); err == nil && ok {
			dlog.Debugf(ctx, "cache hit: %s", requestURL)
			return content, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if err := resp.Body.Close(); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: requestURL, Status: resp.Status, StatusCode: resp.StatusCode}
	}

	if c.Cache != nil {
		if err := c.Cache.Put(requestURL, content, c.CacheTTL); err != nil {
			dlog.Warnf(ctx, "cache: %v", err)
		}
	}
	return content, nil
}

func (c Client) subdirURL(subdir string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	u.Path = path.Join(u.Path, subdir)
	return u.String(), nil
}

// GetRepoData fetches and parses `<base>/<subdir>/repodata.json`.  When the
// server has no repodata.json (HTTP 404) but does serve an HTML autoindex of
// package files, records are synthesized from the filenames.
func (c Client) GetRepoData(ctx context.Context, subdir string) (*RepoData, error) {
	repodata, err := c.getRepoData(ctx, subdir)
	if err != nil {
		return nil, fmt.Errorf("channel.GetRepoData: %w", err)
	}
	for fname := range repodata.Packages {
		rec := repodata.Packages[fname]
		rec.Filename = fname
		repodata.Packages[fname] = rec
	}
	for fname := range repodata.PackagesConda {
		rec := repodata.PackagesConda[fname]
		rec.Filename = fname
		repodata.PackagesConda[fname] = rec
	}
	return repodata, nil
}

func (c Client) getRepoData(ctx context.Context, subdir string) (*RepoData, error) {
	if dir, ok := c.isFilePath(); ok {
		return c.getRepoDataFile(ctx, dir, subdir)
	}

	base, err := c.subdirURL(subdir)
	if err != nil {
		return nil, err
	}
	content, err := c.get(ctx, base+"/repodata.json")
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			dlog.Infof(ctx, "%s: no repodata.json; falling back to HTML autoindex", base)
			return c.getRepoDataHTML(ctx, base)
		}
		return nil, err
	}
	var ret RepoData
	if err := json.Unmarshal(content, &ret); err != nil {
		return nil, fmt.Errorf("%s/repodata.json: %w", base, err)
	}
	return &ret, nil
}

func (c Client) getRepoDataFile(_ context.Context, dir, subdir string) (*RepoData, error) {
	content, err := os.ReadFile(filepath.Join(dir, subdir, "repodata.json"))
	if err == nil {
		var ret RepoData
		if err := json.Unmarshal(content, &ret); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Join(dir, subdir, "repodata.json"), err)
		}
		return &ret, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	// No repodata.json: synthesize from the directory listing.
	entries, err := os.ReadDir(filepath.Join(dir, subdir))
	if err != nil {
		return nil, err
	}
	ret := newSynthesized(subdir)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ret.addSynthesized(subdir, entry.Name())
	}
	return ret, nil
}

func (c Client) getRepoDataHTML(ctx context.Context, base string) (*RepoData, error) {
	content, err := c.get(ctx, base+"/")
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	anchors, err := htmlutil.Anchors(doc)
	if err != nil {
		return nil, err
	}
	ret := newSynthesized(path.Base(base))
	for _, anchor := range anchors {
		// Autoindexes link the filename as both href and text; trust the href.
		ret.addSynthesized(path.Base(base), path.Base(anchor.Href))
	}
	return ret, nil
}

func newSynthesized(subdir string) *RepoData {
	ret := &RepoData{
		Packages:      make(map[string]Record),
		PackagesConda: make(map[string]Record),
	}
	ret.Info.Subdir = subdir
	return ret
}

// addSynthesized adds a minimal Record parsed from a package filename; non-package
// filenames are ignored.
func (r *RepoData) addSynthesized(subdir, fname string) {
	info, err := cpkg.ParseFilename(fname)
	if err != nil {
		return
	}
	rec := Record{
		Name:     info.Name,
		Version:  info.Version,
		Build:    info.Build,
		Subdir:   subdir,
		Filename: fname,
	}
	if strings.HasSuffix(fname, ".conda") {
		r.PackagesConda[fname] = rec
	} else {
		r.Packages[fname] = rec
	}
}

// FileURL returns the download location of a record previously returned from
// this client's repodata.
func (c Client) FileURL(rec Record) (string, error) {
	if dir, ok := c.isFilePath(); ok {
		return filepath.Join(dir, rec.Subdir, rec.Filename), nil
	}
	base, err := c.subdirURL(rec.Subdir)
	if err != nil {
		return "", err
	}
	return base + "/" + rec.Filename, nil
}
