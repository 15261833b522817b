// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package channel

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"

	"github.com/datawire/dlib/dlog"

	"github.com/nsls2forge/condabuild/pkg/python"
)

// A HashMismatchError means a downloaded package file did not match the digest
// its repodata record declares.
type HashMismatchError struct {
	Filename  string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%q: %s mismatch: repodata says %s, downloaded file is %s",
		e.Filename, e.Algorithm, e.Expected, e.Actual)
}

// recordDigest picks the strongest digest the record carries, by its Python
// hashlib name.
func recordDigest(rec Record) (algorithm, expected string) {
	switch {
	case rec.SHA256 != "":
		return "sha256", rec.SHA256
	case rec.MD5 != "":
		return "md5", rec.MD5
	default:
		return "", ""
	}
}

// Download streams the package file rec describes in to w, verifying its size
// and digest against the record.  Records synthesized from autoindexes or
// directory listings carry no digest; those download unverified, with a log
// line saying so.
func (c Client) Download(ctx context.Context, rec Record, w io.Writer) (_ int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("channel.Download: %w", err)
		}
	}()
	c.fillDefaults()

	location, err := c.FileURL(rec)
	if err != nil {
		return 0, err
	}

	var body io.ReadCloser
	if _, isFile := c.isFilePath(); isFile {
		body, err = os.Open(location)
		if err != nil {
			return 0, err
		}
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return 0, err
		}
		req.Header.Set("User-Agent", c.UserAgent)
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return 0, err
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return 0, &HTTPError{URL: location, Status: resp.Status, StatusCode: resp.StatusCode}
		}
		body = resp.Body
	}
	defer func() {
		if closeErr := body.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	algorithm, expected := recordDigest(rec)
	var digest hash.Hash
	if algorithm == "" {
		dlog.Warnf(ctx, "%s: repodata record carries no digest; not verifying", rec.Filename)
	} else {
		newHash, ok := python.HashlibAlgorithmsGuaranteed[algorithm]
		if !ok {
			return 0, fmt.Errorf("%q: unsupported digest algorithm %q", rec.Filename, algorithm)
		}
		digest = newHash()
		w = io.MultiWriter(w, digest)
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return n, err
	}
	if rec.Size != 0 && n != rec.Size {
		return n, fmt.Errorf("%q: downloaded %d bytes, repodata says %d", rec.Filename, n, rec.Size)
	}
	if digest != nil {
		if actual := hex.EncodeToString(digest.Sum(nil)); actual != expected {
			return n, &HashMismatchError{
				Filename:  rec.Filename,
				Algorithm: algorithm,
				Expected:  expected,
				Actual:    actual,
			}
		}
	}
	return n, nil
}
