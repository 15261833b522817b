// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package cpkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// IndexJSON is `info/index.json`: the package's own repodata record.
type IndexJSON struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int      `json:"build_number"`
	Depends     []string `json:"depends"`
	License     string   `json:"license,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	Arch        string   `json:"arch,omitempty"`
	Subdir      string   `json:"subdir,omitempty"`
	NoArch      string   `json:"noarch,omitempty"`
	Timestamp   int64    `json:"timestamp,omitempty"`
}

// AboutJSON is `info/about.json`.
type AboutJSON struct {
	Home        string `json:"home,omitempty"`
	License     string `json:"license,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	DevURL      string `json:"dev_url,omitempty"`
	DocURL      string `json:"doc_url,omitempty"`
}

type PrefixMode string

const (
	PrefixText   PrefixMode = "text"
	PrefixBinary PrefixMode = "binary"
)

// DefaultPlaceholder is the build-prefix string conda bakes in when
// `info/has_prefix` lines carry only a path.
const DefaultPlaceholder = "/opt/anaconda1anaconda2anaconda3"

// A HasPrefixEntry is one line of `info/has_prefix`: a file that has the build
// prefix baked in to it and needs rewriting at install time.
type HasPrefixEntry struct {
	Placeholder string
	Mode        PrefixMode
	Path        string
}

// LinkJSON is `info/link.json`, present in noarch packages.
type LinkJSON struct {
	NoArch struct {
		Type        string   `json:"type"`
		EntryPoints []string `json:"entry_points,omitempty"`
	} `json:"noarch"`
	PackageMetadataVersion int `json:"package_metadata_version"`
}

// Info is the parsed `info/` directory.
type Info struct {
	Index IndexJSON `json:"index"`
	About AboutJSON `json:"about,omitempty"`
	// Files is `info/files`: payload paths, one per line.
	Files     []string         `json:"files,omitempty"`
	HasPrefix []HasPrefixEntry `json:"has_prefix,omitempty"`
	// Link is nil unless the package has an `info/link.json`.
	Link *LinkJSON `json:"link,omitempty"`
}

// Info parses the package's `info/` metadata.  Only `info/index.json` is
// mandatory.
func (pkg *Package) Info() (*Info, error) {
	vfs, err := pkg.FS()
	if err != nil {
		return nil, fmt.Errorf("cpkg.Info: %q: %w", pkg.Filename, err)
	}

	ret := &Info{}

	content, err := fs.ReadFile(vfs, "info/index.json")
	if err != nil {
		return nil, fmt.Errorf("cpkg.Info: %q: info/index.json: %w", pkg.Filename, err)
	}
	if err := json.Unmarshal(content, &ret.Index); err != nil {
		return nil, fmt.Errorf("cpkg.Info: %q: info/index.json: %w", pkg.Filename, err)
	}

	if content, err := fs.ReadFile(vfs, "info/about.json"); err == nil {
		if err := json.Unmarshal(content, &ret.About); err != nil {
			return nil, fmt.Errorf("cpkg.Info: %q: info/about.json: %w", pkg.Filename, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cpkg.Info: %q: %w", pkg.Filename, err)
	}

	if content, err := fs.ReadFile(vfs, "info/files"); err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				ret.Files = append(ret.Files, line)
			}
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cpkg.Info: %q: %w", pkg.Filename, err)
	}

	if content, err := fs.ReadFile(vfs, "info/has_prefix"); err == nil {
		ret.HasPrefix, err = parseHasPrefix(string(content))
		if err != nil {
			return nil, fmt.Errorf("cpkg.Info: %q: info/has_prefix: %w", pkg.Filename, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cpkg.Info: %q: %w", pkg.Filename, err)
	}

	if content, err := fs.ReadFile(vfs, "info/link.json"); err == nil {
		ret.Link = &LinkJSON{}
		if err := json.Unmarshal(content, ret.Link); err != nil {
			return nil, fmt.Errorf("cpkg.Info: %q: info/link.json: %w", pkg.Filename, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cpkg.Info: %q: %w", pkg.Filename, err)
	}

	return ret, nil
}

// parseHasPrefix parses `info/has_prefix`.  Each line is either a bare path,
// or `placeholder mode path`; fields may be double-quoted if they contain
// spaces.
func parseHasPrefix(content string) ([]HasPrefixEntry, error) {
	var ret []HasPrefixEntry
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, err := splitQuoted(line)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", line, err)
		}
		switch len(fields) {
		case 1:
			ret = append(ret, HasPrefixEntry{
				Placeholder: DefaultPlaceholder,
				Mode:        PrefixText,
				Path:        fields[0],
			})
		case 3:
			mode := PrefixMode(fields[1])
			if mode != PrefixText && mode != PrefixBinary {
				return nil, fmt.Errorf("%q: bad mode %q", line, fields[1])
			}
			ret = append(ret, HasPrefixEntry{
				Placeholder: fields[0],
				Mode:        mode,
				Path:        fields[2],
			})
		default:
			return nil, fmt.Errorf("%q: expected 1 or 3 fields, got %d", line, len(fields))
		}
	}
	return ret, nil
}

func splitQuoted(line string) ([]string, error) {
	var ret []string
	rest := strings.TrimSpace(line)
	for rest != "" {
		if rest[0] == '"' {
			end := strings.Index(rest[1:], `"`)
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote")
			}
			field, err := strconv.Unquote(rest[:end+2])
			if err != nil {
				return nil, err
			}
			ret = append(ret, field)
			rest = strings.TrimLeft(rest[end+2:], " \t")
		} else {
			end := strings.IndexAny(rest, " \t")
			if end < 0 {
				ret = append(ret, rest)
				break
			}
			ret = append(ret, rest[:end])
			rest = strings.TrimLeft(rest[end:], " \t")
		}
	}
	return ret, nil
}
