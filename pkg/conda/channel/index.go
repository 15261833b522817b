// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nsls2forge/condabuild/pkg/conda/matchspec"
	"github.com/nsls2forge/condabuild/pkg/conda/version"
)

// An Index is the merged view of one subdir (plus noarch) across an ordered
// list of channels.  On a filename collision the earlier channel wins, which is
// how conda itself prioritizes channels.
type Index struct {
	// byName maps package names to every record offering that name, in no
	// particular order.
	byName map[string][]Record
}

// GetIndex fetches `<subdir>/repodata.json` and `noarch/repodata.json` from
// every channel concurrently and merges them in channel order.
func GetIndex(ctx context.Context, channels []Client, subdir string) (*Index, error) {
	subdirs := []string{subdir}
	if subdir != "noarch" {
		subdirs = append(subdirs, "noarch")
	}

	fetched := make([]*RepoData, len(channels)*len(subdirs))
	grp, ctx := errgroup.WithContext(ctx)
	for i := range channels {
		for j := range subdirs {
			i, j := i, j
			grp.Go(func() error {
				repodata, err := channels[i].GetRepoData(ctx, subdirs[j])
				if err != nil {
					return err
				}
				fetched[i*len(subdirs)+j] = repodata
				return nil
			})
		}
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	ret := &Index{byName: make(map[string][]Record)}
	seen := make(map[string]struct{})
	for i, repodata := range fetched {
		ret.merge(repodata, i/len(subdirs), seen)
	}
	return ret, nil
}

// IndexFromRepoData builds an Index without any fetching; handy for tests and
// for single-channel use.
func IndexFromRepoData(repodatas ...*RepoData) *Index {
	ret := &Index{byName: make(map[string][]Record)}
	seen := make(map[string]struct{})
	for _, repodata := range repodatas {
		ret.merge(repodata, 0, seen)
	}
	return ret
}

func (idx *Index) merge(repodata *RepoData, channel int, seen map[string]struct{}) {
	add := func(rec Record) {
		if _, dup := seen[rec.Filename]; dup {
			return
		}
		seen[rec.Filename] = struct{}{}
		rec.Channel = channel
		if rec.Subdir == "" {
			rec.Subdir = repodata.Info.Subdir
		}
		idx.byName[rec.Name] = append(idx.byName[rec.Name], rec)
	}
	for _, rec := range repodata.Packages {
		add(rec)
	}
	for _, rec := range repodata.PackagesConda {
		add(rec)
	}
}

// Candidates returns every record matching the spec, sorted best-first: newest
// version, then highest build number.  Records whose version strings do not
// parse never match.
func (idx *Index) Candidates(spec matchspec.MatchSpec) []Record {
	var ret []Record
	for _, rec := range idx.byName[spec.Name] {
		ver, err := version.Parse(rec.Version)
		if err != nil {
			continue
		}
		if !spec.Match(rec.Name, *ver, rec.Build) {
			continue
		}
		ret = append(ret, rec)
	}
	sort.SliceStable(ret, func(i, j int) bool {
		vi := version.MustParse(ret[i].Version)
		vj := version.MustParse(ret[j].Version)
		if c := vi.Cmp(vj); c != 0 {
			return c > 0
		}
		return ret[i].BuildNumber > ret[j].BuildNumber
	})
	return ret
}

// Resolve returns the best candidate for the spec, or an error if nothing in
// the index satisfies it.
func (idx *Index) Resolve(spec matchspec.MatchSpec) (Record, error) {
	candidates := idx.Candidates(spec)
	if len(candidates) == 0 {
		if len(idx.byName[spec.Name]) == 0 {
			return Record{}, fmt.Errorf("no package named %q", spec.Name)
		}
		return Record{}, fmt.Errorf("no candidate for %q (%d records for the name, none matching)",
			spec, len(idx.byName[spec.Name]))
	}
	return candidates[0], nil
}

// A DepVerdict is one dependency spec's resolution outcome, in authored order.
type DepVerdict struct {
	Spec string
	// Best is the record that would be chosen; nil if the spec is
	// unsatisfiable or unparseable.
	Best *Record
	Err  error
}

type DepReport struct {
	Verdicts []DepVerdict
}

// Err collapses the report to a single error naming every unresolvable spec,
// or nil if everything resolved.
func (r *DepReport) Err() error {
	var bad []string
	for _, v := range r.Verdicts {
		if v.Err != nil {
			bad = append(bad, fmt.Sprintf("%q (%v)", v.Spec, v.Err))
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return fmt.Errorf("unresolvable dependencies: %s", strings.Join(bad, ", "))
}

// CheckDepends resolves each dependency spec against the index and reports the
// outcome per spec, preserving the authored order.
func (idx *Index) CheckDepends(specs []string) *DepReport {
	ret := &DepReport{Verdicts: make([]DepVerdict, 0, len(specs))}
	for _, raw := range specs {
		verdict := DepVerdict{Spec: raw}
		spec, err := matchspec.Parse(raw)
		if err != nil {
			verdict.Err = err
		} else if best, err := idx.Resolve(*spec); err != nil {
			verdict.Err = err
		} else {
			verdict.Best = &best
		}
		ret.Verdicts = append(ret.Verdicts, verdict)
	}
	return ret
}
