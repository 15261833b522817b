// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package gitdescribe computes the GIT_DESCRIBE_* values that conda
// recipes template their versions from, without shelling out to git.
package gitdescribe

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// ErrNoTags means the work tree has no tag reachable from HEAD; callers should
// surface it only if the recipe actually references a GIT_* variable.
var ErrNoTags = errors.New("no tags reachable from HEAD")

type Info struct {
	// Tag is the name of the nearest reachable tag, verbatim (a "v" prefix is
	// not stripped).
	Tag string
	// Number is the commit distance from Tag to HEAD; 0 when HEAD is tagged.
	Number int
	// Hash is the 7-hex-digit abbreviation of HEAD; FullHash the whole thing.
	Hash     string
	FullHash string
}

// Describe walks the commit graph from HEAD looking for the nearest commit that
// a tag (annotated or lightweight) points at, like `git describe --tags`.
func Describe(path string) (*Info, error) {
	info, err := describe(path)
	if err != nil {
		return nil, fmt.Errorf("gitdescribe.Describe: %w", err)
	}
	return info, nil
}

func describe(path string) (*Info, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		// Unborn HEAD: no commits yet, so certainly no reachable tags.
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, ErrNoTags
		}
		return nil, err
	}

	// Resolve every tag to the commit it points at.  Annotated tags resolve
	// through the tag object; lightweight tags point at the commit directly.
	tagByCommit := make(map[plumbing.Hash]string)
	tagIter, err := repo.Tags()
	if err != nil {
		return nil, err
	}
	err = tagIter.ForEach(func(ref *plumbing.Reference) error {
		hash := ref.Hash()
		if tagObj, err := repo.TagObject(hash); err == nil {
			commit, err := tagObj.Commit()
			if err != nil {
				return nil
			}
			hash = commit.Hash
		}
		if _, exists := tagByCommit[hash]; !exists {
			tagByCommit[hash] = ref.Name().Short()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ret := &Info{
		FullHash: head.Hash().String(),
		Hash:     head.Hash().String()[:7],
	}

	commitIter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, err
	}
	distance := 0
	err = commitIter.ForEach(func(commit *object.Commit) error {
		if tag, ok := tagByCommit[commit.Hash]; ok {
			ret.Tag = tag
			ret.Number = distance
			return storer.ErrStop
		}
		distance++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ret.Tag == "" {
		return nil, ErrNoTags
	}
	return ret, nil
}

// Environ renders the info to the environment-variable contract that conda-build
// establishes for recipe templates and build scripts.
func (info Info) Environ() map[string]string {
	return map[string]string{
		"GIT_DESCRIBE_TAG":    info.Tag,
		"GIT_DESCRIBE_NUMBER": strconv.Itoa(info.Number),
		"GIT_DESCRIBE_HASH":   "g" + info.Hash,
		"GIT_FULL_HASH":       info.FullHash,
		"GIT_BUILD_STR":       fmt.Sprintf("%d_g%s", info.Number, info.Hash),
	}
}
