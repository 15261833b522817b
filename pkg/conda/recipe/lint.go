// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package recipe

import (
	"context"
	"fmt"
)

// A Problem is one lint finding; Fatal problems would also fail a render or a
// Validate, non-fatal ones are style/completeness advisories.
type Problem struct {
	Fatal   bool
	Message string
}

func (p Problem) String() string {
	level := "warning"
	if p.Fatal {
		level = "error"
	}
	return fmt.Sprintf("%s: %s", level, p.Message)
}

// Lint renders and validates the recipe, collecting problems instead of
// stopping at the first.
func Lint(ctx context.Context, src []byte, cfg RenderConfig) []Problem {
	var ret []Problem

	rendered, err := Render(ctx, src, cfg)
	if err != nil {
		return append(ret, Problem{Fatal: true, Message: err.Error()})
	}
	r, err := Parse(rendered)
	if err != nil {
		return append(ret, Problem{Fatal: true, Message: err.Error()})
	}
	if err := r.Validate(); err != nil {
		ret = append(ret, Problem{Fatal: true, Message: err.Error()})
	}

	if r.About.Home == "" {
		ret = append(ret, Problem{Message: "about: home is not set"})
	}
	if r.About.License == "" {
		ret = append(ret, Problem{Message: "about: license is not set"})
	}
	if r.About.Summary == "" {
		ret = append(ret, Problem{Message: "about: summary is not set"})
	}
	if len(r.Test.Imports) == 0 && len(r.Test.Commands) == 0 {
		ret = append(ret, Problem{Message: "test: no imports or commands; the gate trivially passes"})
	}
	if r.Source.Path == "" && r.Source.GitURL == "" && r.Source.URL == "" {
		ret = append(ret, Problem{Message: "source: no path, git_url, or url"})
	}
	return ret
}
