// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package matchspec implements conda dependency specification strings.
//
// A spec is up to three space-separated fields: a package name, a
// version pattern, and a build-string pattern, as in "numpy 1.11*" or
// "python >=3.5,<3.6" or "skxray 0.0.5 np111py35_0".  A bare name
// matches every version and build.
package matchspec

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nsls2forge/condabuild/pkg/conda/version"
)

type MatchSpec struct {
	// Name is the normalized (lowercased) package name; never empty.
	Name string
	// Version is nil for a bare-name spec.
	Version VersionPattern
	// Build is the build-string pattern ("*" globs); empty for no constraint.
	Build string
}

// A VersionPattern is an AND of OR-groups.  Conda binds "|" tighter
// than ",": the comma-separated groups are ANDed, and each group may
// itself be a "|"-joined list of alternatives, so "1.0|2.0,<2.5" is
// "(1.0 OR 2.0) AND <2.5".
type VersionPattern []ClauseGroup

// A ClauseGroup is a set of alternatives; it matches if any one
// Clause does.
type ClauseGroup []Clause

type CmpOp int

const (
	CmpOpEQ CmpOp = iota // "==v", or exact "v"
	CmpOpNE              // "!=v"
	CmpOpLT              // "<v"
	CmpOpLE              // "<=v"
	CmpOpGT              // ">v"
	CmpOpGE              // ">=v"
	CmpOpStartsWith      // fuzzy "v*" or "v.*"
)

func (op CmpOp) String() string {
	str, ok := map[CmpOp]string{
		CmpOpEQ:         "==",
		CmpOpNE:         "!=",
		CmpOpLT:         "<",
		CmpOpLE:         "<=",
		CmpOpGT:         ">",
		CmpOpGE:         ">=",
		CmpOpStartsWith: "=",
	}[op]
	if !ok {
		panic(fmt.Errorf("invalid CmpOp: %d", int(op)))
	}
	return str
}

type Clause struct {
	CmpOp   CmpOp
	Version version.Version
}

func (c Clause) Match(ver version.Version) bool {
	switch c.CmpOp {
	case CmpOpEQ:
		return ver.Cmp(c.Version) == 0
	case CmpOpNE:
		return ver.Cmp(c.Version) != 0
	case CmpOpLT:
		return ver.Cmp(c.Version) < 0
	case CmpOpLE:
		return ver.Cmp(c.Version) <= 0
	case CmpOpGT:
		return ver.Cmp(c.Version) > 0
	case CmpOpGE:
		return ver.Cmp(c.Version) >= 0
	case CmpOpStartsWith:
		return ver.StartsWith(c.Version)
	default:
		panic(fmt.Errorf("invalid CmpOp: %d", int(c.CmpOp)))
	}
}

func (c Clause) String() string {
	if c.CmpOp == CmpOpStartsWith {
		return c.Version.String() + "*"
	}
	if c.CmpOp == CmpOpEQ {
		return c.Version.String()
	}
	return c.CmpOp.String() + c.Version.String()
}

func (g ClauseGroup) Match(ver version.Version) bool {
	for _, clause := range g {
		if clause.Match(ver) {
			return true
		}
	}
	return false
}

func (p VersionPattern) Match(ver version.Version) bool {
	for _, group := range p {
		if !group.Match(ver) {
			return false
		}
	}
	return true
}

func (p VersionPattern) String() string {
	groups := make([]string, 0, len(p))
	for _, group := range p {
		clauses := make([]string, 0, len(group))
		for _, clause := range group {
			clauses = append(clauses, clause.String())
		}
		groups = append(groups, strings.Join(clauses, "|"))
	}
	return strings.Join(groups, ",")
}

var reName = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// Parse parses a conda spec string.
func Parse(str string) (*MatchSpec, error) {
	spec, err := parse(str)
	if err != nil {
		return nil, fmt.Errorf("matchspec.Parse: %w", err)
	}
	return spec, nil
}

func parse(str string) (*MatchSpec, error) {
	fields := strings.Fields(str)
	switch len(fields) {
	case 0:
		return nil, fmt.Errorf("invalid spec %q: empty", str)
	case 1, 2, 3:
		// ok
	default:
		return nil, fmt.Errorf("invalid spec %q: more than 3 fields", str)
	}

	ret := &MatchSpec{
		Name: strings.ToLower(fields[0]),
	}
	if !reName.MatchString(ret.Name) {
		return nil, fmt.Errorf("invalid spec %q: invalid package name %q", str, fields[0])
	}

	if len(fields) > 1 {
		pattern, err := parseVersionPattern(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid spec %q: %w", str, err)
		}
		ret.Version = pattern
	}
	if len(fields) > 2 {
		ret.Build = fields[2]
	}
	return ret, nil
}

func parseVersionPattern(str string) (VersionPattern, error) {
	groupStrs := strings.Split(str, ",")
	ret := make(VersionPattern, 0, len(groupStrs))
	for _, groupStr := range groupStrs {
		if groupStr == "" {
			return nil, fmt.Errorf("empty version clause in %q", str)
		}
		clauseStrs := strings.Split(groupStr, "|")
		group := make(ClauseGroup, 0, len(clauseStrs))
		for _, clauseStr := range clauseStrs {
			clause, err := parseClause(clauseStr)
			if err != nil {
				return nil, err
			}
			group = append(group, clause)
		}
		ret = append(ret, group)
	}
	return ret, nil
}

func parseClause(str string) (Clause, error) {
	var ret Clause
	switch {
	case strings.HasPrefix(str, "=="):
		ret.CmpOp = CmpOpEQ
		str = str[2:]
	case strings.HasPrefix(str, "!="):
		ret.CmpOp = CmpOpNE
		str = str[2:]
	case strings.HasPrefix(str, "<="):
		ret.CmpOp = CmpOpLE
		str = str[2:]
	case strings.HasPrefix(str, ">="):
		ret.CmpOp = CmpOpGE
		str = str[2:]
	case strings.HasPrefix(str, "<"):
		ret.CmpOp = CmpOpLT
		str = str[1:]
	case strings.HasPrefix(str, ">"):
		ret.CmpOp = CmpOpGT
		str = str[1:]
	case strings.HasPrefix(str, "="):
		// "=1.11" is historic spelling of fuzzy "1.11*".
		ret.CmpOp = CmpOpStartsWith
		str = str[1:]
	default:
		ret.CmpOp = CmpOpEQ
	}
	if strings.HasSuffix(str, "*") && (ret.CmpOp == CmpOpEQ || ret.CmpOp == CmpOpStartsWith) {
		ret.CmpOp = CmpOpStartsWith
		str = strings.TrimSuffix(str, "*")
		str = strings.TrimSuffix(str, ".")
	}
	ver, err := version.Parse(str)
	if err != nil {
		return ret, err
	}
	ret.Version = *ver
	return ret, nil
}

// Match reports whether a candidate (name, version, build string) satisfies the spec.
func (spec MatchSpec) Match(name string, ver version.Version, build string) bool {
	if strings.ToLower(name) != spec.Name {
		return false
	}
	if spec.Version != nil && !spec.Version.Match(ver) {
		return false
	}
	if spec.Build != "" && !globMatch(spec.Build, build) {
		return false
	}
	return true
}

// MatchStr is Match, parsing the version string on the way; an unparseable candidate
// version matches nothing.
func (spec MatchSpec) MatchStr(name, verStr, build string) bool {
	ver, err := version.Parse(verStr)
	if err != nil {
		return false
	}
	return spec.Match(name, *ver, build)
}

func (spec MatchSpec) String() string {
	ret := spec.Name
	if spec.Version != nil {
		ret += " " + spec.Version.String()
		if spec.Build != "" {
			ret += " " + spec.Build
		}
	}
	return ret
}

// globMatch matches pattern against str, where "*" in pattern matches any run of
// characters.  Conda build-string patterns have no other metacharacters.
func globMatch(pattern, str string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == str
	}
	if !strings.HasPrefix(str, parts[0]) {
		return false
	}
	str = str[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(str, part)
		if idx < 0 {
			return false
		}
		str = str[idx+len(part):]
	}
	return strings.HasSuffix(str, parts[len(parts)-1])
}
