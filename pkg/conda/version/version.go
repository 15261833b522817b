// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

// Package version implements conda's version ordering.
//
// Conda's scheme is looser than PEP 440 or semver: a version is an
// arbitrary dot-separated string, optionally preceded by an integer
// epoch (``N!``) and optionally followed by a local version (``+...``),
// and ordering is defined over whatever the string happens to contain.
// Version strings coming out of ``git describe`` (such as
// ``v0.1.0.post3``) are ordinary versions under this scheme; the
// leading ``v`` is just an alphabetic component.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/intstr"
)

// A Version is a parsed conda version string.
//
// Each period-separated part of the version becomes one Segment; each
// Segment is the part broken into runs of digits and non-digits, with
// an implicit leading 0 when the part starts with a letter.  So
// "1.0post1" parses to [[1] [0 post 1]], and "v0.1" parses to
// [[0 v 0] [1]].
type Version struct {
	// Epoch segment: "N!"
	Epoch int
	// Release segments, one per period-separated part.
	Segments []Segment
	// Local version: everything after "+", same shape as the release.
	Local []Segment

	norm string
}

type Segment []intstr.IntOrString

// Ordering
// ========
//
// Versions compare epoch first, then release segments, then local
// segments.  Segment lists pad with [0] ("1.1" == "1.1.0"), segments
// pad with 0 ("1.1a" < "1.1" because 'a' < 0... see below), and the
// elements compare by:
//
//   - two numerals: numerically;
//   - two strings: case-insensitively lexically, except that "dev"
//     sorts before every other string;
//   - a string and a numeral: the string sorts first, except that
//     "post" sorts after everything.
//
// The worked example from conda's own documentation, which
// TestSort pins:
//
//      0.4
//   == 0.4.0
//    < 0.4.1.rc
//   == 0.4.1.RC
//    < 0.4.1
//    < 0.5a1
//    < 0.5b3
//    < 0.5C1
//    < 0.5
//    < 0.9.6
//    < 0.960923
//    < 1.0
//    < 1.1dev1
//    < 1.1_
//    < 1.1a1
//    < 1.1.0dev1
//   == 1.1.dev1
//    < 1.1.a1
//    < 1.1.0rc1
//    < 1.1.0
//   == 1.1
//    < 1.1.0post1
//   == 1.1.post1
//    < 1.1post1
//    < 1996.07.12
//    < 1!0.4.1
//    < 1!3.1.1.6
//    < 2!0.4.1

// Cmp returns -1 if ver is older than other, 0 if they are the same version (possibly with
// different spellings), and 1 if ver is newer.
func (ver Version) Cmp(other Version) int {
	if ver.Epoch != other.Epoch {
		if ver.Epoch < other.Epoch {
			return -1
		}
		return 1
	}
	if d := cmpSegments(ver.Segments, other.Segments); d != 0 {
		return d
	}
	return cmpSegments(ver.Local, other.Local)
}

var zeroSegment = Segment{intstr.FromInt(0)}

func cmpSegments(a, b []Segment) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		aSeg, bSeg := zeroSegment, zeroSegment
		if i < len(a) {
			aSeg = a[i]
		}
		if i < len(b) {
			bSeg = b[i]
		}
		if d := cmpSegment(aSeg, bSeg); d != 0 {
			return d
		}
	}
	return 0
}

func cmpSegment(a, b Segment) int {
	zero := intstr.FromInt(0)
	for i := 0; i < len(a) || i < len(b); i++ {
		aEl, bEl := zero, zero
		if i < len(a) {
			aEl = a[i]
		}
		if i < len(b) {
			bEl = b[i]
		}
		if d := cmpElement(aEl, bEl); d != 0 {
			return d
		}
	}
	return 0
}

func cmpElement(a, b intstr.IntOrString) int {
	aStr := a.Type == intstr.String
	bStr := b.Type == intstr.String
	switch {
	case !aStr && !bStr:
		switch {
		case a.IntValue() < b.IntValue():
			return -1
		case a.IntValue() > b.IntValue():
			return 1
		}
		return 0
	case aStr && bStr:
		if a.StrVal == b.StrVal {
			return 0
		}
		// "post" is infinitely new and "dev" is infinitely old.
		switch {
		case a.StrVal == "post" || b.StrVal == "dev":
			return 1
		case b.StrVal == "post" || a.StrVal == "dev":
			return -1
		case a.StrVal < b.StrVal:
			return -1
		}
		return 1
	case aStr:
		if a.StrVal == "post" {
			return 1
		}
		return -1
	default:
		if b.StrVal == "post" {
			return -1
		}
		return 1
	}
}

// String returns the normalized (lowercased, trimmed) spelling of the version as parsed; it does
// not re-derive the string from the segments, so "1.1" and "1.1.0" stringify differently even
// though they compare equal.
func (ver Version) String() string {
	return ver.norm
}

// GoString implements fmt.GoStringer.
func (ver Version) GoString() string {
	return fmt.Sprintf("version.MustParse(%q)", ver.norm)
}

// StartsWith reports whether ver falls inside the fuzzy pattern whose literal part parsed to
// prefix; that is, whether "<prefix>*" matches ver.
//
// All but the final element of the prefix must match exactly; the final element matches as a
// string prefix, so "1.11*" matches "1.11.3" and also "1.110" (which is how conda behaves, for
// better or worse).
func (ver Version) StartsWith(prefix Version) bool {
	if ver.Epoch != prefix.Epoch {
		return false
	}
	if len(prefix.Segments) == 0 {
		return true
	}
	for i := 0; i < len(prefix.Segments)-1; i++ {
		verSeg := zeroSegment
		if i < len(ver.Segments) {
			verSeg = ver.Segments[i]
		}
		if cmpSegment(verSeg, prefix.Segments[i]) != 0 {
			return false
		}
	}

	last := len(prefix.Segments) - 1
	verSeg := zeroSegment
	if last < len(ver.Segments) {
		verSeg = ver.Segments[last]
	}
	preSeg := prefix.Segments[last]
	for i := 0; i < len(preSeg)-1; i++ {
		verEl := intstr.FromInt(0)
		if i < len(verSeg) {
			verEl = verSeg[i]
		}
		if cmpElement(verEl, preSeg[i]) != 0 {
			return false
		}
	}
	verEl := intstr.FromInt(0)
	if len(preSeg)-1 < len(verSeg) {
		verEl = verSeg[len(preSeg)-1]
	}
	return strings.HasPrefix(verEl.String(), preSeg[len(preSeg)-1].String())
}

// Parsing
// =======

var (
	reValid = regexp.MustCompile(`^[.+!_0-9a-z]+$`)
	reRuns  = regexp.MustCompile(`[0-9]+|[^0-9]+`)
)

// Parse parses a string to a Version, lowercasing it on the way in.
func Parse(str string) (*Version, error) {
	ver, err := parse(str)
	if err != nil {
		return nil, fmt.Errorf("version.Parse: %w", err)
	}
	return ver, nil
}

// MustParse is like Parse, but panics instead of returning an error; for use with versions that
// are known-good at compile time.
func MustParse(str string) Version {
	ver, err := Parse(str)
	if err != nil {
		panic(err)
	}
	return *ver
}

func parse(str string) (*Version, error) {
	norm := strings.ToLower(strings.TrimSpace(str))
	if norm == "" {
		return nil, fmt.Errorf("invalid version %q: empty", str)
	}
	if !reValid.MatchString(norm) {
		return nil, fmt.Errorf("invalid version %q: may only contain [.+!_0-9a-z]", str)
	}
	ret := &Version{
		norm: norm,
	}

	rest := norm
	if idx := strings.IndexByte(rest, '!'); idx >= 0 {
		epoch, err := strconv.Atoi(rest[:idx])
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: epoch must be an integer", str)
		}
		ret.Epoch = epoch
		rest = rest[idx+1:]
		if strings.ContainsRune(rest, '!') {
			return nil, fmt.Errorf("invalid version %q: duplicated epoch separator '!'", str)
		}
	}

	localStr := ""
	if idx := strings.IndexByte(rest, '+'); idx >= 0 {
		localStr = rest[idx+1:]
		rest = rest[:idx]
		if strings.ContainsRune(localStr, '+') {
			return nil, fmt.Errorf("invalid version %q: duplicated local version separator '+'", str)
		}
		if localStr == "" {
			return nil, fmt.Errorf("invalid version %q: empty local version", str)
		}
	}

	var err error
	ret.Segments, err = parseSegments(rest)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", str, err)
	}
	if localStr != "" {
		ret.Local, err = parseSegments(localStr)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: local version: %w", str, err)
		}
	}
	return ret, nil
}

func parseSegments(str string) ([]Segment, error) {
	if str == "" {
		return nil, fmt.Errorf("empty version part")
	}
	parts := strings.Split(str, ".")
	ret := make([]Segment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty version component")
		}
		runs := reRuns.FindAllString(part, -1)
		segment := make(Segment, 0, len(runs)+1)
		if part[0] < '0' || part[0] > '9' {
			// An implicit leading 0, so that "1.a" == "1.0a".
			segment = append(segment, intstr.FromInt(0))
		}
		for _, run := range runs {
			if run[0] >= '0' && run[0] <= '9' {
				n, err := strconv.Atoi(run)
				if err != nil {
					// Only reachable by overflowing an int.
					return nil, fmt.Errorf("numeral %q: %w", run, err)
				}
				segment = append(segment, intstr.FromInt(n))
			} else {
				segment = append(segment, intstr.FromString(run))
			}
		}
		ret = append(ret, segment)
	}
	return ret, nil
}
