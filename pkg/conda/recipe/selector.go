// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package recipe

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/nsls2forge/condabuild/pkg/conda/variant"
)

// Line selectors: a trailing `# [expr]` comment includes the line iff expr
// evaluates true under the active variant.  The grammar is tiny: identifiers
// (linux, osx, win, unix, py2k, py3k, py, np, ...), integer literals, the six
// comparisons, `not`, `and`, `or`, and parentheses.  `py` and `np` compare as
// integers ("py == 35", "np >= 111").

var reSelector = regexp.MustCompile(`^(.*?)\s*#\s*\[([^\]]*)\]\s*$`)

// splitSelector peels a trailing `# [expr]` off a line.
func splitSelector(line string) (content, expr string, ok bool) {
	match := reSelector.FindStringSubmatch(line)
	if match == nil {
		return line, "", false
	}
	return match[1], match[2], true
}

func evalSelector(expr string, v variant.Variant) (bool, error) {
	toks, err := selTokenize(expr)
	if err != nil {
		return false, err
	}
	p := &selParser{toks: toks, variant: v}
	val, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("unexpected %q", p.toks[p.pos])
	}
	return val.truthy(), nil
}

var reSelToken = regexp.MustCompile(`^(?:[A-Za-z_][A-Za-z0-9_]*|[0-9]+|==|!=|<=|>=|<|>|\(|\))`)

func selTokenize(expr string) ([]string, error) {
	var toks []string
	rest := expr
	for {
		for len(rest) > 0 && (rest[0] == ' ' || rest[0] == '\t') {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			break
		}
		tok := reSelToken.FindString(rest)
		if tok == "" {
			return nil, fmt.Errorf("bad token at %q", rest)
		}
		toks = append(toks, tok)
		rest = rest[len(tok):]
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty selector")
	}
	return toks, nil
}

// A selValue is either a boolean (platform identifiers, comparison results) or
// an integer (py, np, literals); integers are truthy when nonzero.
type selValue struct {
	isInt bool
	i     int
	b     bool
}

func (v selValue) truthy() bool {
	if v.isInt {
		return v.i != 0
	}
	return v.b
}

type selParser struct {
	toks    []string
	pos     int
	variant variant.Variant
}

func (p *selParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *selParser) parseOr() (selValue, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return selValue{}, err
	}
	for p.peek() == "or" {
		p.pos++
		rhs, err := p.parseAnd()
		if err != nil {
			return selValue{}, err
		}
		lhs = selValue{b: lhs.truthy() || rhs.truthy()}
	}
	return lhs, nil
}

func (p *selParser) parseAnd() (selValue, error) {
	lhs, err := p.parseNot()
	if err != nil {
		return selValue{}, err
	}
	for p.peek() == "and" {
		p.pos++
		rhs, err := p.parseNot()
		if err != nil {
			return selValue{}, err
		}
		lhs = selValue{b: lhs.truthy() && rhs.truthy()}
	}
	return lhs, nil
}

func (p *selParser) parseNot() (selValue, error) {
	if p.peek() == "not" {
		p.pos++
		val, err := p.parseNot()
		if err != nil {
			return selValue{}, err
		}
		return selValue{b: !val.truthy()}, nil
	}
	return p.parseCmp()
}

func (p *selParser) parseCmp() (selValue, error) {
	lhs, err := p.parsePrimary()
	if err != nil {
		return selValue{}, err
	}
	op := p.peek()
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		p.pos++
		rhs, err := p.parsePrimary()
		if err != nil {
			return selValue{}, err
		}
		if !lhs.isInt || !rhs.isInt {
			return selValue{}, fmt.Errorf("comparison %q needs integer operands", op)
		}
		var b bool
		switch op {
		case "==":
			b = lhs.i == rhs.i
		case "!=":
			b = lhs.i != rhs.i
		case "<":
			b = lhs.i < rhs.i
		case "<=":
			b = lhs.i <= rhs.i
		case ">":
			b = lhs.i > rhs.i
		case ">=":
			b = lhs.i >= rhs.i
		}
		return selValue{b: b}, nil
	}
	return lhs, nil
}

func (p *selParser) parsePrimary() (selValue, error) {
	tok := p.peek()
	switch {
	case tok == "":
		return selValue{}, fmt.Errorf("unexpected end of selector")
	case tok == "(":
		p.pos++
		val, err := p.parseOr()
		if err != nil {
			return selValue{}, err
		}
		if p.peek() != ")" {
			return selValue{}, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return val, nil
	case tok[0] >= '0' && tok[0] <= '9':
		p.pos++
		n, err := strconv.Atoi(tok)
		if err != nil {
			return selValue{}, fmt.Errorf("integer literal %q: %w", tok, err)
		}
		return selValue{isInt: true, i: n}, nil
	case tok == "py":
		p.pos++
		return selValue{isInt: true, i: p.variant.PyInt()}, nil
	case tok == "np":
		p.pos++
		return selValue{isInt: true, i: p.variant.NpInt()}, nil
	case tok == "not" || tok == "and" || tok == "or":
		return selValue{}, fmt.Errorf("unexpected %q", tok)
	default:
		p.pos++
		return selValue{b: p.variant.Is(tok)}, nil
	}
}
