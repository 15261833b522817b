// Copyright (C) 2022  Brookhaven National Laboratory
//
// SPDX-License-Identifier: BSD-3-Clause

package recipe

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/datawire/dlib/dlog"

	"github.com/nsls2forge/condabuild/pkg/conda/variant"
	"github.com/nsls2forge/condabuild/pkg/gitdescribe"
)

// RenderConfig is the template context for a render: the environment the
// `environ` object looks things up in, the ABI variant behind `py`/`np` and the
// selector identifiers, and optionally a git work tree to derive GIT_DESCRIBE_*
// values from.
type RenderConfig struct {
	// Environ is the `environ` template object; nil means inherit the process
	// environment.
	Environ map[string]string
	Variant variant.Variant
	// GitDir, if set, has gitdescribe fill in any GIT_* variables that Environ
	// does not already set; explicit environment always wins.
	GitDir string
}

// Render turns meta.yaml template text in to static manifest text: line
// selectors first, then `{{ ... }}` expansion.  The result should parse under
// Parse's strict rules.
func Render(ctx context.Context, src []byte, cfg RenderConfig) ([]byte, error) {
	environ := cfg.Environ
	if environ == nil {
		environ = make(map[string]string)
		for _, kv := range os.Environ() {
			if idx := strings.IndexByte(kv, '='); idx >= 0 {
				environ[kv[:idx]] = kv[idx+1:]
			}
		}
	}

	// Only bother walking the commit graph if the template can see the result.
	if cfg.GitDir != "" && strings.Contains(string(src), "GIT_") {
		info, err := gitdescribe.Describe(cfg.GitDir)
		if err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
		dlog.Debugf(ctx, "git describe: %s.post%d (%s)", info.Tag, info.Number, info.Hash)
		merged := make(map[string]string, len(environ)+5)
		for k, v := range info.Environ() {
			merged[k] = v
		}
		for k, v := range environ {
			merged[k] = v
		}
		environ = merged
	}

	r := &renderer{
		environ: environ,
		variant: cfg.Variant,
	}

	var out strings.Builder
	for i, line := range strings.Split(string(src), "\n") {
		lineno := i + 1
		content, expr, hasSelector := splitSelector(line)
		if hasSelector {
			keep, err := evalSelector(expr, cfg.Variant)
			if err != nil {
				return nil, fmt.Errorf("render: line %d: selector [%s]: %w", lineno, expr, err)
			}
			if !keep {
				continue
			}
			line = content
		}
		expanded, err := r.expandLine(line)
		if err != nil {
			return nil, fmt.Errorf("render: line %d: %w", lineno, err)
		}
		out.WriteString(expanded)
		out.WriteString("\n")
	}
	return []byte(strings.TrimSuffix(out.String(), "\n") + "\n"), nil
}

// RenderDir is load + render + parse + validate for a recipe directory.
func RenderDir(ctx context.Context, dir string, cfg RenderConfig) (*Recipe, error) {
	src, err := Load(dir)
	if err != nil {
		return nil, err
	}
	rendered, err := Render(ctx, src, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	ret, err := Parse(rendered)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	if err := ret.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	return ret, nil
}

type renderer struct {
	environ map[string]string
	variant variant.Variant
}

var reTemplate = regexp.MustCompile(`\{\{(.*?)\}\}`)

func (r *renderer) expandLine(line string) (string, error) {
	var firstErr error
	expanded := reTemplate.ReplaceAllStringFunc(line, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		val, err := r.evalExpr(expr)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	if idx := strings.Index(expanded, "{{"); idx >= 0 {
		return "", fmt.Errorf("unterminated template expression at column %d", idx+1)
	}
	return expanded, nil
}

// The supported expression grammar is the subset of jinja that conda recipes in
// the wild actually use for metadata: an environ lookup, a variant variable, or
// a literal, optionally piped through `lower` or `replace(a, b)`.
var (
	reEnvironGet = regexp.MustCompile(
		`^environ\.get\(\s*['"]([A-Za-z_][A-Za-z0-9_]*)['"]\s*(?:,\s*(.+?)\s*)?\)$`)
	reEnvironIdx = regexp.MustCompile(
		`^environ\[\s*['"]([A-Za-z_][A-Za-z0-9_]*)['"]\s*\]$`)
	reStrLit  = regexp.MustCompile(`^'([^']*)'$|^"([^"]*)"$`)
	reIntLit  = regexp.MustCompile(`^[0-9]+$`)
	reReplace = regexp.MustCompile(`^replace\(\s*['"]([^'"]*)['"]\s*,\s*['"]([^'"]*)['"]\s*\)$`)
)

func (r *renderer) evalExpr(expr string) (string, error) {
	parts := splitOutsideQuotes(expr, '|')
	val, err := r.evalPrimary(strings.TrimSpace(parts[0]))
	if err != nil {
		return "", err
	}
	for _, filterStr := range parts[1:] {
		filterStr = strings.TrimSpace(filterStr)
		switch {
		case filterStr == "lower":
			val = strings.ToLower(val)
		case reReplace.MatchString(filterStr):
			match := reReplace.FindStringSubmatch(filterStr)
			val = strings.ReplaceAll(val, match[1], match[2])
		default:
			return "", fmt.Errorf("unsupported template filter %q in {{ %s }}", filterStr, expr)
		}
	}
	return val, nil
}

func (r *renderer) evalPrimary(expr string) (string, error) {
	switch {
	case reEnvironGet.MatchString(expr):
		match := reEnvironGet.FindStringSubmatch(expr)
		if val, ok := r.environ[match[1]]; ok {
			return val, nil
		}
		if match[2] == "" {
			// .get() with no default and no value renders empty.
			return "", nil
		}
		return r.evalLiteral(match[2], expr)
	case reEnvironIdx.MatchString(expr):
		match := reEnvironIdx.FindStringSubmatch(expr)
		return r.environ[match[1]], nil
	case expr == "py":
		return r.variant.Py, nil
	case expr == "np":
		return r.variant.Np, nil
	case expr == "PY_VER":
		return r.variant.PyVer(), nil
	case expr == "NPY_VER":
		return r.variant.NpVer(), nil
	default:
		return r.evalLiteral(expr, expr)
	}
}

// evalLiteral handles the literal forms: quoted strings and integers.  An
// integer default like environ.get('GIT_DESCRIBE_NUMBER', 0) renders like its
// string form, so "0" comes out as "0".
func (r *renderer) evalLiteral(lit, whole string) (string, error) {
	if match := reStrLit.FindStringSubmatch(lit); match != nil {
		return match[1] + match[2], nil
	}
	if reIntLit.MatchString(lit) {
		return lit, nil
	}
	return "", fmt.Errorf("unsupported template expression {{ %s }}", whole)
}

// splitOutsideQuotes splits on sep, ignoring separators inside single or double
// quotes.
func splitOutsideQuotes(str string, sep byte) []string {
	var ret []string
	var quote byte
	start := 0
	for i := 0; i < len(str); i++ {
		switch c := str[i]; {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == sep:
			ret = append(ret, str[start:i])
			start = i + 1
		}
	}
	return append(ret, str[start:])
}
